package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/accounts.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServiceConfig describes runtime options for the accounts daemon.
type ServiceConfig struct {
	Environment string
	HTTPAddr    string

	// Storage: "sqlite" uses DBPath, "postgres" uses DBDSN.
	DBDriver string
	DBPath   string
	DBDSN    string
	// Postgres pool knobs; ignored for sqlite.
	PGMaxOpenConns     int
	PGMaxIdleConns     int
	PGConnLifetimeMins int
	PGConnIdleMins     int

	LogFile  string
	LogLevel string

	// Payment provider integration.
	BillingAPIKey        string
	BillingBaseURL       string
	BillingWebhookSecret string
	PriceCatalogFile     string

	// Shared secret for service-to-service endpoints.
	InternalAPIToken string

	DefaultDailyLimit int64
}

// Load reads the current environment and the matching accounts config file.
// Environment variables (GLIMBOT_*) take precedence over file values, which
// take precedence over the settings defaults.
func Load(root string) (ServiceConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServiceConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServiceConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ServiceConfig{
		Environment:          s.Environment,
		HTTPAddr:             firstNonEmpty(os.Getenv("GLIMBOT_HTTP_ADDR"), merged["http_addr"], ":8090"),
		DBDriver:             strings.ToLower(firstNonEmpty(os.Getenv("GLIMBOT_DB_DRIVER"), merged["db_driver"], "sqlite")),
		DBPath:               firstNonEmpty(os.Getenv("GLIMBOT_DB_PATH"), merged["db_path"], DefaultDBPath()),
		DBDSN:                firstNonEmpty(os.Getenv("GLIMBOT_DB_DSN"), merged["db_dsn"]),
		LogFile:              firstNonEmpty(os.Getenv("GLIMBOT_LOG_FILE"), merged["log_file"]),
		LogLevel:             firstNonEmpty(os.Getenv("GLIMBOT_LOG_LEVEL"), merged["log_level"], "info"),
		BillingAPIKey:        firstNonEmpty(os.Getenv("GLIMBOT_BILLING_API_KEY"), merged["billing_api_key"]),
		BillingBaseURL:       firstNonEmpty(os.Getenv("GLIMBOT_BILLING_BASE_URL"), merged["billing_base_url"], "https://api.billing.example.com"),
		BillingWebhookSecret: firstNonEmpty(os.Getenv("GLIMBOT_BILLING_WEBHOOK_SECRET"), merged["billing_webhook_secret"]),
		PriceCatalogFile:     firstNonEmpty(os.Getenv("GLIMBOT_PRICE_CATALOG_FILE"), merged["price_catalog_file"]),
		InternalAPIToken:     firstNonEmpty(os.Getenv("GLIMBOT_INTERNAL_API_TOKEN"), merged["internal_api_token"]),
	}

	cfg.PGMaxOpenConns = parseOptionalInt(firstNonEmpty(os.Getenv("GLIMBOT_PG_MAX_OPEN_CONNS"), merged["pg_max_open_conns"]), 10)
	cfg.PGMaxIdleConns = parseOptionalInt(firstNonEmpty(os.Getenv("GLIMBOT_PG_MAX_IDLE_CONNS"), merged["pg_max_idle_conns"]), 5)
	cfg.PGConnLifetimeMins = parseOptionalInt(firstNonEmpty(os.Getenv("GLIMBOT_PG_CONN_LIFETIME_MINS"), merged["pg_conn_lifetime_mins"]), 30)
	cfg.PGConnIdleMins = parseOptionalInt(firstNonEmpty(os.Getenv("GLIMBOT_PG_CONN_IDLE_MINS"), merged["pg_conn_idle_mins"]), 10)
	cfg.DefaultDailyLimit = int64(parseOptionalInt(firstNonEmpty(os.Getenv("GLIMBOT_DEFAULT_DAILY_LIMIT"), merged["default_daily_limit"]), 25))

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return ServiceConfig{}, errors.New("db_driver postgres requires db_dsn")
		}
	default:
		return ServiceConfig{}, fmt.Errorf("unknown db_driver %q", cfg.DBDriver)
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultDBPath returns the fallback sqlite location under the user's home
// directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "accounts.db"
	}
	return filepath.Join(home, ".glimbot", "accounts.db")
}
