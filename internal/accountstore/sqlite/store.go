package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

// DefaultDailyLimit is the free-tier daily allowance written to new ledger rows.
const DefaultDailyLimit = 25

// Store implements accountstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ accountstore.Store = (*Store)(nil)

// New opens (or creates) a SQLite account store at the supplied path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create account store directory: %w", err)
		}
	}
	// busy_timeout goes in the DSN so every pooled connection gets it;
	// concurrent writers then queue instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT UNIQUE,
	auth_user_id TEXT UNIQUE,
	discord_user_id TEXT NOT NULL UNIQUE,
	discord_username TEXT NOT NULL DEFAULT '',
	billing_customer_id TEXT,
	plan TEXT NOT NULL DEFAULT 'free',
	display_name TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_accounts_billing_customer ON accounts(billing_customer_id);

CREATE TABLE IF NOT EXISTS usage_ledgers (
	account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
	usage_date TEXT NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	daily_limit INTEGER NOT NULL DEFAULT 25,
	bonus_credits INTEGER NOT NULL DEFAULT 0,
	premium_servers INTEGER NOT NULL DEFAULT 0,
	premium_server_limit INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS billing_events (
	session_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	credits INTEGER NOT NULL,
	processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapConflict translates SQLite unique-violation errors into the typed
// ConflictError the identity resolver recovers from. Anything else passes
// through untouched.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	for col, field := range map[string]accountstore.ConflictField{
		"accounts.username":        accountstore.ConflictUsername,
		"accounts.email":           accountstore.ConflictEmail,
		"accounts.auth_user_id":    accountstore.ConflictAuthUserID,
		"accounts.discord_user_id": accountstore.ConflictDiscordUserID,
	} {
		if strings.Contains(msg, col) {
			return &accountstore.ConflictError{Field: field}
		}
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
