package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
	accountpg "github.com/glimbot/glimbot-accounts/internal/accountstore/postgres"
	accountsqlite "github.com/glimbot/glimbot-accounts/internal/accountstore/sqlite"
	"github.com/glimbot/glimbot-accounts/internal/billing"
	"github.com/glimbot/glimbot-accounts/internal/config"
	"github.com/glimbot/glimbot-accounts/internal/health"
	"github.com/glimbot/glimbot-accounts/internal/httpserver"
	"github.com/glimbot/glimbot-accounts/internal/identity"
	"github.com/glimbot/glimbot-accounts/internal/logging"
	"github.com/glimbot/glimbot-accounts/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize rotating file logging (default enabled when log_file provided)
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	logTarget := strings.TrimSpace(cfg.LogFile)
	if logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[accountsd] ")
		defer rot.Close()
	}

	log.Printf("glimbot-accounts %s starting env=%s", version.FullInfo(), cfg.Environment)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open account store: %v", err)
	}
	defer store.Close()

	catalog := billing.DefaultCatalog()
	if strings.TrimSpace(cfg.PriceCatalogFile) != "" {
		catalog, err = billing.LoadCatalog(cfg.PriceCatalogFile)
		if err != nil {
			log.Fatalf("load price catalog: %v", err)
		}
		log.Printf("price catalog loaded from %s", cfg.PriceCatalogFile)
	}

	var provisioner billing.CustomerProvisioner
	var sessions billing.SessionClient
	if strings.TrimSpace(cfg.BillingAPIKey) != "" {
		billingClient, err := billing.NewClient(cfg.BillingBaseURL, cfg.BillingAPIKey, nil)
		if err != nil {
			log.Fatalf("billing client: %v", err)
		}
		provisioner = billingClient
		sessions = billingClient
	} else {
		log.Printf("billing api key not configured; accounts will be created without billing customers")
	}

	resolverLog := log.New(log.Writer(), "[accountsd/identity] ", log.LstdFlags|log.Lmicroseconds)
	resolver := identity.NewResolver(store, provisioner, resolverLog)

	billingLog := log.New(log.Writer(), "[accountsd/billing] ", log.LstdFlags|log.Lmicroseconds)
	ingestor := billing.NewIngestor(sessions, store, catalog, billingLog)

	if strings.TrimSpace(cfg.BillingWebhookSecret) == "" {
		log.Printf("billing webhook secret not configured; webhook deliveries will be rejected")
	}
	verifier := billing.NewWebhookVerifier(cfg.BillingWebhookSecret)

	httpLog := log.New(log.Writer(), "[accountsd/http] ", log.LstdFlags|log.Lmicroseconds)
	httpSrv := httpserver.NewServer(store, resolver, ingestor, verifier, cfg.InternalAPIToken, httpLog)

	checker := health.NewChecker()
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		checker.Register("database", pinger.Ping)
	}
	httpSrv.SetHealthChecker(checker)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("accounts server listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openStore(cfg config.ServiceConfig) (accountstore.Store, error) {
	if cfg.DBDriver == "postgres" {
		return accountpg.New(cfg.DBDSN, cfg.PGMaxOpenConns, cfg.PGMaxIdleConns, cfg.PGConnLifetimeMins, cfg.PGConnIdleMins)
	}
	return accountsqlite.New(cfg.DBPath)
}
