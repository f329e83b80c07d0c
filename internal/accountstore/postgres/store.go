package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

// DefaultDailyLimit is the free-tier daily allowance written to new ledger rows.
const DefaultDailyLimit = 25

// Store implements accountstore.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ accountstore.Store = (*Store)(nil)

// New opens a Postgres-backed account store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
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
	id UUID PRIMARY KEY,
	username TEXT NOT NULL,
	email TEXT,
	auth_user_id TEXT,
	discord_user_id TEXT NOT NULL,
	discord_username TEXT NOT NULL DEFAULT '',
	billing_customer_id TEXT,
	plan TEXT NOT NULL DEFAULT 'free',
	display_name TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT accounts_username_key UNIQUE (username),
	CONSTRAINT accounts_email_key UNIQUE (email),
	CONSTRAINT accounts_auth_user_id_key UNIQUE (auth_user_id),
	CONSTRAINT accounts_discord_user_id_key UNIQUE (discord_user_id)
);
CREATE INDEX IF NOT EXISTS idx_accounts_billing_customer ON accounts(billing_customer_id);

CREATE TABLE IF NOT EXISTS usage_ledgers (
	account_id UUID PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
	usage_date TEXT NOT NULL,
	used BIGINT NOT NULL DEFAULT 0,
	daily_limit BIGINT NOT NULL DEFAULT 25,
	bonus_credits BIGINT NOT NULL DEFAULT 0,
	premium_servers BIGINT NOT NULL DEFAULT 0,
	premium_server_limit BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS billing_events (
	session_id TEXT PRIMARY KEY,
	account_id UUID NOT NULL,
	credits BIGINT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

// mapConflict translates unique-violation errors (SQLSTATE 23505) into the
// typed ConflictError, keyed on the violated constraint name.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "accounts_username_key":
		return &accountstore.ConflictError{Field: accountstore.ConflictUsername}
	case "accounts_email_key":
		return &accountstore.ConflictError{Field: accountstore.ConflictEmail}
	case "accounts_auth_user_id_key":
		return &accountstore.ConflictError{Field: accountstore.ConflictAuthUserID}
	case "accounts_discord_user_id_key":
		return &accountstore.ConflictError{Field: accountstore.ConflictDiscordUserID}
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
