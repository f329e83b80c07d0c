package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

const accountColumns = `id, username, email, auth_user_id, discord_user_id, discord_username,
	billing_customer_id, plan, display_name, timezone, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*accountstore.Account, error) {
	var a accountstore.Account
	var email, authID, customerID sql.NullString
	var plan string
	err := row.Scan(
		&a.ID, &a.Username, &email, &authID, &a.DiscordUserID, &a.DiscordUsername,
		&customerID, &plan, &a.DisplayName, &a.Timezone, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Email = email.String
	a.AuthUserID = authID.String
	a.BillingCustomerID = customerID.String
	a.Plan = accountstore.Plan(plan)
	return &a, nil
}

func (s *Store) findBy(ctx context.Context, where string, arg any) (*accountstore.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where+` LIMIT 1`, arg)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*accountstore.Account, error) {
	return s.findBy(ctx, "id = $1", id)
}

func (s *Store) FindByAuthUserID(ctx context.Context, authUserID string) (*accountstore.Account, error) {
	return s.findBy(ctx, "auth_user_id = $1", authUserID)
}

func (s *Store) FindByDiscordID(ctx context.Context, discordUserID string) (*accountstore.Account, error) {
	return s.findBy(ctx, "discord_user_id = $1", discordUserID)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*accountstore.Account, error) {
	return s.findBy(ctx, "email = $1", strings.TrimSpace(strings.ToLower(email)))
}

func (s *Store) FindByBillingCustomerID(ctx context.Context, customerID string) (*accountstore.Account, error) {
	return s.findBy(ctx, "billing_customer_id = $1", customerID)
}

// Create inserts the account and its usage ledger row in one transaction.
func (s *Store) Create(ctx context.Context, draft accountstore.AccountDraft) (*accountstore.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	dailyLimit := draft.DailyLimit
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	a := &accountstore.Account{
		ID:              uuid.NewString(),
		Username:        draft.Username,
		Email:           strings.TrimSpace(strings.ToLower(draft.Email)),
		AuthUserID:      draft.AuthUserID,
		DiscordUserID:   draft.DiscordUserID,
		DiscordUsername: draft.DiscordUsername,
		Plan:            accountstore.PlanFree,
		DisplayName:     draft.DisplayName,
		Timezone:        draft.Timezone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO accounts(id, username, email, auth_user_id, discord_user_id, discord_username, plan, display_name, timezone, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Username, nullable(a.Email), nullable(a.AuthUserID), a.DiscordUserID,
		a.DiscordUsername, string(a.Plan), a.DisplayName, a.Timezone, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, mapConflict(err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO usage_ledgers(account_id, usage_date, used, daily_limit, bonus_credits, premium_servers, premium_server_limit, updated_at)
VALUES($1, $2, 0, $3, 0, 0, 0, $4)`,
		a.ID, now.Format(dayLayout), dailyLimit, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create usage ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

// Update applies the patch and returns the stored row.
func (s *Store) Update(ctx context.Context, id string, patch accountstore.AccountPatch) (*accountstore.Account, error) {
	var sets []string
	var args []any
	argIdx := 1

	set := func(expr string, value any) {
		sets = append(sets, fmt.Sprintf(expr, argIdx))
		args = append(args, value)
		argIdx++
	}

	if patch.Username != nil {
		set("username = $%d", *patch.Username)
	}
	if patch.Email != nil {
		set("email = $%d", nullable(strings.TrimSpace(strings.ToLower(*patch.Email))))
	}
	if patch.AuthUserID != nil {
		set("auth_user_id = $%d", nullable(*patch.AuthUserID))
	}
	if patch.DiscordUserID != nil {
		set("discord_user_id = $%d", *patch.DiscordUserID)
	}
	if patch.DiscordUsername != nil {
		set("discord_username = $%d", *patch.DiscordUsername)
	}
	if patch.BillingCustomerID != nil {
		// Write-once: an already provisioned customer id is never replaced.
		set("billing_customer_id = COALESCE(billing_customer_id, $%d)", nullable(*patch.BillingCustomerID))
	}
	if patch.Plan != nil {
		set("plan = $%d", string(*patch.Plan))
	}
	if patch.DisplayName != nil {
		set("display_name = $%d", *patch.DisplayName)
	}
	if patch.Timezone != nil {
		set("timezone = $%d", *patch.Timezone)
	}

	if len(sets) == 0 {
		a, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, accountstore.ErrNotFound
		}
		return a, nil
	}

	set("updated_at = $%d", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`
UPDATE accounts SET %s
WHERE id = $%d
RETURNING `+accountColumns, strings.Join(sets, ", "), argIdx)

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accountstore.ErrNotFound
	}
	if err != nil {
		return nil, mapConflict(err)
	}
	return a, nil
}
