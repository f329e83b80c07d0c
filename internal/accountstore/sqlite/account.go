package sqlite

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

// FindByID returns the account with the given id, if present.
func (s *Store) FindByID(ctx context.Context, id string) (*accountstore.Account, error) {
	return s.findBy(ctx, "id = ?", id)
}

// FindByAuthUserID returns the account linked to the auth subsystem user id.
func (s *Store) FindByAuthUserID(ctx context.Context, authUserID string) (*accountstore.Account, error) {
	return s.findBy(ctx, "auth_user_id = ?", authUserID)
}

// FindByDiscordID returns the account owning the Discord user id.
func (s *Store) FindByDiscordID(ctx context.Context, discordUserID string) (*accountstore.Account, error) {
	return s.findBy(ctx, "discord_user_id = ?", discordUserID)
}

// FindByEmail returns the account holding the email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*accountstore.Account, error) {
	return s.findBy(ctx, "email = ?", strings.TrimSpace(strings.ToLower(email)))
}

// FindByBillingCustomerID returns the account provisioned with the billing
// customer id.
func (s *Store) FindByBillingCustomerID(ctx context.Context, customerID string) (*accountstore.Account, error) {
	return s.findBy(ctx, "billing_customer_id = ?", customerID)
}

// Create inserts the account and its usage ledger row in one transaction, so
// an account never exists without a ledger. Unique-column collisions come back
// as *accountstore.ConflictError.
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
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, nullable(a.Email), nullable(a.AuthUserID), a.DiscordUserID,
		a.DiscordUsername, string(a.Plan), a.DisplayName, a.Timezone, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, mapConflict(err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO usage_ledgers(account_id, usage_date, used, daily_limit, bonus_credits, premium_servers, premium_server_limit, updated_at)
VALUES(?, ?, 0, ?, 0, 0, 0, ?)`,
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

// Update applies the patch and returns the stored row. Returns
// accountstore.ErrNotFound when the id has no row.
func (s *Store) Update(ctx context.Context, id string, patch accountstore.AccountPatch) (*accountstore.Account, error) {
	var sets []string
	var args []any

	if patch.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *patch.Username)
	}
	if patch.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, nullable(strings.TrimSpace(strings.ToLower(*patch.Email))))
	}
	if patch.AuthUserID != nil {
		sets = append(sets, "auth_user_id = ?")
		args = append(args, nullable(*patch.AuthUserID))
	}
	if patch.DiscordUserID != nil {
		sets = append(sets, "discord_user_id = ?")
		args = append(args, *patch.DiscordUserID)
	}
	if patch.DiscordUsername != nil {
		sets = append(sets, "discord_username = ?")
		args = append(args, *patch.DiscordUsername)
	}
	if patch.BillingCustomerID != nil {
		// Write-once: an already provisioned customer id is never replaced.
		sets = append(sets, "billing_customer_id = COALESCE(billing_customer_id, ?)")
		args = append(args, nullable(*patch.BillingCustomerID))
	}
	if patch.Plan != nil {
		sets = append(sets, "plan = ?")
		args = append(args, string(*patch.Plan))
	}
	if patch.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *patch.DisplayName)
	}
	if patch.Timezone != nil {
		sets = append(sets, "timezone = ?")
		args = append(args, *patch.Timezone)
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

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, mapConflict(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, accountstore.ErrNotFound
	}
	return s.FindByID(ctx, id)
}
