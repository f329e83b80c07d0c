package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

const dayLayout = "2006-01-02"

func today() string {
	return time.Now().UTC().Format(dayLayout)
}

// UsageSummary reads the ledger joined with the account's plan, reporting a
// stale day's counter as zero (lazy rollover, reader side).
func (s *Store) UsageSummary(ctx context.Context, accountID string) (*accountstore.UsageSummary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT l.account_id, l.usage_date, l.used, l.daily_limit, l.bonus_credits,
	l.premium_servers, l.premium_server_limit, l.updated_at, a.plan
FROM usage_ledgers l
JOIN accounts a ON a.id = l.account_id
WHERE l.account_id = $1`, accountID)

	var sum accountstore.UsageSummary
	var plan string
	err := row.Scan(
		&sum.AccountID, &sum.UsageDate, &sum.Used, &sum.DailyLimit, &sum.BonusCredits,
		&sum.PremiumServers, &sum.PremiumServerLimit, &sum.UpdatedAt, &plan,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accountstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}
	sum.Plan = accountstore.Plan(plan)
	if sum.UsageDate != today() {
		sum.Used = 0
	}
	return &sum, nil
}

// ConsumeUsage adds n to today's used counter, resetting the row in the same
// statement when the stored usage date is an earlier day.
func (s *Store) ConsumeUsage(ctx context.Context, accountID string, n int64) (*accountstore.UsageSummary, error) {
	if n < 0 {
		return nil, fmt.Errorf("consume usage: negative increment %d", n)
	}
	day := today()
	res, err := s.db.ExecContext(ctx, `
UPDATE usage_ledgers
SET used = CASE WHEN usage_date = $1 THEN used + $2 ELSE $2 END,
	usage_date = $1,
	updated_at = $3
WHERE account_id = $4`,
		day, n, time.Now().UTC(), accountID)
	if err != nil {
		return nil, fmt.Errorf("consume usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, accountstore.ErrNotFound
	}
	return s.UsageSummary(ctx, accountID)
}

// ApplyPurchase credits bonus units for a checkout session exactly once; the
// guard insert and the ledger increment commit together.
func (s *Store) ApplyPurchase(ctx context.Context, sessionID, accountID string, credits int64) (bool, error) {
	if sessionID == "" {
		return false, errors.New("apply purchase: session id required")
	}
	if credits <= 0 {
		return false, fmt.Errorf("apply purchase: non-positive credit amount %d", credits)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO billing_events(session_id, account_id, credits)
VALUES($1, $2, $3)
ON CONFLICT(session_id) DO NOTHING`,
		sessionID, accountID, credits)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		return false, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
INSERT INTO usage_ledgers(account_id, usage_date, used, daily_limit, bonus_credits, updated_at)
VALUES($1, $2, 0, $3, $4, $5)
ON CONFLICT(account_id) DO UPDATE SET
	bonus_credits = usage_ledgers.bonus_credits + EXCLUDED.bonus_credits,
	updated_at = EXCLUDED.updated_at`,
		accountID, now.Format(dayLayout), DefaultDailyLimit, credits, now)
	if err != nil {
		return false, fmt.Errorf("credit bonus units: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
