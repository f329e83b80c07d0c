package accountstore

import (
	"context"
	"time"
)

// Plan identifies the subscription tier attached to an account.
type Plan string

const (
	PlanFree        Plan = "free"
	PlanPremium     Plan = "premium"
	PlanPremiumPlus Plan = "premium_plus"
	PlanPro         Plan = "pro"
)

// Account is the canonical per-person record. External identities (the auth
// subsystem's user id, the Discord account, the billing customer) all hang off
// this one row; the uniqueness constraints on username, email, auth_user_id and
// discord_user_id are what keep one person from splitting into several rows.
type Account struct {
	ID                string
	Username          string
	Email             string // empty when the provider did not share one
	AuthUserID        string // auth subsystem user id, empty until a session exists
	DiscordUserID     string
	DiscordUsername   string
	BillingCustomerID string // set lazily, never cleared once set
	Plan              Plan
	DisplayName       string
	Timezone          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UsageSummary is the read-side view of an account's usage ledger. Used is
// already normalised for the day boundary: if the stored usage date is not the
// current UTC day, Used reports zero regardless of the stored counter.
type UsageSummary struct {
	AccountID          string    `json:"account_id"`
	UsageDate          string    `json:"usage_date"` // YYYY-MM-DD, UTC
	Used               int64     `json:"used"`
	DailyLimit         int64     `json:"daily_limit"`
	BonusCredits       int64     `json:"bonus_credits"`
	Plan               Plan      `json:"plan"`
	PremiumServers     int64     `json:"premium_servers"`
	PremiumServerLimit int64     `json:"premium_server_limit"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AccountDraft carries the fields needed to create a new account together with
// its usage ledger row. ID is assigned by the store.
type AccountDraft struct {
	Username        string
	Email           string
	AuthUserID      string
	DiscordUserID   string
	DiscordUsername string
	DisplayName     string
	Timezone        string
	DailyLimit      int64
}

// AccountPatch is a partial update. Nil fields are left untouched, so
// concurrent writers only collide on the columns they actually set.
type AccountPatch struct {
	Username          *string
	Email             *string
	AuthUserID        *string
	DiscordUserID     *string
	DiscordUsername   *string
	BillingCustomerID *string
	Plan              *Plan
	DisplayName       *string
	Timezone          *string
}

// Store persists accounts and their usage ledgers across SQLite/Postgres
// backends. Finders return (nil, nil) when no row matches.
//
// Writes that hit a uniqueness constraint return a *ConflictError naming the
// colliding field; the identity resolver depends on that signal to convert a
// lost create race into an update.
type Store interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByAuthUserID(ctx context.Context, authUserID string) (*Account, error)
	FindByDiscordID(ctx context.Context, discordUserID string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByBillingCustomerID(ctx context.Context, customerID string) (*Account, error)

	// Create inserts the account and its usage ledger row in one transaction.
	Create(ctx context.Context, draft AccountDraft) (*Account, error)
	// Update applies the patch and returns the stored row. Returns
	// ErrNotFound when the id does not exist.
	Update(ctx context.Context, id string, patch AccountPatch) (*Account, error)

	// UsageSummary reads the ledger with the day boundary applied.
	UsageSummary(ctx context.Context, accountID string) (*UsageSummary, error)
	// ConsumeUsage adds n to today's used counter, resetting the row first
	// when the stored usage date is an earlier day. The increment happens in
	// SQL, not read-modify-write.
	ConsumeUsage(ctx context.Context, accountID string, n int64) (*UsageSummary, error)
	// ApplyPurchase credits bonus units for a checkout session exactly once.
	// The session id is recorded in a guard table inside the same transaction
	// as the ledger increment; a replayed session returns (false, nil) and
	// leaves the ledger untouched.
	ApplyPurchase(ctx context.Context, sessionID, accountID string, credits int64) (bool, error)

	Close() error
}
