// Package identity reconciles provider-link events into canonical accounts.
//
// One account per person: a link event either lands on the account already
// holding one of its identifiers (auth user id, Discord id, email) or creates
// a new account. Creation races are resolved by the store's uniqueness
// constraints: the loser of a race observes a ConflictError naming the
// colliding field and converts its create into the equivalent claim update.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

// PrimaryProvider is the provider whose link events run full reconciliation.
// Secondary providers only enrich an already-resolved account and are handled
// elsewhere.
const PrimaryProvider = "discord"

const maxCreateAttempts = 5

var (
	// ErrNonPrimaryProvider is returned for link events from providers that
	// cannot serve as the primary linking signal.
	ErrNonPrimaryProvider = errors.New("identity: provider cannot drive reconciliation")
	// ErrEmailOwnedByOther is returned when a link event's email belongs to an
	// account already linked to a different auth identity. Attaching would
	// silently merge two people, so the call fails instead.
	ErrEmailOwnedByOther = errors.New("identity: email belongs to another linked account")
)

// LinkEvent describes a provider account that was just associated with an
// authenticated session.
type LinkEvent struct {
	AuthUserID  string `json:"auth_user_id"`
	Provider    string `json:"provider"`
	DiscordID   string `json:"discord_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// BillingProvisioner creates a billing customer for an account. Provisioning
// is best-effort: failures are logged and never abort resolution, and a later
// link event backfills the missing customer.
type BillingProvisioner interface {
	ProvisionCustomer(ctx context.Context, accountID, email string) (string, error)
}

// Resolver runs the reconciliation chain for provider-link events.
type Resolver struct {
	store   accountstore.Store
	billing BillingProvisioner
	logger  *log.Logger
}

// NewResolver builds a Resolver. billing may be nil when no payment provider
// is configured; logger falls back to the default logger.
func NewResolver(store accountstore.Store, billing BillingProvisioner, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{store: store, billing: billing, logger: logger}
}

// resolveStep pairs a matcher with the attach action to run on its hit. Steps
// are evaluated in priority order; the first match wins and no later step
// runs.
type resolveStep struct {
	name   string
	match  func(ctx context.Context) (*accountstore.Account, error)
	attach func(ctx context.Context, acct *accountstore.Account) (*accountstore.Account, error)
}

// Resolve reconciles one link event into exactly one account. It is safe to
// invoke concurrently for duplicate deliveries of the same identity: every
// caller lands on the same account id.
func (r *Resolver) Resolve(ctx context.Context, ev LinkEvent) (*accountstore.Account, error) {
	if ev.Provider != PrimaryProvider {
		return nil, fmt.Errorf("%w: %s", ErrNonPrimaryProvider, ev.Provider)
	}
	if ev.AuthUserID == "" || ev.DiscordID == "" {
		return nil, errors.New("identity: auth user id and discord id are required")
	}

	steps := []resolveStep{
		{
			name: "already_linked",
			match: func(ctx context.Context) (*accountstore.Account, error) {
				return r.store.FindByAuthUserID(ctx, ev.AuthUserID)
			},
			attach: func(ctx context.Context, acct *accountstore.Account) (*accountstore.Account, error) {
				return r.ensureBillingCustomer(ctx, acct)
			},
		},
		{
			name: "claim_by_discord",
			match: func(ctx context.Context) (*accountstore.Account, error) {
				return r.store.FindByDiscordID(ctx, ev.DiscordID)
			},
			attach: func(ctx context.Context, acct *accountstore.Account) (*accountstore.Account, error) {
				return r.attachByDiscord(ctx, acct, ev)
			},
		},
		{
			name: "claim_by_email",
			match: func(ctx context.Context) (*accountstore.Account, error) {
				if ev.Email == "" {
					return nil, nil
				}
				return r.store.FindByEmail(ctx, ev.Email)
			},
			attach: func(ctx context.Context, acct *accountstore.Account) (*accountstore.Account, error) {
				return r.attachByEmail(ctx, acct, ev)
			},
		},
	}

	for _, step := range steps {
		acct, err := step.match(ctx)
		if err != nil {
			return nil, fmt.Errorf("identity: %s lookup: %w", step.name, err)
		}
		if acct != nil {
			return step.attach(ctx, acct)
		}
	}

	return r.createAccount(ctx, ev)
}

// attachByDiscord claims an account found by Discord id: attach the auth user
// id and fill email/timezone only where currently empty.
func (r *Resolver) attachByDiscord(ctx context.Context, acct *accountstore.Account, ev LinkEvent) (*accountstore.Account, error) {
	if acct.AuthUserID == ev.AuthUserID {
		return r.ensureBillingCustomer(ctx, acct)
	}
	patch := accountstore.AccountPatch{AuthUserID: &ev.AuthUserID}
	if acct.Email == "" && ev.Email != "" {
		patch.Email = &ev.Email
	}
	if acct.Timezone == "" && ev.Locale != "" {
		patch.Timezone = &ev.Locale
	}
	updated, err := r.store.Update(ctx, acct.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("identity: claim by discord id: %w", err)
	}
	return r.ensureBillingCustomer(ctx, updated)
}

// attachByEmail claims an unlinked account found by email: attach both the
// auth user id and the Discord id.
func (r *Resolver) attachByEmail(ctx context.Context, acct *accountstore.Account, ev LinkEvent) (*accountstore.Account, error) {
	if acct.AuthUserID == ev.AuthUserID {
		return r.ensureBillingCustomer(ctx, acct)
	}
	if acct.AuthUserID != "" {
		return nil, fmt.Errorf("%w: account %s", ErrEmailOwnedByOther, acct.ID)
	}
	patch := accountstore.AccountPatch{
		AuthUserID:    &ev.AuthUserID,
		DiscordUserID: &ev.DiscordID,
	}
	if acct.Timezone == "" && ev.Locale != "" {
		patch.Timezone = &ev.Locale
	}
	updated, err := r.store.Update(ctx, acct.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("identity: claim by email: %w", err)
	}
	return r.ensureBillingCustomer(ctx, updated)
}

// createAccount inserts a fresh account, retrying username collisions with a
// random suffix and converting identity-field conflicts into the equivalent
// claim update. The store's uniqueness constraints are the only serialization
// point between concurrent resolutions of the same identity.
func (r *Resolver) createAccount(ctx context.Context, ev LinkEvent) (*accountstore.Account, error) {
	username := deriveUsername(ev.DisplayName, ev.Email, ev.AuthUserID)

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		acct, err := r.store.Create(ctx, accountstore.AccountDraft{
			Username:        username,
			Email:           ev.Email,
			AuthUserID:      ev.AuthUserID,
			DiscordUserID:   ev.DiscordID,
			DiscordUsername: ev.DisplayName,
			DisplayName:     ev.DisplayName,
			Timezone:        ev.Locale,
		})
		if err == nil {
			return r.ensureBillingCustomer(ctx, acct)
		}

		field, ok := accountstore.ConflictOn(err)
		if !ok {
			return nil, fmt.Errorf("identity: create account: %w", err)
		}
		switch field {
		case accountstore.ConflictUsername:
			username = usernameWithSuffix(deriveUsername(ev.DisplayName, ev.Email, ev.AuthUserID))
			continue
		case accountstore.ConflictAuthUserID:
			// A concurrent resolution for the same identity won the insert.
			existing, ferr := r.store.FindByAuthUserID(ctx, ev.AuthUserID)
			if ferr != nil || existing == nil {
				return nil, fmt.Errorf("identity: create raced on auth id but lookup failed: %w", errors.Join(err, ferr))
			}
			return r.ensureBillingCustomer(ctx, existing)
		case accountstore.ConflictDiscordUserID:
			existing, ferr := r.store.FindByDiscordID(ctx, ev.DiscordID)
			if ferr != nil || existing == nil {
				return nil, fmt.Errorf("identity: create raced on discord id but lookup failed: %w", errors.Join(err, ferr))
			}
			return r.attachByDiscord(ctx, existing, ev)
		case accountstore.ConflictEmail:
			if ev.Email == "" {
				return nil, fmt.Errorf("identity: create account: %w", err)
			}
			existing, ferr := r.store.FindByEmail(ctx, ev.Email)
			if ferr != nil || existing == nil {
				return nil, fmt.Errorf("identity: create raced on email but lookup failed: %w", errors.Join(err, ferr))
			}
			return r.attachByEmail(ctx, existing, ev)
		default:
			return nil, fmt.Errorf("identity: create account: %w", err)
		}
	}

	return nil, fmt.Errorf("identity: exhausted %d username attempts for auth user %s", maxCreateAttempts, ev.AuthUserID)
}

// ensureBillingCustomer provisions a billing customer when the account has
// none. Failures are logged and swallowed: the account's existence never
// depends on the payment provider being reachable.
func (r *Resolver) ensureBillingCustomer(ctx context.Context, acct *accountstore.Account) (*accountstore.Account, error) {
	if acct.BillingCustomerID != "" || r.billing == nil {
		return acct, nil
	}
	customerID, err := r.billing.ProvisionCustomer(ctx, acct.ID, acct.Email)
	if err != nil {
		r.logger.Printf("identity: provision billing customer for %s failed (will backfill later): %v", acct.ID, err)
		return acct, nil
	}
	updated, err := r.store.Update(ctx, acct.ID, accountstore.AccountPatch{BillingCustomerID: &customerID})
	if err != nil {
		r.logger.Printf("identity: store billing customer %s for %s failed: %v", customerID, acct.ID, err)
		return acct, nil
	}
	return updated, nil
}
