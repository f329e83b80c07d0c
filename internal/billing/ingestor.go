package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

// ErrNoAccount is returned when a purchase's billing customer maps to no
// account. The event cannot be applied without a destination; callers report
// it and do not retry.
var ErrNoAccount = errors.New("billing: no account for billing customer")

// Result describes what one checkout-completed event did to the ledger.
type Result struct {
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id,omitempty"`
	Credits   int64  `json:"credits"`
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
}

// Ingestor turns verified checkout-completed events into bonus-credit grants.
type Ingestor struct {
	sessions SessionClient
	store    accountstore.Store
	catalog  *Catalog
	logger   *log.Logger
	now      func() time.Time
}

// NewIngestor builds an Ingestor. catalog falls back to the built-in defaults;
// logger falls back to the default logger.
func NewIngestor(sessions SessionClient, store accountstore.Store, catalog *Catalog, logger *log.Logger) *Ingestor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ingestor{
		sessions: sessions,
		store:    store,
		catalog:  catalog,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleCheckoutCompleted applies one checkout session's credit purchases to
// the owning account's ledger, exactly once.
//
// The session's handled marker is consulted first and written back last, but
// the authoritative idempotency record is the store's per-session guard: a
// replay whose marker write was lost still applies nothing, because
// ApplyPurchase refuses a session id it has already recorded.
func (g *Ingestor) HandleCheckoutCompleted(ctx context.Context, sessionID string) (*Result, error) {
	if g.sessions == nil {
		return nil, errors.New("billing: no session client configured")
	}
	session, err := g.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("billing: fetch session %s: %w", sessionID, err)
	}
	if session.Handled() {
		return &Result{SessionID: session.ID, Reason: "already handled"}, nil
	}

	items, err := g.sessions.ListLineItems(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("billing: fetch line items for %s: %w", session.ID, err)
	}
	credits := creditTotal(g.catalog, items)
	if credits == 0 {
		return &Result{SessionID: session.ID, Reason: "no credit-bundle items"}, nil
	}

	acct, err := g.store.FindByBillingCustomerID(ctx, session.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("billing: look up customer %s: %w", session.CustomerID, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: %s (session %s)", ErrNoAccount, session.CustomerID, session.ID)
	}

	applied, err := g.store.ApplyPurchase(ctx, session.ID, acct.ID, credits)
	if err != nil {
		return nil, fmt.Errorf("billing: apply %d credits to %s: %w", credits, acct.ID, err)
	}
	if !applied {
		g.logger.Printf("billing: session %s already applied to %s, marker missing upstream", session.ID, acct.ID)
	}

	// Marker write is best-effort: the ledger mutation above is committed and
	// authoritative whether or not this sticks.
	if err := g.sessions.MarkHandled(ctx, session.ID, g.now().UTC()); err != nil {
		g.logger.Printf("billing: mark session %s handled failed: %v", session.ID, err)
	}

	return &Result{SessionID: session.ID, AccountID: acct.ID, Credits: credits, Applied: applied}, nil
}
