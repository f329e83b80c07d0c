// Package billing applies verified payment-provider events to account ledgers.
//
// The provider is the source of truth for sessions and line items; this
// package's only durable writes are the ledger increment and the local
// billing_events guard row, both committed in one store transaction.
package billing

import (
	"context"
	"time"
)

// CheckoutSession is the provider's checkout record as seen by the ingestor.
type CheckoutSession struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer"`
	Metadata   map[string]string `json:"metadata"`
}

// Handled reports whether the session's idempotency marker is set.
func (s CheckoutSession) Handled() bool {
	return s.Metadata["handled"] == "true"
}

// LineItem is one purchased entry on a checkout session. UnitAmount is in
// minor currency units (cents).
type LineItem struct {
	PriceID    string `json:"price_id"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int64  `json:"quantity"`
}

// SessionClient reads checkout sessions from the payment provider and writes
// the handled marker back.
type SessionClient interface {
	GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error)
	MarkHandled(ctx context.Context, sessionID string, handledAt time.Time) error
}

// CustomerProvisioner creates billing customers. The identity resolver calls
// it when an account has no customer yet.
type CustomerProvisioner interface {
	ProvisionCustomer(ctx context.Context, accountID, email string) (string, error)
}
