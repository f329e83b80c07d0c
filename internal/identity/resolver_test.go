package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
)

type fakeBilling struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeBilling) ProvisionCustomer(_ context.Context, accountID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "cus_" + accountID, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func discordEvent(authID, discordID string) LinkEvent {
	return LinkEvent{
		AuthUserID: authID,
		Provider:   PrimaryProvider,
		DiscordID:  discordID,
	}
}

func TestResolveCreatesAccount(t *testing.T) {
	store := newMemStore()
	billing := &fakeBilling{}
	r := NewResolver(store, billing, quietLogger())

	ev := LinkEvent{
		AuthUserID:  "auth-1",
		Provider:    PrimaryProvider,
		DiscordID:   "d-1",
		Email:       "neo@example.com",
		DisplayName: "Neo",
		Locale:      "en-US",
	}
	acct, err := r.Resolve(context.Background(), ev)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acct.Username != "neo" {
		t.Fatalf("expected username neo, got %q", acct.Username)
	}
	if acct.BillingCustomerID == "" {
		t.Fatalf("expected billing customer to be provisioned")
	}
	if store.count() != 1 {
		t.Fatalf("expected 1 account, got %d", store.count())
	}
	if billing.calls != 1 {
		t.Fatalf("expected 1 provisioning call, got %d", billing.calls)
	}
}

func TestResolveIsConvergentUnderConcurrency(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, quietLogger())

	const n = 16
	start := make(chan struct{})
	ids := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			acct, err := r.Resolve(context.Background(), LinkEvent{
				AuthUserID:  "auth-race",
				Provider:    PrimaryProvider,
				DiscordID:   "d-race",
				Email:       "race@example.com",
				DisplayName: "Racer",
			})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = acct.ID
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("divergent account ids: %q vs %q", ids[0], ids[i])
		}
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly 1 account, got %d", store.count())
	}
}

func TestResolveDistinctIdentitiesStayDistinct(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, quietLogger())
	ctx := context.Background()

	a, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-a", Provider: PrimaryProvider, DiscordID: "d-a", Email: "a@x.com",
	})
	if err != nil {
		t.Fatalf("Resolve a: %v", err)
	}
	b, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-b", Provider: PrimaryProvider, DiscordID: "d-b", Email: "b@x.com",
	})
	if err != nil {
		t.Fatalf("Resolve b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("distinct identities merged into %s", a.ID)
	}
	if store.count() != 2 {
		t.Fatalf("expected 2 accounts, got %d", store.count())
	}
}

func TestResolveClaimsByEmail(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, quietLogger())
	ctx := context.Background()

	// Pre-existing account with an email but no auth identity, e.g. imported
	// from a legacy system.
	seeded, err := store.Create(ctx, draftWithEmail("legacy", "d-legacy", "a@x.com"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	acct, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-new", Provider: PrimaryProvider, DiscordID: "d-new", Email: "a@x.com",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acct.ID != seeded.ID {
		t.Fatalf("expected claim of %s, got new account %s", seeded.ID, acct.ID)
	}
	if acct.AuthUserID != "auth-new" {
		t.Fatalf("auth id not attached: %#v", acct)
	}
	if store.count() != 1 {
		t.Fatalf("expected 1 account, got %d", store.count())
	}
}

func TestResolveClaimsByDiscordID(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, quietLogger())
	ctx := context.Background()

	seeded, err := store.Create(ctx, draftWithEmail("seeded", "d-77", ""))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	acct, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-77", Provider: PrimaryProvider, DiscordID: "d-77", Email: "late@x.com", Locale: "de",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acct.ID != seeded.ID {
		t.Fatalf("expected claim of %s, got %s", seeded.ID, acct.ID)
	}
	if acct.Email != "late@x.com" {
		t.Fatalf("empty email should have been filled: %#v", acct)
	}
	if acct.Timezone != "de" {
		t.Fatalf("empty timezone should have been filled: %#v", acct)
	}
}

func TestResolveDoesNotStealLinkedEmailAccount(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, quietLogger())
	ctx := context.Background()

	if _, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-owner", Provider: PrimaryProvider, DiscordID: "d-owner", Email: "shared@x.com",
	}); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}

	_, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-intruder", Provider: PrimaryProvider, DiscordID: "d-intruder", Email: "shared@x.com",
	})
	if !errors.Is(err, ErrEmailOwnedByOther) {
		t.Fatalf("expected ErrEmailOwnedByOther, got %v", err)
	}
}

func TestResolveUsernameCollision(t *testing.T) {
	store := newMemStore()
	r := NewResolver(store, nil, quietLogger())
	ctx := context.Background()

	first, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-x", Provider: PrimaryProvider, DiscordID: "d-x", DisplayName: "Same Name",
	})
	if err != nil {
		t.Fatalf("Resolve first: %v", err)
	}
	second, err := r.Resolve(ctx, LinkEvent{
		AuthUserID: "auth-y", Provider: PrimaryProvider, DiscordID: "d-y", DisplayName: "Same Name",
	})
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if first.Username == second.Username {
		t.Fatalf("expected distinct usernames, both %q", first.Username)
	}
	if store.count() != 2 {
		t.Fatalf("expected 2 accounts, got %d", store.count())
	}
}

func TestResolveBillingFailureDoesNotAbort(t *testing.T) {
	store := newMemStore()
	billing := &fakeBilling{err: fmt.Errorf("payment provider down")}
	r := NewResolver(store, billing, quietLogger())

	acct, err := r.Resolve(context.Background(), discordEvent("auth-nb", "d-nb"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acct.BillingCustomerID != "" {
		t.Fatalf("unexpected billing customer: %q", acct.BillingCustomerID)
	}

	// The next link event for the same identity backfills the customer.
	billing.err = nil
	again, err := r.Resolve(context.Background(), discordEvent("auth-nb", "d-nb"))
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again.ID != acct.ID {
		t.Fatalf("resolution diverged: %s vs %s", acct.ID, again.ID)
	}
	if again.BillingCustomerID == "" {
		t.Fatalf("expected billing customer backfill")
	}
}

func TestResolveRejectsNonPrimaryProvider(t *testing.T) {
	r := NewResolver(newMemStore(), nil, quietLogger())
	_, err := r.Resolve(context.Background(), LinkEvent{
		AuthUserID: "auth-1", Provider: "telegram", DiscordID: "d-1",
	})
	if !errors.Is(err, ErrNonPrimaryProvider) {
		t.Fatalf("expected ErrNonPrimaryProvider, got %v", err)
	}
}
