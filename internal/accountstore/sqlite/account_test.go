package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func draft(username, discordID string) accountstore.AccountDraft {
	return accountstore.AccountDraft{
		Username:      username,
		DiscordUserID: discordID,
	}
}

func TestCreateAndFinders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, accountstore.AccountDraft{
		Username:      "mira",
		Email:         "Mira@Example.com",
		AuthUserID:    "auth-1",
		DiscordUserID: "111222333",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	if created.Plan != accountstore.PlanFree {
		t.Fatalf("expected free plan, got %s", created.Plan)
	}

	byAuth, err := store.FindByAuthUserID(ctx, "auth-1")
	if err != nil {
		t.Fatalf("FindByAuthUserID: %v", err)
	}
	if byAuth == nil || byAuth.ID != created.ID {
		t.Fatalf("auth lookup mismatch: %#v", byAuth)
	}

	// Emails are normalised to lower case on write and on lookup.
	byEmail, err := store.FindByEmail(ctx, "MIRA@example.COM")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if byEmail == nil || byEmail.ID != created.ID {
		t.Fatalf("email lookup mismatch: %#v", byEmail)
	}

	byDiscord, err := store.FindByDiscordID(ctx, "111222333")
	if err != nil {
		t.Fatalf("FindByDiscordID: %v", err)
	}
	if byDiscord == nil || byDiscord.ID != created.ID {
		t.Fatalf("discord lookup mismatch: %#v", byDiscord)
	}

	missing, err := store.FindByBillingCustomerID(ctx, "cus_none")
	if err != nil {
		t.Fatalf("FindByBillingCustomerID: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown customer, got %#v", missing)
	}
}

func TestCreateLedgerRowExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draft("kai", "444"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sum, err := store.UsageSummary(ctx, created.ID)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Used != 0 || sum.BonusCredits != 0 {
		t.Fatalf("expected zeroed counters, got %#v", sum)
	}
	if sum.DailyLimit != DefaultDailyLimit {
		t.Fatalf("expected default daily limit, got %d", sum.DailyLimit)
	}
	if sum.UsageDate != today() {
		t.Fatalf("expected usage date %s, got %s", today(), sum.UsageDate)
	}
}

func TestCreateConflictFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, accountstore.AccountDraft{
		Username:      "dupe",
		Email:         "dupe@example.com",
		AuthUserID:    "auth-dupe",
		DiscordUserID: "999",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cases := []struct {
		name  string
		draft accountstore.AccountDraft
		field accountstore.ConflictField
	}{
		{"username", accountstore.AccountDraft{Username: "dupe", DiscordUserID: "1000"}, accountstore.ConflictUsername},
		{"email", accountstore.AccountDraft{Username: "other1", Email: "dupe@example.com", DiscordUserID: "1001"}, accountstore.ConflictEmail},
		{"auth_user_id", accountstore.AccountDraft{Username: "other2", AuthUserID: "auth-dupe", DiscordUserID: "1002"}, accountstore.ConflictAuthUserID},
		{"discord_user_id", accountstore.AccountDraft{Username: "other3", DiscordUserID: "999"}, accountstore.ConflictDiscordUserID},
	}
	for _, tc := range cases {
		_, err := store.Create(ctx, tc.draft)
		field, ok := accountstore.ConflictOn(err)
		if !ok {
			t.Fatalf("%s: expected conflict, got %v", tc.name, err)
		}
		if field != tc.field {
			t.Fatalf("%s: expected conflict on %s, got %s", tc.name, tc.field, field)
		}
	}
}

func TestUpdatePatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draft("patchme", "555"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	authID := "auth-55"
	email := "patch@example.com"
	updated, err := store.Update(ctx, created.ID, accountstore.AccountPatch{
		AuthUserID: &authID,
		Email:      &email,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.AuthUserID != "auth-55" || updated.Email != "patch@example.com" {
		t.Fatalf("patch not applied: %#v", updated)
	}
	if updated.Username != "patchme" {
		t.Fatalf("untouched field changed: %#v", updated)
	}

	if _, err := store.Update(ctx, "no-such-id", accountstore.AccountPatch{Email: &email}); !errors.Is(err, accountstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBillingCustomerIDWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draft("billing", "666"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := "cus_first"
	if _, err := store.Update(ctx, created.ID, accountstore.AccountPatch{BillingCustomerID: &first}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	second := "cus_second"
	updated, err := store.Update(ctx, created.ID, accountstore.AccountPatch{BillingCustomerID: &second})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.BillingCustomerID != "cus_first" {
		t.Fatalf("billing customer id was overwritten: %q", updated.BillingCustomerID)
	}
}

func TestUpdateConflictMapsField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, accountstore.AccountDraft{
		Username: "holder", Email: "held@example.com", DiscordUserID: "777",
	}); err != nil {
		t.Fatalf("Create holder: %v", err)
	}
	other, err := store.Create(ctx, draft("claimer", "778"))
	if err != nil {
		t.Fatalf("Create claimer: %v", err)
	}

	email := "held@example.com"
	_, err = store.Update(ctx, other.ID, accountstore.AccountPatch{Email: &email})
	if field, ok := accountstore.ConflictOn(err); !ok || field != accountstore.ConflictEmail {
		t.Fatalf("expected email conflict, got %v", err)
	}
}
