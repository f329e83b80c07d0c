package identity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
)

// memStore is an in-memory accountstore.Store that enforces the same
// uniqueness constraints as the SQL backends. It lets the resolver tests
// exercise create races without a database in the loop.
type memStore struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]*accountstore.Account // by id
	ledgers  map[string]*accountstore.UsageSummary
	events   map[string]bool // applied session ids
}

func draftWithEmail(username, discordID, email string) accountstore.AccountDraft {
	return accountstore.AccountDraft{
		Username:      username,
		Email:         email,
		DiscordUserID: discordID,
	}
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*accountstore.Account),
		ledgers:  make(map[string]*accountstore.UsageSummary),
		events:   make(map[string]bool),
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

func (m *memStore) findLocked(pred func(*accountstore.Account) bool) *accountstore.Account {
	for _, a := range m.accounts {
		if pred(a) {
			clone := *a
			return &clone
		}
	}
	return nil
}

func (m *memStore) find(pred func(*accountstore.Account) bool) (*accountstore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(pred), nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*accountstore.Account, error) {
	return m.find(func(a *accountstore.Account) bool { return a.ID == id })
}

func (m *memStore) FindByAuthUserID(_ context.Context, authUserID string) (*accountstore.Account, error) {
	return m.find(func(a *accountstore.Account) bool { return a.AuthUserID != "" && a.AuthUserID == authUserID })
}

func (m *memStore) FindByDiscordID(_ context.Context, discordID string) (*accountstore.Account, error) {
	return m.find(func(a *accountstore.Account) bool { return a.DiscordUserID == discordID })
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*accountstore.Account, error) {
	return m.find(func(a *accountstore.Account) bool { return a.Email != "" && a.Email == email })
}

func (m *memStore) FindByBillingCustomerID(_ context.Context, customerID string) (*accountstore.Account, error) {
	return m.find(func(a *accountstore.Account) bool { return a.BillingCustomerID != "" && a.BillingCustomerID == customerID })
}

func (m *memStore) conflictLocked(excludeID string, a *accountstore.Account) error {
	for _, other := range m.accounts {
		if other.ID == excludeID {
			continue
		}
		switch {
		case other.Username == a.Username:
			return &accountstore.ConflictError{Field: accountstore.ConflictUsername}
		case a.Email != "" && other.Email == a.Email:
			return &accountstore.ConflictError{Field: accountstore.ConflictEmail}
		case a.AuthUserID != "" && other.AuthUserID == a.AuthUserID:
			return &accountstore.ConflictError{Field: accountstore.ConflictAuthUserID}
		case other.DiscordUserID == a.DiscordUserID:
			return &accountstore.ConflictError{Field: accountstore.ConflictDiscordUserID}
		}
	}
	return nil
}

func (m *memStore) Create(_ context.Context, draft accountstore.AccountDraft) (*accountstore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	a := &accountstore.Account{
		ID:              "acct-" + strconv.Itoa(m.seq),
		Username:        draft.Username,
		Email:           draft.Email,
		AuthUserID:      draft.AuthUserID,
		DiscordUserID:   draft.DiscordUserID,
		DiscordUsername: draft.DiscordUsername,
		Plan:            accountstore.PlanFree,
		DisplayName:     draft.DisplayName,
		Timezone:        draft.Timezone,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := m.conflictLocked("", a); err != nil {
		return nil, err
	}
	m.accounts[a.ID] = a
	m.ledgers[a.ID] = &accountstore.UsageSummary{AccountID: a.ID, DailyLimit: 25, Plan: a.Plan}
	clone := *a
	return &clone, nil
}

func (m *memStore) Update(_ context.Context, id string, patch accountstore.AccountPatch) (*accountstore.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, accountstore.ErrNotFound
	}
	next := *a
	if patch.Username != nil {
		next.Username = *patch.Username
	}
	if patch.Email != nil {
		next.Email = *patch.Email
	}
	if patch.AuthUserID != nil {
		next.AuthUserID = *patch.AuthUserID
	}
	if patch.DiscordUserID != nil {
		next.DiscordUserID = *patch.DiscordUserID
	}
	if patch.DiscordUsername != nil {
		next.DiscordUsername = *patch.DiscordUsername
	}
	if patch.BillingCustomerID != nil && next.BillingCustomerID == "" {
		next.BillingCustomerID = *patch.BillingCustomerID
	}
	if patch.Plan != nil {
		next.Plan = *patch.Plan
	}
	if patch.DisplayName != nil {
		next.DisplayName = *patch.DisplayName
	}
	if patch.Timezone != nil {
		next.Timezone = *patch.Timezone
	}
	if err := m.conflictLocked(id, &next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	m.accounts[id] = &next
	clone := next
	return &clone, nil
}

func (m *memStore) UsageSummary(_ context.Context, accountID string) (*accountstore.UsageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.ledgers[accountID]
	if !ok {
		return nil, accountstore.ErrNotFound
	}
	clone := *sum
	return &clone, nil
}

func (m *memStore) ConsumeUsage(_ context.Context, accountID string, n int64) (*accountstore.UsageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.ledgers[accountID]
	if !ok {
		return nil, accountstore.ErrNotFound
	}
	sum.Used += n
	clone := *sum
	return &clone, nil
}

func (m *memStore) ApplyPurchase(_ context.Context, sessionID, accountID string, credits int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[sessionID] {
		return false, nil
	}
	sum, ok := m.ledgers[accountID]
	if !ok {
		sum = &accountstore.UsageSummary{AccountID: accountID, DailyLimit: 25}
		m.ledgers[accountID] = sum
	}
	m.events[sessionID] = true
	sum.BonusCredits += credits
	return true, nil
}
