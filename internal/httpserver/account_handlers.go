package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
	"github.com/glimbot/glimbot-accounts/internal/identity"
)

// accountResponse is the wire shape of an account.
type accountResponse struct {
	ID                string            `json:"id"`
	Username          string            `json:"username"`
	Email             string            `json:"email,omitempty"`
	Plan              accountstore.Plan `json:"plan"`
	DiscordUserID     string            `json:"discord_user_id"`
	BillingCustomerID string            `json:"billing_customer_id,omitempty"`
	DisplayName       string            `json:"display_name,omitempty"`
	Timezone          string            `json:"timezone,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func toAccountResponse(a *accountstore.Account) accountResponse {
	return accountResponse{
		ID:                a.ID,
		Username:          a.Username,
		Email:             a.Email,
		Plan:              a.Plan,
		DiscordUserID:     a.DiscordUserID,
		BillingCustomerID: a.BillingCustomerID,
		DisplayName:       a.DisplayName,
		Timezone:          a.Timezone,
		CreatedAt:         a.CreatedAt,
	}
}

// handleIdentityLink runs the reconciliation chain for one provider-link
// event. Called service-to-service by the auth frontend after a successful
// OAuth link.
func (s *Server) handleIdentityLink(w http.ResponseWriter, r *http.Request) {
	var ev identity.LinkEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("malformed link event"))
		return
	}

	acct, err := s.resolver.Resolve(r.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNonPrimaryProvider):
			s.respondError(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, identity.ErrEmailOwnedByOther):
			s.respondError(w, http.StatusConflict, err)
		default:
			s.logger.Printf("identity link for auth user %s failed: %v", ev.AuthUserID, err)
			s.respondError(w, http.StatusInternalServerError, errors.New("identity resolution failed"))
		}
		return
	}
	s.respondJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := s.store.UsageSummary(r.Context(), id)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, errors.New("account not found"))
			return
		}
		s.logger.Printf("usage summary for %s failed: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, errors.New("usage lookup failed"))
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// providerStatus is one entry of the linked-providers read model.
type providerStatus struct {
	Provider  string `json:"provider"`
	Linked    bool   `json:"linked"`
	AccountID string `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		s.logger.Printf("provider lookup for %s failed: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, errors.New("account lookup failed"))
		return
	}
	if acct == nil {
		s.respondError(w, http.StatusNotFound, errors.New("account not found"))
		return
	}

	providers := []providerStatus{
		{
			Provider:  identity.PrimaryProvider,
			Linked:    acct.DiscordUserID != "",
			AccountID: acct.DiscordUserID,
			Username:  acct.DiscordUsername,
		},
		{
			Provider:  "auth",
			Linked:    acct.AuthUserID != "",
			AccountID: acct.AuthUserID,
		},
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

type consumeRequest struct {
	N int64 `json:"n"`
}

// handleConsumeUsage increments today's usage counter, rolling the ledger
// over to the current day first when needed.
func (s *Server) handleConsumeUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req := consumeRequest{N: 1}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New("malformed consume request"))
			return
		}
	}
	if req.N <= 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("n must be positive"))
		return
	}

	summary, err := s.store.ConsumeUsage(r.Context(), id, req.N)
	if err != nil {
		if errors.Is(err, accountstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, errors.New("account not found"))
			return
		}
		s.logger.Printf("consume usage for %s failed: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, errors.New("usage update failed"))
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}
