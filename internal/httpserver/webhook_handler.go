package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/glimbot/glimbot-accounts/internal/billing"
)

// handleBillingWebhook verifies and dispatches payment-provider deliveries.
// Verification happens before anything is parsed or touched: a missing header
// is a 400, a failed verification a 403, and neither mutates ledger state.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("unreadable body"))
		return
	}

	if err := s.verifier.Verify(r.Header.Get(billing.SignatureHeader), body); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, billing.ErrMissingSignature) {
			status = http.StatusBadRequest
		}
		s.logger.Printf("webhook: rejected delivery: %v", err)
		s.respondError(w, status, err)
		return
	}

	var event billing.Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("malformed event payload"))
		return
	}

	if event.Type != billing.EventCheckoutCompleted {
		s.respondJSON(w, http.StatusOK, map[string]any{"ignored": true, "type": event.Type})
		return
	}

	result, err := s.ingestor.HandleCheckoutCompleted(r.Context(), event.Data.Object.ID)
	if err != nil {
		if errors.Is(err, billing.ErrNoAccount) {
			s.logger.Printf("webhook: %v", err)
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.logger.Printf("webhook: session %s failed: %v", event.Data.Object.ID, err)
		s.respondError(w, http.StatusInternalServerError, errors.New("credit application failed"))
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}
