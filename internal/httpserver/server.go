// Package httpserver exposes the accounts service over REST: the billing
// webhook, the identity-link endpoint, and the per-account read surface.
package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/glimbot/glimbot-accounts/internal/accountstore"
	"github.com/glimbot/glimbot-accounts/internal/billing"
	"github.com/glimbot/glimbot-accounts/internal/health"
	"github.com/glimbot/glimbot-accounts/internal/identity"
	"github.com/glimbot/glimbot-accounts/internal/version"
)

// maxBodyBytes caps request bodies. Webhook payloads and link events are
// small; anything larger is hostile or broken.
const maxBodyBytes = 1 << 20

// Server wires the store, resolver, and ingestor into HTTP handlers.
type Server struct {
	store         accountstore.Store
	resolver      *identity.Resolver
	ingestor      *billing.Ingestor
	verifier      *billing.WebhookVerifier
	internalToken string
	logger        *log.Logger
	health        *health.Checker
}

// NewServer builds a Server. internalToken guards the identity-link endpoint;
// logger falls back to the default logger.
func NewServer(store accountstore.Store, resolver *identity.Resolver, ingestor *billing.Ingestor, verifier *billing.WebhookVerifier, internalToken string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:         store,
		resolver:      resolver,
		ingestor:      ingestor,
		verifier:      verifier,
		internalToken: internalToken,
		logger:        logger,
	}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/billing", s.handleBillingWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.requireInternalToken).Post("/identity/link", s.handleIdentityLink)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/usage", s.handleUsage)
			r.Get("/providers", s.handleProviders)
			r.Post("/usage/consume", s.handleConsumeUsage)
		})
	})

	return r
}

// SetHealthChecker attaches component probes reported by the health endpoint.
func (s *Server) SetHealthChecker(checker *health.Checker) {
	s.health = checker
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"service": "glimbot-accounts",
		"version": version.Version,
	}
	status := http.StatusOK
	if s.health != nil {
		report := s.health.Run(r.Context())
		payload["components"] = report.Components
		if !report.Healthy() {
			payload["status"] = string(report.Status)
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

// requireInternalToken guards service-to-service endpoints with a shared
// bearer token.
func (s *Server) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalToken == "" {
			s.respondError(w, http.StatusServiceUnavailable, errors.New("internal api token not configured"))
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid internal token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
