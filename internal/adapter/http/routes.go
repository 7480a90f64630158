package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)
	r.Get("/ws", h.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sessions
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)

		// Per-user session control
		r.Get("/users/{userID}/sessions", h.ListUserSessions)
		r.Get("/users/{userID}/active", h.ActiveSession)
		r.Post("/users/{userID}/cancel", h.CancelSession)
		r.Post("/users/{userID}/answer", h.Answer)

		// Security policy
		r.Get("/policy", h.PolicyInfo)
		r.Post("/policy/reload", h.ReloadPolicy)

		// Audit trail
		r.Get("/audit/verify", h.VerifyAudit)

		// Operational status
		r.Get("/status", h.Status)
	})
}
