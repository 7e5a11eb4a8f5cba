package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. wsHandler
// may be nil when the WebSocket hub is disabled.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/authorize", h.Authorize)
		r.Post("/evaluate", h.Evaluate)

		r.Get("/approvals", h.ListApprovals)
		r.Get("/approvals/pending", h.ListPending)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/decisions", h.SubmitDecision)

		r.Get("/audit", h.QueryAudit)

		r.Get("/policy", h.GetPolicy)
		r.Post("/policy/reload", h.ReloadPolicy)
	})

	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}
}
