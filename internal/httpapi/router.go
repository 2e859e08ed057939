package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/contentops/promoflow/internal/cache"
	"github.com/contentops/promoflow/pkg/api"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	// WebhookAPIKey guards the progress webhook. Empty disables auth.
	WebhookAPIKey string
	RateLimit     RateLimitConfig
	Logger        *slog.Logger
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(orch api.Orchestrator, c cache.Cache, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	h := NewWorkflowHandler(orch, c, cfg.RateLimit)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/workflows", h.Start)
		r.Post("/workflows/{sessionID}/cancel", h.Cancel)
		r.Get("/events/{eventID}/workflow", h.Status)
		r.Get("/users/{userID}/workflow", h.UserStatus)
		r.Post("/events/{eventID}/regenerate", h.Regenerate)
		r.Get("/metrics", h.Metrics)

		// The agent system authenticates with the webhook key.
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.WebhookAPIKey))
			r.Post("/workflows/progress", h.Progress)
		})
	})

	return r
}
