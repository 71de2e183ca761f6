package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/server/handler"
)

// NewRouter creates and configures the HTTP router with middleware and API routes.
// The webhook route is only mounted when triggers is not nil.
func NewRouter(cfg *config.Config, queue core.JobQueue, triggers handler.TriggerHandler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if triggers != nil {
			webhookHandler := handler.NewWebhookHandler(cfg.GitHub.WebhookSecret, triggers, logger)
			r.Post("/webhook/github", webhookHandler.Handle)
		}

		queueHandler := handler.NewQueueHandler(queue, cfg.Queue.LeaseDuration, logger)
		r.Route("/queue", func(r chi.Router) {
			r.Use(bearerAuth(cfg.Queue.Token))
			r.Post("/lease", queueHandler.Lease)
			r.Get("/jobs", queueHandler.List)
			r.Post("/jobs", queueHandler.Enqueue)
			r.Get("/jobs/{id}", queueHandler.Get)
			r.Post("/jobs/{id}/ack", queueHandler.Acknowledge)
			r.Post("/jobs/{id}/renew", queueHandler.Renew)
		})
	})

	return r
}

// bearerAuth rejects requests without the shared queue token. An empty token
// disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
