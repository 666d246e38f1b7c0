package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Token issuance (no auth required; issuance binds type to identity)
		r.Post("/auth/token", s.handleIssueToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Agent lifecycle and messaging
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.handleListAgents)
				r.Post("/register", s.handleRegisterAgent)
				r.Post("/message", s.handleSendMessage)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAgent)
					r.Delete("/", s.handleUnregisterAgent)
					r.Get("/subscriptions", s.handleListSubscriptions)
					r.Post("/subscriptions", s.handleSubscribe)
					r.Delete("/subscriptions", s.handleUnsubscribe)
					r.Get("/history", s.handleHistory)
				})
			})

			// Device data and control
			r.Route("/iot", func(r chi.Router) {
				r.Post("/query", s.handleQueryDevices)
				r.Post("/control", s.handleControlDevice)
			})

			// Security event log
			r.Get("/security/events", s.handleSecurityEvents)

			// WebSocket (agent identity from the authenticated token)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status along with basic cache
// liveness: how many devices are cached and when the newest reading
// arrived.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": s.cache.Len(),
	}
	if last := s.cache.LastSeen(); !last.IsZero() {
		body["last_reading"] = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}
