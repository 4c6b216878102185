package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pdm-core/internal/auth"
)

// healthTimeout bounds each dependency check in /health.
const healthTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Read-only routes need no token.
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/stats", s.handleStats)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Get("/by-name/{name}", s.handleGetChannelByName)
			r.Get("/{id}", s.handleGetChannel)

			r.With(s.requirePermission(auth.PermChannelWrite)).Put("/{id}/value", s.handleSetChannelValue)
			r.With(s.requirePermission(auth.PermChannelWrite)).Put("/{id}/enabled", s.handleSetChannelEnabled)
		})

		r.Route("/outputs", func(r chi.Router) {
			r.Get("/", s.handleListOutputs)
			r.Get("/{index}", s.handleGetOutput)
			r.With(s.requirePermission(auth.PermProtectionClear)).Post("/{index}/clear", s.handleClearOutput)
		})

		r.Route("/bridges", func(r chi.Router) {
			r.Get("/", s.handleListBridges)
			r.With(s.requirePermission(auth.PermProtectionClear)).Post("/{index}/clear", s.handleClearBridge)
		})

		r.Route("/safe-state", func(r chi.Router) {
			r.Get("/", s.handleGetSafeState)
			r.With(s.requirePermission(auth.PermSafeStateReset)).Post("/reset", s.handleResetSafeState)
		})

		r.Route("/layout", func(r chi.Router) {
			r.Get("/", s.handleGetLayout)
			r.Get("/schema", s.handleLayoutSchema)
			r.Get("/history", s.handleLayoutHistory)
			r.With(s.requirePermission(auth.PermLayoutApply)).Post("/", s.handleApplyLayout)
		})

		r.Get("/events", s.handleListEvents)

		// WebSocket tickets are issued to any token holder; the socket
		// itself authenticates with the ticket.
		r.With(s.requirePermission(auth.PermChannelRead)).Post("/auth/ws-ticket", s.handleWSTicket)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and every configured dependency.
// Any failed dependency turns the status to "degraded" with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health)+1)
	status, code := "ok", http.StatusOK

	if safe, reason := s.core.SafeState(); safe {
		checks["core"] = "safe state: " + reason
		status, code = "degraded", http.StatusServiceUnavailable
	} else {
		checks["core"] = "ok"
	}

	for name, dep := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := dep.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
