package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/telemetry", s.handleTelemetry)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleListState)
			r.Get("/{key}", s.handleGetState)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Use(requirePermission(auth.PermStateWrite))
				r.Put("/{key}", s.handleSetState)
				r.Delete("/{key}", s.handleDeleteState)
			})
		})

		r.Route("/rpc", func(r chi.Router) {
			r.Get("/methods", s.handleListMethods)
			r.Get("/pending", s.handleListPending)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Use(requirePermission(auth.PermRPCInvoke))
				r.Post("/{method}", s.handleInvoke)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(requirePermission(auth.PermAuditRead))
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth reports "ok" when every component check passes and
// "degraded" with per-component errors otherwise. A gateway that is not
// connected to the platform is degraded, not down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks)+1)
	status := "ok"

	stats := s.gateway.Stats()
	components["gateway"] = stats.State
	if !stats.Connected {
		status = "degraded"
	}

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
