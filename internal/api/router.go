package api

import (
	"net/http"

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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/boxes", func(r chi.Router) {
			r.Get("/", s.handleListBoxes)

			r.Route("/{deviceKey}", func(r chi.Router) {
				r.Get("/", s.handleGetBox)
				r.Get("/history", s.handleBoxHistory)
				r.Get("/favorites", s.handleBoxFavorites)
			})
		})

		r.Get("/interval-types", s.handleIntervalTypes)
	})

	return r
}

// handleHealth returns the bridge health status. "degraded" means the
// last cloud refresh failed; entities are marked unavailable until the
// next successful poll.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.snapshot.IsAvailable() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"boxes":   len(s.snapshot.Boxes()),
	})
}
