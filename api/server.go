/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the portal frontend

SECURITY NOTE:
  No authentication middleware here. The engine assumes it sits behind
  the school portal's session layer.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/programs", func(r chi.Router) {
			r.Post("/", h.CreateProgram)
			r.Get("/{id}/structure", h.GetStructure)
		})

		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", h.CreateEnrollment)
			r.Get("/{id}/status", h.GetStatus)
			r.Post("/{id}/payments", h.PostPayment)
			r.Post("/{id}/waivers", h.SubmitWaiver)
		})

		r.Route("/waivers", func(r chi.Router) {
			r.Get("/pending", h.ListPendingWaivers)
			r.Post("/{id}/approve", h.ApproveWaiver)
			r.Post("/{id}/reject", h.RejectWaiver)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/suspend", h.Suspend)
		})
	})

	return r
}
