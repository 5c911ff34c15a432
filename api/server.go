/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/employees/*        Employee mirror
  /api/sales-periods/*    Monthly sales aggregates
  /api/service-sales      Service sales
  /api/individual-goals   Individual goals
  /api/closings/*         Closings, recompute, statements, adjustments
  /api/adjustments/*      Adjustment removal
  /health                 Liveness check

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
		})

		// Collaborator inputs
		r.Route("/sales-periods", func(r chi.Router) {
			r.Get("/{month}", h.GetSalesPeriod)
			r.Put("/{month}", h.PutSalesPeriod)
		})
		r.Post("/service-sales", h.CreateServiceSale)
		r.Post("/individual-goals", h.CreateIndividualGoal)

		// Closing routes
		r.Route("/closings", func(r chi.Router) {
			r.Get("/", h.ListClosings)
			r.Post("/recompute", h.RecomputeMany)

			r.Route("/{month}", func(r chi.Router) {
				r.Get("/", h.GetClosing)
				r.Put("/config", h.ConfigureClosing)
				r.Post("/recompute", h.RecomputeClosing)
				r.Get("/statements/{employeeID}", h.GetStatement)
				r.Get("/adjustments", h.ListAdjustments)
				r.Post("/adjustments", h.CreateAdjustment)
			})
		})

		// Adjustment routes
		r.Route("/adjustments", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteAdjustment)
		})
	})

	return r
}
