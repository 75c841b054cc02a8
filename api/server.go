/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/feefine-reports/*  Refund report (JSON, CSV)
  /api/accounts/*         Fee/fine accounts, refund checks, refunds
  /api/accounts-bulk/*    Bulk refund check
  /api/feefineactions     Record actions
  /api/patrons, /api/items, /api/instances  Directory upserts
  /api/settings/*         Tenant settings
  /api/admin/audit        Refund report audit (when a scheduler is set)
  /api/scenarios/*        Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Report routes
		r.Route("/feefine-reports", func(r chi.Router) {
			r.Get("/refund", h.GetRefundReport)
			r.Get("/refund.csv", h.ExportRefundReport)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Get("/{id}/actions", h.GetAccountActions)
			r.Post("/{id}/check-refund", h.CheckRefund)
			r.Post("/{id}/refund", h.Refund)
		})
		r.Post("/accounts-bulk/check-refund", h.CheckRefundBulk)

		r.Post("/feefineactions", h.CreateAction)

		// Directory routes
		r.Post("/patrons", h.SavePatron)
		r.Post("/items", h.SaveItem)
		r.Post("/instances", h.SaveInstance)

		// Settings routes
		r.Route("/settings", func(r chi.Router) {
			r.Get("/timezone", h.GetTimezone)
			r.Put("/timezone", h.PutTimezone)
		})

		// Admin routes
		if h.Audit != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/audit", h.Audit.GetLastAudit)
				r.Post("/audit", h.Audit.TriggerAudit)
			})
		}

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
