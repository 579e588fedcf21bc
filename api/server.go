/*
server.go - HTTP router and middleware configuration

ROUTER: chi

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/spareparts/*   Spare-part master data and availability
  /api/stockin/*      Lot intake
  /api/stockout/*     Stock-out lifecycle
  /api/reports/*      Read-only aggregates and audit
  /api/scenarios/*    Demo data (dev only)

SECURITY NOTE:
  No authentication middleware here; sessions are issued and checked by the
  gateway in front of this service.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/spareparts", func(r chi.Router) {
			r.Get("/", h.ListSpareParts)
			r.Post("/", h.CreateSparePart)
			r.Put("/{id}", h.UpdateSparePart)
			r.Delete("/{id}", h.DeleteSparePart)
			r.Get("/{id}/available", h.GetAvailable)
			r.Get("/{id}/lots", h.GetPartLots)
		})

		r.Route("/stockin", func(r chi.Router) {
			r.Get("/", h.ListStockIn)
			r.Post("/", h.CreateStockIn)
		})

		r.Route("/stockout", func(r chi.Router) {
			r.Get("/", h.ListStockOut)
			r.Post("/", h.CreateStockOut)
			r.Put("/{id}", h.UpdateStockOut)
			r.Delete("/{id}", h.DeleteStockOut)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/daily-stockout", h.DailyStockOutReport)
			r.Get("/stock-status", h.StockStatusReport)
			r.Get("/reconciliation", h.ReconciliationReport)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
