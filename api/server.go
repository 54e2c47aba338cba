/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the allocation editor

ROUTE GROUPS:
  /api/engagements/*    Allocation matrix, ranks, snapshots, ledger
  /api/fiscal-years/*   Fiscal year listing and lock lifecycle
  /api/calendar/*       Closing period consistency check
  /api/forecast/*       Forecast import and view
  /api/scenarios/*      Demo scenarios
  /                     Endpoint index

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/engagements", func(r chi.Router) {
			r.Get("/", h.ListEngagements)
			r.Get("/{id}/allocation", h.GetAllocation)
			r.Put("/{id}/allocation", h.SaveAllocation)
			r.Post("/{id}/ranks", h.AddRank)
			r.Delete("/{id}/ranks/{rank}", h.DeleteRank)

			r.Route("/{id}/periods/{cp}", func(r chi.Router) {
				r.Get("/discrepancies", h.GetDiscrepancies)
				r.Put("/ledger", h.RecordLedger)
				r.Get("/{kind}", h.GetSnapshot)
				r.Put("/{kind}", h.SaveSnapshot)
				r.Post("/{kind}/clone", h.CloneSnapshot)
			})
		})

		r.Route("/fiscal-years", func(r chi.Router) {
			r.Get("/", h.ListFiscalYears)
			r.Post("/{id}/lock", h.LockFiscalYear)
			r.Post("/{id}/unlock", h.UnlockFiscalYear)
		})

		r.Post("/calendar/consistency", h.CheckCalendar)

		r.Route("/forecast", func(r chi.Router) {
			r.Get("/", h.GetForecast)
			r.Post("/", h.UpdateForecast)
			r.Get("/summary", h.GetForecastSummary)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Allocation Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Allocation Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/engagements">/api/engagements</a> - List engagements</li>
<li><a href="/api/fiscal-years">/api/fiscal-years</a> - List fiscal years</li>
<li><a href="/api/forecast">/api/forecast</a> - Current forecast</li>
<li><a href="/api/forecast/summary">/api/forecast/summary</a> - Forecast per engagement</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
