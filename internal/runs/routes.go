package runs

import (
	"net/http"

	"github.com/EmpoweredVote/EV-Forecast/internal/middleware"
	"github.com/go-chi/chi/v5"
)

func SetupRoutes(h *Handlers, adminKeyHash string, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	// Public routes - read-only access to stored forecasts
	r.Get("/runs", instrument("list_runs", h.ListRuns))
	r.Get("/runs/latest", instrument("latest_run", h.LatestRun))
	r.Get("/runs/{run_id}", instrument("get_run", h.GetRun))
	r.Get("/runs/{run_id}/regions", instrument("run_regions", h.GetRunRegions))
	r.Get("/runs/{run_id}/summary", instrument("run_summary", h.GetRunSummary))
	r.Get("/regions/{region_code}/latest", instrument("region_latest", h.GetRegionLatest))

	// Admin routes - require the admin key
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(middleware.AdminKeyMiddleware(adminKeyHash))

		r.Post("/runs", instrument("create_run", h.CreateRun))
	})

	return r
}
