package runs

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
)

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// Handlers serves stored runs. Runner may be nil, in which case runs cannot
// be triggered over HTTP.
type Handlers struct {
	Store  Store
	Runner *Runner
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[runs] encode response: %v", err)
	}
}

// storeError maps store errors to responses.
func storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	http.Error(w, "Failed to fetch "+what+": "+err.Error(), http.StatusInternalServerError)
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// ListRuns returns runs, newest first, filtered by year, status and limit.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	var f ListFilter
	if err := decoder.Decode(&f, r.URL.Query()); err != nil {
		http.Error(w, "Invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := h.Store.List(r.Context(), f)
	if err != nil {
		storeError(w, err, "runs")
		return
	}
	if runs == nil {
		runs = []ForecastRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type latestQuery struct {
	Year int `schema:"year"`
}

// LatestRun returns the newest completed run.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	var q latestQuery
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, "Invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}
	run, err := h.Store.Latest(r.Context(), q.Year)
	if err != nil {
		storeError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.Store.Get(r.Context(), id)
	if err != nil {
		storeError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type regionsQuery struct {
	RegionCode string `schema:"region_code"`
}

// GetRunRegions returns a run's region forecasts, optionally for one region.
func (h *Handlers) GetRunRegions(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	var q regionsQuery
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, "Invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.Store.Get(r.Context(), id); err != nil {
		storeError(w, err, "run")
		return
	}
	rows, err := h.Store.Regions(r.Context(), id, q.RegionCode)
	if err != nil {
		storeError(w, err, "region forecasts")
		return
	}
	if rows == nil {
		rows = []RegionForecast{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handlers) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	s, err := h.Store.Summary(r.Context(), id)
	if err != nil {
		storeError(w, err, "run")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetRegionLatest returns one region's forecasts from the newest completed
// run that covered it.
func (h *Handlers) GetRegionLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.Store.LatestForRegion(r.Context(), chi.URLParam(r, "region_code"))
	if err != nil {
		storeError(w, err, "region forecast")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// CreateRun starts a run and answers 202 with the running row.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		http.Error(w, "Runs cannot be triggered on this server", http.StatusServiceUnavailable)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	run, err := h.Runner.Start(req)
	if errors.Is(err, ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Location", "/forecasts/runs/"+run.ID.String())
	writeJSON(w, http.StatusAccepted, run)
}
