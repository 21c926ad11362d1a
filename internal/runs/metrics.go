package runs

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/VictoriaMetrics/metrics"
)

var runsInFlight atomic.Int64

var (
	runsCompletedTotal  = metrics.NewCounter(`forecast_runs_total{status="completed"}`)
	runsFailedTotal     = metrics.NewCounter(`forecast_runs_total{status="failed"}`)
	regionsSkippedTotal = metrics.NewCounter(`forecast_regions_skipped_total`)
	runDuration         = metrics.NewHistogram(`forecast_run_duration_seconds`)

	_ = metrics.NewGauge(`forecast_runs_in_flight`, func() float64 {
		return float64(runsInFlight.Load())
	})
)

func observeRun(res *forecast.Result, start time.Time) {
	runDuration.UpdateDuration(start)
	regionsSkippedTotal.Add(len(res.Skipped))
	if res.Status == forecast.StatusCompleted {
		runsCompletedTotal.Inc()
	} else {
		runsFailedTotal.Inc()
	}
}

// MetricsHandler exposes every registered metric in Prometheus format.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w, true)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	requestDuration := metrics.GetOrCreateHistogram(`forecast_requests_duration_seconds{route="` + route + `"}`)

	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		defer requestDuration.UpdateDuration(startTime)
		h(w, r)
	}
}
