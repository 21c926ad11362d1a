package forecast

import (
	"log"
	"time"
)

const logTag = "forecast"

// LogRunStarted logs the start of an estimation.
func LogRunStarted(model string, year, regions, candidates int) {
	log.Printf("[%s] %s run started year=%d regions=%d candidates=%d",
		logTag, model, year, regions, candidates)
}

// LogRunFinished logs the outcome of an estimation.
func LogRunFinished(model string, status Status, forecasts, skipped int, duration time.Duration) {
	log.Printf("[%s] %s run %s forecasts=%d skipped=%d duration=%dms",
		logTag, model, status, forecasts, skipped, duration.Milliseconds())
}

// LogRegionSkipped logs a region dropped from the run.
func LogRegionSkipped(code string, err error) {
	log.Printf("[%s] WARNING skipping region %s: %v", logTag, code, err)
}

// LogFallback logs use of a default prior or turnout.
func LogFallback(code, what string) {
	log.Printf("[%s] region %s: no history for %s, using default", logTag, code, what)
}

// LogConvergence logs a sampler diagnostic warning.
func LogConvergence(msg string) {
	log.Printf("[%s] WARNING convergence: %s", logTag, msg)
}
