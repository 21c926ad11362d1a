package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/EmpoweredVote/EV-Forecast/internal/export"
	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("invalid run request")

// Request describes a run. Zero fields fall back to the runner's options.
type Request struct {
	ElectionYear int     `json:"election_year"`
	Position     string  `json:"position"`
	Model        string  `json:"model"`
	Samples      int     `json:"samples"`
	Confidence   float64 `json:"confidence"`
	Seed         *uint64 `json:"seed"`

	// Options replaces the runner's options wholesale when set.
	Options *forecast.Options `json:"-"`
}

// Runner loads inputs, executes a forecast, and records the outcome.
type Runner struct {
	Store   Store
	Repo    electiondata.Repository
	Options forecast.Options

	// Exports receive every finished result after it is stored.
	Exports []export.Writer

	wg sync.WaitGroup
}

func (rn *Runner) options(req Request) (forecast.Options, error) {
	opts := rn.Options
	if req.Options != nil {
		opts = *req.Options
	}
	if req.Model != "" {
		opts.Model = strings.ToLower(req.Model)
	}
	if req.Samples != 0 {
		opts.Samples = req.Samples
	}
	if req.Confidence != 0 {
		opts.Confidence = req.Confidence
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if req.ElectionYear <= 0 {
		return opts, fmt.Errorf("%w: election_year is required", ErrInvalidRequest)
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return opts, nil
}

func (rn *Runner) begin(ctx context.Context, req *Request) (*ForecastRun, forecast.Options, error) {
	if req.Position == "" {
		req.Position = "president"
	}
	opts, err := rn.options(*req)
	if err != nil {
		return nil, opts, err
	}
	run, err := newRun(uuid.New(), req.ElectionYear, req.Position, opts, time.Now())
	if err != nil {
		return nil, opts, err
	}
	if err := rn.Store.Begin(ctx, run); err != nil {
		return nil, opts, fmt.Errorf("begin run: %w", err)
	}
	return run, opts, nil
}

// Execute runs a forecast to completion and returns its result. A non-nil
// result is returned whenever the run was recorded, even when it failed.
func (rn *Runner) Execute(ctx context.Context, req Request) (*forecast.Result, error) {
	run, opts, err := rn.begin(ctx, &req)
	if err != nil {
		return nil, err
	}
	return rn.process(ctx, run, req, opts)
}

// Start records a running row and finishes the run in the background.
func (rn *Runner) Start(req Request) (*ForecastRun, error) {
	run, opts, err := rn.begin(context.Background(), &req)
	if err != nil {
		return nil, err
	}
	rn.wg.Add(1)
	go func() {
		defer rn.wg.Done()
		if _, err := rn.process(context.Background(), run, req, opts); err != nil {
			log.Printf("[runs] run %s failed: %v", run.ID, err)
		}
	}()
	return run, nil
}

// Wait blocks until background runs have finished.
func (rn *Runner) Wait() {
	rn.wg.Wait()
}

func (rn *Runner) process(ctx context.Context, run *ForecastRun, req Request, opts forecast.Options) (*forecast.Result, error) {
	start := time.Now()
	runsInFlight.Add(1)
	defer runsInFlight.Add(-1)

	var res *forecast.Result
	ds, runErr := electiondata.Load(ctx, rn.Repo, req.ElectionYear, req.Position, opts.MinAggregateSize)
	if runErr == nil {
		res, runErr = forecast.Run(ctx, ds, opts)
	}
	if res == nil {
		res = &forecast.Result{
			Model:        run.ModelName,
			ModelVersion: run.ModelVersion,
			ElectionYear: run.ElectionYear,
			Status:       forecast.StatusFailed,
			Reason:       runErr.Error(),
			Options:      opts,
			StartedAt:    start.UTC(),
			FinishedAt:   time.Now().UTC(),
		}
	}
	res.RunID = run.ID

	// The run deadline may have expired; the outcome is still recorded.
	store := context.WithoutCancel(ctx)
	var storeErr error
	if res.Status == forecast.StatusCompleted {
		storeErr = rn.Store.Complete(store, res)
	} else {
		storeErr = rn.Store.Fail(store, res)
	}
	observeRun(res, start)
	if storeErr != nil {
		return res, errors.Join(runErr, fmt.Errorf("record run %s: %w", run.ID, storeErr))
	}

	for _, w := range rn.Exports {
		if err := w.Write(store, res); err != nil {
			log.Printf("[runs] export of run %s to %s failed: %v", run.ID, w, err)
		}
	}
	return res, runErr
}
