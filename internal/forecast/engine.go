package forecast

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Estimator produces region forecasts for a dataset. Implementations must not
// perform I/O and must be safe to call from one goroutine per run.
type Estimator interface {
	Name() string
	Version() string
	Estimate(ctx context.Context, ds *Dataset, opts Options) (*Estimate, error)
}

// Estimate is an estimator's raw output before the national rollup.
type Estimate struct {
	Regions     []RegionForecast
	Skipped     []SkippedRegion
	Warnings    []string
	Diagnostics *Diagnostics
}

// NewEstimator returns the estimator registered for model.
func NewEstimator(model string) (Estimator, error) {
	switch model {
	case ModelDirichlet, "":
		return DirichletEstimator{}, nil
	case ModelHierarchical:
		return HierarchicalEstimator{}, nil
	}
	return nil, fmt.Errorf("unknown model %q", model)
}

// Run executes one forecast run under the wall-clock budget opts.Timeout.
//
// The returned Result is non-nil whenever opts are valid; a failed run carries
// StatusFailed, a Reason, no region rows, and the error that caused it.
// Region-level degeneracies do not fail the run; they are listed in Skipped.
func Run(ctx context.Context, ds *Dataset, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	est, err := NewEstimator(opts.Model)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:        uuid.New(),
		Model:        est.Name(),
		ModelVersion: est.Version(),
		ElectionYear: ds.ElectionYear,
		Status:       StatusRunning,
		Options:      opts,
		StartedAt:    time.Now().UTC(),
	}
	LogRunStarted(res.Model, ds.ElectionYear, len(ds.Regions), len(ds.Candidates))

	switch {
	case len(ds.Regions) == 0:
		return res.fail(ErrNoRegions)
	case len(ds.Candidates) == 0:
		return res.fail(ErrNoCandidates)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	out, err := est.Estimate(ctx, ds, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrDeadlineExceeded, opts.Timeout)
		}
		return res.fail(err)
	}

	res.Skipped = out.Skipped
	res.Warnings = out.Warnings
	res.Diagnostics = out.Diagnostics
	if len(out.Regions) == 0 {
		return res.fail(fmt.Errorf("%w: %d regions skipped", ErrNoForecasts, len(out.Skipped)))
	}

	res.Regions = out.Regions
	res.National = NationalRollup(out.Regions)
	res.Status = StatusCompleted
	res.FinishedAt = time.Now().UTC()
	LogRunFinished(res.Model, res.Status, len(res.Regions), len(res.Skipped), res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func (r *Result) fail(err error) (*Result, error) {
	r.Status = StatusFailed
	r.Reason = err.Error()
	r.Regions = nil
	r.National = NationalSummary{}
	r.FinishedAt = time.Now().UTC()
	LogRunFinished(r.Model, r.Status, 0, len(r.Skipped), r.FinishedAt.Sub(r.StartedAt))
	return r, err
}

// regionSource gives every region its own PCG stream so results do not depend
// on worker scheduling.
func regionSource(seed uint64, idx int) rand.Source {
	return rand.NewPCG(seed, uint64(idx)+1)
}

// DirichletEstimator samples vote shares from a Dirichlet seeded by historical
// support and turnout from a clipped normal, independently per region.
type DirichletEstimator struct{}

func (DirichletEstimator) Name() string    { return "DirichletMultiCandidate" }
func (DirichletEstimator) Version() string { return "v1.0" }

type regionOutcome struct {
	forecasts []RegionForecast
	skipped   *SkippedRegion
}

func (e DirichletEstimator) Estimate(ctx context.Context, ds *Dataset, opts Options) (*Estimate, error) {
	history := historyByRegion(ds.History)

	// Each worker owns outcomes[i]; the slice is only read after Wait.
	outcomes := make([]regionOutcome, len(ds.Regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range ds.Regions {
		g.Go(func() error {
			out, err := e.forecastRegion(gctx, ds, i, history[ds.Regions[i].ID], opts)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	est := &Estimate{}
	for _, out := range outcomes {
		if out.skipped != nil {
			est.Skipped = append(est.Skipped, *out.skipped)
			continue
		}
		est.Regions = append(est.Regions, out.forecasts...)
	}
	return est, nil
}

// forecastRegion returns an error only for context expiry or cancellation.
// Degenerate regions come back as a skipped outcome.
func (DirichletEstimator) forecastRegion(ctx context.Context, ds *Dataset, idx int, history []HistoricalResult, opts Options) (regionOutcome, error) {
	r := ds.Regions[idx]
	skip := func(err error) (regionOutcome, error) {
		LogRegionSkipped(r.Code, err)
		return regionOutcome{skipped: &SkippedRegion{RegionID: r.ID, RegionCode: r.Code, Reason: err.Error()}}, nil
	}

	cands := ds.CandidatesIn(r.ID)
	if len(cands) == 0 {
		return skip(ErrNoCandidates)
	}
	if r.RegisteredVoters <= 0 {
		return skip(degenerate("registered voters is %d", r.RegisteredVoters))
	}

	supports := make([]float64, len(cands))
	for j, c := range cands {
		s, err := SupportPrior(history, c, len(cands))
		if errors.Is(err, ErrMissingData) {
			LogFallback(r.Code, "candidate "+c.Name)
		}
		supports[j] = s
	}

	src := regionSource(opts.Seed, idx)
	shares, err := SampleShares(ctx, Concentrations(supports, opts.ConcentrationDivisor, opts.ConcentrationFloor), opts.Samples, src)
	if err != nil {
		if errors.Is(err, ErrNumericalDegeneracy) || errors.Is(err, ErrInvalidSimplexSum) {
			return skip(err)
		}
		return regionOutcome{}, err
	}

	base, err := BaseTurnout(r, opts.DefaultTurnout)
	if errors.Is(err, ErrMissingData) {
		LogFallback(r.Code, "turnout")
	}
	turnout, err := SampleTurnout(ctx, base, opts.TurnoutSD, opts.TurnoutMin, opts.TurnoutMax, opts.Samples, src)
	if err != nil {
		return regionOutcome{}, err
	}

	lo, hi := opts.percentiles()
	return regionOutcome{forecasts: buildRegionRows(r, cands, shares, turnout, lo, hi)}, nil
}

// buildRegionRows summarizes per-candidate share draws and the region's
// turnout draws into output rows.
func buildRegionRows(r Region, cands []Candidate, shares [][]float64, turnout []float64, lo, hi float64) []RegionForecast {
	tIv := Summarize(turnout, lo, hi)
	rows := make([]RegionForecast, len(cands))
	for j, c := range cands {
		sIv := Summarize(shares[j], lo, hi)
		rows[j] = RegionForecast{
			RegionID:       r.ID,
			RegionCode:     r.Code,
			RegionName:     r.Name,
			CandidateID:    c.ID,
			CandidateName:  c.Name,
			Party:          c.Party,
			VoteShare:      sIv,
			PredictedVotes: PredictedVotes(sIv.Mean, tIv.Mean, r.RegisteredVoters),
			Turnout:        tIv,
		}
	}
	return rows
}

func historyByRegion(rows []HistoricalResult) map[uuid.UUID][]HistoricalResult {
	out := map[uuid.UUID][]HistoricalResult{}
	for _, h := range rows {
		out[h.RegionID] = append(out[h.RegionID], h)
	}
	return out
}
