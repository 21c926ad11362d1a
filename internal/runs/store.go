package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("forecast run not found")
	ErrRunImmutable = errors.New("forecast run is already finished")
)

// ListFilter narrows GET /runs. Zero values mean no filter.
type ListFilter struct {
	Year   int    `schema:"year"`
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}

// Store persists runs and serves them back.
type Store interface {
	Begin(ctx context.Context, run *ForecastRun) error
	Complete(ctx context.Context, res *forecast.Result) error
	Fail(ctx context.Context, res *forecast.Result) error

	List(ctx context.Context, f ListFilter) ([]ForecastRun, error)
	Get(ctx context.Context, id uuid.UUID) (*ForecastRun, error)
	Latest(ctx context.Context, year int) (*ForecastRun, error)
	Regions(ctx context.Context, id uuid.UUID, regionCode string) ([]RegionForecast, error)
	Summary(ctx context.Context, id uuid.UUID) (*Summary, error)
	LatestForRegion(ctx context.Context, regionCode string) (*RegionLatest, error)
}

// GormStore is the Postgres-backed Store.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(d *gorm.DB) *GormStore {
	return &GormStore{DB: d}
}

func (s *GormStore) Begin(ctx context.Context, run *ForecastRun) error {
	run.Status = string(forecast.StatusRunning)
	return s.DB.WithContext(ctx).Create(run).Error
}

// Complete writes every region and national row and flips the run to
// completed in one transaction.
func (s *GormStore) Complete(ctx context.Context, res *forecast.Result) error {
	if res.Status != forecast.StatusCompleted {
		return fmt.Errorf("complete run %s: status is %s", res.RunID, res.Status)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRunning(tx, res.RunID); err != nil {
			return err
		}
		if rows := regionRows(res); len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("insert region forecasts: %w", err)
			}
		}
		if rows := nationalRows(res); len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert national results: %w", err)
			}
		}
		cols, err := finalColumns(res)
		if err != nil {
			return err
		}
		return tx.Model(&ForecastRun{}).Where("id = ?", res.RunID).Updates(cols).Error
	})
}

// Fail records a failed run. No forecast rows are written.
func (s *GormStore) Fail(ctx context.Context, res *forecast.Result) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRunning(tx, res.RunID); err != nil {
			return err
		}
		cols, err := finalColumns(res)
		if err != nil {
			return err
		}
		cols["status"] = string(forecast.StatusFailed)
		return tx.Model(&ForecastRun{}).Where("id = ?", res.RunID).Updates(cols).Error
	})
}

func lockRunning(tx *gorm.DB, id uuid.UUID) error {
	var run ForecastRun
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if run.Status != string(forecast.StatusRunning) {
		return fmt.Errorf("%w: %s is %s", ErrRunImmutable, id, run.Status)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, f ListFilter) ([]ForecastRun, error) {
	q := s.DB.WithContext(ctx).Model(&ForecastRun{})
	if f.Year != 0 {
		q = q.Where("election_year = ?", f.Year)
	}
	if f.Status != "" {
		q = q.Where("status = ?", strings.ToLower(f.Status))
	}
	var out []ForecastRun
	err := q.Order("run_timestamp DESC").Limit(f.limit()).Find(&out).Error
	return out, err
}

func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*ForecastRun, error) {
	var run ForecastRun
	err := s.DB.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Latest returns the most recent completed run, optionally for one year.
func (s *GormStore) Latest(ctx context.Context, year int) (*ForecastRun, error) {
	q := s.DB.WithContext(ctx).Where("status = ?", string(forecast.StatusCompleted))
	if year != 0 {
		q = q.Where("election_year = ?", year)
	}
	var run ForecastRun
	err := q.Order("run_timestamp DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *GormStore) Regions(ctx context.Context, id uuid.UUID, regionCode string) ([]RegionForecast, error) {
	q := s.DB.WithContext(ctx).Where("run_id = ?", id)
	if regionCode != "" {
		q = q.Where("LOWER(region_code) = ?", strings.ToLower(regionCode))
	}
	var out []RegionForecast
	err := q.Order("region_code ASC, predicted_vote_share DESC").Find(&out).Error
	return out, err
}

func (s *GormStore) Summary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var national []NationalResult
	if err := s.DB.WithContext(ctx).Where("run_id = ?", id).Order("rank ASC").Find(&national).Error; err != nil {
		return nil, err
	}
	var regions int64
	err = s.DB.WithContext(ctx).Model(&RegionForecast{}).
		Where("run_id = ?", id).
		Distinct("region_id").
		Count(&regions).Error
	if err != nil {
		return nil, err
	}
	return summarize(*run, national, int(regions)), nil
}

// LatestForRegion returns the newest completed run that forecast regionCode.
func (s *GormStore) LatestForRegion(ctx context.Context, regionCode string) (*RegionLatest, error) {
	code := strings.ToLower(regionCode)
	sub := s.DB.Model(&RegionForecast{}).Select("run_id").Where("LOWER(region_code) = ?", code)

	var run ForecastRun
	err := s.DB.WithContext(ctx).
		Where("status = ?", string(forecast.StatusCompleted)).
		Where("id IN (?)", sub).
		Order("run_timestamp DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.Regions(ctx, run.ID, regionCode)
	if err != nil {
		return nil, err
	}
	return &RegionLatest{Run: run, Forecasts: rows}, nil
}

// newRun is the running row inserted before estimation starts.
func newRun(id uuid.UUID, year int, position string, opts forecast.Options, now time.Time) (*ForecastRun, error) {
	est, err := forecast.NewEstimator(opts.Model)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	// History is strictly before the election year.
	cutoff := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &ForecastRun{
		ID:             id,
		ElectionYear:   year,
		Position:       position,
		ModelName:      est.Name(),
		ModelVersion:   est.Version(),
		RunTimestamp:   now.UTC(),
		Parameters:     string(params),
		DataCutoffDate: &cutoff,
		Status:         string(forecast.StatusRunning),
		SkippedRegions: pq.StringArray{},
		Warnings:       pq.StringArray{},
		Samples:        opts.Samples,
		Confidence:     opts.Confidence,
	}, nil
}

// finalColumns are the run columns known once estimation has ended.
func finalColumns(res *forecast.Result) (map[string]any, error) {
	cols := map[string]any{
		"status":          string(res.Status),
		"reason":          res.Reason,
		"skipped_regions": skippedStrings(res.Skipped),
		"warnings":        pq.StringArray(nonNil(res.Warnings)),
		"finished_at":     res.FinishedAt,
	}
	if res.Model != "" {
		cols["model_name"] = res.Model
		cols["model_version"] = res.ModelVersion
	}
	if res.Diagnostics != nil {
		raw, err := json.Marshal(res.Diagnostics)
		if err != nil {
			return nil, fmt.Errorf("encode diagnostics: %w", err)
		}
		cols["diagnostics"] = string(raw)
	}
	return cols, nil
}

func skippedStrings(skipped []forecast.SkippedRegion) pq.StringArray {
	out := pq.StringArray{}
	for _, s := range skipped {
		out = append(out, s.RegionCode+": "+s.Reason)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func regionRows(res *forecast.Result) []RegionForecast {
	out := make([]RegionForecast, 0, len(res.Regions))
	for _, f := range res.Regions {
		share, turnout := f.VoteShare.Rounded(), f.Turnout.Rounded()
		out = append(out, RegionForecast{
			RunID:              res.RunID,
			RegionID:           f.RegionID,
			CandidateID:        f.CandidateID,
			RegionCode:         f.RegionCode,
			RegionName:         f.RegionName,
			CandidateName:      f.CandidateName,
			Party:              f.Party,
			PredictedVoteShare: share.Mean,
			LowerBound:         share.Lower,
			UpperBound:         share.Upper,
			PredictedVotes:     f.PredictedVotes,
			PredictedTurnout:   turnout.Mean,
			TurnoutLower:       turnout.Lower,
			TurnoutUpper:       turnout.Upper,
		})
	}
	return out
}

func nationalRows(res *forecast.Result) []NationalResult {
	out := make([]NationalResult, 0, len(res.National.Candidates))
	for i, c := range res.National.Candidates {
		out = append(out, NationalResult{
			RunID:          res.RunID,
			CandidateID:    c.CandidateID,
			Rank:           i + 1,
			CandidateName:  c.CandidateName,
			Party:          c.Party,
			PredictedVotes: c.PredictedVotes,
			VoteShare:      forecast.Round2(c.VoteShare),
			IsWinner:       res.National.Winner != nil && res.National.Winner.CandidateID == c.CandidateID,
		})
	}
	return out
}

// summarize rebuilds the national view from stored rows.
func summarize(run ForecastRun, national []NationalResult, regions int) *Summary {
	sort.SliceStable(national, func(i, j int) bool { return national[i].Rank < national[j].Rank })
	s := &Summary{Run: run, Candidates: national, Regions: regions}
	for _, n := range national {
		s.TotalVotes += n.PredictedVotes
	}
	for i := range national {
		if national[i].IsWinner {
			s.Winner = &national[i]
		}
	}
	if len(national) > 1 && s.TotalVotes > 0 {
		s.MarginPercentage = forecast.Round2(float64(national[0].PredictedVotes-national[1].PredictedVotes) / float64(s.TotalVotes) * 100)
	}
	return s
}
