package runs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same lifecycle rules as GormStore.
type memStore struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*ForecastRun
	regions  map[uuid.UUID][]RegionForecast
	national map[uuid.UUID][]NationalResult
}

func newMemStore() *memStore {
	return &memStore{
		runs:     map[uuid.UUID]*ForecastRun{},
		regions:  map[uuid.UUID][]RegionForecast{},
		national: map[uuid.UUID][]NationalResult{},
	}
}

func (m *memStore) Begin(_ context.Context, run *ForecastRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) finish(res *forecast.Result, status forecast.Status) error {
	run, ok := m.runs[res.RunID]
	if !ok {
		return ErrNotFound
	}
	if run.Status != string(forecast.StatusRunning) {
		return ErrRunImmutable
	}
	if _, err := finalColumns(res); err != nil {
		return err
	}
	finished := res.FinishedAt
	run.Status = string(status)
	run.Reason = res.Reason
	run.SkippedRegions = skippedStrings(res.Skipped)
	run.Warnings = nonNil(res.Warnings)
	run.FinishedAt = &finished
	if res.Model != "" {
		run.ModelName, run.ModelVersion = res.Model, res.ModelVersion
	}
	return nil
}

func (m *memStore) Complete(_ context.Context, res *forecast.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.finish(res, forecast.StatusCompleted); err != nil {
		return err
	}
	m.regions[res.RunID] = regionRows(res)
	m.national[res.RunID] = nationalRows(res)
	return nil
}

func (m *memStore) Fail(_ context.Context, res *forecast.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finish(res, forecast.StatusFailed)
}

func (m *memStore) sorted() []ForecastRun {
	var out []ForecastRun
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunTimestamp.After(out[j].RunTimestamp) })
	return out
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]ForecastRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ForecastRun
	for _, r := range m.sorted() {
		if f.Year != 0 && r.ElectionYear != f.Year {
			continue
		}
		if f.Status != "" && r.Status != strings.ToLower(f.Status) {
			continue
		}
		out = append(out, r)
	}
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*ForecastRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) Latest(_ context.Context, year int) (*ForecastRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.sorted() {
		if r.Status == string(forecast.StatusCompleted) && (year == 0 || r.ElectionYear == year) {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) Regions(_ context.Context, id uuid.UUID, code string) ([]RegionForecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RegionForecast
	for _, f := range m.regions[id] {
		if code == "" || strings.EqualFold(f.RegionCode, code) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) Summary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	run, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	for _, f := range m.regions[id] {
		seen[f.RegionID] = true
	}
	national := append([]NationalResult(nil), m.national[id]...)
	return summarize(*run, national, len(seen)), nil
}

func (m *memStore) LatestForRegion(ctx context.Context, code string) (*RegionLatest, error) {
	m.mu.Lock()
	runs := m.sorted()
	m.mu.Unlock()
	for _, r := range runs {
		if r.Status != string(forecast.StatusCompleted) {
			continue
		}
		rows, _ := m.Regions(ctx, r.ID, code)
		if len(rows) > 0 {
			return &RegionLatest{Run: r, Forecasts: rows}, nil
		}
	}
	return nil, ErrNotFound
}
