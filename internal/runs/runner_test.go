package runs

import (
	"context"
	"testing"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBundle is a two-region presidential race with 2022 history.
func testBundle() *electiondata.Bundle {
	ns := electiondata.DefaultNamespace
	kisii, nairobi := electiondata.RegionID(ns, "45"), electiondata.RegionID(ns, "47")
	b := &electiondata.Bundle{
		Regions: []electiondata.Region{
			{ID: kisii, Code: "45", Name: "Kisii", RegisteredVoters: 776109},
			{ID: nairobi, Code: "47", Name: "Nairobi", RegisteredVoters: 2415310},
		},
	}
	for _, c := range []struct{ name, party string }{{"Amina", "ODM"}, {"Baraka", "UDA"}} {
		b.Candidates = append(b.Candidates, electiondata.Candidate{
			ID:           electiondata.CandidateID(ns, 2027, "president", c.name, c.party),
			ElectionYear: 2027,
			Position:     "president",
			Name:         c.name,
			Party:        c.party,
		})
	}
	for _, h := range []struct {
		region       string
		name, party  string
		votes, total int64
	}{
		{"45", "Amina", "ODM", 30000, 100000},
		{"45", "Baraka", "UDA", 70000, 100000},
		{"47", "Amina", "ODM", 900000, 1500000},
		{"47", "Baraka", "UDA", 600000, 1500000},
	} {
		b.Results = append(b.Results, electiondata.HistoricalResult{
			RegionID:          electiondata.RegionID(ns, h.region),
			Year:              2022,
			Position:          "president",
			CandidateName:     h.name,
			Party:             h.party,
			Votes:             h.votes,
			TotalVotesCast:    h.total,
			TurnoutPercentage: 70,
		})
	}
	return b
}

func testRunner(store Store) *Runner {
	opts := forecast.DefaultOptions()
	opts.Samples = 300
	opts.Workers = 2
	opts.Timeout = 0
	return &Runner{
		Store:   store,
		Repo:    &electiondata.BundleRepository{Bundle: testBundle()},
		Options: opts,
	}
}

func TestRunner_Execute(t *testing.T) {
	store := newMemStore()
	rn := testRunner(store)

	res, err := rn.Execute(context.Background(), Request{ElectionYear: 2027})
	require.NoError(t, err)
	assert.Equal(t, forecast.StatusCompleted, res.Status)
	assert.Len(t, res.Regions, 4)

	run, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(forecast.StatusCompleted), run.Status)
	assert.Equal(t, "president", run.Position)
	assert.Equal(t, "DirichletMultiCandidate", run.ModelName)
	assert.Equal(t, 300, run.Samples)
	require.NotNil(t, run.FinishedAt)

	rows, err := store.Regions(context.Background(), res.RunID, "45")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.LessOrEqual(t, r.LowerBound, r.PredictedVoteShare)
		assert.LessOrEqual(t, r.PredictedVoteShare, r.UpperBound)
		assert.Equal(t, forecast.Round2(r.PredictedVoteShare), r.PredictedVoteShare)
	}

	err = store.Complete(context.Background(), res)
	assert.ErrorIs(t, err, ErrRunImmutable, "completed runs cannot be rewritten")
}

func TestRunner_Execute_Deterministic(t *testing.T) {
	store := newMemStore()
	rn := testRunner(store)
	seed := uint64(7)

	a, err := rn.Execute(context.Background(), Request{ElectionYear: 2027, Seed: &seed})
	require.NoError(t, err)
	b, err := rn.Execute(context.Background(), Request{ElectionYear: 2027, Seed: &seed})
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Regions, b.Regions)
	assert.Equal(t, a.National, b.National)
}

func TestRunner_Execute_MissingHistoryFails(t *testing.T) {
	store := newMemStore()
	rn := testRunner(store)

	res, err := rn.Execute(context.Background(), Request{ElectionYear: 2020})
	require.Error(t, err)
	assert.ErrorIs(t, err, forecast.ErrMissingData)
	require.NotNil(t, res)
	assert.Equal(t, forecast.StatusFailed, res.Status)

	run, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(forecast.StatusFailed), run.Status)
	assert.Contains(t, run.Reason, "no historical results")

	rows, _ := store.Regions(context.Background(), res.RunID, "")
	assert.Empty(t, rows, "failed runs have no region rows")
}

func TestRunner_InvalidRequest(t *testing.T) {
	rn := testRunner(newMemStore())

	_, err := rn.Execute(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = rn.Execute(context.Background(), Request{ElectionYear: 2027, Model: "neural"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = rn.Execute(context.Background(), Request{ElectionYear: 2027, Confidence: 2})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunner_Start(t *testing.T) {
	store := newMemStore()
	rn := testRunner(store)

	run, err := rn.Start(Request{ElectionYear: 2027})
	require.NoError(t, err)
	assert.Equal(t, string(forecast.StatusRunning), run.Status)

	rn.Wait()
	got, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(forecast.StatusCompleted), got.Status)
}

func TestScheduler_RepeatsLatestRun(t *testing.T) {
	store := newMemStore()
	rn := testRunner(store)
	s, err := NewScheduler("@every 1h", rn)
	require.NoError(t, err)

	s.tick()
	runs, _ := store.List(context.Background(), ListFilter{})
	assert.Empty(t, runs, "nothing to repeat yet")

	first, err := rn.Execute(context.Background(), Request{ElectionYear: 2027, Samples: 200})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	s.tick()
	runs, _ = store.List(context.Background(), ListFilter{})
	require.Len(t, runs, 2)
	assert.NotEqual(t, first.RunID, runs[0].ID)
	assert.Equal(t, 2027, runs[0].ElectionYear)
	assert.Equal(t, 200, runs[0].Samples, "parameters are carried over")
}

func TestSummarize(t *testing.T) {
	national := []NationalResult{
		{CandidateName: "Amina", Rank: 2, PredictedVotes: 400},
		{CandidateName: "Baraka", Rank: 1, PredictedVotes: 600, IsWinner: true},
	}
	s := summarize(ForecastRun{}, national, 3)

	assert.Equal(t, int64(1000), s.TotalVotes)
	require.NotNil(t, s.Winner)
	assert.Equal(t, "Baraka", s.Winner.CandidateName)
	assert.Equal(t, "Baraka", s.Candidates[0].CandidateName)
	assert.Equal(t, 20.0, s.MarginPercentage)
	assert.Equal(t, 3, s.Regions)
}
