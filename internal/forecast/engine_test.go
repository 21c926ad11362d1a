package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_KisiiScenario(t *testing.T) {
	ds := kisiiDataset()
	res, err := Run(context.Background(), ds, testOptions())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Regions, 3)
	assert.Equal(t, "DirichletMultiCandidate", res.Model)

	byName := map[string]RegionForecast{}
	for _, f := range res.Regions {
		byName[f.CandidateName] = f
	}

	amina := byName["Amina"]
	assert.InDelta(t, 14, amina.VoteShare.Mean, 1.5)
	assert.Less(t, amina.VoteShare.Lower, 10.0)
	assert.Greater(t, amina.VoteShare.Upper, 14.0)

	baraka := byName["Baraka"]
	assert.InDelta(t, 56, baraka.VoteShare.Mean, 1.5)

	assert.InDelta(t, 78, amina.Turnout.Mean, 0.5)
	assert.GreaterOrEqual(t, amina.Turnout.Lower, 40.0)
	assert.LessOrEqual(t, amina.Turnout.Upper, 95.0)

	for _, f := range res.Regions {
		want := PredictedVotes(f.VoteShare.Mean, f.Turnout.Mean, 776109)
		assert.Equal(t, want, f.PredictedVotes)
	}
}

func TestRun_SimplexInvariantPerRegion(t *testing.T) {
	res, err := Run(context.Background(), multiRegionDataset(), testOptions())
	require.NoError(t, err)

	sums := map[string]float64{}
	rounded := map[string]float64{}
	for _, f := range res.Regions {
		sums[f.RegionCode] += f.VoteShare.Mean
		rounded[f.RegionCode] += f.VoteShare.Rounded().Mean
	}
	require.Len(t, sums, 4)
	for code, s := range sums {
		assert.InDelta(t, 100, s, 1e-6, "region %s", code)
		assert.InDelta(t, 100, rounded[code], 0.1, "region %s", code)
	}
}

func TestRun_IntervalContainment(t *testing.T) {
	res, err := Run(context.Background(), multiRegionDataset(), testOptions())
	require.NoError(t, err)
	for _, f := range res.Regions {
		assert.LessOrEqual(t, f.VoteShare.Lower, f.VoteShare.Mean)
		assert.LessOrEqual(t, f.VoteShare.Mean, f.VoteShare.Upper)
		assert.LessOrEqual(t, f.Turnout.Lower, f.Turnout.Mean)
		assert.LessOrEqual(t, f.Turnout.Mean, f.Turnout.Upper)
	}
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	opts := testOptions()
	opts.Workers = 1
	a, err := Run(context.Background(), multiRegionDataset(), opts)
	require.NoError(t, err)

	opts.Workers = 8
	b, err := Run(context.Background(), multiRegionDataset(), opts)
	require.NoError(t, err)

	assert.Equal(t, a.Regions, b.Regions)
	assert.Equal(t, a.National, b.National)

	opts.Seed = 7
	c, err := Run(context.Background(), multiRegionDataset(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Regions, c.Regions)
}

func TestRun_NoHistoryFallsBack(t *testing.T) {
	res, err := Run(context.Background(), multiRegionDataset(), testOptions())
	require.NoError(t, err)

	var n int
	for _, f := range res.Regions {
		if f.RegionCode != "04" {
			continue
		}
		n++
		assert.InDelta(t, 100.0/3, f.VoteShare.Mean, 1.5)
		assert.InDelta(t, 65, f.Turnout.Mean, 0.5)
	}
	assert.Equal(t, 3, n, "regions without history must still be forecast")
}

func TestRun_SkipsDegenerateRegion(t *testing.T) {
	ds := multiRegionDataset()
	ds.Regions[1].RegisteredVoters = 0

	res, err := Run(context.Background(), ds, testOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "02", res.Skipped[0].RegionCode)
	assert.Contains(t, res.Skipped[0].Reason, "numerical degeneracy")
	assert.Len(t, res.Regions, 9)
}

func TestRun_DegenerateConcentrationsSkipRegion(t *testing.T) {
	ds := multiRegionDataset()
	opts := testOptions()
	opts.ConcentrationFloor = 0
	// Supports of 0 with no floor leave every alpha at 0.
	for i := range ds.History {
		ds.History[i].Votes = 0
	}

	res, err := Run(context.Background(), ds, opts)
	require.NoError(t, err)
	assert.Len(t, res.Skipped, 3)
	assert.Len(t, res.Regions, 3, "only the region using the uniform prior survives")
}

func TestRun_FailsWithoutCandidates(t *testing.T) {
	ds := multiRegionDataset()
	ds.Candidates = nil

	res, err := Run(context.Background(), ds, testOptions())
	require.ErrorIs(t, err, ErrNoCandidates)
	assert.Equal(t, StatusFailed, res.Status)
	assert.NotEmpty(t, res.Reason)
}

func TestRun_FailsWhenEveryRegionSkipped(t *testing.T) {
	ds := multiRegionDataset()
	for i := range ds.Regions {
		ds.Regions[i].RegisteredVoters = -1
	}

	res, err := Run(context.Background(), ds, testOptions())
	require.ErrorIs(t, err, ErrNoForecasts)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Regions)
	assert.Len(t, res.Skipped, 4)
}

func TestRun_RegionalCandidates(t *testing.T) {
	ds := multiRegionDataset()
	gov := candidate("Governor One", "ODM")
	gov.Position = "governor"
	gov.RegionID = &ds.Regions[0].ID
	ds.Candidates = []Candidate{gov}

	res, err := Run(context.Background(), ds, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, 100.0, res.Regions[0].VoteShare.Mean)
	assert.Len(t, res.Skipped, 3)
}

func TestRun_DeadlineFailsRun(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res, err := Run(ctx, multiRegionDataset(), testOptions())
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Regions)
}

func TestRun_InvalidOptions(t *testing.T) {
	opts := testOptions()
	opts.Confidence = 1.5
	res, err := Run(context.Background(), multiRegionDataset(), opts)
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestRun_ConfidenceWidensInterval(t *testing.T) {
	narrow := testOptions()
	narrow.Confidence = 0.5
	a, err := Run(context.Background(), kisiiDataset(), narrow)
	require.NoError(t, err)

	b, err := Run(context.Background(), kisiiDataset(), testOptions())
	require.NoError(t, err)

	for i := range a.Regions {
		wa := a.Regions[i].VoteShare.Upper - a.Regions[i].VoteShare.Lower
		wb := b.Regions[i].VoteShare.Upper - b.Regions[i].VoteShare.Lower
		assert.Less(t, wa, wb)
	}
}

func TestPredictedVotes(t *testing.T) {
	assert.Equal(t, int64(1), PredictedVotes(50, 50, 3))
	assert.Equal(t, int64(0), PredictedVotes(50, 50, 1))
	assert.Equal(t, int64(84773), PredictedVotes(14, 78, 776309))
	assert.Equal(t, int64(0), PredictedVotes(-1, 50, 100))
}

func TestNationalRollup(t *testing.T) {
	a, b, c := uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
		uuid.MustParse("00000000-0000-0000-0000-00000000000b"),
		uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	rows := []RegionForecast{
		{RegionCode: "01", CandidateID: b, CandidateName: "B", PredictedVotes: 200},
		{RegionCode: "01", CandidateID: a, CandidateName: "A", PredictedVotes: 400},
		{RegionCode: "02", CandidateID: b, CandidateName: "B", PredictedVotes: 100},
		{RegionCode: "02", CandidateID: a, CandidateName: "A", PredictedVotes: 200},
		{RegionCode: "02", CandidateID: c, CandidateName: "C", PredictedVotes: 100},
	}

	sum := NationalRollup(rows)
	require.Len(t, sum.Candidates, 3)
	assert.Equal(t, int64(1000), sum.TotalVotes)
	assert.Equal(t, "A", sum.Winner.CandidateName)
	assert.Equal(t, int64(600), sum.Winner.PredictedVotes)
	assert.InDelta(t, 60, sum.Winner.VoteShare, 1e-9)
	assert.InDelta(t, 30, sum.MarginPercentage, 1e-9)
	assert.Equal(t, "B", sum.Candidates[1].CandidateName)
	assert.Equal(t, "C", sum.Candidates[2].CandidateName)
}

func TestNationalRollup_TieGoesToLowestID(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	rows := []RegionForecast{
		{CandidateID: high, CandidateName: "High", PredictedVotes: 500},
		{CandidateID: low, CandidateName: "Low", PredictedVotes: 500},
	}

	for i := 0; i < 5; i++ {
		sum := NationalRollup(rows)
		assert.Equal(t, low, sum.Winner.CandidateID)
		assert.Equal(t, 0.0, sum.MarginPercentage)
		rows[0], rows[1] = rows[1], rows[0]
	}
}

func TestNationalRollup_Empty(t *testing.T) {
	sum := NationalRollup(nil)
	assert.Nil(t, sum.Winner)
	assert.Zero(t, sum.TotalVotes)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := []func(*Options){
		func(o *Options) { o.Model = "neural" },
		func(o *Options) { o.Samples = 0 },
		func(o *Options) { o.Confidence = 0 },
		func(o *Options) { o.Confidence = 1 },
		func(o *Options) { o.TurnoutMin, o.TurnoutMax = 90, 40 },
		func(o *Options) { o.TurnoutMax = 101 },
		func(o *Options) { o.ConcentrationDivisor = 0 },
		func(o *Options) { o.Model = ModelHierarchical; o.Chains = 1 },
	}
	for i, mutate := range bad {
		o := DefaultOptions()
		mutate(&o)
		assert.Error(t, o.Validate(), "case %d", i)
	}
}

func TestErrorsWrap(t *testing.T) {
	err := error(&RegionError{RegionCode: "01", Err: degenerate("bad")})
	assert.True(t, errors.Is(err, ErrNumericalDegeneracy))
	assert.Contains(t, err.Error(), "region 01")
}
