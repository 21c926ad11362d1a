package electiondata_test

import (
	"context"
	"testing"

	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedRegion writes one region with presidential and governor history under a
// fresh namespace and removes it afterwards.
func seedRegion(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}
	ns := uuid.New()
	code := "t" + ns.String()[:8]
	region := electiondata.Region{
		ID:               electiondata.RegionID(ns, code),
		Code:             code,
		Name:             "Test " + code,
		RegisteredVoters: 776109,
	}
	require.NoError(t, testDB.Create(&region).Error)

	var results []electiondata.HistoricalResult
	for _, h := range []struct {
		year     int
		position string
		name     string
	}{
		{2017, "president", "Amina"},
		{2022, "President", "Amina"},
		{2022, "governor", "Chege"},
		{2027, "president", "Amina"},
	} {
		results = append(results, electiondata.HistoricalResult{
			ID:                electiondata.ResultID(ns, code, h.year, h.position, h.name, "ODM"),
			RegionID:          region.ID,
			Year:              h.year,
			Position:          h.position,
			CandidateName:     h.name,
			Party:             "ODM",
			Votes:             1000,
			TotalVotesCast:    2000,
			TurnoutPercentage: 70,
		})
	}
	require.NoError(t, testDB.Create(&results).Error)

	aggs := []electiondata.EthnicityAggregate{
		{ID: electiondata.EthnicityID(ns, code, "GroupA", 2019), RegionID: region.ID, Group: "GroupA", Year: 2019, PopulationCount: 500, PopulationShare: 0.6},
		{ID: electiondata.EthnicityID(ns, code, "GroupA", 2029), RegionID: region.ID, Group: "GroupA", Year: 2029, PopulationCount: 500, PopulationShare: 0.7},
	}
	require.NoError(t, testDB.Create(&aggs).Error)

	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM elections.ethnicity_aggregates WHERE region_id = ?`, region.ID)
		testDB.Exec(`DELETE FROM elections.historical_results WHERE region_id = ?`, region.ID)
		testDB.Exec(`DELETE FROM elections.regions WHERE id = ?`, region.ID)
	})
	return ns, region.ID
}

func TestGormRepository_HistoricalResults(t *testing.T) {
	_, regionID := seedRegion(t)
	repo := electiondata.NewGormRepository(testDB)

	rows, err := repo.HistoricalResults(context.Background(), 2027, "PRESIDENT")
	require.NoError(t, err)

	var years []int
	for _, r := range rows {
		if r.RegionID == regionID {
			years = append(years, r.Year)
			assert.Equal(t, "Amina", r.CandidateName, "governor rows are filtered out")
		}
	}
	assert.Equal(t, []int{2017, 2022}, years, "strictly before the target year, oldest first")

	rows, err = repo.HistoricalResults(context.Background(), 2027, "")
	require.NoError(t, err)
	var all int
	for _, r := range rows {
		if r.RegionID == regionID {
			all++
		}
	}
	assert.Equal(t, 3, all, "an empty position matches every race")
}

func TestGormRepository_EthnicityAggregates(t *testing.T) {
	_, regionID := seedRegion(t)
	repo := electiondata.NewGormRepository(testDB)

	aggs, err := repo.EthnicityAggregates(context.Background(), 2027)
	require.NoError(t, err)
	var mine []electiondata.EthnicityAggregate
	for _, a := range aggs {
		if a.RegionID == regionID {
			mine = append(mine, a)
		}
	}
	require.Len(t, mine, 1)
	assert.Equal(t, 2019, mine[0].Year)
	assert.Equal(t, "GroupA", mine[0].Group)
}

func TestGormRepository_Candidates(t *testing.T) {
	ns, regionID := seedRegion(t)
	repo := electiondata.NewGormRepository(testDB)
	year := 6000 + int(regionID[0])

	cands := []electiondata.Candidate{
		{ID: electiondata.CandidateID(ns, year, "president", "Amina", "ODM"), ElectionYear: year, Position: "president", Name: "Amina", Party: "ODM"},
		{ID: electiondata.CandidateID(ns, year, "governor", "Chege", "WIPER"), ElectionYear: year, Position: "Governor", Name: "Chege", Party: "WIPER", RegionID: &regionID},
	}
	require.NoError(t, testDB.Create(&cands).Error)
	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM elections.candidates WHERE id IN ?`, []uuid.UUID{cands[0].ID, cands[1].ID})
	})

	gov, err := repo.Candidates(context.Background(), year, "governor")
	require.NoError(t, err)
	var found bool
	for _, c := range gov {
		assert.NotEqual(t, cands[0].ID, c.ID, "president is filtered out")
		if c.ID == cands[1].ID {
			found = true
			require.NotNil(t, c.RegionID)
			assert.Equal(t, regionID, *c.RegionID)
		}
	}
	assert.True(t, found)

	regions, err := repo.Regions(context.Background())
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, r := range regions {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, regionID)
}
