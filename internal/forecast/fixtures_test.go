package forecast

import (
	"io"
	"log"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var testNS = uuid.MustParse("0b6f3c2e-5a61-4c7d-9e43-2f1a8d7b9c10")

func testID(name string) uuid.UUID { return uuid.NewSHA1(testNS, []byte(name)) }

func candidate(name, party string) Candidate {
	return Candidate{ID: testID("candidate:" + name), Name: name, Party: party, Position: "president"}
}

func result(region Region, name, party string, year int, votes, total int64) HistoricalResult {
	return HistoricalResult{
		RegionID:          region.ID,
		Year:              year,
		CandidateName:     name,
		Party:             party,
		Votes:             votes,
		TotalVotesCast:    total,
		RegisteredVoters:  region.RegisteredVoters,
		TurnoutPercentage: region.TurnoutHistory[year],
	}
}

// kisiiDataset is one region with three candidates whose historical shares are
// 14%, 56% and 30%, and 78% turnout in 2022.
func kisiiDataset() *Dataset {
	kisii := Region{
		ID:               testID("region:45"),
		Code:             "45",
		Name:             "Kisii",
		RegisteredVoters: 776109,
		UrbanFraction:    0.18,
		YouthFraction:    0.36,
		TurnoutHistory:   map[int]float64{2022: 78},
	}
	return &Dataset{
		ElectionYear: 2027,
		Position:     "president",
		Regions:      []Region{kisii},
		Candidates: []Candidate{
			candidate("Amina", "ODM"),
			candidate("Baraka", "UDA"),
			candidate("Chege", "WIPER"),
		},
		History: []HistoricalResult{
			result(kisii, "Amina", "ODM", 2022, 14000, 100000),
			result(kisii, "Baraka", "UDA", 2022, 56000, 100000),
			result(kisii, "Chege", "WIPER", 2022, 30000, 100000),
		},
	}
}

// multiRegionDataset has four regions with varied history, one region with no
// history at all, for both estimators.
func multiRegionDataset() *Dataset {
	ds := &Dataset{ElectionYear: 2027, Position: "president"}
	specs := []struct {
		code       string
		registered int64
		turnout    float64
		votes      [3]int64
	}{
		{"01", 500000, 72, [3]int64{120000, 200000, 40000}},
		{"02", 300000, 65, [3]int64{90000, 80000, 25000}},
		{"03", 800000, 81, [3]int64{150000, 400000, 98000}},
		{"04", 120000, 0, [3]int64{}},
	}
	ds.Candidates = []Candidate{candidate("Amina", "ODM"), candidate("Baraka", "UDA"), candidate("Chege", "WIPER")}
	for i, s := range specs {
		r := Region{
			ID:               testID("region:" + s.code),
			Code:             s.code,
			Name:             "Region " + s.code,
			RegisteredVoters: s.registered,
			UrbanFraction:    0.1 * float64(i+1),
			YouthFraction:    0.3,
			TurnoutHistory:   map[int]float64{},
		}
		if s.turnout > 0 {
			r.TurnoutHistory[2022] = s.turnout
			total := s.votes[0] + s.votes[1] + s.votes[2]
			for j, c := range ds.Candidates {
				ds.History = append(ds.History, result(r, c.Name, c.Party, 2022, s.votes[j], total))
			}
		}
		ds.Regions = append(ds.Regions, r)
		ds.Ethnicity = append(ds.Ethnicity,
			EthnicityAggregate{RegionID: r.ID, Group: "GroupA", Year: 2019, PopulationCount: 40000, PopulationShare: 0.6},
			EthnicityAggregate{RegionID: r.ID, Group: "GroupB", Year: 2019, PopulationCount: 25000, PopulationShare: 0.4},
		)
	}
	return ds
}

func testOptions() Options {
	o := DefaultOptions()
	o.Workers = 2
	o.Timeout = 0
	return o
}
