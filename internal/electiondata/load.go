package electiondata

import (
	"context"
	"fmt"
	"log"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/google/uuid"
)

// Load assembles the forecast input for one election from repo. String
// identities are resolved to IDs here; the estimators only see typed keys.
//
// Aggregates below minAggregateSize are dropped and logged. Load fails with
// forecast.ErrMissingData when there is no history before year at all.
func Load(ctx context.Context, repo Repository, year int, position string, minAggregateSize int64) (*forecast.Dataset, error) {
	regions, err := repo.Regions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	candidates, err := repo.Candidates(ctx, year, position)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	results, err := repo.HistoricalResults(ctx, year, position)
	if err != nil {
		return nil, fmt.Errorf("load historical results: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no historical results before %d", forecast.ErrMissingData, year)
	}
	aggs, err := repo.EthnicityAggregates(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("load ethnicity aggregates: %w", err)
	}

	ds := &forecast.Dataset{ElectionYear: year, Position: position}

	turnout := turnoutHistory(results)
	for _, r := range regions {
		ds.Regions = append(ds.Regions, forecast.Region{
			ID:               r.ID,
			Code:             r.Code,
			Name:             r.Name,
			RegisteredVoters: r.RegisteredVoters,
			UrbanFraction:    r.UrbanFraction,
			YouthFraction:    r.YouthFraction,
			TurnoutHistory:   turnout[r.ID],
		})
	}

	for _, c := range candidates {
		ds.Candidates = append(ds.Candidates, forecast.Candidate{
			ID:       c.ID,
			Name:     c.Name,
			Party:    c.Party,
			Position: c.Position,
			RegionID: c.RegionID,
		})
	}

	for _, h := range results {
		ds.History = append(ds.History, forecast.HistoricalResult{
			RegionID:          h.RegionID,
			CandidateID:       h.CandidateID,
			Year:              h.Year,
			CandidateName:     h.CandidateName,
			Party:             h.Party,
			Votes:             h.Votes,
			TotalVotesCast:    h.TotalVotesCast,
			RegisteredVoters:  h.RegisteredVoters,
			TurnoutPercentage: h.TurnoutPercentage,
		})
	}

	// Shares are stored as fractions. A table holding any share above 1 was
	// written as percentages and is scaled as a whole.
	shareScale := 1.0
	for _, a := range aggs {
		if a.PopulationShare > 1 {
			shareScale = 100
			break
		}
	}

	var dropped int
	for _, a := range aggs {
		if a.PopulationCount < minAggregateSize {
			dropped++
			continue
		}
		ds.Ethnicity = append(ds.Ethnicity, forecast.EthnicityAggregate{
			RegionID:        a.RegionID,
			Group:           a.Group,
			Year:            a.Year,
			PopulationCount: a.PopulationCount,
			PopulationShare: a.PopulationShare / shareScale,
		})
	}
	if dropped > 0 {
		log.Printf("[electiondata] dropped %d ethnicity aggregates below minimum size %d", dropped, minAggregateSize)
	}

	log.Printf("[electiondata] loaded year=%d position=%q regions=%d candidates=%d results=%d aggregates=%d",
		year, position, len(ds.Regions), len(ds.Candidates), len(ds.History), len(ds.Ethnicity))
	return ds, nil
}

// turnoutHistory derives observed turnout per region and year. A row's stated
// turnout wins; otherwise it is total votes over registered voters.
func turnoutHistory(results []HistoricalResult) map[uuid.UUID]map[int]float64 {
	out := map[uuid.UUID]map[int]float64{}
	for _, h := range results {
		t := h.TurnoutPercentage
		if t <= 0 && h.RegisteredVoters > 0 {
			t = float64(h.TotalVotesCast) / float64(h.RegisteredVoters) * 100
		}
		if t <= 0 {
			continue
		}
		if out[h.RegionID] == nil {
			out[h.RegionID] = map[int]float64{}
		}
		if t > out[h.RegionID][h.Year] {
			out[h.RegionID][h.Year] = t
		}
	}
	return out
}
