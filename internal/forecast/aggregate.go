package forecast

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// PredictedVotes is round(share/100 * turnout/100 * registered).
func PredictedVotes(share, turnout float64, registered int64) int64 {
	v := math.Round(share / 100 * turnout / 100 * float64(registered))
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return int64(v)
}

// NationalRollup sums predicted votes per candidate across regions. Candidates
// are ranked by total votes; exact ties go to the lower candidate ID. Margin is
// (first - second) / total votes, in percent.
func NationalRollup(forecasts []RegionForecast) NationalSummary {
	byID := map[uuid.UUID]*CandidateTotal{}
	var order []uuid.UUID
	var total int64
	for _, f := range forecasts {
		ct, ok := byID[f.CandidateID]
		if !ok {
			ct = &CandidateTotal{
				CandidateID:   f.CandidateID,
				CandidateName: f.CandidateName,
				Party:         f.Party,
			}
			byID[f.CandidateID] = ct
			order = append(order, f.CandidateID)
		}
		ct.PredictedVotes += f.PredictedVotes
		total += f.PredictedVotes
	}

	out := NationalSummary{TotalVotes: total}
	for _, id := range order {
		ct := *byID[id]
		if total > 0 {
			ct.VoteShare = float64(ct.PredictedVotes) / float64(total) * 100
		}
		out.Candidates = append(out.Candidates, ct)
	}
	sort.Slice(out.Candidates, func(i, j int) bool {
		a, b := out.Candidates[i], out.Candidates[j]
		if a.PredictedVotes != b.PredictedVotes {
			return a.PredictedVotes > b.PredictedVotes
		}
		return lessID(a.CandidateID, b.CandidateID)
	})

	if len(out.Candidates) == 0 {
		return out
	}
	winner := out.Candidates[0]
	out.Winner = &winner
	if total > 0 {
		var second int64
		if len(out.Candidates) > 1 {
			second = out.Candidates[1].PredictedVotes
		}
		out.MarginPercentage = float64(winner.PredictedVotes-second) / float64(total) * 100
	}
	return out
}
