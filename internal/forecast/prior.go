package forecast

import (
	"strings"

	"golang.org/x/text/cases"
)

// UniformPrior is the support given to every candidate when nothing is known.
func UniformPrior(nCandidates int) float64 {
	if nCandidates < 1 {
		return 100
	}
	return 100 / float64(nCandidates)
}

// SupportPrior estimates a candidate's baseline support in one region from that
// region's historical rows. Rows match on candidate ID when both sides carry
// one, otherwise on case-folded name or party. The result is the mean vote
// percentage of the matching rows across years.
//
// With no matching rows, or a region whose recorded total vote count is zero,
// it returns UniformPrior(nCandidates) together with ErrMissingData.
func SupportPrior(history []HistoricalResult, c Candidate, nCandidates int) (float64, error) {
	uniform := UniformPrior(nCandidates)

	var regionTotal int64
	for _, h := range history {
		if h.TotalVotesCast > 0 {
			regionTotal += h.TotalVotesCast
		}
	}
	if regionTotal == 0 {
		return uniform, ErrMissingData
	}

	fold := cases.Fold()
	name, party := fold.String(strings.TrimSpace(c.Name)), fold.String(strings.TrimSpace(c.Party))

	var sum float64
	var n int
	for _, h := range history {
		if !matches(h, c, name, party, fold) {
			continue
		}
		pct, ok := h.VotePercentage()
		if !ok {
			continue
		}
		sum += pct
		n++
	}
	if n == 0 {
		return uniform, ErrMissingData
	}
	return clamp(sum/float64(n), 0, 100), nil
}

// MeanVotes averages the raw vote counts of the rows matching c across years.
func MeanVotes(history []HistoricalResult, c Candidate) (float64, bool) {
	fold := cases.Fold()
	name, party := fold.String(strings.TrimSpace(c.Name)), fold.String(strings.TrimSpace(c.Party))
	var sum float64
	var n int
	for _, h := range history {
		if matches(h, c, name, party, fold) {
			sum += float64(h.Votes)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func matches(h HistoricalResult, c Candidate, name, party string, fold cases.Caser) bool {
	if h.CandidateID != nil && *h.CandidateID == c.ID {
		return true
	}
	if name != "" && fold.String(strings.TrimSpace(h.CandidateName)) == name {
		return true
	}
	return party != "" && fold.String(strings.TrimSpace(h.Party)) == party
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
