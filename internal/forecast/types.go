package forecast

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Region is an electoral unit as seen by the estimators. TurnoutHistory maps
// election year to observed turnout percentage (0-100).
type Region struct {
	ID               uuid.UUID
	Code             string
	Name             string
	RegisteredVoters int64
	UrbanFraction    float64
	YouthFraction    float64
	TurnoutHistory   map[int]float64
}

// LatestTurnout returns the most recent observed turnout, or false when the
// region has no usable history.
func (r Region) LatestTurnout() (float64, bool) {
	year, found := 0, false
	for y, t := range r.TurnoutHistory {
		if t <= 0 {
			continue
		}
		if !found || y > year {
			year, found = y, true
		}
	}
	if !found {
		return 0, false
	}
	return r.TurnoutHistory[year], true
}

// MeanTurnout averages all observed turnouts for the region.
func (r Region) MeanTurnout() (float64, bool) {
	var sum float64
	var n int
	for _, t := range r.TurnoutHistory {
		if t > 0 {
			sum += t
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Candidate is a contestant in the target election. A nil RegionID means the
// candidate stands in every region (presidential race).
type Candidate struct {
	ID       uuid.UUID
	Name     string
	Party    string
	Position string
	RegionID *uuid.UUID
}

// StandsIn reports whether the candidate is on the ballot in region id.
func (c Candidate) StandsIn(id uuid.UUID) bool {
	return c.RegionID == nil || *c.RegionID == id
}

// HistoricalResult is one observed (region, candidate, year) outcome. It is
// read-only ground truth.
type HistoricalResult struct {
	RegionID          uuid.UUID
	CandidateID       *uuid.UUID
	Year              int
	CandidateName     string
	Party             string
	Votes             int64
	TotalVotesCast    int64
	RegisteredVoters  int64
	TurnoutPercentage float64
}

// VotePercentage is the share of the region's votes this row received.
func (h HistoricalResult) VotePercentage() (float64, bool) {
	if h.TotalVotesCast <= 0 {
		return 0, false
	}
	return float64(h.Votes) / float64(h.TotalVotesCast) * 100, true
}

// EthnicityAggregate is a pre-aggregated population share for one group in
// one region. PopulationCount is only used to enforce the privacy floor.
type EthnicityAggregate struct {
	RegionID        uuid.UUID
	Group           string
	Year            int
	PopulationCount int64
	PopulationShare float64
}

// Dataset is everything an estimator needs for one forecast run.
type Dataset struct {
	ElectionYear int
	Position     string
	Regions      []Region
	Candidates   []Candidate
	History      []HistoricalResult
	Ethnicity    []EthnicityAggregate
}

// CandidatesIn returns the candidates on the ballot in region id, ordered by ID.
func (d *Dataset) CandidatesIn(id uuid.UUID) []Candidate {
	var out []Candidate
	for _, c := range d.Candidates {
		if c.StandsIn(id) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// HistoryFor returns the historical rows recorded for region id.
func (d *Dataset) HistoryFor(id uuid.UUID) []HistoricalResult {
	var out []HistoricalResult
	for _, h := range d.History {
		if h.RegionID == id {
			out = append(out, h)
		}
	}
	return out
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Interval is a point estimate with its central credible interval.
type Interval struct {
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// RegionForecast is the output unit for one (region, candidate) pair.
type RegionForecast struct {
	RegionID       uuid.UUID `json:"region_id"`
	RegionCode     string    `json:"region_code"`
	RegionName     string    `json:"region_name"`
	CandidateID    uuid.UUID `json:"candidate_id"`
	CandidateName  string    `json:"candidate_name"`
	Party          string    `json:"party"`
	VoteShare      Interval  `json:"vote_share"`
	PredictedVotes int64     `json:"predicted_votes"`
	Turnout        Interval  `json:"turnout"`
}

// SkippedRegion records a region that produced no forecast and why.
type SkippedRegion struct {
	RegionID   uuid.UUID `json:"region_id"`
	RegionCode string    `json:"region_code"`
	Reason     string    `json:"reason"`
}

// CandidateTotal is one line of the national summary.
type CandidateTotal struct {
	CandidateID    uuid.UUID `json:"candidate_id"`
	CandidateName  string    `json:"candidate_name"`
	Party          string    `json:"party"`
	PredictedVotes int64     `json:"predicted_votes"`
	VoteShare      float64   `json:"national_vote_share"`
}

// NationalSummary rolls region forecasts up to the whole election. Candidates
// are ordered by predicted votes, highest first.
type NationalSummary struct {
	Candidates       []CandidateTotal `json:"candidates"`
	Winner           *CandidateTotal  `json:"winner,omitempty"`
	MarginPercentage float64          `json:"margin_percentage"`
	TotalVotes       int64            `json:"total_votes"`
}

// Result is the outcome of one forecast run.
type Result struct {
	RunID        uuid.UUID        `json:"run_id"`
	Model        string           `json:"model_name"`
	ModelVersion string           `json:"model_version"`
	ElectionYear int              `json:"election_year"`
	Status       Status           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Options      Options          `json:"parameters"`
	Regions      []RegionForecast `json:"regions"`
	National     NationalSummary  `json:"national"`
	Skipped      []SkippedRegion  `json:"skipped_regions,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	Diagnostics  *Diagnostics     `json:"diagnostics,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
