package runs

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ForecastRun is one execution of an estimator. Rows move from running to
// completed or failed exactly once; a completed run is never rewritten.
type ForecastRun struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ElectionYear   int            `gorm:"not null;index:idx_run_year_status" json:"election_year"`
	Position       string         `gorm:"not null;default:'president'" json:"position"`
	ModelName      string         `gorm:"not null" json:"model_name"`
	ModelVersion   string         `gorm:"not null" json:"model_version"`
	RunTimestamp   time.Time      `gorm:"not null;index" json:"run_timestamp"`
	Parameters     string         `gorm:"type:jsonb;not null;default:'{}'" json:"parameters"`
	DataCutoffDate *time.Time     `json:"data_cutoff_date,omitempty"`
	Status         string         `gorm:"not null;index:idx_run_year_status" json:"status"` // running, completed, failed
	Reason         string         `json:"reason,omitempty"`
	SkippedRegions pq.StringArray `gorm:"type:text[]" json:"skipped_regions"`
	Warnings       pq.StringArray `gorm:"type:text[]" json:"warnings"`
	Diagnostics    *string        `gorm:"type:jsonb" json:"diagnostics,omitempty"`
	Samples        int            `json:"samples"`
	Confidence     float64        `json:"confidence"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (ForecastRun) TableName() string {
	return "forecasts.runs"
}

// RegionForecast is one (run, region, candidate) prediction. Shares and
// turnout are percentages rounded to two decimals.
type RegionForecast struct {
	RunID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"run_id"`
	RegionID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"region_id"`
	CandidateID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"candidate_id"`
	RegionCode         string    `gorm:"not null;index" json:"region_code"`
	RegionName         string    `json:"region_name"`
	CandidateName      string    `json:"candidate_name"`
	Party              string    `json:"party"`
	PredictedVoteShare float64   `json:"predicted_vote_share"`
	LowerBound         float64   `json:"lower_bound"`
	UpperBound         float64   `json:"upper_bound"`
	PredictedVotes     int64     `json:"predicted_votes"`
	PredictedTurnout   float64   `json:"predicted_turnout"`
	TurnoutLower       float64   `json:"turnout_lower"`
	TurnoutUpper       float64   `json:"turnout_upper"`
}

func (RegionForecast) TableName() string {
	return "forecasts.region_forecasts"
}

// NationalResult is one candidate's line of a run's national rollup.
type NationalResult struct {
	RunID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"run_id"`
	CandidateID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"candidate_id"`
	Rank           int       `gorm:"not null" json:"rank"`
	CandidateName  string    `json:"candidate_name"`
	Party          string    `json:"party"`
	PredictedVotes int64     `json:"predicted_votes"`
	VoteShare      float64   `json:"national_vote_share"`
	IsWinner       bool      `json:"is_winner"`
}

func (NationalResult) TableName() string {
	return "forecasts.national_results"
}

// Summary is the payload of GET /runs/{run_id}/summary.
type Summary struct {
	Run              ForecastRun      `json:"run"`
	Candidates       []NationalResult `json:"candidates"`
	Winner           *NationalResult  `json:"winner,omitempty"`
	MarginPercentage float64          `json:"margin_percentage"`
	TotalVotes       int64            `json:"total_votes"`
	Regions          int              `json:"regions"`
}

// RegionLatest is the payload of GET /regions/{region_code}/latest.
type RegionLatest struct {
	Run       ForecastRun      `json:"run"`
	Forecasts []RegionForecast `json:"forecasts"`
}
