package electiondata

import (
	"time"

	"github.com/google/uuid"
)

// Region is an electoral unit (county). IDs are deterministic from Code.
type Region struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code             string    `gorm:"uniqueIndex;not null" json:"code"`
	Name             string    `gorm:"not null" json:"name"`
	RegisteredVoters int64     `json:"registered_voters"`
	UrbanFraction    float64   `json:"urban_fraction"`
	YouthFraction    float64   `json:"youth_fraction"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Region) TableName() string {
	return "elections.regions"
}

// Candidate stands in one election. RegionID is set for sub-national races.
type Candidate struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ElectionYear int        `gorm:"not null;index:idx_candidate_election" json:"election_year"`
	Position     string     `gorm:"not null;index:idx_candidate_election" json:"position"`
	Name         string     `gorm:"not null" json:"name"`
	Party        string     `json:"party"`
	RegionID     *uuid.UUID `gorm:"type:uuid;index" json:"region_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Candidate) TableName() string {
	return "elections.candidates"
}

// HistoricalResult is an observed outcome. Rows are written by the importer
// only and never modified by a forecast.
type HistoricalResult struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RegionID          uuid.UUID  `gorm:"type:uuid;not null;index:idx_result_region_year" json:"region_id"`
	CandidateID       *uuid.UUID `gorm:"type:uuid;index" json:"candidate_id,omitempty"`
	Year              int        `gorm:"not null;index:idx_result_region_year" json:"year"`
	Position          string     `gorm:"not null;default:'president'" json:"position"`
	CandidateName     string     `gorm:"not null" json:"candidate_name"`
	Party             string     `json:"party"`
	Votes             int64      `json:"votes"`
	TotalVotesCast    int64      `json:"total_votes_cast"`
	RegisteredVoters  int64      `json:"registered_voters"`
	TurnoutPercentage float64    `json:"turnout_percentage"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (HistoricalResult) TableName() string {
	return "elections.historical_results"
}

// EthnicityAggregate is a census aggregate. Only rows with PopulationCount at
// or above the privacy floor are ever loaded into a forecast.
type EthnicityAggregate struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RegionID        uuid.UUID `gorm:"type:uuid;not null;index" json:"region_id"`
	Group           string    `gorm:"column:ethnicity_group;not null" json:"ethnicity_group"`
	Year            int       `gorm:"not null" json:"year"`
	PopulationCount int64     `gorm:"not null" json:"population_count"`
	PopulationShare float64   `gorm:"not null" json:"population_share"`
	CreatedAt       time.Time `json:"created_at"`
}

func (EthnicityAggregate) TableName() string {
	return "elections.ethnicity_aggregates"
}

// Bundle is a full set of election inputs, as read from CSV files.
type Bundle struct {
	Regions    []Region
	Candidates []Candidate
	Results    []HistoricalResult
	Ethnicity  []EthnicityAggregate
}
