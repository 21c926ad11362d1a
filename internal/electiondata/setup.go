package electiondata

import (
	"log"

	"github.com/EmpoweredVote/EV-Forecast/internal/db"
	"gorm.io/gorm"
)

const Schema = "elections"

// Migrate creates the elections schema and tables on d.
func Migrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, Schema); err != nil {
		return err
	}
	if err := d.AutoMigrate(
		&Region{},
		&Candidate{},
		&HistoricalResult{},
		&EthnicityAggregate{},
	); err != nil {
		return err
	}
	return d.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ethnicity_region_group_year
		ON elections.ethnicity_aggregates (region_id, ethnicity_group, year);
	`).Error
}

func Init() {
	if err := Migrate(db.DB); err != nil {
		log.Fatal("Failed to migrate elections tables: ", err)
	}
	log.Println("Elections module initialized")
}
