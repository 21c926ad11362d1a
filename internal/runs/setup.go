package runs

import (
	"log"

	"github.com/EmpoweredVote/EV-Forecast/internal/db"
	"gorm.io/gorm"
)

const Schema = "forecasts"

// Migrate creates the forecasts schema and its tables.
func Migrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, Schema); err != nil {
		return err
	}
	if err := d.AutoMigrate(&ForecastRun{}, &RegionForecast{}, &NationalResult{}); err != nil {
		return err
	}
	// Serves /regions/{code}/latest without scanning every run.
	return d.Exec(`
		CREATE INDEX IF NOT EXISTS idx_region_forecast_code_run
		ON forecasts.region_forecasts (region_code, run_id);
	`).Error
}

func Init() {
	if err := Migrate(db.DB); err != nil {
		log.Fatal("Failed to migrate forecasts tables: ", err)
	}
	log.Println("Forecasts module initialized")
}
