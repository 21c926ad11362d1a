package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/robfig/cron/v3"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrInvalidSchedule    = errors.New("FORECAST_SCHEDULE is not a valid cron spec")
	ErrIncompleteS3       = errors.New("S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
)

const DefaultPort = "5050"

// S3Config locates the object store used for exported runs. An empty
// Endpoint disables S3 export.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

func (s S3Config) Enabled() bool { return s.Endpoint != "" }

// Config holds the service configuration.
type Config struct {
	DatabaseURL string
	Port        string

	// Cron spec for scheduled runs; empty disables the scheduler.
	Schedule string

	// bcrypt hash of the key that guards POST /forecasts/runs. Empty
	// disables the admin endpoint.
	AdminKeyHash string

	// Requests per second per client on the admin endpoint.
	RateLimit float64

	S3 S3Config

	Forecast forecast.Options
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numbers are reported rather than silently defaulted.
//
// Environment variables:
//   - DATABASE_URL: Postgres DSN (required by the server)
//   - PORT: listen port (default: 5050)
//   - FORECAST_SAMPLES: Monte Carlo draws per region (default: 2000)
//   - FORECAST_CONFIDENCE: central interval mass (default: 0.90)
//   - FORECAST_TIMEOUT: run deadline, e.g. "10m" (default: 10m)
//   - FORECAST_WORKERS: concurrent regions (default: GOMAXPROCS)
//   - FORECAST_SCHEDULE: cron spec for scheduled runs (optional)
//   - FORECAST_ADMIN_KEY_HASH: bcrypt hash of the admin key (optional)
//   - FORECAST_RATE_LIMIT: admin requests per second (default: 10)
//   - S3_ENDPOINT, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY, S3_USE_SSL, S3_BUCKET
func LoadFromEnv() (Config, error) {
	c := Config{
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Port:         strings.TrimSpace(os.Getenv("PORT")),
		Schedule:     strings.TrimSpace(os.Getenv("FORECAST_SCHEDULE")),
		AdminKeyHash: strings.TrimSpace(os.Getenv("FORECAST_ADMIN_KEY_HASH")),
		RateLimit:    10,
		S3: S3Config{
			Endpoint:        strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Bucket:          strings.TrimSpace(os.Getenv("S3_BUCKET")),
		},
		Forecast: forecast.DefaultOptions(),
	}
	if c.Port == "" {
		c.Port = DefaultPort
	}

	var errs []error
	intVar(&c.Forecast.Samples, "FORECAST_SAMPLES", &errs)
	intVar(&c.Forecast.Workers, "FORECAST_WORKERS", &errs)
	floatVar(&c.Forecast.Confidence, "FORECAST_CONFIDENCE", &errs)
	floatVar(&c.RateLimit, "FORECAST_RATE_LIMIT", &errs)
	durationVar(&c.Forecast.Timeout, "FORECAST_TIMEOUT", &errs)
	boolVar(&c.S3.UseSSL, "S3_USE_SSL", &errs)

	return c, errors.Join(errs...)
}

// Validate checks the configuration the server needs.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}
	if c.S3.Enabled() && (c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "") {
		return ErrIncompleteS3
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("FORECAST_RATE_LIMIT must be positive, got %v", c.RateLimit)
	}
	return c.Forecast.Validate()
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func intVar(dst *int, key string, errs *[]error) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func floatVar(dst *float64, key string, errs *[]error) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a number", key, v))
		return
	}
	*dst = f
}

func durationVar(dst *time.Duration, key string, errs *[]error) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return
	}
	*dst = d
}

func boolVar(dst *bool, key string, errs *[]error) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}
