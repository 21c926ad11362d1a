package forecast

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrMissingData means no historical rows exist to seed a prior. Estimators
	// recover from it with the uniform prior or the default turnout.
	ErrMissingData = errors.New("missing historical data")

	// ErrPrivacyViolation means an ethnicity aggregate fell below the minimum
	// aggregate size. The run fails.
	ErrPrivacyViolation = errors.New("ethnicity aggregate below privacy floor")

	// ErrNumericalDegeneracy means a region cannot be sampled. The region is
	// skipped and the run continues.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")

	ErrNoForecasts       = errors.New("no region forecasts produced")
	ErrDeadlineExceeded  = errors.New("forecast run exceeded its time budget")
	ErrNoCandidates      = errors.New("no candidates for election")
	ErrNoRegions         = errors.New("no regions to forecast")
	ErrInvalidSimplexSum = errors.New("vote share draw does not sum to 100")
)

// RegionError ties an error to the region it came from.
type RegionError struct {
	RegionID   uuid.UUID
	RegionCode string
	Err        error
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("region %s: %v", e.RegionCode, e.Err)
}

func (e *RegionError) Unwrap() error { return e.Err }

// PrivacyViolationError reports the offending aggregate without exposing more
// than its size.
type PrivacyViolationError struct {
	RegionID uuid.UUID
	Group    string
	Count    int64
	Min      int64
}

func (e *PrivacyViolationError) Error() string {
	return fmt.Sprintf("ethnicity aggregate %q in region %s has count %d, below minimum %d",
		e.Group, e.RegionID, e.Count, e.Min)
}

func (e *PrivacyViolationError) Unwrap() error { return ErrPrivacyViolation }

func degenerate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNumericalDegeneracy, fmt.Sprintf(format, args...))
}
