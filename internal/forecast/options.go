package forecast

import (
	"fmt"
	"runtime"
	"time"
)

const (
	ModelDirichlet    = "dirichlet"
	ModelHierarchical = "hierarchical"
)

// Options controls a forecast run. Zero values are not meaningful; start from
// DefaultOptions.
type Options struct {
	Model      string        `json:"model"`
	Samples    int           `json:"samples"`
	Confidence float64       `json:"confidence"`
	Seed       uint64        `json:"seed"`
	Workers    int           `json:"workers"`
	Timeout    time.Duration `json:"timeout"`

	// Dirichlet concentration: alpha_i = max(support_i/divisor, floor).
	ConcentrationDivisor float64 `json:"concentration_divisor"`
	ConcentrationFloor   float64 `json:"concentration_floor"`

	DefaultTurnout float64 `json:"default_turnout"`
	TurnoutSD      float64 `json:"turnout_sd"`
	TurnoutMin     float64 `json:"turnout_min"`
	TurnoutMax     float64 `json:"turnout_max"`

	MinAggregateSize int64 `json:"min_aggregate_size"`

	// Hierarchical sampler.
	Chains        int     `json:"chains"`
	Draws         int     `json:"draws"`
	Tune          int     `json:"tune"`
	RHatThreshold float64 `json:"rhat_threshold"`
	MinESS        float64 `json:"min_ess"`
}

func DefaultOptions() Options {
	return Options{
		Model:                ModelDirichlet,
		Samples:              2000,
		Confidence:           0.90,
		Seed:                 42,
		Workers:              runtime.GOMAXPROCS(0),
		Timeout:              10 * time.Minute,
		ConcentrationDivisor: 10,
		ConcentrationFloor:   1,
		DefaultTurnout:       65,
		TurnoutSD:            5,
		TurnoutMin:           40,
		TurnoutMax:           95,
		MinAggregateSize:     10,
		Chains:               4,
		Draws:                1000,
		Tune:                 1000,
		RHatThreshold:        1.05,
		MinESS:               100,
	}
}

func (o Options) Validate() error {
	switch {
	case o.Model != ModelDirichlet && o.Model != ModelHierarchical:
		return fmt.Errorf("unknown model %q", o.Model)
	case o.Samples < 1:
		return fmt.Errorf("samples must be positive, got %d", o.Samples)
	case !(o.Confidence > 0 && o.Confidence < 1):
		return fmt.Errorf("confidence must be in (0, 1), got %v", o.Confidence)
	case o.ConcentrationDivisor <= 0:
		return fmt.Errorf("concentration divisor must be positive, got %v", o.ConcentrationDivisor)
	case o.TurnoutSD < 0:
		return fmt.Errorf("turnout sd must be non-negative, got %v", o.TurnoutSD)
	case o.TurnoutMin < 0 || o.TurnoutMax > 100 || o.TurnoutMin > o.TurnoutMax:
		return fmt.Errorf("turnout band [%v, %v] is not within [0, 100]", o.TurnoutMin, o.TurnoutMax)
	case o.Model == ModelHierarchical && (o.Chains < 2 || o.Draws < 4 || o.Tune < 0):
		return fmt.Errorf("hierarchical sampler needs at least 2 chains and 4 draws")
	}
	return nil
}

// percentiles returns the lower and upper quantile levels for the central
// interval at o.Confidence (0.90 gives 0.05 and 0.95).
func (o Options) percentiles() (lo, hi float64) {
	tail := (1 - o.Confidence) / 2
	return tail, 1 - tail
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}
