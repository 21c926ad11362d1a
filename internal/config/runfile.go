package config

import (
	"fmt"
	"os"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
	"github.com/goccy/go-yaml"
)

// RunFile is a YAML document of model parameters. Unset keys keep whatever
// the options already hold.
//
//	model: hierarchical
//	samples: 4000
//	turnout:
//	  default: 65
//	  clip: [40, 95]
type RunFile struct {
	Model                *string        `yaml:"model"`
	Samples              *int           `yaml:"samples"`
	Confidence           *float64       `yaml:"confidence"`
	Seed                 *uint64        `yaml:"seed"`
	Workers              *int           `yaml:"workers"`
	Timeout              *time.Duration `yaml:"timeout"`
	ConcentrationDivisor *float64       `yaml:"concentration_divisor"`
	MinAggregateSize     *int64         `yaml:"min_aggregate_size"`

	Turnout struct {
		Default *float64  `yaml:"default"`
		SD      *float64  `yaml:"sd"`
		Clip    []float64 `yaml:"clip"`
	} `yaml:"turnout"`

	Hierarchical struct {
		Chains        *int     `yaml:"chains"`
		Draws         *int     `yaml:"draws"`
		Tune          *int     `yaml:"tune"`
		RHatThreshold *float64 `yaml:"rhat_threshold"`
		MinESS        *float64 `yaml:"min_ess"`
	} `yaml:"hierarchical"`
}

// LoadRunFile reads and strictly decodes a run file. Unknown keys are errors.
func LoadRunFile(path string) (*RunFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRunFile(raw)
}

func ParseRunFile(raw []byte) (*RunFile, error) {
	var rf RunFile
	if err := yaml.UnmarshalWithOptions(raw, &rf, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("run file: %w", err)
	}
	if n := len(rf.Turnout.Clip); n != 0 && n != 2 {
		return nil, fmt.Errorf("run file: turnout.clip needs exactly two values, got %d", n)
	}
	return &rf, nil
}

// Apply overlays the file onto o.
func (rf *RunFile) Apply(o *forecast.Options) {
	set(&o.Model, rf.Model)
	set(&o.Samples, rf.Samples)
	set(&o.Confidence, rf.Confidence)
	set(&o.Seed, rf.Seed)
	set(&o.Workers, rf.Workers)
	set(&o.Timeout, rf.Timeout)
	set(&o.ConcentrationDivisor, rf.ConcentrationDivisor)
	set(&o.MinAggregateSize, rf.MinAggregateSize)
	set(&o.DefaultTurnout, rf.Turnout.Default)
	set(&o.TurnoutSD, rf.Turnout.SD)
	if len(rf.Turnout.Clip) == 2 {
		o.TurnoutMin, o.TurnoutMax = rf.Turnout.Clip[0], rf.Turnout.Clip[1]
	}
	set(&o.Chains, rf.Hierarchical.Chains)
	set(&o.Draws, rf.Hierarchical.Draws)
	set(&o.Tune, rf.Hierarchical.Tune)
	set(&o.RHatThreshold, rf.Hierarchical.RHatThreshold)
	set(&o.MinESS, rf.Hierarchical.MinESS)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
