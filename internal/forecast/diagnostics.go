package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Diagnostics summarizes sampler convergence for a hierarchical fit.
type Diagnostics struct {
	Chains      int     `json:"chains"`
	Draws       int     `json:"draws"`
	RHatMax     float64 `json:"rhat_max"`
	RHatParam   string  `json:"rhat_param"`
	ESSMin      float64 `json:"ess_bulk_min"`
	ESSParam    string  `json:"ess_param"`
	Divergences int     `json:"divergences"`
	Acceptance  float64 `json:"acceptance_rate"`
}

// ConvergenceWarnings lists every way d falls short of the thresholds. An
// empty result means the fit looks converged.
func (d Diagnostics) ConvergenceWarnings(rhatMax, minESS float64) []string {
	var out []string
	if d.RHatMax > rhatMax || math.IsNaN(d.RHatMax) {
		out = append(out, fmt.Sprintf("R-hat %.3f for %s exceeds %.2f", d.RHatMax, d.RHatParam, rhatMax))
	}
	if d.ESSMin < minESS || math.IsNaN(d.ESSMin) {
		out = append(out, fmt.Sprintf("effective sample size %.0f for %s is below %.0f", d.ESSMin, d.ESSParam, minESS))
	}
	if d.Divergences > 0 {
		out = append(out, fmt.Sprintf("%d divergent transitions", d.Divergences))
	}
	return out
}

// SplitRHat is the potential scale reduction factor computed over the first
// and second halves of every chain. Chains must have equal length >= 4.
func SplitRHat(chains [][]float64) float64 {
	var halves [][]float64
	for _, c := range chains {
		h := len(c) / 2
		halves = append(halves, c[:h], c[len(c)-h:])
	}
	return rhat(halves)
}

func rhat(chains [][]float64) float64 {
	n := float64(len(chains[0]))
	means := make([]float64, len(chains))
	vars := make([]float64, len(chains))
	for i, c := range chains {
		means[i], vars[i] = stat.MeanVariance(c, nil)
	}
	w := stat.Mean(vars, nil)
	b := n * stat.Variance(means, nil)
	if w == 0 {
		if b == 0 {
			return 1
		}
		return math.Inf(1)
	}
	varPlus := (n-1)/n*w + b/n
	return math.Sqrt(varPlus / w)
}

// EffectiveSampleSize estimates the number of independent draws across chains
// using the multi-chain autocorrelation and Geyer's initial positive sequence.
func EffectiveSampleSize(chains [][]float64) float64 {
	m := len(chains)
	n := len(chains[0])
	total := float64(m * n)

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, c := range chains {
		means[i], vars[i] = stat.MeanVariance(c, nil)
	}
	w := stat.Mean(vars, nil)
	varPlus := float64(n-1) / float64(n) * w
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus == 0 || math.IsNaN(varPlus) {
		return total
	}

	rho := func(t int) float64 {
		var acov float64
		for i, c := range chains {
			var s float64
			for j := 0; j+t < n; j++ {
				s += (c[j] - means[i]) * (c[j+t] - means[i])
			}
			acov += s / float64(n)
		}
		acov /= float64(m)
		return 1 - (w-acov)/varPlus
	}

	tau := -1.0
	for t := 0; t+1 < n; t += 2 {
		pair := rho(t) + rho(t+1)
		if pair <= 0 {
			break
		}
		tau += 2 * pair
	}
	if tau <= 0 {
		return total
	}
	return total / tau
}

// diagnose computes diagnostics over every monitored parameter. monitors is
// indexed [chain][param][draw].
func diagnose(names []string, monitors [][][]float64, divergences int, acceptance float64) *Diagnostics {
	d := &Diagnostics{
		Chains:      len(monitors),
		Divergences: divergences,
		Acceptance:  acceptance,
		RHatMax:     math.Inf(-1),
		ESSMin:      math.Inf(1),
	}
	if len(monitors) > 0 && len(monitors[0]) > 0 {
		d.Draws = len(monitors[0][0])
	}
	for p, name := range names {
		chains := make([][]float64, len(monitors))
		for c := range monitors {
			chains[c] = monitors[c][p]
		}
		if r := SplitRHat(chains); r > d.RHatMax || math.IsNaN(r) {
			d.RHatMax, d.RHatParam = r, name
		}
		if e := EffectiveSampleSize(chains); e < d.ESSMin {
			d.ESSMin, d.ESSParam = e, name
		}
	}
	return d
}
