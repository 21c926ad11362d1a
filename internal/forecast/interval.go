package forecast

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summarize returns the sample mean and the [lo, hi] quantiles of samples.
// Quantiles use gonum's stat.LinInterp on a sorted copy; samples is not
// modified. The bounds are widened when needed so Lower <= Mean <= Upper.
func Summarize(samples []float64, lo, hi float64) Interval {
	if len(samples) == 0 {
		return Interval{Mean: math.NaN(), Lower: math.NaN(), Upper: math.NaN()}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	iv := Interval{
		Mean:  stat.Mean(sorted, nil),
		Lower: stat.Quantile(lo, stat.LinInterp, sorted, nil),
		Upper: stat.Quantile(hi, stat.LinInterp, sorted, nil),
	}
	if iv.Lower > iv.Mean {
		iv.Lower = iv.Mean
	}
	if iv.Upper < iv.Mean {
		iv.Upper = iv.Mean
	}
	return iv
}

// Round2 rounds to two decimals, the precision of published forecasts.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Rounded returns the interval at published precision.
func (iv Interval) Rounded() Interval {
	return Interval{Mean: Round2(iv.Mean), Lower: Round2(iv.Lower), Upper: Round2(iv.Upper)}
}
