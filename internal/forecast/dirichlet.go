package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
)

const simplexTolerance = 1e-9

// Concentrations maps baseline supports (0-100) to Dirichlet parameters:
// alpha_i = max(support_i/divisor, floor).
func Concentrations(supports []float64, divisor, floor float64) []float64 {
	alpha := make([]float64, len(supports))
	for i, s := range supports {
		alpha[i] = math.Max(s/divisor, floor)
	}
	return alpha
}

// SampleShares draws n vote-share vectors from Dirichlet(alpha), each scaled to
// percentages and renormalized so it sums to 100. The result is indexed by
// candidate: shares[j][i] is candidate j's share in draw i.
func SampleShares(ctx context.Context, alpha []float64, n int, src rand.Source) ([][]float64, error) {
	if err := checkConcentrations(alpha); err != nil {
		return nil, err
	}
	k := len(alpha)
	shares := make([][]float64, k)
	for j := range shares {
		shares[j] = make([]float64, n)
	}
	if k == 1 {
		for i := range shares[0] {
			shares[0][i] = 100
		}
		return shares, nil
	}

	dist := distmv.NewDirichlet(alpha, src)
	draw := make([]float64, k)
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		dist.Rand(draw)
		if err := normalizeDraw(draw); err != nil {
			return nil, err
		}
		for j, v := range draw {
			shares[j][i] = v
		}
	}
	return shares, nil
}

func checkConcentrations(alpha []float64) error {
	if len(alpha) == 0 {
		return degenerate("no concentration parameters")
	}
	positive := 0
	for i, a := range alpha {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return degenerate("concentration %d is not finite (%v)", i, a)
		}
		if a > 0 {
			positive++
		}
	}
	if positive == 0 {
		return degenerate("all %d concentration parameters are <= 0", len(alpha))
	}
	if positive < len(alpha) {
		return degenerate("%d of %d concentration parameters are <= 0", len(alpha)-positive, len(alpha))
	}
	return nil
}

// normalizeDraw rescales draw in place to sum to exactly 100 and verifies it.
func normalizeDraw(draw []float64) error {
	sum := floats.Sum(draw)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return degenerate("dirichlet draw summed to %v", sum)
	}
	for i := range draw {
		draw[i] = draw[i] / sum * 100
	}
	if got := floats.Sum(draw); !(math.Abs(got-100) <= simplexTolerance*100) {
		return fmt.Errorf("%w: got %v", ErrInvalidSimplexSum, got)
	}
	return nil
}
