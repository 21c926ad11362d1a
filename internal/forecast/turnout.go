package forecast

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BaseTurnout is the centre of a region's turnout distribution: its most recent
// observed turnout, or def with ErrMissingData when there is none.
func BaseTurnout(r Region, def float64) (float64, error) {
	if t, ok := r.LatestTurnout(); ok {
		return t, nil
	}
	return def, ErrMissingData
}

// SampleTurnout draws n turnout percentages from Normal(base, sd) and clips
// every draw to [lo, hi].
func SampleTurnout(ctx context.Context, base, sd, lo, hi float64, n int, src rand.Source) ([]float64, error) {
	dist := distuv.Normal{Mu: base, Sigma: sd, Src: src}
	out := make([]float64, n)
	for i := range out {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = clamp(dist.Rand(), lo, hi)
	}
	return out, nil
}
