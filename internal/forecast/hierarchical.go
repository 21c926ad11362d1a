package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// HierarchicalEstimator fits a partial-pooling model of turnout and vote share
// with Metropolis-within-Gibbs MCMC and reports the posterior.
//
// Turnout, on the logit scale, is a national mean plus a non-centered region
// offset plus urban, youth and centered historical-turnout effects plus a
// population-share-weighted ethnicity multiplier. Region vote shares are
// Dirichlet around a national share vector and observed votes are multinomial.
type HierarchicalEstimator struct{}

func (HierarchicalEstimator) Name() string    { return "HierarchicalBayesian" }
func (HierarchicalEstimator) Version() string { return "v1.0" }

const (
	obsTurnoutSD       = 0.05
	ethnicityScale     = 0.1
	shareConcentration = 100.0
	minSimplex         = 1e-12
	scalarAcceptTarget = 0.44
	alphaAcceptTarget  = 0.3
)

func (e HierarchicalEstimator) Estimate(ctx context.Context, ds *Dataset, opts Options) (*Estimate, error) {
	if err := CheckPrivacy(ds.Ethnicity, opts.MinAggregateSize); err != nil {
		return nil, err
	}
	for _, c := range ds.Candidates {
		if c.RegionID != nil {
			return nil, fmt.Errorf("hierarchical model needs a single national race, candidate %q is regional", c.Name)
		}
	}

	m, skipped := newHierModel(ds)
	est := &Estimate{Skipped: skipped}
	if len(m.regions) == 0 {
		return est, nil
	}

	traces := make([]*chainTrace, opts.Chains)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for c := range traces {
		g.Go(func() error {
			tr, err := m.runChain(gctx, rand.NewPCG(opts.Seed, 1<<32|uint64(c)), opts)
			if err != nil {
				return err
			}
			traces[c] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	monitors := make([][][]float64, len(traces))
	var divergences, accepted, proposed int
	for c, tr := range traces {
		monitors[c] = tr.monitors
		divergences += tr.divergences
		accepted += tr.accepted
		proposed += tr.proposed
	}
	var acceptance float64
	if proposed > 0 {
		acceptance = float64(accepted) / float64(proposed)
	}
	est.Diagnostics = diagnose(m.monitorNames(), monitors, divergences, acceptance)
	for _, w := range est.Diagnostics.ConvergenceWarnings(opts.RHatThreshold, opts.MinESS) {
		LogConvergence(w)
		est.Warnings = append(est.Warnings, w)
	}

	lo, hi := opts.percentiles()
	for r, region := range m.regions {
		var turnout []float64
		shares := make([][]float64, len(m.cands))
		for _, tr := range traces {
			turnout = append(turnout, tr.turnout[r]...)
			for k := range m.cands {
				shares[k] = append(shares[k], tr.shares[r][k]...)
			}
		}
		est.Regions = append(est.Regions, buildRegionRows(region, m.cands, shares, turnout, lo, hi)...)
	}
	return est, nil
}

// hierModel holds the fixed data of one fit, indexed by region then
// candidate or ethnic group.
type hierModel struct {
	regions  []Region
	cands    []Candidate
	groups   []string
	counts   [][]float64
	obs      []float64 // mean observed turnout fraction, NaN when unknown
	hist     []float64 // historical turnout minus its mean across regions
	urban    []float64
	youth    []float64
	ethShare [][]float64
	hasEth   []bool
}

func newHierModel(ds *Dataset) (*hierModel, []SkippedRegion) {
	m := &hierModel{cands: append([]Candidate(nil), ds.Candidates...)}
	sort.Slice(m.cands, func(i, j int) bool { return lessID(m.cands[i].ID, m.cands[j].ID) })

	eth := latestEthnicity(ds.Ethnicity)
	seen := map[string]bool{}
	for _, shares := range eth {
		for g := range shares {
			if !seen[g] {
				seen[g] = true
				m.groups = append(m.groups, g)
			}
		}
	}
	sort.Strings(m.groups)

	history := historyByRegion(ds.History)
	var skipped []SkippedRegion
	var obsSum float64
	var obsN int
	for _, r := range ds.Regions {
		if r.RegisteredVoters <= 0 {
			err := degenerate("registered voters is %d", r.RegisteredVoters)
			LogRegionSkipped(r.Code, err)
			skipped = append(skipped, SkippedRegion{RegionID: r.ID, RegionCode: r.Code, Reason: err.Error()})
			continue
		}
		m.regions = append(m.regions, r)

		counts := make([]float64, len(m.cands))
		for k, c := range m.cands {
			if v, ok := MeanVotes(history[r.ID], c); ok {
				counts[k] = math.Round(v)
			}
		}
		m.counts = append(m.counts, counts)

		obs := math.NaN()
		if t, ok := r.MeanTurnout(); ok {
			obs = clamp(t/100, 0.001, 0.999)
			obsSum += obs
			obsN++
		} else {
			LogFallback(r.Code, "turnout")
		}
		m.obs = append(m.obs, obs)
		m.urban = append(m.urban, r.UrbanFraction)
		m.youth = append(m.youth, r.YouthFraction)

		row := make([]float64, len(m.groups))
		shares, ok := eth[r.ID]
		for g, name := range m.groups {
			row[g] = clamp(shares[name], 0, 1)
		}
		m.ethShare = append(m.ethShare, row)
		m.hasEth = append(m.hasEth, ok)
	}

	national := 0.70
	if obsN > 0 {
		national = obsSum / float64(obsN)
	}
	for _, o := range m.obs {
		if math.IsNaN(o) {
			o = national
		}
		m.hist = append(m.hist, o)
	}
	if len(m.hist) > 0 {
		floats.AddConst(-stat.Mean(m.hist, nil), m.hist)
	}
	return m, skipped
}

// latestEthnicity keeps the most recent share per (region, group).
func latestEthnicity(aggs []EthnicityAggregate) map[uuid.UUID]map[string]float64 {
	type key struct {
		region uuid.UUID
		group  string
	}
	years := map[key]int{}
	out := map[uuid.UUID]map[string]float64{}
	for _, a := range aggs {
		k := key{a.RegionID, a.Group}
		if y, ok := years[k]; ok && y >= a.Year {
			continue
		}
		years[k] = a.Year
		if out[a.RegionID] == nil {
			out[a.RegionID] = map[string]float64{}
		}
		out[a.RegionID][a.Group] = a.PopulationShare
	}
	return out
}

func (m *hierModel) monitorNames() []string {
	names := []string{"mu_turnout_national", "sigma_turnout_national", "beta_urban", "beta_youth", "beta_historical"}
	for _, g := range m.groups {
		names = append(names, "ethnicity_multiplier["+g+"]")
	}
	for _, c := range m.cands {
		names = append(names, "alpha_national["+c.Name+"]")
	}
	return names
}

type hierState struct {
	mu, sigma, bu, by, bh float64
	raw                   []float64
	mult                  []float64
	alpha                 []float64
	p                     [][]float64
}

func (s *hierState) scalars() []*float64 {
	out := []*float64{&s.mu, &s.sigma, &s.bu, &s.by, &s.bh}
	for g := range s.mult {
		out = append(out, &s.mult[g])
	}
	return out
}

func (m *hierModel) initState(rng *rand.Rand) *hierState {
	s := &hierState{
		mu:    clamp(0.7+0.01*rng.NormFloat64(), 0.5, 0.9),
		sigma: 0.1 + 0.02*math.Abs(rng.NormFloat64()),
		bu:    0.01 * rng.NormFloat64(),
		by:    0.01 * rng.NormFloat64(),
		bh:    0.5 + 0.05*rng.NormFloat64(),
		raw:   make([]float64, len(m.regions)),
		mult:  make([]float64, len(m.groups)),
		alpha: make([]float64, len(m.cands)),
		p:     make([][]float64, len(m.regions)),
	}
	for r := range s.raw {
		s.raw[r] = 0.1 * rng.NormFloat64()
	}
	for g := range s.mult {
		s.mult[g] = 1 + 0.02*rng.NormFloat64()
	}
	for k := range s.alpha {
		s.alpha[k] = 1 / float64(len(m.cands))
	}
	for r := range s.p {
		s.p[r] = make([]float64, len(m.cands))
		for k := range s.p[r] {
			s.p[r][k] = m.counts[r][k] + 1
		}
		floorSimplex(s.p[r])
	}
	return s
}

// eta is region r's turnout on the logit scale.
func (m *hierModel) eta(s *hierState, r int) float64 {
	eth := 1.0
	if m.hasEth[r] && len(s.mult) > 0 {
		eth = floats.Dot(m.ethShare[r], s.mult)
	}
	return logit(s.mu) + s.sigma*s.raw[r] +
		s.bu*m.urban[r] + s.by*m.youth[r] + s.bh*m.hist[r] +
		ethnicityScale*(eth-1)
}

func (m *hierModel) turnoutLik(s *hierState, r int) float64 {
	if math.IsNaN(m.obs[r]) {
		return 0
	}
	return normLogProb(m.obs[r], invlogit(m.eta(s, r)), obsTurnoutSD)
}

// turnoutLogDensity is the log posterior of the turnout block up to a constant.
func (m *hierModel) turnoutLogDensity(s *hierState) float64 {
	if !(s.mu > 0 && s.mu < 1) || !(s.sigma > 0) {
		return math.Inf(-1)
	}
	lp := normLogProb(s.mu, 0.70, 0.05) +
		math.Ln2 + normLogProb(s.sigma, 0, 0.1) +
		normLogProb(s.bu, 0, 0.1) +
		normLogProb(s.by, 0, 0.1) +
		normLogProb(s.bh, 0.5, 0.2)
	for _, v := range s.mult {
		lp += normLogProb(v, 1, 0.15)
	}
	for r := range m.regions {
		lp += normLogProb(s.raw[r], 0, 1) + m.turnoutLik(s, r)
	}
	return lp
}

// alphaLogDensity is sum_r log Dirichlet(p_r | 100*alpha); the Dirichlet(1)
// prior on alpha is flat.
func (m *hierModel) alphaLogDensity(alpha []float64, p [][]float64) float64 {
	conc := make([]float64, len(alpha))
	for k, a := range alpha {
		if !(a > 0) {
			return math.Inf(-1)
		}
		conc[k] = shareConcentration * a
	}
	d := distmv.NewDirichlet(conc, nil)
	var lp float64
	for _, pr := range p {
		lp += d.LogProb(pr)
	}
	return lp
}

type chainTrace struct {
	monitors    [][]float64   // [param][draw]
	turnout     [][]float64   // [region][draw], percent
	shares      [][][]float64 // [region][candidate][draw], percent
	divergences int
	accepted    int
	proposed    int
}

func (m *hierModel) runChain(ctx context.Context, src rand.Source, opts Options) (*chainTrace, error) {
	rng := rand.New(src)
	s := m.initState(rng)
	scalars := s.scalars()

	steps := []float64{0.025, 0.05, 0.05, 0.05, 0.1}
	for range s.mult {
		steps = append(steps, 0.075)
	}
	rawSteps := make([]float64, len(m.regions))
	for r := range rawSteps {
		rawSteps[r] = 0.5
	}
	kappa := 1000.0

	tr := &chainTrace{
		monitors: make([][]float64, len(m.monitorNames())),
		turnout:  make([][]float64, len(m.regions)),
		shares:   make([][][]float64, len(m.regions)),
	}
	for r := range tr.shares {
		tr.shares[r] = make([][]float64, len(m.cands))
	}

	lp := m.turnoutLogDensity(s)
	for it := 0; it < opts.Tune+opts.Draws; it++ {
		if it%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tuning := it < opts.Tune
		gamma := 1 / math.Sqrt(float64(it+1))

		for i, ptr := range scalars {
			old := *ptr
			*ptr = old + steps[i]*rng.NormFloat64()
			next := m.turnoutLogDensity(s)
			ok := tr.accept(rng, next-lp)
			if ok {
				lp = next
			} else {
				*ptr = old
			}
			if tuning {
				steps[i] = adaptStep(steps[i], ok, scalarAcceptTarget, gamma)
			}
		}

		for r := range m.regions {
			old := s.raw[r]
			before := normLogProb(old, 0, 1) + m.turnoutLik(s, r)
			s.raw[r] = old + rawSteps[r]*rng.NormFloat64()
			after := normLogProb(s.raw[r], 0, 1) + m.turnoutLik(s, r)
			ok := tr.accept(rng, after-before)
			if !ok {
				s.raw[r] = old
			}
			if tuning {
				rawSteps[r] = adaptStep(rawSteps[r], ok, scalarAcceptTarget, gamma)
			}
		}
		lp = m.turnoutLogDensity(s)

		if len(m.cands) > 1 {
			ok := m.updateAlpha(src, s, kappa, tr)
			if tuning {
				kappa = clamp(1/adaptStep(1/kappa, ok, alphaAcceptTarget, gamma), 1, 1e6)
			}
			m.updateShares(src, s)
		}

		if !tuning {
			m.record(tr, s)
		}
	}
	return tr, nil
}

// accept performs the Metropolis test. A non-finite or NaN log ratio is a
// divergence and is rejected.
func (tr *chainTrace) accept(rng *rand.Rand, delta float64) bool {
	tr.proposed++
	if math.IsNaN(delta) || math.IsInf(delta, 1) {
		tr.divergences++
		return false
	}
	if delta >= 0 || math.Log(rng.Float64()) < delta {
		tr.accepted++
		return true
	}
	return false
}

// updateAlpha is an independence-style Metropolis-Hastings step proposing
// alpha' ~ Dirichlet(kappa*alpha).
func (m *hierModel) updateAlpha(src rand.Source, s *hierState, kappa float64, tr *chainTrace) bool {
	fwd := distmv.NewDirichlet(scaled(s.alpha, kappa), src)
	prop := fwd.Rand(nil)
	for _, a := range prop {
		if !(a > minSimplex) {
			tr.proposed++
			return false
		}
	}
	back := distmv.NewDirichlet(scaled(prop, kappa), nil)
	delta := m.alphaLogDensity(prop, s.p) - m.alphaLogDensity(s.alpha, s.p) +
		back.LogProb(s.alpha) - fwd.LogProb(prop)
	rng := rand.New(src)
	if !tr.accept(rng, delta) {
		return false
	}
	s.alpha = prop
	return true
}

// updateShares draws every p_r from its conjugate posterior
// Dirichlet(100*alpha + counts_r).
func (m *hierModel) updateShares(src rand.Source, s *hierState) {
	conc := make([]float64, len(m.cands))
	for r := range s.p {
		for k := range conc {
			conc[k] = shareConcentration*s.alpha[k] + m.counts[r][k]
		}
		distmv.NewDirichlet(conc, src).Rand(s.p[r])
		floorSimplex(s.p[r])
	}
}

func (m *hierModel) record(tr *chainTrace, s *hierState) {
	vals := []float64{s.mu, s.sigma, s.bu, s.by, s.bh}
	vals = append(vals, s.mult...)
	vals = append(vals, s.alpha...)
	for i, v := range vals {
		tr.monitors[i] = append(tr.monitors[i], v)
	}
	for r := range m.regions {
		tr.turnout[r] = append(tr.turnout[r], invlogit(m.eta(s, r))*100)
		for k, v := range s.p[r] {
			tr.shares[r][k] = append(tr.shares[r][k], v*100)
		}
	}
}

// adaptStep nudges a proposal scale toward the target acceptance rate with a
// decaying gain.
func adaptStep(step float64, accepted bool, target, gain float64) float64 {
	acc := 0.0
	if accepted {
		acc = 1
	}
	return clamp(math.Exp(math.Log(step)+gain*(acc-target)), 1e-4, 10)
}

// floorSimplex lifts components below minSimplex and renormalizes to sum 1.
func floorSimplex(p []float64) {
	for k, v := range p {
		if !(v > minSimplex) {
			p[k] = minSimplex
		}
	}
	floats.Scale(1/floats.Sum(p), p)
}

func scaled(x []float64, c float64) []float64 {
	out := make([]float64, len(x))
	floats.ScaleTo(out, c, x)
	return out
}

func normLogProb(x, mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma}.LogProb(x)
}

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func invlogit(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
