package copula

import (
	"fmt"
	"math"

	"github.com/banachtech/basket-credit/lossdist"
	"github.com/banachtech/basket-credit/quote"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// minProbability is the default probability below which conditional
// probabilities are taken as zero.
const minProbability = 1e-10

// LatentModel is a factor model of obligor credit quality:
// Y_i = sum_k a_ik M_k + sqrt(1 - sum_k a_ik^2) Z_i.
// A model built from a correlation quote has one factor with loading
// sqrt(correlation) for every obligor and recomputes lazily when the quote
// changes. Not safe for concurrent use.
type LatentModel struct {
	quote.Observable
	policy      Policy
	integration IntegrationType
	order       int
	integrator  Integrator

	loadings *mat.Dense
	idio     []float64
	n        int
	nFactors int

	correl *quote.Quote
	dirty  bool
}

// NewLatentModel builds a model from a loading matrix, one row per obligor.
func NewLatentModel(loadings [][]float64, policy Policy, integration IntegrationType) (*LatentModel, error) {
	if len(loadings) == 0 {
		return nil, fmt.Errorf("%w: no obligors", ErrLoadings)
	}
	nf := len(loadings[0])
	data := make([]float64, 0, len(loadings)*nf)
	for i, row := range loadings {
		if len(row) != nf {
			return nil, fmt.Errorf("%w: row %d has %d loadings, expected %d", ErrSizeMismatch, i, len(row), nf)
		}
		data = append(data, row...)
	}
	lm := &LatentModel{
		policy:      policy,
		integration: integration,
		loadings:    mat.NewDense(len(loadings), nf, data),
		n:           len(loadings),
		nFactors:    nf,
	}
	if err := lm.init(); err != nil {
		return nil, err
	}
	return lm, nil
}

// NewQuoteLatentModel builds a one-factor model for n obligors whose common
// loading is the square root of the quoted correlation.
func NewQuoteLatentModel(correl *quote.Quote, n int, policy Policy, integration IntegrationType) (*LatentModel, error) {
	if correl == nil {
		return nil, fmt.Errorf("%w: nil correlation quote", ErrLoadings)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: no obligors", ErrLoadings)
	}
	lm := &LatentModel{
		policy:      policy,
		integration: integration,
		loadings:    mat.NewDense(n, 1, nil),
		n:           n,
		nFactors:    1,
		correl:      correl,
	}
	if err := lm.init(); err != nil {
		return nil, err
	}
	correl.Register(lm)
	return lm, nil
}

// SetIntegrationOrder overrides the per-factor number of integration nodes.
func (lm *LatentModel) SetIntegrationOrder(order int) error {
	lm.order = order
	return lm.buildIntegrator()
}

func (lm *LatentModel) init() error {
	if err := lm.policy.Check(lm.nFactors); err != nil {
		return err
	}
	if err := lm.buildIntegrator(); err != nil {
		return err
	}
	lm.idio = make([]float64, lm.n)
	return lm.refresh()
}

func (lm *LatentModel) buildIntegrator() error {
	lo, hi := lm.policy.Domain()
	order := lm.order
	if order <= 0 && lm.integration == GaussianQuadrature {
		order = lm.policy.Order()
	}
	in, err := NewIntegrator(lm.integration, lm.nFactors, lo, hi, order)
	if err != nil {
		return err
	}
	lm.integrator = in
	return nil
}

// refresh recomputes quote-driven loadings and the idiosyncratic factors.
func (lm *LatentModel) refresh() error {
	if lm.correl != nil {
		c := lm.correl.Value()
		if c < 0 || c >= 1 {
			return fmt.Errorf("%w: correlation %v not in [0, 1)", ErrLoadings, c)
		}
		a := math.Sqrt(c)
		for i := 0; i < lm.n; i++ {
			lm.loadings.Set(i, 0, a)
		}
		log.Debug().Float64("correlation", c).Int("obligors", lm.n).Msg("factor loadings rebuilt")
	}
	for i := 0; i < lm.n; i++ {
		row := lm.loadings.RawRowView(i)
		var s float64
		for _, a := range row {
			s += a * a
		}
		if s >= 1 {
			return fmt.Errorf("%w: obligor %d has squared loadings %v, residual variance must be positive", ErrLoadings, i, s)
		}
		lm.idio[i] = math.Sqrt(1 - s)
	}
	lm.dirty = false
	return nil
}

// Invalidate marks the loadings stale and passes the signal on.
func (lm *LatentModel) Invalidate() {
	lm.dirty = true
	lm.NotifyObservers()
}

func (lm *LatentModel) update() error {
	if !lm.dirty {
		return nil
	}
	return lm.refresh()
}

func (lm *LatentModel) Size() int                    { return lm.n }
func (lm *LatentModel) NumFactors() int              { return lm.nFactors }
func (lm *LatentModel) Policy() Policy               { return lm.policy }
func (lm *LatentModel) Integration() IntegrationType { return lm.integration }

// FactorWeights returns obligor i's systemic loadings.
func (lm *LatentModel) FactorWeights(i int) ([]float64, error) {
	if err := lm.update(); err != nil {
		return nil, err
	}
	return append([]float64(nil), lm.loadings.RawRowView(i)...), nil
}

func (lm *LatentModel) IdiosyncFactor(i int) (float64, error) {
	if err := lm.update(); err != nil {
		return 0, err
	}
	return lm.idio[i], nil
}

// InverseCumulativeY maps default probabilities to default thresholds of Y.
func (lm *LatentModel) InverseCumulativeY(probs []float64) ([]float64, error) {
	return lm.InverseCumulativeYFor(nil, probs)
}

// InverseCumulativeYFor maps probs[k] to the threshold of obligor idx[k].
// A nil idx means 0..n-1.
func (lm *LatentModel) InverseCumulativeYFor(idx []int, probs []float64) ([]float64, error) {
	if idx != nil && len(idx) != len(probs) {
		return nil, fmt.Errorf("%w: %d probabilities for %d obligors", ErrSizeMismatch, len(probs), len(idx))
	}
	if len(probs) > lm.n {
		return nil, fmt.Errorf("%w: %d probabilities for %d obligors", ErrSizeMismatch, len(probs), lm.n)
	}
	if err := lm.update(); err != nil {
		return nil, err
	}
	out := make([]float64, len(probs))
	for k, p := range probs {
		i := k
		if idx != nil {
			i = idx[k]
		}
		if i < 0 || i >= lm.n {
			return nil, fmt.Errorf("%w: obligor %d of %d", ErrSizeMismatch, i, lm.n)
		}
		if p < 0 || p > 1 || math.IsNaN(p) {
			return nil, fmt.Errorf("%w: obligor %d probability %v", ErrProbability, i, p)
		}
		switch {
		case p < minProbability:
			out[k] = math.Inf(-1)
		case p >= 1:
			out[k] = math.Inf(1)
		default:
			out[k] = lm.policy.InverseCumulativeY(p, lm.loadings.RawRowView(i))
		}
	}
	return out, nil
}

// conditional is P(default_i | M = m) given the default threshold invP.
func (lm *LatentModel) conditional(invP float64, i int, m []float64) float64 {
	if math.IsInf(invP, -1) {
		return 0
	}
	if math.IsInf(invP, 1) {
		return 1
	}
	row := lm.loadings.RawRowView(i)
	var s float64
	for k, a := range row {
		s += a * m[k]
	}
	return lm.policy.CumulativeZ((invP - s) / lm.idio[i])
}

// ConditionalDefaultProbability is P(default_i | M = m) for marginal probability p.
func (lm *LatentModel) ConditionalDefaultProbability(p float64, i int, m []float64) (float64, error) {
	if i < 0 || i >= lm.n {
		return 0, fmt.Errorf("%w: obligor %d of %d", ErrSizeMismatch, i, lm.n)
	}
	if len(m) != lm.nFactors {
		return 0, fmt.Errorf("%w: %d factor values for %d factors", ErrSizeMismatch, len(m), lm.nFactors)
	}
	if p < minProbability {
		return 0, nil
	}
	inv, err := lm.singleInverse(p, i)
	if err != nil {
		return 0, err
	}
	return lm.conditional(inv, i, m), nil
}

func (lm *LatentModel) singleInverse(p float64, i int) (float64, error) {
	if err := lm.update(); err != nil {
		return 0, err
	}
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: %v", ErrProbability, p)
	}
	if p >= 1 {
		return math.Inf(1), nil
	}
	return lm.policy.InverseCumulativeY(p, lm.loadings.RawRowView(i)), nil
}

// ConditionalProbabilities fills out with the conditional default
// probabilities of the first len(invP) obligors.
func (lm *LatentModel) ConditionalProbabilities(invP, m, out []float64) {
	for i, v := range invP {
		out[i] = lm.conditional(v, i, m)
	}
}

// ConditionalProbabilitiesFor is ConditionalProbabilities for the obligors
// idx; invP[k] is the threshold of obligor idx[k]. A nil idx means 0..n-1.
func (lm *LatentModel) ConditionalProbabilitiesFor(idx []int, invP, m, out []float64) {
	if idx == nil {
		lm.ConditionalProbabilities(invP, m, out)
		return
	}
	for k, v := range invP {
		out[k] = lm.conditional(v, idx[k], m)
	}
}

// ConditionalProbabilityInvP is P(default_i | M = m) for the default
// threshold invP of obligor i.
func (lm *LatentModel) ConditionalProbabilityInvP(invP float64, i int, m []float64) float64 {
	return lm.conditional(invP, i, m)
}

// IntegratedExpectedValue is E[f(M)] under the systemic factor density.
func (lm *LatentModel) IntegratedExpectedValue(f func(m []float64) float64) (float64, error) {
	if err := lm.update(); err != nil {
		return 0, err
	}
	return lm.integrator.Integrate(func(m []float64) float64 {
		d := lm.policy.Density(m)
		if d == 0 {
			return 0
		}
		return d * f(m)
	}), nil
}

// IntegratedExpectedValueVector is the component-wise E[f(M)].
func (lm *LatentModel) IntegratedExpectedValueVector(f func(m []float64) []float64) ([]float64, error) {
	if err := lm.update(); err != nil {
		return nil, err
	}
	var buf []float64
	return lm.integrator.IntegrateVector(func(m []float64) []float64 {
		v := f(m)
		if buf == nil {
			buf = make([]float64, len(v))
		}
		d := lm.policy.Density(m)
		for j := range v {
			buf[j] = d * v[j]
		}
		return buf
	}), nil
}

// ProbOfDefault integrates the conditional probability back to the marginal.
func (lm *LatentModel) ProbOfDefault(i int, p float64) (float64, error) {
	if i < 0 || i >= lm.n {
		return 0, fmt.Errorf("%w: obligor %d of %d", ErrSizeMismatch, i, lm.n)
	}
	if p < minProbability {
		return 0, nil
	}
	inv, err := lm.singleInverse(p, i)
	if err != nil {
		return 0, err
	}
	return lm.IntegratedExpectedValue(func(m []float64) float64 {
		return lm.conditional(inv, i, m)
	})
}

// DefaultCorrelation is the default-indicator correlation of obligors i and j.
func (lm *LatentModel) DefaultCorrelation(i, j int, pi, pj float64) (float64, error) {
	if i < 0 || i >= lm.n || j < 0 || j >= lm.n {
		return 0, fmt.Errorf("%w: obligors %d, %d of %d", ErrSizeMismatch, i, j, lm.n)
	}
	if pi < minProbability || pj < minProbability || pi >= 1 || pj >= 1 {
		return 0, nil
	}
	if i == j {
		return 1, nil
	}
	ii, err := lm.singleInverse(pi, i)
	if err != nil {
		return 0, err
	}
	ij, err := lm.singleInverse(pj, j)
	if err != nil {
		return 0, err
	}
	e, err := lm.IntegratedExpectedValue(func(m []float64) float64 {
		return lm.conditional(ii, i, m) * lm.conditional(ij, j, m)
	})
	if err != nil {
		return 0, err
	}
	return (e - pi*pj) / math.Sqrt(pi*(1-pi)*pj*(1-pj)), nil
}

// ProbAtLeastNEvents is the probability that at least n of the obligors with
// marginal probabilities probs default.
func (lm *LatentModel) ProbAtLeastNEvents(n int, probs []float64) (float64, error) {
	invP, err := lm.InverseCumulativeY(probs)
	if err != nil {
		return 0, err
	}
	cond := make([]float64, len(probs))
	return lm.IntegratedExpectedValue(func(m []float64) float64 {
		lm.ConditionalProbabilities(invP, m, cond)
		return lossdist.ProbabilityOfAtLeastNEvents(n, cond)
	})
}

// IntegrateDistribution integrates the conditional loss distributions built
// by strategy over the systemic factors.
func (lm *LatentModel) IntegrateDistribution(strategy lossdist.Strategy, nominals, probs []float64) (*lossdist.Distribution, error) {
	return lm.IntegrateDistributionFor(strategy, nil, nominals, probs)
}

// IntegrateDistributionFor is IntegrateDistribution over the obligors idx.
func (lm *LatentModel) IntegrateDistributionFor(strategy lossdist.Strategy, idx []int, nominals, probs []float64) (*lossdist.Distribution, error) {
	if len(nominals) != len(probs) {
		return nil, fmt.Errorf("%w: %d nominals, %d probabilities", ErrSizeMismatch, len(nominals), len(probs))
	}
	invP, err := lm.InverseCumulativeYFor(idx, probs)
	if err != nil {
		return nil, err
	}
	nb := strategy.Buckets()
	cond := make([]float64, len(probs))
	out := make([]float64, 2*nb+1)
	var failure error
	// layout: bucket masses, mass-weighted averages, overflow mass
	v, err := lm.IntegratedExpectedValueVector(func(m []float64) []float64 {
		for j := range out {
			out[j] = 0
		}
		if failure != nil {
			return out
		}
		lm.ConditionalProbabilitiesFor(idx, invP, m, cond)
		d, err := strategy.Distribution(nominals, cond)
		if err != nil {
			failure = err
			return out
		}
		for j := 0; j < nb; j++ {
			mass := d.Mass(j)
			out[j] = mass
			out[nb+j] = mass * d.Average(j)
		}
		out[2*nb] = d.OverflowMass()
		return out
	})
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	dist, err := lossdist.NewDistribution(nb, 0, strategy.Maximum())
	if err != nil {
		return nil, err
	}
	for j := 0; j < nb; j++ {
		if v[j] > 0 {
			dist.AddDensity(j, v[j]/dist.Dx(j))
			dist.AddAverage(j, v[nb+j]/v[j])
		}
	}
	dist.AddOverflowMass(v[2*nb])
	dist.Normalize()
	return dist, nil
}
