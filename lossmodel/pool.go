package lossmodel

import (
	"fmt"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/lossdist"
)

// poolModel integrates a conditional loss distribution strategy over the
// systemic factors on a grid covering the live notional.
type poolModel struct {
	base
	lm       *copula.LatentModel
	nBuckets int
	strategy func(nBuckets int, maximum float64) (lossdist.Strategy, error)

	dists map[time.Time]*lossdist.Distribution
}

// InhomogeneousPool uses Hull-White bucketing, so names may differ in
// notional, recovery and default probability.
type InhomogeneousPool struct {
	poolModel
}

// HomogeneousPool uses the exact homogeneous recursion and requires every
// live name to have the same loss given default.
type HomogeneousPool struct {
	poolModel
}

func NewInhomogeneousPool(lm *copula.LatentModel, recoveries []float64, nBuckets int) (*InhomogeneousPool, error) {
	m := &InhomogeneousPool{}
	err := m.init(lm, recoveries, nBuckets, func(n int, max float64) (lossdist.Strategy, error) {
		return lossdist.NewBucketing(n, max, 0)
	})
	if err != nil {
		return nil, err
	}
	lm.Register(m)
	return m, nil
}

func NewHomogeneousPool(lm *copula.LatentModel, recoveries []float64, nBuckets int) (*HomogeneousPool, error) {
	m := &HomogeneousPool{}
	err := m.init(lm, recoveries, nBuckets, newHomogeneousStrategy)
	if err != nil {
		return nil, err
	}
	lm.Register(m)
	return m, nil
}

// homogeneousStrategy uses the binomial distribution whenever the conditional
// default probabilities coincide, which they do for identical names.
type homogeneousStrategy struct {
	*lossdist.Homogeneous
	binomial *lossdist.Binomial
}

func newHomogeneousStrategy(n int, max float64) (lossdist.Strategy, error) {
	h, err := lossdist.NewHomogeneous(n, max)
	if err != nil {
		return nil, err
	}
	b, err := lossdist.NewBinomial(n, max)
	if err != nil {
		return nil, err
	}
	return homogeneousStrategy{Homogeneous: h, binomial: b}, nil
}

func (s homogeneousStrategy) Distribution(nominals, probabilities []float64) (*lossdist.Distribution, error) {
	for _, p := range probabilities {
		if p != probabilities[0] {
			return s.Homogeneous.Distribution(nominals, probabilities)
		}
	}
	return s.binomial.Distribution(nominals, probabilities)
}

func (m *poolModel) init(lm *copula.LatentModel, recoveries []float64, nBuckets int, strategy func(int, float64) (lossdist.Strategy, error)) error {
	if lm == nil {
		return fmt.Errorf("%w: nil latent model", ErrBadParameter)
	}
	if nBuckets < 1 {
		return fmt.Errorf("%w: %d buckets", ErrBadParameter, nBuckets)
	}
	m.base = base{recoveries: recoveries}
	m.lm = lm
	m.nBuckets = nBuckets
	m.strategy = strategy
	return nil
}

func (m *poolModel) Attach(bk *basket.Basket) error {
	if err := m.checkLatent(m.lm, bk); err != nil {
		return err
	}
	if err := m.reset(bk); err != nil {
		return err
	}
	m.dists = map[time.Time]*lossdist.Distribution{}
	return nil
}

func (m *poolModel) Invalidate() {
	m.base.Invalidate()
	m.dists = map[time.Time]*lossdist.Distribution{}
}

// Distribution is the integrated loss distribution of the live names at d.
func (m *poolModel) Distribution(d time.Time) (*lossdist.Distribution, error) {
	if err := m.checkAttached(); err != nil {
		return nil, err
	}
	if dist, ok := m.dists[d]; ok {
		return dist, nil
	}
	maximum := m.notional
	if maximum <= 0 {
		maximum = 1
	}
	strategy, err := m.strategy(m.nBuckets, maximum)
	if err != nil {
		return nil, err
	}
	probs, err := m.probabilities(d)
	if err != nil {
		return nil, err
	}
	dist, err := m.lm.IntegrateDistributionFor(strategy, m.live, m.lgds, probs)
	if err != nil {
		return nil, err
	}
	m.dists[d] = dist
	return dist, nil
}

func (m *poolModel) ExpectedTrancheLoss(d time.Time) (float64, error) {
	return m.memo(d, func() (float64, error) {
		dist, err := m.Distribution(d)
		if err != nil {
			return 0, err
		}
		return dist.TrancheExpectedValue(m.attach, m.detach), nil
	})
}

// LossDistribution places each bucket's mass at its average loss; mass lost
// off the grid sits at the full live notional.
func (m *poolModel) LossDistribution(d time.Time) ([]LossPoint, error) {
	dist, err := m.Distribution(d)
	if err != nil {
		return nil, err
	}
	losses := make([]float64, 0, dist.Size()+1)
	probs := make([]float64, 0, dist.Size()+1)
	for i := 0; i < dist.Size(); i++ {
		losses = append(losses, dist.Average(i))
		probs = append(probs, dist.Mass(i))
	}
	if o := dist.OverflowMass(); o > 0 {
		losses = append(losses, m.notional)
		probs = append(probs, o)
	}
	return cumulative(losses, probs), nil
}

func (m *poolModel) Percentile(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.percentile(pts, q)
}

func (m *poolModel) ExpectedShortfall(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.expectedShortfall(pts, q)
}

// ProbOverLoss is P(L > x) for a portfolio loss amount x.
func (m *poolModel) ProbOverLoss(d time.Time, x float64) (float64, error) {
	dist, err := m.Distribution(d)
	if err != nil {
		return 0, err
	}
	if x < dist.XMin() {
		return 1, nil
	}
	return 1 - dist.CumulativeDensity(x), nil
}
