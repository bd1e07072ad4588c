package lossmodel

import (
	"fmt"
	"math"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/quote"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianLHP is the Vasicek large homogeneous pool model. The live names are
// replaced by an infinitely granular pool with their notional weighted
// default probability and recovery rate, and a single correlation.
type GaussianLHP struct {
	base
	correl *quote.Quote
}

// NewGaussianLHP observes correl, so setting the quote drops cached values.
// recoveries may be nil to use the pool's recovery quotes.
func NewGaussianLHP(correl *quote.Quote, recoveries []float64) (*GaussianLHP, error) {
	if correl == nil {
		return nil, fmt.Errorf("%w: nil correlation quote", ErrBadParameter)
	}
	m := &GaussianLHP{base: base{recoveries: recoveries}, correl: correl}
	correl.Register(m)
	return m, nil
}

func (m *GaussianLHP) Attach(bk *basket.Basket) error {
	return m.reset(bk)
}

func (m *GaussianLHP) correlation() (float64, error) {
	rho := m.correl.Value()
	if rho < 0 || rho > 1 || math.IsNaN(rho) {
		return 0, fmt.Errorf("%w: %v", ErrCorrelation, rho)
	}
	return rho, nil
}

// averageProbability is the notional weighted default probability by d.
func (m *GaussianLHP) averageProbability(d time.Time) (float64, error) {
	probs, err := m.probabilities(d)
	if err != nil {
		return 0, err
	}
	if m.notional == 0 {
		return 0, nil
	}
	return floats.Dot(probs, m.notionals) / m.notional, nil
}

func (m *GaussianLHP) ExpectedTrancheLoss(d time.Time) (float64, error) {
	return m.memo(d, func() (float64, error) {
		rho, err := m.correlation()
		if err != nil {
			return 0, err
		}
		p, err := m.averageProbability(d)
		if err != nil {
			return 0, err
		}
		if m.notional == 0 {
			return 0, nil
		}
		v := lhpTrancheLoss(p, m.averageRecovery(), rho, m.attach/m.notional, m.detach/m.notional)
		log.Debug().Float64("correlation", rho).Float64("probability", p).Float64("etl", v*m.notional).Msg("lhp tranche loss")
		return v * m.notional, nil
	})
}

// Percentile is the q-quantile of the tranche loss.
func (m *GaussianLHP) Percentile(d time.Time, q float64) (float64, error) {
	if err := m.checkAttached(); err != nil {
		return 0, err
	}
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, fmt.Errorf("%w: %v", ErrPercentile, q)
	}
	rho, err := m.correlation()
	if err != nil {
		return 0, err
	}
	p, err := m.averageProbability(d)
	if err != nil {
		return 0, err
	}
	lgd := 1 - m.averageRecovery()
	var frac float64
	switch {
	case p <= 0:
	case p >= 1:
		frac = lgd
	case rho == 0:
		frac = lgd * p
	case rho == 1:
		if q > 1-p {
			frac = lgd
		}
	case q >= 1:
		frac = lgd
	case q <= 0:
	default:
		c := distuv.UnitNormal.Quantile(p)
		frac = lgd * distuv.UnitNormal.CDF((c+math.Sqrt(rho)*distuv.UnitNormal.Quantile(q))/math.Sqrt(1-rho))
	}
	return m.trancheLoss(frac * m.notional), nil
}

// ProbOverLoss is the probability that the live portfolio loses more than
// the fraction x of its notional.
func (m *GaussianLHP) ProbOverLoss(d time.Time, x float64) (float64, error) {
	if err := m.checkAttached(); err != nil {
		return 0, err
	}
	rho, err := m.correlation()
	if err != nil {
		return 0, err
	}
	p, err := m.averageProbability(d)
	if err != nil {
		return 0, err
	}
	lgd := 1 - m.averageRecovery()
	switch {
	case x >= lgd || p <= 0:
		return 0, nil
	case x < 0:
		return 1, nil
	case rho == 0:
		if lgd*p > x {
			return 1, nil
		}
		return 0, nil
	case rho == 1 || p >= 1:
		return p, nil
	}
	return distuv.UnitNormal.CDF(lhpThreshold(p, rho, x/lgd)), nil
}

// ExpectedRecovery is the expected amount recovered on live names defaulting by d.
func (m *GaussianLHP) ExpectedRecovery(d time.Time) (float64, error) {
	if err := m.checkAttached(); err != nil {
		return 0, err
	}
	probs, err := m.probabilities(d)
	if err != nil {
		return 0, err
	}
	var s float64
	for i, p := range probs {
		s += p * m.notionals[i] * m.rr[i]
	}
	return s, nil
}

// lhpThreshold is the factor level below which the pool loses more than the
// fraction k of its loss given default.
func lhpThreshold(p, rho, k float64) float64 {
	c := distuv.UnitNormal.Quantile(p)
	return (c - math.Sqrt(1-rho)*distuv.UnitNormal.Quantile(k)) / math.Sqrt(rho)
}

// lhpTrancheLoss is the expected loss of tranche [a, d], as fractions of the
// pool notional, for a pool with default probability p and recovery r.
func lhpTrancheLoss(p, r, rho, a, d float64) float64 {
	lgd := 1 - r
	if p <= 0 || lgd <= 0 || d <= a {
		return 0
	}
	capped := func(l float64) float64 { return math.Min(math.Max(l-a, 0), d-a) }
	switch {
	case p >= 1:
		return capped(lgd)
	case rho == 0:
		return capped(lgd * p)
	case rho == 1:
		return p * capped(lgd)
	}
	c := distuv.UnitNormal.Quantile(p)
	beta := math.Sqrt(rho)
	// E[(L-K)+] = lgd*Phi2(c, m, beta) - K*Phi(m), m the loss threshold of K
	excess := func(k float64) float64 {
		switch {
		case k >= lgd:
			return 0
		case k <= 0:
			return lgd * p
		}
		m := lhpThreshold(p, rho, k/lgd)
		return lgd*copula.BivariateNormalCDF(c, m, beta) - k*distuv.UnitNormal.CDF(m)
	}
	return math.Max(excess(a)-excess(d), 0)
}
