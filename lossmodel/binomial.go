package lossmodel

import (
	"math"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/lossdist"
	"gonum.org/v1/gonum/floats"
)

const binomialEpsilon = 1e-14

// Binomial approximates the conditional loss distribution of the live names
// by an adjusted binomial matching its first two moments (O'Kane 2007) and
// integrates it over the systemic factors. Loss levels are multiples of the
// average loss given default. The copula is whatever policy the latent model
// carries, so Gaussian and Student-t versions share this type.
type Binomial struct {
	base
	lm *copula.LatentModel
}

// NewBinomial observes lm; recoveries may be nil to use the pool quotes.
func NewBinomial(lm *copula.LatentModel, recoveries []float64) *Binomial {
	m := &Binomial{base: base{recoveries: recoveries}, lm: lm}
	if lm != nil {
		lm.Register(m)
	}
	return m
}

func (m *Binomial) Attach(bk *basket.Basket) error {
	if err := m.checkLatent(m.lm, bk); err != nil {
		return err
	}
	return m.reset(bk)
}

// lossLevels are k times the average loss given default, k = 0..n.
func (m *Binomial) lossLevels() []float64 {
	n := len(m.lgds)
	avg := floats.Sum(m.lgds) / float64(n)
	out := make([]float64, n+1)
	for k := range out {
		out[k] = float64(k) * avg
	}
	return out
}

// conditionalDensity is the adjusted binomial given conditional default
// probabilities cond.
func (m *Binomial) conditionalDensity(cond []float64) []float64 {
	n := len(cond)
	fn := float64(n)
	avgLgd := floats.Sum(m.lgds) / fn
	out := make([]float64, n+1)
	if avgLgd <= binomialEpsilon {
		out[0] = 1
		return out
	}
	avgProb := floats.Dot(cond, m.lgds) / (avgLgd * fn)
	switch {
	case avgProb >= 1-binomialEpsilon:
		out[n] = 1
		return out
	case avgProb <= binomialEpsilon:
		out[0] = 1
		return out
	}
	// variance of the loss counted in average LGDs
	var target float64
	for i, p := range cond {
		w := m.lgds[i] / avgLgd
		target += p * (1 - p) * w * w
	}
	mean := avgProb * fn
	lo := math.Min(fn-1, math.Floor(mean))
	hi := lo + 1
	twoPoint := (hi - mean) * (mean - lo)
	alpha := 1.0
	if den := fn*avgProb*(1-avgProb) - twoPoint; den > binomialEpsilon {
		alpha = math.Min(math.Max((target-twoPoint)/den, 0), 1)
	}
	for k, v := range lossdist.BinomialPMF(n, avgProb) {
		out[k] = alpha * v
	}
	out[int(lo)] += (1 - alpha) * (hi - mean)
	out[int(hi)] += (1 - alpha) * (mean - lo)
	return out
}

func (m *Binomial) thresholds(d time.Time) ([]float64, error) {
	probs, err := m.probabilities(d)
	if err != nil {
		return nil, err
	}
	return m.lm.InverseCumulativeYFor(m.live, probs)
}

func (m *Binomial) ExpectedTrancheLoss(d time.Time) (float64, error) {
	return m.memo(d, func() (float64, error) {
		invP, err := m.thresholds(d)
		if err != nil {
			return 0, err
		}
		levels := m.lossLevels()
		payoff := make([]float64, len(levels))
		for k, l := range levels {
			payoff[k] = m.trancheLoss(l)
		}
		cond := make([]float64, len(invP))
		return m.lm.IntegratedExpectedValue(func(f []float64) float64 {
			m.lm.ConditionalProbabilitiesFor(m.live, invP, f, cond)
			return floats.Dot(m.conditionalDensity(cond), payoff)
		})
	})
}

// LossDistribution integrates the adjusted binomial over the factors.
func (m *Binomial) LossDistribution(d time.Time) ([]LossPoint, error) {
	if err := m.checkAttached(); err != nil {
		return nil, err
	}
	if len(m.live) == 0 {
		return []LossPoint{{Loss: 0, Cumulative: 1}}, nil
	}
	levels := m.lossLevels()
	if !d.After(m.basket.RefDate()) {
		probs := make([]float64, len(levels))
		probs[0] = 1
		return cumulative(levels, probs), nil
	}
	invP, err := m.thresholds(d)
	if err != nil {
		return nil, err
	}
	cond := make([]float64, len(invP))
	probs, err := m.lm.IntegratedExpectedValueVector(func(f []float64) []float64 {
		m.lm.ConditionalProbabilitiesFor(m.live, invP, f, cond)
		return m.conditionalDensity(cond)
	})
	if err != nil {
		return nil, err
	}
	return cumulative(levels, probs), nil
}

func (m *Binomial) Percentile(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.percentile(pts, q)
}

func (m *Binomial) ExpectedShortfall(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.expectedShortfall(pts, q)
}
