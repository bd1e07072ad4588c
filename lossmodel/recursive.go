package lossmodel

import (
	"fmt"
	"math"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"gonum.org/v1/gonum/floats"
)

// Recursive builds the exact conditional loss distribution of the live names
// on a lattice of loss units (Andersen, Sidenius and Basu 2003). Each name's
// loss given default is rounded to a whole number of units, the unit being
// the smallest positive LGD divided by unitsPerLoss.
type Recursive struct {
	base
	lm           *copula.LatentModel
	unitsPerLoss int

	unit    float64
	weights []int
	total   int
}

// maxLossUnits bounds the lattice size.
const maxLossUnits = 1 << 20

// NewRecursive observes lm. unitsPerLoss must be at least 1.
func NewRecursive(lm *copula.LatentModel, recoveries []float64, unitsPerLoss int) (*Recursive, error) {
	if unitsPerLoss < 1 {
		return nil, fmt.Errorf("%w: %d units per loss", ErrBadParameter, unitsPerLoss)
	}
	m := &Recursive{base: base{recoveries: recoveries}, lm: lm, unitsPerLoss: unitsPerLoss}
	if lm != nil {
		lm.Register(m)
	}
	return m, nil
}

func (m *Recursive) Attach(bk *basket.Basket) error {
	if err := m.checkLatent(m.lm, bk); err != nil {
		return err
	}
	if err := m.reset(bk); err != nil {
		return err
	}
	smallest := math.Inf(1)
	for _, l := range m.lgds {
		if l > 0 && l < smallest {
			smallest = l
		}
	}
	m.unit = 1
	if !math.IsInf(smallest, 1) {
		m.unit = smallest / float64(m.unitsPerLoss)
	}
	weights := make([]int, len(m.lgds))
	total := 0.0
	for i, l := range m.lgds {
		w := math.Floor(l/m.unit + 0.5)
		total += w
		if total > maxLossUnits {
			m.basket, m.weights, m.total = nil, nil, 0
			return fmt.Errorf("%w: loss lattice needs more than %d units", ErrBadParameter, maxLossUnits)
		}
		weights[i] = int(w)
	}
	m.weights, m.total = weights, int(total)
	return nil
}

// LossUnit is the lattice spacing.
func (m *Recursive) LossUnit() float64 { return m.unit }

// conditionalDensity returns P(L = k units | factors) by adding one name at a time.
func (m *Recursive) conditionalDensity(cond []float64) []float64 {
	out := make([]float64, m.total+1)
	out[0] = 1
	top := 0
	for i, p := range cond {
		w := m.weights[i]
		if w == 0 || p == 0 {
			continue
		}
		top += w
		for k := top; k >= 0; k-- {
			v := out[k] * (1 - p)
			if k >= w {
				v += out[k-w] * p
			}
			out[k] = v
		}
	}
	return out
}

func (m *Recursive) thresholds(d time.Time) ([]float64, error) {
	probs, err := m.probabilities(d)
	if err != nil {
		return nil, err
	}
	return m.lm.InverseCumulativeYFor(m.live, probs)
}

func (m *Recursive) levels() []float64 {
	out := make([]float64, m.total+1)
	for k := range out {
		out[k] = float64(k) * m.unit
	}
	return out
}

func (m *Recursive) ExpectedTrancheLoss(d time.Time) (float64, error) {
	return m.memo(d, func() (float64, error) {
		invP, err := m.thresholds(d)
		if err != nil {
			return 0, err
		}
		levels := m.levels()
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

// LossProbability returns P(L = k units), k = 0..total units.
func (m *Recursive) LossProbability(d time.Time) ([]float64, error) {
	if err := m.checkAttached(); err != nil {
		return nil, err
	}
	if !d.After(m.basket.RefDate()) || len(m.live) == 0 {
		out := make([]float64, m.total+1)
		out[0] = 1
		return out, nil
	}
	invP, err := m.thresholds(d)
	if err != nil {
		return nil, err
	}
	cond := make([]float64, len(invP))
	return m.lm.IntegratedExpectedValueVector(func(f []float64) []float64 {
		m.lm.ConditionalProbabilitiesFor(m.live, invP, f, cond)
		return m.conditionalDensity(cond)
	})
}

func (m *Recursive) LossDistribution(d time.Time) ([]LossPoint, error) {
	probs, err := m.LossProbability(d)
	if err != nil {
		return nil, err
	}
	return cumulative(m.levels(), probs), nil
}

func (m *Recursive) Percentile(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.percentile(pts, q)
}

func (m *Recursive) ExpectedShortfall(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.expectedShortfall(pts, q)
}
