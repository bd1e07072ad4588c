package lossdist

import (
	"fmt"
	"math"
)

// Homogeneous computes the exact distribution of a pool whose obligors share
// one loss amount but may differ in default probability.
type Homogeneous struct {
	nBuckets int
	maximum  float64
}

func NewHomogeneous(nBuckets int, maximum float64) (*Homogeneous, error) {
	if nBuckets < 1 || !(maximum > 0) {
		return nil, fmt.Errorf("%w: %d buckets over [0, %v]", ErrBadGrid, nBuckets, maximum)
	}
	return &Homogeneous{nBuckets: nBuckets, maximum: maximum}, nil
}

func (h *Homogeneous) Buckets() int     { return h.nBuckets }
func (h *Homogeneous) Maximum() float64 { return h.maximum }

// Probabilities returns P(k defaults) and the excess probabilities P(>= k defaults).
func (h *Homogeneous) Probabilities(p []float64) (prob, excess []float64) {
	prob = ProbabilityOfNEvents(p)
	n := len(p)
	excess = make([]float64, n+1)
	excess[n] = prob[n]
	for k := n - 1; k >= 0; k-- {
		excess[k] = excess[k+1] + prob[k]
	}
	return prob, excess
}

func (h *Homogeneous) Distribution(nominals, probabilities []float64) (*Distribution, error) {
	volume, err := commonValue(nominals, "nominals")
	if err != nil {
		return nil, err
	}
	if len(probabilities) != len(nominals) {
		return nil, fmt.Errorf("%w: %d nominals, %d probabilities", ErrSizeMismatch, len(nominals), len(probabilities))
	}
	prob, _ := h.Probabilities(probabilities)
	return fillLattice(h.nBuckets, h.maximum, volume, prob)
}

// Binomial is the homogeneous pool with one common default probability.
type Binomial struct {
	nBuckets int
	maximum  float64
}

func NewBinomial(nBuckets int, maximum float64) (*Binomial, error) {
	if nBuckets < 1 || !(maximum > 0) {
		return nil, fmt.Errorf("%w: %d buckets over [0, %v]", ErrBadGrid, nBuckets, maximum)
	}
	return &Binomial{nBuckets: nBuckets, maximum: maximum}, nil
}

func (b *Binomial) Buckets() int     { return b.nBuckets }
func (b *Binomial) Maximum() float64 { return b.maximum }

// Probabilities returns the binomial PMF for n names and the excess probabilities.
func (b *Binomial) Probabilities(n int, p float64) (prob, excess []float64) {
	prob = BinomialPMF(n, p)
	excess = make([]float64, n+1)
	excess[0] = 1
	for i := 1; i <= n; i++ {
		excess[i] = excess[i-1] - prob[i-1]
	}
	return prob, excess
}

func (b *Binomial) Distribution(nominals, probabilities []float64) (*Distribution, error) {
	volume, err := commonValue(nominals, "nominals")
	if err != nil {
		return nil, err
	}
	if len(probabilities) != len(nominals) {
		return nil, fmt.Errorf("%w: %d nominals, %d probabilities", ErrSizeMismatch, len(nominals), len(probabilities))
	}
	p, err := commonValue(probabilities, "probabilities")
	if err != nil {
		return nil, err
	}
	prob, _ := b.Probabilities(len(nominals), p)
	return fillLattice(b.nBuckets, b.maximum, volume, prob)
}

// fillLattice places P(k defaults) at loss k*volume. Lattice points beyond
// the grid become overflow mass.
func fillLattice(nBuckets int, maximum, volume float64, prob []float64) (*Distribution, error) {
	dist, err := NewDistribution(nBuckets, 0, maximum)
	if err != nil {
		return nil, err
	}
	sums := make([]float64, nBuckets)
	mass := make([]float64, nBuckets)
	for i, pr := range prob {
		loss := volume * float64(i)
		if loss > maximum {
			dist.AddOverflowMass(pr)
			continue
		}
		k, _ := dist.Locate(loss)
		mass[k] += pr
		sums[k] += pr * loss
	}
	for k := range mass {
		if mass[k] > 0 {
			dist.AddDensity(k, mass[k]/dist.Dx(k))
			dist.AddAverage(k, sums[k]/mass[k])
		}
	}
	dist.Normalize()
	return dist, nil
}

func commonValue(v []float64, what string) (float64, error) {
	if len(v) == 0 {
		return 0, fmt.Errorf("%w: no %s given", ErrSizeMismatch, what)
	}
	for i := 1; i < len(v); i++ {
		if math.Abs(v[i]-v[0]) > 1e-12*math.Max(1, math.Abs(v[0])) {
			return 0, fmt.Errorf("%w: %s differ (%v vs %v)", ErrNotHomogeneous, what, v[i], v[0])
		}
	}
	return v[0], nil
}
