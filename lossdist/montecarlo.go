package lossdist

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// MonteCarlo samples independent defaults. The same seed always gives the
// same distribution.
type MonteCarlo struct {
	nBuckets    int
	maximum     float64
	simulations int
	seed        uint64
	epsilon     float64
}

func NewMonteCarlo(nBuckets int, maximum float64, simulations int, seed uint64, epsilon float64) (*MonteCarlo, error) {
	if nBuckets < 1 || !(maximum > 0) {
		return nil, fmt.Errorf("%w: %d buckets over [0, %v]", ErrBadGrid, nBuckets, maximum)
	}
	if simulations < 1 {
		return nil, fmt.Errorf("%w: %d simulations", ErrBadGrid, simulations)
	}
	return &MonteCarlo{nBuckets: nBuckets, maximum: maximum, simulations: simulations, seed: seed, epsilon: epsilon}, nil
}

func (m *MonteCarlo) Buckets() int     { return m.nBuckets }
func (m *MonteCarlo) Maximum() float64 { return m.maximum }

func (m *MonteCarlo) Distribution(nominals, probabilities []float64) (*Distribution, error) {
	if len(nominals) != len(probabilities) {
		return nil, fmt.Errorf("%w: %d nominals, %d probabilities", ErrSizeMismatch, len(nominals), len(probabilities))
	}
	dist, err := NewDistribution(m.nBuckets, 0, m.maximum)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(m.seed))
	for i := 0; i < m.simulations; i++ {
		// epsilon keeps exact lattice losses off bucket boundaries
		dist.Add(Trial(rng, nominals, probabilities) + m.epsilon)
	}
	dist.Normalize()
	return dist, nil
}

// Trial draws one uniform per obligor and returns the total loss of the
// obligors whose draw is at or below their default probability.
func Trial(rng *rand.Rand, nominals, probabilities []float64) float64 {
	var e float64
	for j := range nominals {
		if rng.Float64() <= probabilities[j] {
			e += nominals[j]
		}
	}
	return e
}
