package copula

import (
	"golang.org/x/exp/rand"
)

// Sampler draws factor and latent variable realizations from a seeded source.
type Sampler struct {
	lm      *LatentModel
	factors []Rander
	idio    Rander
}

// NewSampler returns a sampler whose draws depend only on seed.
func (lm *LatentModel) NewSampler(seed uint64) (*Sampler, error) {
	if err := lm.update(); err != nil {
		return nil, err
	}
	src := rand.NewSource(seed)
	f, z := lm.policy.Variates(src, lm.nFactors)
	return &Sampler{lm: lm, factors: f, idio: z}, nil
}

// Factors fills m with one draw of the systemic factors.
func (s *Sampler) Factors(m []float64) {
	for k, r := range s.factors {
		m[k] = r.Rand()
	}
}

// Latent draws Y_i given the systemic factors m.
func (s *Sampler) Latent(i int, m []float64) float64 {
	row := s.lm.loadings.RawRowView(i)
	var y float64
	for k, a := range row {
		y += a * m[k]
	}
	return y + s.lm.idio[i]*s.idio.Rand()
}
