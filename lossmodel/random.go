package lossmodel

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/utils"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// RandomDefault simulates the latent variables of the live names and counts
// a default when a name's variable falls below its threshold at the date.
// Every evaluation reseeds the generator, so results depend only on the seed.
type RandomDefault struct {
	base
	lm          *copula.LatentModel
	simulations int
	seed        uint64

	losses map[time.Time][]float64
}

func NewRandomDefault(lm *copula.LatentModel, recoveries []float64, simulations int, seed uint64) (*RandomDefault, error) {
	if lm == nil {
		return nil, fmt.Errorf("%w: nil latent model", ErrBadParameter)
	}
	if simulations < 2 {
		return nil, fmt.Errorf("%w: %d simulations", ErrBadParameter, simulations)
	}
	m := &RandomDefault{base: base{recoveries: recoveries}, lm: lm, simulations: simulations, seed: seed}
	lm.Register(m)
	return m, nil
}

func (m *RandomDefault) Attach(bk *basket.Basket) error {
	if err := m.checkLatent(m.lm, bk); err != nil {
		return err
	}
	if err := m.reset(bk); err != nil {
		return err
	}
	m.losses = map[time.Time][]float64{}
	return nil
}

func (m *RandomDefault) Invalidate() {
	m.base.Invalidate()
	m.losses = map[time.Time][]float64{}
}

// Simulations is the number of scenarios per date.
func (m *RandomDefault) Simulations() int { return m.simulations }

// PortfolioLosses returns the simulated live portfolio losses at d, sorted.
func (m *RandomDefault) PortfolioLosses(d time.Time) ([]float64, error) {
	if err := m.checkAttached(); err != nil {
		return nil, err
	}
	if l, ok := m.losses[d]; ok {
		return l, nil
	}
	probs, err := m.probabilities(d)
	if err != nil {
		return nil, err
	}
	invP, err := m.lm.InverseCumulativeYFor(m.live, probs)
	if err != nil {
		return nil, err
	}
	sampler, err := m.lm.NewSampler(m.seed)
	if err != nil {
		return nil, err
	}
	factors := make([]float64, m.lm.NumFactors())
	out := make([]float64, m.simulations)
	for s := range out {
		sampler.Factors(factors)
		var loss float64
		for k, i := range m.live {
			// draw every name so the stream does not depend on the thresholds
			y := sampler.Latent(i, factors)
			if y <= invP[k] {
				loss += m.lgds[k]
			}
		}
		out[s] = loss
	}
	sort.Float64s(out)
	m.losses[d] = out
	log.Debug().Int("simulations", m.simulations).Str("date", d.Format(utils.Layout)).Msg("default simulation finished")
	return out, nil
}

// ExpectedTrancheLossWithError returns the Monte-Carlo mean of the tranche
// loss and its standard error.
func (m *RandomDefault) ExpectedTrancheLossWithError(d time.Time) (float64, float64, error) {
	if err := m.checkAttached(); err != nil {
		return 0, 0, err
	}
	if !d.After(m.basket.RefDate()) || len(m.live) == 0 {
		return 0, 0, nil
	}
	losses, err := m.PortfolioLosses(d)
	if err != nil {
		return 0, 0, err
	}
	tl := make([]float64, len(losses))
	for i, l := range losses {
		tl[i] = m.trancheLoss(l)
	}
	mean, sd := stat.MeanStdDev(tl, nil)
	return mean, sd / math.Sqrt(float64(len(tl))), nil
}

func (m *RandomDefault) ExpectedTrancheLoss(d time.Time) (float64, error) {
	return m.memo(d, func() (float64, error) {
		v, _, err := m.ExpectedTrancheLossWithError(d)
		return v, err
	})
}

func (m *RandomDefault) LossDistribution(d time.Time) ([]LossPoint, error) {
	if err := m.checkAttached(); err != nil {
		return nil, err
	}
	if !d.After(m.basket.RefDate()) || len(m.live) == 0 {
		return []LossPoint{{Loss: 0, Cumulative: 1}}, nil
	}
	losses, err := m.PortfolioLosses(d)
	if err != nil {
		return nil, err
	}
	w := 1 / float64(len(losses))
	probs := make([]float64, len(losses))
	for i := range probs {
		probs[i] = w
	}
	return cumulative(losses, probs), nil
}

func (m *RandomDefault) Percentile(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.percentile(pts, q)
}

func (m *RandomDefault) ExpectedShortfall(d time.Time, q float64) (float64, error) {
	pts, err := m.LossDistribution(d)
	if err != nil {
		return 0, err
	}
	return m.expectedShortfall(pts, q)
}
