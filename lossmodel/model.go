// Package lossmodel implements default loss models for tranched baskets.
// Every model attaches to a basket, reads the basket's live names and
// remaining tranche amounts on attach, and memoizes expected tranche losses
// per date until the basket or an observed quote changes. Models are not
// safe for concurrent use.
package lossmodel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrNotAttached  = errors.New("loss model not attached to a basket")
	ErrSizeMismatch = errors.New("sizes differ")
	ErrCorrelation  = errors.New("correlation out of range")
	ErrPercentile   = errors.New("percentile out of range")
	ErrBadParameter = errors.New("bad model parameter")
)

// LossPoint is one point of a cumulative loss distribution.
type LossPoint struct {
	Loss       float64
	Cumulative float64
}

// Distributor is a loss model that also exposes the portfolio loss
// distribution of the live names.
type Distributor interface {
	basket.LossModel
	// LossDistribution returns portfolio loss levels with P(L <= loss).
	LossDistribution(d time.Time) ([]LossPoint, error)
	// Percentile is the q-quantile of the tranche loss.
	Percentile(d time.Time, q float64) (float64, error)
	// ExpectedShortfall is the mean tranche loss beyond the q-quantile.
	ExpectedShortfall(d time.Time, q float64) (float64, error)
}

// base carries what every model reads from its basket.
type base struct {
	basket     *basket.Basket
	recoveries []float64

	live      []int
	notionals []float64
	rr        []float64
	lgds      []float64
	notional  float64
	attach    float64
	detach    float64

	etl map[time.Time]float64
}

// reset caches the basket's remaining state. recoveries, when set, is indexed
// like the basket's names.
func (b *base) reset(bk *basket.Basket) error {
	if bk == nil {
		return ErrNotAttached
	}
	if err := bk.CheckTranche(); err != nil {
		return err
	}
	rr, err := bk.RemainingRecoveries(b.recoveries)
	if err != nil {
		return err
	}
	lgds, err := bk.LGDs(b.recoveries)
	if err != nil {
		return err
	}
	b.basket = bk
	b.live = bk.LiveList()
	b.notionals = bk.RemainingNotionals()
	b.rr = rr
	b.lgds = lgds
	b.notional = bk.RemainingNotional()
	b.attach = math.Min(bk.RemainingAttachmentAmount(), b.notional)
	b.detach = math.Min(bk.RemainingDetachmentAmount(), b.notional)
	b.etl = map[time.Time]float64{}
	return nil
}

// Invalidate drops memoized results.
func (b *base) Invalidate() {
	b.etl = map[time.Time]float64{}
}

func (b *base) checkAttached() error {
	if b.basket == nil {
		return ErrNotAttached
	}
	return nil
}

func (b *base) checkLatent(lm *copula.LatentModel, bk *basket.Basket) error {
	if lm == nil {
		return fmt.Errorf("%w: nil latent model", ErrBadParameter)
	}
	if lm.Size() != bk.Size() {
		return fmt.Errorf("%w: latent model has %d obligors, basket %d", ErrSizeMismatch, lm.Size(), bk.Size())
	}
	return nil
}

// memo evaluates f once per date. Failed evaluations are not stored.
func (b *base) memo(d time.Time, f func() (float64, error)) (float64, error) {
	if err := b.checkAttached(); err != nil {
		return 0, err
	}
	if v, ok := b.etl[d]; ok {
		return v, nil
	}
	if !d.After(b.basket.RefDate()) || len(b.live) == 0 {
		b.etl[d] = 0
		return 0, nil
	}
	v, err := f()
	if err != nil {
		return 0, err
	}
	b.etl[d] = v
	return v, nil
}

// trancheLoss maps a portfolio loss of the live names to the tranche.
func (b *base) trancheLoss(loss float64) float64 {
	return math.Min(math.Max(loss-b.attach, 0), b.detach-b.attach)
}

func (b *base) probabilities(d time.Time) ([]float64, error) {
	return b.basket.RemainingProbabilities(d)
}

// averageRecovery is the notional weighted recovery rate of the live names.
func (b *base) averageRecovery() float64 {
	if b.notional == 0 {
		return 0
	}
	return floats.Dot(b.rr, b.notionals) / b.notional
}

// cumulative turns loss levels and probabilities into sorted cumulative points.
func cumulative(losses, probs []float64) []LossPoint {
	pts := make([]LossPoint, len(losses))
	for i := range losses {
		pts[i] = LossPoint{Loss: losses[i], Cumulative: probs[i]}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Loss < pts[j].Loss })
	// merge equal losses
	out := pts[:0]
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1].Loss == p.Loss {
			out[len(out)-1].Cumulative += p.Cumulative
			continue
		}
		out = append(out, p)
	}
	var sum float64
	for i := range out {
		sum += out[i].Cumulative
		out[i].Cumulative = math.Min(sum, 1)
	}
	return out
}

// percentile interpolates the q-quantile of the portfolio loss and maps it
// to the tranche.
func (b *base) percentile(pts []LossPoint, q float64) (float64, error) {
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, fmt.Errorf("%w: %v", ErrPercentile, q)
	}
	if len(pts) == 0 {
		return 0, nil
	}
	if pts[0].Cumulative >= q || len(pts) == 1 {
		return b.trancheLoss(pts[0].Loss), nil
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Cumulative > q })
	if i == len(pts) {
		return b.trancheLoss(pts[len(pts)-1].Loss), nil
	}
	lo, hi := pts[i-1], pts[i]
	loss := hi.Loss - (hi.Loss-lo.Loss)*(hi.Cumulative-q)/(hi.Cumulative-lo.Cumulative)
	return b.trancheLoss(loss), nil
}

// expectedShortfall averages the tranche loss over the upper 1-q tail of
// the distribution, splitting the point that straddles q.
func (b *base) expectedShortfall(pts []LossPoint, q float64) (float64, error) {
	if q < 0 || q >= 1 || math.IsNaN(q) {
		return 0, fmt.Errorf("%w: %v", ErrPercentile, q)
	}
	if len(pts) == 0 {
		return 0, nil
	}
	tail := 1 - q
	var sum, acc float64
	for i := len(pts) - 1; i >= 0 && acc < tail; i-- {
		mass := pts[i].Cumulative
		if i > 0 {
			mass -= pts[i-1].Cumulative
		}
		if i == len(pts)-1 {
			mass += 1 - pts[i].Cumulative
		}
		mass = math.Min(math.Max(mass, 0), tail-acc)
		sum += mass * b.trancheLoss(pts[i].Loss)
		acc += mass
	}
	return sum / tail, nil
}
