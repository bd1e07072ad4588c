// Package basecorr prices tranches off a base correlation surface by
// composing two equity-tranche loss models.
package basecorr

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/termstructure"
	"github.com/banachtech/basket-credit/utils"
	"gonum.org/v1/gonum/interp"
)

var (
	ErrNotIncreasing = errors.New("not strictly increasing")
	ErrSizeMismatch  = errors.New("sizes differ")
	ErrLossLevel     = errors.New("bad loss level")
	ErrTenor         = errors.New("bad tenor")
)

// Surface is a base correlation term structure: correlation quotes by tenor
// and detachment loss level, interpolated bilinearly. Queries past the last
// tenor or outside the quoted loss levels are flat and need extrapolate set.
type Surface struct {
	quote.Observable
	refDate  time.Time
	dayCount string
	tenors   []utils.Period
	times    []float64
	levels   []float64
	quotes   [][]*quote.Quote
}

// NewSurface takes quotes[i][j] for tenor i and loss level j.
func NewSurface(refDate time.Time, tenors []utils.Period, levels []float64, quotes [][]*quote.Quote, dayCount string) (*Surface, error) {
	if len(tenors) == 0 || len(levels) == 0 {
		return nil, fmt.Errorf("%w: empty surface", ErrSizeMismatch)
	}
	if len(quotes) != len(tenors) {
		return nil, fmt.Errorf("%w: %d quote rows for %d tenors", ErrSizeMismatch, len(quotes), len(tenors))
	}
	times := make([]float64, len(tenors))
	for i, p := range tenors {
		t, err := utils.YearFraction(refDate, p.Advance(refDate, 1), dayCount)
		if err != nil {
			return nil, err
		}
		if t <= 0 {
			return nil, fmt.Errorf("%w: %s is not after the reference date", ErrTenor, p)
		}
		if i > 0 && t <= times[i-1] {
			return nil, fmt.Errorf("%w: tenor %s after %s", ErrNotIncreasing, p, tenors[i-1])
		}
		times[i] = t
	}
	for j, l := range levels {
		if l <= 0 || l > 1 {
			return nil, fmt.Errorf("%w: %v not in (0, 1]", ErrLossLevel, l)
		}
		if j > 0 && l <= levels[j-1] {
			return nil, fmt.Errorf("%w: loss level %v after %v", ErrNotIncreasing, l, levels[j-1])
		}
	}
	s := &Surface{
		refDate:  refDate,
		dayCount: dayCount,
		tenors:   append([]utils.Period(nil), tenors...),
		times:    times,
		levels:   append([]float64(nil), levels...),
		quotes:   make([][]*quote.Quote, len(quotes)),
	}
	for i, row := range quotes {
		if len(row) != len(levels) {
			return nil, fmt.Errorf("%w: tenor %s has %d quotes for %d loss levels", ErrSizeMismatch, tenors[i], len(row), len(levels))
		}
		for j, q := range row {
			if q == nil {
				return nil, fmt.Errorf("%w: missing quote at %s, %v", ErrSizeMismatch, tenors[i], levels[j])
			}
			q.Register(s)
		}
		s.quotes[i] = append([]*quote.Quote(nil), row...)
	}
	return s, nil
}

// NewFlatSurface quotes one correlation at every tenor and loss level.
func NewFlatSurface(refDate time.Time, tenors []utils.Period, levels []float64, correl *quote.Quote, dayCount string) (*Surface, error) {
	quotes := make([][]*quote.Quote, len(tenors))
	for i := range quotes {
		quotes[i] = make([]*quote.Quote, len(levels))
		for j := range levels {
			quotes[i][j] = correl
		}
	}
	return NewSurface(refDate, tenors, levels, quotes, dayCount)
}

// Invalidate forwards quote changes to observers of the surface.
func (s *Surface) Invalidate() { s.NotifyObservers() }

func (s *Surface) ReferenceDate() time.Time { return s.refDate }
func (s *Surface) Tenors() []utils.Period   { return append([]utils.Period(nil), s.tenors...) }
func (s *Surface) LossLevels() []float64    { return append([]float64(nil), s.levels...) }
func (s *Surface) MaxDate() time.Time       { return s.tenors[len(s.tenors)-1].Advance(s.refDate, 1) }

// Correlation interpolates the surface at d and loss level.
func (s *Surface) Correlation(d time.Time, level float64, extrapolate bool) (float64, error) {
	t, err := utils.YearFraction(s.refDate, d, s.dayCount)
	if err != nil {
		return 0, err
	}
	return s.CorrelationAt(t, level, extrapolate)
}

// CorrelationAt interpolates the surface at time t in years and loss level.
// Times before the first tenor take the first tenor's quotes.
func (s *Surface) CorrelationAt(t, level float64, extrapolate bool) (float64, error) {
	if t < 0 || math.IsNaN(t) {
		return 0, fmt.Errorf("%w: negative time %v", termstructure.ErrExtrapolation, t)
	}
	if level < 0 || level > 1 || math.IsNaN(level) {
		return 0, fmt.Errorf("%w: %v", ErrLossLevel, level)
	}
	if !extrapolate {
		if t > s.times[len(s.times)-1] {
			return 0, fmt.Errorf("%w: time %v beyond %v", termstructure.ErrExtrapolation, t, s.times[len(s.times)-1])
		}
		if level < s.levels[0] || level > s.levels[len(s.levels)-1] {
			return 0, fmt.Errorf("%w: loss level %v outside [%v, %v]", termstructure.ErrExtrapolation, level, s.levels[0], s.levels[len(s.levels)-1])
		}
	}
	// interpolate each tenor along loss levels, then across tenors
	byTenor := make([]float64, len(s.times))
	row := make([]float64, len(s.levels))
	for i := range s.times {
		for j, q := range s.quotes[i] {
			row[j] = q.Value()
		}
		byTenor[i] = linear(s.levels, row, level)
	}
	return linear(s.times, byTenor, t), nil
}

// linear interpolates ys over xs, flat outside [xs[0], xs[n-1]].
func linear(xs, ys []float64, x float64) float64 {
	if len(xs) == 1 {
		return ys[0]
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return math.NaN()
	}
	return pl.Predict(math.Min(math.Max(x, xs[0]), xs[len(xs)-1]))
}
