// Package termstructure provides the default-probability and discount curves
// consumed by the loss models and CDO engines.
package termstructure

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/utils"
)

var (
	ErrExtrapolation = errors.New("date outside curve range")
	ErrBadCurve      = errors.New("invalid curve data")
)

// DefaultCurve gives survival and default probabilities up to a date.
type DefaultCurve interface {
	ReferenceDate() time.Time
	SurvivalProbability(d time.Time, extrapolate bool) (float64, error)
	DefaultProbability(d time.Time, extrapolate bool) (float64, error)
}

// YieldCurve gives discount factors.
type YieldCurve interface {
	ReferenceDate() time.Time
	Discount(d time.Time, extrapolate bool) (float64, error)
}

// FlatHazardRate is a default curve with constant intensity read from a quote.
type FlatHazardRate struct {
	refDate  time.Time
	hazard   *quote.Quote
	dayCount string
}

func NewFlatHazardRate(refDate time.Time, hazard *quote.Quote, dayCount string) (*FlatHazardRate, error) {
	if hazard == nil {
		return nil, fmt.Errorf("%w: nil hazard quote", ErrBadCurve)
	}
	if hazard.Value() < 0 {
		return nil, fmt.Errorf("%w: negative hazard rate %v", ErrBadCurve, hazard.Value())
	}
	if _, err := utils.YearFraction(refDate, refDate, dayCount); err != nil {
		return nil, err
	}
	return &FlatHazardRate{refDate: refDate, hazard: hazard, dayCount: dayCount}, nil
}

func (c *FlatHazardRate) ReferenceDate() time.Time { return c.refDate }

func (c *FlatHazardRate) HazardRate() float64 { return c.hazard.Value() }

func (c *FlatHazardRate) SurvivalProbability(d time.Time, _ bool) (float64, error) {
	t, _ := utils.YearFraction(c.refDate, d, c.dayCount)
	if t <= 0 {
		return 1, nil
	}
	return math.Exp(-c.hazard.Value() * t), nil
}

func (c *FlatHazardRate) DefaultProbability(d time.Time, extrapolate bool) (float64, error) {
	s, err := c.SurvivalProbability(d, extrapolate)
	return 1 - s, err
}

// InterpolatedSurvivalCurve interpolates log survival probabilities linearly
// in time, which is piecewise-constant hazard between nodes.
type InterpolatedSurvivalCurve struct {
	refDate  time.Time
	dates    []time.Time
	times    []float64
	logSurv  []float64
	dayCount string
}

// NewInterpolatedSurvivalCurve builds a curve from increasing dates and
// non-increasing survival probabilities. The first date is the reference date
// and must carry probability 1.
func NewInterpolatedSurvivalCurve(dates []time.Time, probs []float64, dayCount string) (*InterpolatedSurvivalCurve, error) {
	if len(dates) != len(probs) {
		return nil, fmt.Errorf("%w: %d dates, %d probabilities", ErrBadCurve, len(dates), len(probs))
	}
	if len(dates) < 2 {
		return nil, fmt.Errorf("%w: at least two nodes required", ErrBadCurve)
	}
	if probs[0] != 1 {
		return nil, fmt.Errorf("%w: survival at reference date must be 1", ErrBadCurve)
	}
	c := &InterpolatedSurvivalCurve{refDate: dates[0], dates: dates, dayCount: dayCount}
	for i := range dates {
		if i > 0 && !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("%w: dates not increasing at %d", ErrBadCurve, i)
		}
		if probs[i] <= 0 || probs[i] > 1 {
			return nil, fmt.Errorf("%w: survival probability %v out of (0,1]", ErrBadCurve, probs[i])
		}
		if i > 0 && probs[i] > probs[i-1] {
			return nil, fmt.Errorf("%w: survival probability increases at %d", ErrBadCurve, i)
		}
		t, err := utils.YearFraction(dates[0], dates[i], dayCount)
		if err != nil {
			return nil, err
		}
		c.times = append(c.times, t)
		c.logSurv = append(c.logSurv, math.Log(probs[i]))
	}
	return c, nil
}

func (c *InterpolatedSurvivalCurve) ReferenceDate() time.Time { return c.refDate }

func (c *InterpolatedSurvivalCurve) MaxDate() time.Time { return c.dates[len(c.dates)-1] }

func (c *InterpolatedSurvivalCurve) SurvivalProbability(d time.Time, extrapolate bool) (float64, error) {
	if d.After(c.MaxDate()) && !extrapolate {
		return 0, fmt.Errorf("%w: %s after %s", ErrExtrapolation, d.Format(utils.Layout), c.MaxDate().Format(utils.Layout))
	}
	t, _ := utils.YearFraction(c.refDate, d, c.dayCount)
	if t <= 0 {
		return 1, nil
	}
	n := len(c.times)
	// index of first node at or beyond t, last segment extends flat hazard
	i := sort.SearchFloat64s(c.times, t)
	if i >= n {
		i = n - 1
	}
	if i == 0 {
		i = 1
	}
	t0, t1 := c.times[i-1], c.times[i]
	l := c.logSurv[i-1] + (c.logSurv[i]-c.logSurv[i-1])*(t-t0)/(t1-t0)
	return math.Exp(l), nil
}

func (c *InterpolatedSurvivalCurve) DefaultProbability(d time.Time, extrapolate bool) (float64, error) {
	s, err := c.SurvivalProbability(d, extrapolate)
	if err != nil {
		return 0, err
	}
	return 1 - s, nil
}

// FlatForward is a continuously compounded flat yield curve.
type FlatForward struct {
	refDate  time.Time
	rate     *quote.Quote
	dayCount string
}

func NewFlatForward(refDate time.Time, rate *quote.Quote, dayCount string) (*FlatForward, error) {
	if rate == nil {
		return nil, fmt.Errorf("%w: nil rate quote", ErrBadCurve)
	}
	if _, err := utils.YearFraction(refDate, refDate, dayCount); err != nil {
		return nil, err
	}
	return &FlatForward{refDate: refDate, rate: rate, dayCount: dayCount}, nil
}

func (c *FlatForward) ReferenceDate() time.Time { return c.refDate }

func (c *FlatForward) Discount(d time.Time, _ bool) (float64, error) {
	t, _ := utils.YearFraction(c.refDate, d, c.dayCount)
	return math.Exp(-c.rate.Value() * t), nil
}
