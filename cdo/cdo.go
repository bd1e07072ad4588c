// Package cdo prices synthetic CDO tranches off a basket loss model.
package cdo

import (
	"errors"
	"fmt"
	"time"

	"github.com/banachtech/basket-credit/basecorr"
	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/lossmodel"
	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/termstructure"
	"github.com/banachtech/basket-credit/utils"
	"github.com/rs/zerolog/log"
)

var (
	ErrEngineNotSet = errors.New("pricing engine not set")
	ErrSchedule     = errors.New("invalid premium schedule")
	ErrBasket       = errors.New("invalid basket")
)

// Side of the protection trade.
type Side int

const (
	Seller Side = iota
	Buyer
)

func (s Side) String() string {
	if s == Buyer {
		return "buyer"
	}
	return "seller"
}

// Engine computes the leg values of a CDO.
type Engine interface {
	Calculate(c *SyntheticCDO) (*Results, error)
}

// Results holds leg values signed for the holder's side.
type Results struct {
	PremiumValue        float64
	ProtectionValue     float64
	UpfrontPremiumValue float64
	RemainingNotional   float64
	Value               float64
	// Number of periods where the expected tranche loss decreased.
	Error               int
	ExpectedTrancheLoss []float64
}

type SyntheticCDO struct {
	basket      *basket.Basket
	side        Side
	schedule    []time.Time
	upfrontRate float64
	runningRate float64
	dayCount    string
	leverage    float64
	engine      Engine
}

// New builds a tranche on b paying runningRate on the given schedule plus
// upfrontRate of the notional at the first schedule date. A non-positive
// notional means the basket's tranche notional; any other value levers the
// tranche cash flows by notional over the tranche notional.
func New(b *basket.Basket, side Side, schedule []time.Time, upfrontRate, runningRate float64, dayCount string, notional float64) (*SyntheticCDO, error) {
	if b == nil || b.Size() == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBasket)
	}
	if len(schedule) < 2 {
		return nil, fmt.Errorf("%w: need at least two dates", ErrSchedule)
	}
	for i := 1; i < len(schedule); i++ {
		if !schedule[i].After(schedule[i-1]) {
			return nil, fmt.Errorf("%w: dates not increasing at %s", ErrSchedule, schedule[i].Format(utils.Layout))
		}
	}
	if b.RefDate().After(schedule[0]) {
		return nil, fmt.Errorf("%w: basket reference date %s after protection start %s",
			ErrBasket, b.RefDate().Format(utils.Layout), schedule[0].Format(utils.Layout))
	}
	if _, err := utils.YearFraction(schedule[0], schedule[1], dayCount); err != nil {
		return nil, err
	}
	tn := b.TrancheNotional()
	if tn <= 0 {
		return nil, fmt.Errorf("%w: zero tranche notional", ErrBasket)
	}
	leverage := 1.0
	if notional > 0 {
		leverage = notional / tn
	}
	return &SyntheticCDO{
		basket:      b,
		side:        side,
		schedule:    append([]time.Time(nil), schedule...),
		upfrontRate: upfrontRate,
		runningRate: runningRate,
		dayCount:    dayCount,
		leverage:    leverage,
	}, nil
}

func (c *SyntheticCDO) Basket() *basket.Basket { return c.basket }
func (c *SyntheticCDO) Side() Side             { return c.side }
func (c *SyntheticCDO) Schedule() []time.Time  { return append([]time.Time(nil), c.schedule...) }
func (c *SyntheticCDO) UpfrontRate() float64   { return c.upfrontRate }
func (c *SyntheticCDO) RunningRate() float64   { return c.runningRate }
func (c *SyntheticCDO) DayCount() string       { return c.dayCount }
func (c *SyntheticCDO) Maturity() time.Time    { return c.schedule[len(c.schedule)-1] }
func (c *SyntheticCDO) Leverage() float64      { return c.leverage }

// Notional of the tranche after leverage.
func (c *SyntheticCDO) Notional() float64 { return c.leverage * c.basket.TrancheNotional() }

func (c *SyntheticCDO) SetPricingEngine(e Engine) { c.engine = e }

// RemainingNotional is the tranche notional left after realized defaults.
func (c *SyntheticCDO) RemainingNotional() float64 {
	return c.leverage * c.basket.RemainingTrancheNotional()
}

// ExpectedTrancheLoss is the levered expected loss on the tranche at d.
func (c *SyntheticCDO) ExpectedTrancheLoss(d time.Time) (float64, error) {
	l, err := c.basket.ExpectedTrancheLoss(d)
	if err != nil {
		return 0, err
	}
	return c.leverage * l, nil
}

// Calculate runs the engine. Loss models memoize per date, so repeated calls
// are cheap until market data changes.
func (c *SyntheticCDO) Calculate() (*Results, error) {
	if c.engine == nil {
		return nil, ErrEngineNotSet
	}
	return c.engine.Calculate(c)
}

func (c *SyntheticCDO) NPV() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	return r.Value, nil
}

func (c *SyntheticCDO) PremiumValue() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	return r.PremiumValue, nil
}

func (c *SyntheticCDO) ProtectionValue() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	return r.ProtectionValue, nil
}

// PremiumLegNPV is the value of the premium leg to the holder.
func (c *SyntheticCDO) PremiumLegNPV() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	return r.PremiumValue + r.UpfrontPremiumValue, nil
}

// ProtectionLegNPV is the value of the protection leg to the holder.
func (c *SyntheticCDO) ProtectionLegNPV() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	return -r.ProtectionValue, nil
}

// FairPremium is the running rate that sets the NPV to zero given the upfront.
func (c *SyntheticCDO) FairPremium() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	if r.PremiumValue == 0 {
		return 0, fmt.Errorf("%w: zero premium leg", ErrSchedule)
	}
	return c.runningRate * (r.ProtectionValue - r.UpfrontPremiumValue) / r.PremiumValue, nil
}

// FairUpfront is the upfront rate that sets the NPV to zero given the running rate.
func (c *SyntheticCDO) FairUpfront() (float64, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	if r.RemainingNotional == 0 {
		return 0, fmt.Errorf("%w: tranche wiped out", ErrBasket)
	}
	u := (r.ProtectionValue - r.PremiumValue) / r.RemainingNotional
	if c.side == Buyer {
		u = -u
	}
	return u, nil
}

func (c *SyntheticCDO) ErrorCount() (int, error) {
	r, err := c.Calculate()
	if err != nil {
		return 0, err
	}
	return r.Error, nil
}

// ImpliedCorrelation finds the flat Gaussian LHP correlation at which the
// tranche prices to npv with a mid-point engine on yc. The basket's loss
// model is restored afterwards.
func (c *SyntheticCDO) ImpliedCorrelation(recoveries []float64, yc termstructure.YieldCurve, npv float64) (rho float64, err error) {
	prevModel, prevEngine := c.basket.LossModel(), c.engine
	defer func() {
		c.engine = prevEngine
		if prevModel == nil {
			return
		}
		if rerr := c.basket.SetLossModel(prevModel); rerr != nil {
			log.Error().Err(rerr).Msg("restoring loss model after implied correlation")
			if err == nil {
				err = fmt.Errorf("restoring loss model: %w", rerr)
			}
		}
	}()

	correl := quote.New(0.3)
	lhp, err := lossmodel.NewGaussianLHP(correl, recoveries)
	if err != nil {
		return 0, err
	}
	if err := c.basket.SetLossModel(lhp); err != nil {
		return 0, err
	}
	c.engine = NewMidPointEngine(yc)
	return basecorr.SolveCorrelation(npv, correl.Value(), func(rho float64) (float64, error) {
		correl.Set(rho)
		return c.NPV()
	})
}
