package cdo

import (
	"errors"
	"time"

	"github.com/banachtech/basket-credit/termstructure"
	"github.com/banachtech/basket-credit/utils"
	"github.com/rs/zerolog/log"
)

var ErrStep = errors.New("integration step must be positive")

// MidPointEngine assumes defaults occur in the middle of each coupon period.
// Premium is paid on the tranche notional outstanding at the payment date and
// accrued premium on notional lost during the period is paid at mid-period.
type MidPointEngine struct {
	yc termstructure.YieldCurve
}

func NewMidPointEngine(yc termstructure.YieldCurve) *MidPointEngine {
	return &MidPointEngine{yc: yc}
}

func (e *MidPointEngine) Calculate(c *SyntheticCDO) (*Results, error) {
	today := c.basket.RefDate()
	sched := c.schedule
	res := &Results{RemainingNotional: c.RemainingNotional()}

	e1 := 0.0
	if sched[0].After(today) {
		l, err := c.ExpectedTrancheLoss(sched[0])
		if err != nil {
			return nil, err
		}
		e1 = l
	}
	res.ExpectedTrancheLoss = append(res.ExpectedTrancheLoss, e1)

	for i := 1; i < len(sched); i++ {
		pay := sched[i]
		if !pay.After(today) {
			res.ExpectedTrancheLoss = append(res.ExpectedTrancheLoss, 0)
			continue
		}
		start := sched[i-1]
		if start.Before(today) {
			start = today
		}
		mid := midDate(start, pay)

		e2, err := c.ExpectedTrancheLoss(pay)
		if err != nil {
			return nil, err
		}
		res.ExpectedTrancheLoss = append(res.ExpectedTrancheLoss, e2)
		if e2 < e1 {
			res.Error++
		}

		yf, err := utils.YearFraction(sched[i-1], pay, c.dayCount)
		if err != nil {
			return nil, err
		}
		accrued, err := utils.YearFraction(sched[i-1], mid, c.dayCount)
		if err != nil {
			return nil, err
		}
		dPay, err := e.yc.Discount(pay, false)
		if err != nil {
			return nil, err
		}
		dMid, err := e.yc.Discount(mid, false)
		if err != nil {
			return nil, err
		}

		res.PremiumValue += (res.RemainingNotional-e2)*c.runningRate*yf*dPay +
			c.runningRate*accrued*dMid*(e2-e1)
		res.ProtectionValue += dMid * (e2 - e1)
		e1 = e2
	}

	if sched[0].After(today) {
		res.UpfrontPremiumValue = c.upfrontRate * res.RemainingNotional
	}
	finish(c, res)
	log.Debug().Str("engine", "midpoint").Float64("premium", res.PremiumValue).
		Float64("protection", res.ProtectionValue).Int("errors", res.Error).Msg("cdo priced")
	return res, nil
}

// IntegralEngine steps through each coupon period on a fixed grid, paying
// premium on the notional outstanding at each step.
type IntegralEngine struct {
	yc   termstructure.YieldCurve
	step utils.Period
}

func NewIntegralEngine(yc termstructure.YieldCurve, step utils.Period) (*IntegralEngine, error) {
	if step.Length <= 0 {
		return nil, ErrStep
	}
	return &IntegralEngine{yc: yc, step: step}, nil
}

func (e *IntegralEngine) Calculate(c *SyntheticCDO) (*Results, error) {
	today := c.basket.RefDate()
	sched := c.schedule
	res := &Results{RemainingNotional: c.RemainingNotional()}

	e1 := 0.0
	if sched[0].After(today) {
		l, err := c.ExpectedTrancheLoss(sched[0])
		if err != nil {
			return nil, err
		}
		e1 = l
	}
	res.ExpectedTrancheLoss = append(res.ExpectedTrancheLoss, e1)

	for i := 1; i < len(sched); i++ {
		if !sched[i].After(today) {
			res.ExpectedTrancheLoss = append(res.ExpectedTrancheLoss, 0)
			continue
		}
		start := sched[i-1]
		if start.Before(today) {
			start = today
		}
		grid := utils.DateGrid(start, sched[i], e.step)
		for k := 1; k < len(grid); k++ {
			d := grid[k]
			e2, err := c.ExpectedTrancheLoss(d)
			if err != nil {
				return nil, err
			}
			if e2 < e1 {
				res.Error++
			}
			yf, err := utils.YearFraction(grid[k-1], d, c.dayCount)
			if err != nil {
				return nil, err
			}
			df, err := e.yc.Discount(d, false)
			if err != nil {
				return nil, err
			}
			res.PremiumValue += (res.RemainingNotional - e2) * c.runningRate * yf * df
			res.ProtectionValue += (e2 - e1) * df
			e1 = e2
		}
		res.ExpectedTrancheLoss = append(res.ExpectedTrancheLoss, e1)
	}

	if !sched[0].Before(today) {
		df, err := e.yc.Discount(sched[0], false)
		if err != nil {
			return nil, err
		}
		res.UpfrontPremiumValue = c.upfrontRate * res.RemainingNotional * df
	}
	finish(c, res)
	log.Debug().Str("engine", "integral").Str("step", e.step.String()).Float64("premium", res.PremiumValue).
		Float64("protection", res.ProtectionValue).Int("errors", res.Error).Msg("cdo priced")
	return res, nil
}

// finish applies the holder's side and sets the total value.
func finish(c *SyntheticCDO, res *Results) {
	if c.side == Buyer {
		res.PremiumValue = -res.PremiumValue
		res.ProtectionValue = -res.ProtectionValue
		res.UpfrontPremiumValue = -res.UpfrontPremiumValue
	}
	res.Value = res.PremiumValue - res.ProtectionValue + res.UpfrontPremiumValue
}

func midDate(start, end time.Time) time.Time {
	days := int(end.Sub(start).Hours() / 24)
	return start.AddDate(0, 0, days/2)
}
