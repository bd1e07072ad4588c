package cdo

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/lossmodel"
	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/termstructure"
	"github.com/banachtech/basket-credit/utils"
	"github.com/stretchr/testify/require"
)

var key = basket.DefaultProbKey{Currency: "USD", Seniority: "SNRFOR"}

// linearLoss grows the expected tranche loss by rate per year from ref.
type linearLoss struct {
	ref  time.Time
	rate float64
}

func (m *linearLoss) Attach(*basket.Basket) error { return nil }
func (m *linearLoss) ExpectedTrancheLoss(d time.Time) (float64, error) {
	t, err := utils.YearFraction(m.ref, d, utils.Act365F)
	return m.rate * t, err
}

var errRefused = errors.New("attach refused")

// onceLoss accepts its first attach only.
type onceLoss struct {
	linearLoss
	attached bool
}

func (m *onceLoss) Attach(*basket.Basket) error {
	if m.attached {
		return errRefused
	}
	m.attached = true
	return nil
}

func testBasket(t *testing.T, attach, detach float64) *basket.Basket {
	t.Helper()
	ref, _ := time.Parse(utils.Layout, "2023-01-17")
	pool := basket.NewPool()
	var names []string
	var notionals []float64
	for i := 0; i < 10; i++ {
		c, err := termstructure.NewFlatHazardRate(ref, quote.New(0.001+0.01*float64(i)), utils.Act365F)
		require.NoError(t, err)
		iss := basket.NewIssuer(map[basket.DefaultProbKey]termstructure.DefaultCurve{key: c})
		name := fmt.Sprintf("name%d", i)
		require.NoError(t, pool.Add(name, iss, key, quote.New(0.4)))
		names = append(names, name)
		notionals = append(notionals, 100)
	}
	b, err := basket.New(ref, names, notionals, pool, attach, detach, nil)
	require.NoError(t, err)
	return b
}

func flatCurve(t *testing.T, ref time.Time, r float64) termstructure.YieldCurve {
	t.Helper()
	yc, err := termstructure.NewFlatForward(ref, quote.New(r), utils.Act365F)
	require.NoError(t, err)
	return yc
}

func schedule(t *testing.T, start time.Time, years int) []time.Time {
	t.Helper()
	s, err := utils.GenerateSchedule(start, start.AddDate(years, 0, 0), utils.Period{Length: 3, Unit: utils.Months}, nil)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	b := testBasket(t, 0.03, 0.06)
	ref := b.RefDate()
	good := schedule(t, ref, 5)

	type testCases struct {
		name     string
		basket   *basket.Basket
		schedule []time.Time
		dayCount string
		err      error
	}
	for _, test := range []testCases{
		{name: "ok", basket: b, schedule: good, dayCount: utils.Act360},
		{name: "nil basket", schedule: good, dayCount: utils.Act360, err: ErrBasket},
		{name: "short schedule", basket: b, schedule: good[:1], dayCount: utils.Act360, err: ErrSchedule},
		{name: "unsorted schedule", basket: b, schedule: []time.Time{good[2], good[1]}, dayCount: utils.Act360, err: ErrSchedule},
		{name: "starts before basket", basket: b, schedule: []time.Time{ref.AddDate(0, -1, 0), ref.AddDate(1, 0, 0)}, dayCount: utils.Act360, err: ErrBasket},
		{name: "bad day count", basket: b, schedule: good, dayCount: "ACT/ACT"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.basket, Seller, test.schedule, 0, 0.05, test.dayCount, 0)
			if test.name == "ok" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
			}
		})
	}

	c, err := New(b, Seller, good, 0, 0.05, utils.Act360, 0)
	require.NoError(t, err)
	_, err = c.NPV()
	require.ErrorIs(t, err, ErrEngineNotSet)
}

func TestMidPointLinearLoss(t *testing.T) {
	b := testBasket(t, 0.03, 0.06)
	ref := b.RefDate()
	require.NoError(t, b.SetLossModel(&linearLoss{ref: ref, rate: 2}))
	sched := schedule(t, ref, 5)

	c, err := New(b, Seller, sched, 0, 0.05, utils.Act365F, 0)
	require.NoError(t, err)
	c.SetPricingEngine(NewMidPointEngine(flatCurve(t, ref, 0)))
	res, err := c.Calculate()
	require.NoError(t, err)

	maturityLoss, err := b.ExpectedTrancheLoss(c.Maturity())
	require.NoError(t, err)
	// undiscounted protection telescopes to the loss at maturity
	require.InDelta(t, maturityLoss, res.ProtectionValue, 1e-9)
	require.Len(t, res.ExpectedTrancheLoss, len(sched))
	require.Equal(t, 0, res.Error)
	require.InDelta(t, 30, res.RemainingNotional, 1e-9)

	years, _ := utils.YearFraction(sched[0], c.Maturity(), utils.Act365F)
	require.Greater(t, res.PremiumValue, 0.05*(30-maturityLoss)*years)
	require.Less(t, res.PremiumValue, 0.05*30*years)
	require.InDelta(t, res.PremiumValue-res.ProtectionValue, res.Value, 1e-12)
}

func TestFairQuotesPriceToZero(t *testing.T) {
	b := testBasket(t, 0.03, 0.06)
	ref := b.RefDate()
	require.NoError(t, b.SetLossModel(&linearLoss{ref: ref, rate: 2}))
	// forward start so the upfront is paid
	sched := schedule(t, ref.AddDate(0, 1, 0), 5)
	yc := flatCurve(t, ref, 0.03)

	for _, side := range []Side{Seller, Buyer} {
		t.Run(side.String(), func(t *testing.T) {
			c, err := New(b, side, sched, 0.01, 0.05, utils.Act360, 0)
			require.NoError(t, err)
			c.SetPricingEngine(NewMidPointEngine(yc))

			fp, err := c.FairPremium()
			require.NoError(t, err)
			atPar, err := New(b, side, sched, 0.01, fp, utils.Act360, 0)
			require.NoError(t, err)
			atPar.SetPricingEngine(NewMidPointEngine(yc))
			npv, err := atPar.NPV()
			require.NoError(t, err)
			require.InDelta(t, 0, npv, 1e-9)

			fu, err := c.FairUpfront()
			require.NoError(t, err)
			atPar, err = New(b, side, sched, fu, 0.05, utils.Act360, 0)
			require.NoError(t, err)
			atPar.SetPricingEngine(NewMidPointEngine(yc))
			npv, err = atPar.NPV()
			require.NoError(t, err)
			require.InDelta(t, 0, npv, 1e-9)
		})
	}
}

func TestSides(t *testing.T) {
	b := testBasket(t, 0.03, 0.06)
	ref := b.RefDate()
	require.NoError(t, b.SetLossModel(&linearLoss{ref: ref, rate: 2}))
	sched := schedule(t, ref, 5)
	yc := flatCurve(t, ref, 0.03)

	npvs := map[Side]float64{}
	for _, side := range []Side{Seller, Buyer} {
		c, err := New(b, side, sched, 0.02, 0.05, utils.Act360, 60)
		require.NoError(t, err)
		require.InDelta(t, 2, c.Leverage(), 1e-12)
		c.SetPricingEngine(NewMidPointEngine(yc))
		v, err := c.NPV()
		require.NoError(t, err)
		prem, err := c.PremiumLegNPV()
		require.NoError(t, err)
		prot, err := c.ProtectionLegNPV()
		require.NoError(t, err)
		require.InDelta(t, v, prem+prot, 1e-12)
		npvs[side] = v
	}
	require.InDelta(t, -npvs[Seller], npvs[Buyer], 1e-12)
}

func TestErrorCount(t *testing.T) {
	b := testBasket(t, 0.03, 0.06)
	ref := b.RefDate()
	sched := schedule(t, ref, 2)
	yc := flatCurve(t, ref, 0.03)
	step := utils.Period{Length: 1, Unit: utils.Months}
	integral, err := NewIntegralEngine(yc, step)
	require.NoError(t, err)

	type testCases struct {
		name   string
		rate   float64
		engine Engine
		errors bool
	}
	for _, test := range []testCases{
		{name: "midpoint increasing", rate: 1, engine: NewMidPointEngine(yc)},
		{name: "midpoint decreasing", rate: -1, engine: NewMidPointEngine(yc), errors: true},
		{name: "integral increasing", rate: 1, engine: integral},
		{name: "integral decreasing", rate: -1, engine: integral, errors: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, b.SetLossModel(&linearLoss{ref: ref, rate: test.rate}))
			c, err := New(b, Seller, sched, 0, 0.05, utils.Act360, 0)
			require.NoError(t, err)
			c.SetPricingEngine(test.engine)
			n, err := c.ErrorCount()
			require.NoError(t, err)
			if test.errors {
				require.Greater(t, n, 0)
			} else {
				require.Zero(t, n)
			}
		})
	}

	_, err = NewIntegralEngine(yc, utils.Period{})
	require.ErrorIs(t, err, ErrStep)
}

func TestEnginesAgree(t *testing.T) {
	b := testBasket(t, 0.03, 0.06)
	ref := b.RefDate()
	lhp, err := lossmodel.NewGaussianLHP(quote.New(0.3), nil)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(lhp))
	sched := schedule(t, ref, 5)
	yc := flatCurve(t, ref, 0.03)

	c, err := New(b, Seller, sched, 0, 0.05, utils.Act360, 0)
	require.NoError(t, err)
	c.SetPricingEngine(NewMidPointEngine(yc))
	mid, err := c.Calculate()
	require.NoError(t, err)

	integral, err := NewIntegralEngine(yc, utils.Period{Length: 1, Unit: utils.Weeks})
	require.NoError(t, err)
	c.SetPricingEngine(integral)
	fine, err := c.Calculate()
	require.NoError(t, err)

	require.Greater(t, mid.ProtectionValue, 0.0)
	require.Zero(t, mid.Error)
	require.Zero(t, fine.Error)
	require.InEpsilon(t, fine.ProtectionValue, mid.ProtectionValue, 0.02)
	require.InEpsilon(t, fine.PremiumValue, mid.PremiumValue, 0.02)
	require.Equal(t, mid.ExpectedTrancheLoss, fine.ExpectedTrancheLoss)
}

func TestImpliedCorrelation(t *testing.T) {
	b := testBasket(t, 0, 0.03)
	ref := b.RefDate()
	sched := schedule(t, ref, 5)
	yc := flatCurve(t, ref, 0.03)

	lhp, err := lossmodel.NewGaussianLHP(quote.New(0.5), nil)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(lhp))
	c, err := New(b, Seller, sched, 0, 0.05, utils.Act360, 0)
	require.NoError(t, err)
	engine := NewMidPointEngine(yc)
	c.SetPricingEngine(engine)
	target, err := c.NPV()
	require.NoError(t, err)

	rho, err := c.ImpliedCorrelation(nil, yc, target)
	require.NoError(t, err)
	require.InDelta(t, 0.5, rho, 1e-2)
	require.Same(t, lhp, b.LossModel())

	after, err := c.NPV()
	require.NoError(t, err)
	require.InDelta(t, target, after, 1e-9)
}

func TestImpliedCorrelationRestore(t *testing.T) {
	b := testBasket(t, 0, 0.03)
	ref := b.RefDate()
	sched := schedule(t, ref, 5)
	yc := flatCurve(t, ref, 0.03)

	lhp, err := lossmodel.NewGaussianLHP(quote.New(0.5), nil)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(lhp))
	c, err := New(b, Seller, sched, 0, 0.05, utils.Act360, 0)
	require.NoError(t, err)
	c.SetPricingEngine(NewMidPointEngine(yc))
	target, err := c.NPV()
	require.NoError(t, err)

	type testCases struct {
		name  string
		model basket.LossModel
		err   error
	}
	for _, test := range []testCases{
		{name: "restored", model: &linearLoss{ref: ref, rate: 1}},
		{name: "restore refused", model: &onceLoss{linearLoss: linearLoss{ref: ref, rate: 1}}, err: errRefused},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, b.SetLossModel(test.model))
			rho, err := c.ImpliedCorrelation(nil, yc, target)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			require.InDelta(t, 0.5, rho, 1e-2)
			require.Same(t, test.model, b.LossModel())
		})
	}
}
