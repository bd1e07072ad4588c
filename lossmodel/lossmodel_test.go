package lossmodel

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/lossdist"
	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/termstructure"
	"github.com/banachtech/basket-credit/utils"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"
)

var key = basket.DefaultProbKey{Currency: "USD", Seniority: "SNRFOR"}

// testBasket builds ten names with hazard rates 0.001, 0.01, 0.02, ..., 0.09,
// notional 100 each and recovery rr.
func testBasket(t *testing.T, attach, detach float64, rr *quote.Quote) *basket.Basket {
	t.Helper()
	ref, _ := time.Parse(utils.Layout, "2023-01-17")
	pool := basket.NewPool()
	var names []string
	var notionals []float64
	for i := 0; i < 10; i++ {
		h := 0.01 * float64(i)
		if i == 0 {
			h = 0.001
		}
		c, err := termstructure.NewFlatHazardRate(ref, quote.New(h), utils.Act365F)
		require.NoError(t, err)
		iss := basket.NewIssuer(map[basket.DefaultProbKey]termstructure.DefaultCurve{key: c})
		name := fmt.Sprintf("name%d", i)
		require.NoError(t, pool.Add(name, iss, key, rr))
		names = append(names, name)
		notionals = append(notionals, 100)
	}
	b, err := basket.New(ref, names, notionals, pool, attach, detach, nil)
	require.NoError(t, err)
	return b
}

func gaussLatent(t *testing.T, correl *quote.Quote) *copula.LatentModel {
	t.Helper()
	lm, err := copula.NewQuoteLatentModel(correl, 10, copula.NewGaussian(), copula.GaussianQuadrature)
	require.NoError(t, err)
	return lm
}

func etl(t *testing.T, b *basket.Basket, m basket.LossModel, d time.Time) float64 {
	t.Helper()
	require.NoError(t, b.SetLossModel(m))
	v, err := b.ExpectedTrancheLoss(d)
	require.NoError(t, err)
	return v
}

func TestConcreteScenario(t *testing.T) {
	rr := quote.New(0.4)
	b := testBasket(t, 0.03, 0.06, rr)
	horizon := b.RefDate().AddDate(5, 0, 0)
	correl := quote.New(0.05)

	rec, err := NewRecursive(gaussLatent(t, correl), nil, 1)
	require.NoError(t, err)
	exact := etl(t, b, rec, horizon)

	// every loss is a multiple of 60 and lands alone in a bucket of width 10
	ih, err := NewInhomogeneousPool(gaussLatent(t, correl), nil, 100)
	require.NoError(t, err)
	require.InDelta(t, exact, etl(t, b, ih, horizon), 1e-3)

	hp, err := NewHomogeneousPool(gaussLatent(t, correl), nil, 100)
	require.NoError(t, err)
	require.InDelta(t, exact, etl(t, b, hp, horizon), 1e-3)

	// a single default wipes the tranche out: ETL = 30 P(N >= 1)
	probs, err := b.Probabilities(horizon)
	require.NoError(t, err)
	atLeastOne, err := gaussLatent(t, correl).ProbAtLeastNEvents(1, probs)
	require.NoError(t, err)
	require.InDelta(t, 30*atLeastOne, exact, 1e-6)

	bin := NewBinomial(gaussLatent(t, correl), nil)
	require.InDelta(t, exact, etl(t, b, bin, horizon), 0.5)

	lhp, err := NewGaussianLHP(correl, nil)
	require.NoError(t, err)
	v := etl(t, b, lhp, horizon)
	require.InDelta(t, exact, v, 4)
	require.LessOrEqual(t, v, 30.0)
}

func TestLHPClosedForm(t *testing.T) {
	type testCases struct {
		name   string
		p      float64
		r      float64
		rho    float64
		attach float64
		detach float64
	}
	for _, test := range []testCases{
		{name: "equity", p: 0.1, r: 0.4, rho: 0.3, attach: 0, detach: 0.03},
		{name: "mezzanine", p: 0.1, r: 0.4, rho: 0.3, attach: 0.03, detach: 0.07},
		{name: "senior", p: 0.05, r: 0.4, rho: 0.6, attach: 0.1, detach: 0.15},
		{name: "low correlation", p: 0.2, r: 0.3, rho: 0.02, attach: 0.05, detach: 0.2},
		{name: "detach beyond lgd", p: 0.2, r: 0.5, rho: 0.2, attach: 0.3, detach: 0.8},
	} {
		t.Run(test.name, func(t *testing.T) {
			lgd := 1 - test.r
			c := distuv.UnitNormal.Quantile(test.p)
			beta, s := math.Sqrt(test.rho), math.Sqrt(1-test.rho)
			want := quad.Fixed(func(m float64) float64 {
				l := lgd * distuv.UnitNormal.CDF((c-beta*m)/s)
				return distuv.UnitNormal.Prob(m) * math.Min(math.Max(l-test.attach, 0), test.detach-test.attach)
			}, -10, 10, 4000, quad.Legendre{}, 0)
			got := lhpTrancheLoss(test.p, test.r, test.rho, test.attach, test.detach)
			require.InDelta(t, want, got, 1e-5)
		})
	}

	// degenerate correlations
	require.InDelta(t, 0.01, lhpTrancheLoss(0.05, 0.4, 0, 0.02, 0.1), 1e-15)
	require.InDelta(t, 0.05*0.08, lhpTrancheLoss(0.05, 0.4, 1, 0.02, 0.1), 1e-15)
	require.Equal(t, 0.0, lhpTrancheLoss(0, 0.4, 0.3, 0, 0.1))
}

func TestLHPObservesQuote(t *testing.T) {
	b := testBasket(t, 0.03, 0.06, quote.New(0.4))
	horizon := b.RefDate().AddDate(5, 0, 0)
	correl := quote.New(0.1)
	lhp, err := NewGaussianLHP(correl, nil)
	require.NoError(t, err)
	v1 := etl(t, b, lhp, horizon)

	correl.Set(0.5)
	v2, err := b.ExpectedTrancheLoss(horizon)
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)

	correl.Set(1.5)
	_, err = b.ExpectedTrancheLoss(horizon)
	require.ErrorIs(t, err, ErrCorrelation)

	// the failed evaluation leaves nothing behind
	correl.Set(0.1)
	v3, err := b.ExpectedTrancheLoss(horizon)
	require.NoError(t, err)
	require.Equal(t, v1, v3)

	q50, err := lhp.Percentile(horizon, 0.5)
	require.NoError(t, err)
	require.GreaterOrEqual(t, q50, 0.0)
	require.LessOrEqual(t, q50, 30.0)
	p, err := lhp.ProbOverLoss(horizon, 0.03)
	require.NoError(t, err)
	require.Greater(t, p, 0.0)
	require.Less(t, p, 1.0)
}

func TestMonotonicity(t *testing.T) {
	correl := quote.New(0.2)
	models := map[string]func() basket.LossModel{
		"lhp": func() basket.LossModel {
			m, _ := NewGaussianLHP(correl, nil)
			return m
		},
		"binomial": func() basket.LossModel { return NewBinomial(gaussLatent(t, correl), nil) },
		"recursive": func() basket.LossModel {
			m, _ := NewRecursive(gaussLatent(t, correl), nil, 1)
			return m
		},
		"inhomogeneous": func() basket.LossModel {
			m, _ := NewInhomogeneousPool(gaussLatent(t, correl), nil, 100)
			return m
		},
	}
	for name, build := range models {
		t.Run(name, func(t *testing.T) {
			b := testBasket(t, 0.1, 0.3, quote.New(0.4))
			require.NoError(t, b.SetLossModel(build()))
			prev := 0.0
			for y := 0; y <= 7; y++ {
				v, err := b.ExpectedTrancheLoss(b.RefDate().AddDate(y, 0, 0))
				require.NoError(t, err)
				require.GreaterOrEqual(t, v, prev-1e-9)
				prev = v
			}
			require.Greater(t, prev, 0.0)
		})
	}
}

func TestMissingRecovery(t *testing.T) {
	b := testBasket(t, 0, 0.1, nil)
	lhp, err := NewGaussianLHP(quote.New(0.2), nil)
	require.NoError(t, err)
	require.ErrorIs(t, b.SetLossModel(lhp), basket.ErrNotSet)

	explicit := make([]float64, 10)
	for i := range explicit {
		explicit[i] = 0.4
	}
	lhp, err = NewGaussianLHP(quote.New(0.2), explicit)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(lhp))

	_, err = lhp.Percentile(b.RefDate(), 2)
	require.ErrorIs(t, err, ErrPercentile)

	unattached, err := NewGaussianLHP(quote.New(0.2), explicit)
	require.NoError(t, err)
	_, err = unattached.ExpectedTrancheLoss(b.RefDate())
	require.ErrorIs(t, err, ErrNotAttached)
}

func TestLatentSizeMismatch(t *testing.T) {
	b := testBasket(t, 0, 0.1, quote.New(0.4))
	lm, err := copula.NewQuoteLatentModel(quote.New(0.2), 3, copula.NewGaussian(), copula.GaussianQuadrature)
	require.NoError(t, err)
	require.ErrorIs(t, b.SetLossModel(NewBinomial(lm, nil)), ErrSizeMismatch)
}

func TestDistributors(t *testing.T) {
	correl := quote.New(0.3)
	rec, err := NewRecursive(gaussLatent(t, correl), nil, 1)
	require.NoError(t, err)
	ih, err := NewInhomogeneousPool(gaussLatent(t, correl), nil, 100)
	require.NoError(t, err)
	rd, err := NewRandomDefault(gaussLatent(t, correl), nil, 20000, 7)
	require.NoError(t, err)

	for name, m := range map[string]Distributor{
		"binomial":      NewBinomial(gaussLatent(t, correl), nil),
		"recursive":     rec,
		"inhomogeneous": ih,
		"random":        rd,
	} {
		t.Run(name, func(t *testing.T) {
			b := testBasket(t, 0.05, 0.25, quote.New(0.4))
			require.NoError(t, b.SetLossModel(m))
			d := b.RefDate().AddDate(5, 0, 0)

			pts, err := m.LossDistribution(d)
			require.NoError(t, err)
			require.NotEmpty(t, pts)
			require.InDelta(t, 1.0, pts[len(pts)-1].Cumulative, 1e-6)
			for i := 1; i < len(pts); i++ {
				require.Greater(t, pts[i].Loss, pts[i-1].Loss)
				require.GreaterOrEqual(t, pts[i].Cumulative, pts[i-1].Cumulative-1e-12)
			}

			q, err := m.Percentile(d, 0.95)
			require.NoError(t, err)
			require.GreaterOrEqual(t, q, 0.0)
			require.LessOrEqual(t, q, 200.0)

			es, err := m.ExpectedShortfall(d, 0.95)
			require.NoError(t, err)
			require.GreaterOrEqual(t, es, q-1e-9)
			require.LessOrEqual(t, es, 200.0)

			v, err := m.ExpectedTrancheLoss(d)
			require.NoError(t, err)
			require.LessOrEqual(t, v, es+1e-9)

			_, err = m.ExpectedShortfall(d, 1)
			require.ErrorIs(t, err, ErrPercentile)
		})
	}
}

func TestRecursiveLatticeBound(t *testing.T) {
	type testCases struct {
		name      string
		notionals []float64
		err       error
	}
	ref, _ := time.Parse(utils.Layout, "2023-01-17")
	for _, test := range []testCases{
		{name: "even notionals", notionals: []float64{100, 100}},
		{name: "spread notionals", notionals: []float64{1e-6, 1e9}, err: ErrBadParameter},
		{name: "mild spread", notionals: []float64{1, 1e5}},
	} {
		t.Run(test.name, func(t *testing.T) {
			pool := basket.NewPool()
			names := []string{"a", "b"}
			for _, n := range names {
				c, err := termstructure.NewFlatHazardRate(ref, quote.New(0.02), utils.Act365F)
				require.NoError(t, err)
				iss := basket.NewIssuer(map[basket.DefaultProbKey]termstructure.DefaultCurve{key: c})
				require.NoError(t, pool.Add(n, iss, key, quote.New(0.4)))
			}
			b, err := basket.New(ref, names, test.notionals, pool, 0, 1, nil)
			require.NoError(t, err)
			lm, err := copula.NewQuoteLatentModel(quote.New(0.3), 2, copula.NewGaussian(), copula.GaussianQuadrature)
			require.NoError(t, err)
			rec, err := NewRecursive(lm, nil, 1)
			require.NoError(t, err)

			err = b.SetLossModel(rec)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				_, err = rec.ExpectedTrancheLoss(ref.AddDate(5, 0, 0))
				require.ErrorIs(t, err, ErrNotAttached)
				return
			}
			require.NoError(t, err)
			v, err := b.ExpectedTrancheLoss(ref.AddDate(5, 0, 0))
			require.NoError(t, err)
			require.Greater(t, v, 0.0)
		})
	}
}

func TestHomogeneousStrategy(t *testing.T) {
	type testCases struct {
		name  string
		probs []float64
	}
	nominals := []float64{60, 60, 60, 60}
	for _, test := range []testCases{
		{name: "identical names", probs: []float64{0.07, 0.07, 0.07, 0.07}},
		{name: "mixed probabilities", probs: []float64{0.01, 0.05, 0.1, 0.2}},
	} {
		t.Run(test.name, func(t *testing.T) {
			s, err := newHomogeneousStrategy(8, 240)
			require.NoError(t, err)
			got, err := s.Distribution(nominals, test.probs)
			require.NoError(t, err)
			h, err := lossdist.NewHomogeneous(8, 240)
			require.NoError(t, err)
			want, err := h.Distribution(nominals, test.probs)
			require.NoError(t, err)
			require.InDelta(t, want.ExpectedValue(), got.ExpectedValue(), 1e-12)
			for i := 0; i < want.Size(); i++ {
				require.InDelta(t, want.Mass(i), got.Mass(i), 1e-12)
			}
		})
	}

	// identical names take the binomial path inside the factor integration
	ref, _ := time.Parse(utils.Layout, "2023-01-17")
	pool := basket.NewPool()
	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		c, err := termstructure.NewFlatHazardRate(ref, quote.New(0.03), utils.Act365F)
		require.NoError(t, err)
		iss := basket.NewIssuer(map[basket.DefaultProbKey]termstructure.DefaultCurve{key: c})
		require.NoError(t, pool.Add(n, iss, key, quote.New(0.4)))
	}
	b, err := basket.New(ref, names, []float64{100, 100, 100, 100, 100}, pool, 0.05, 0.3, nil)
	require.NoError(t, err)
	correl := quote.New(0.3)
	lm := func() *copula.LatentModel {
		m, err := copula.NewQuoteLatentModel(correl, 5, copula.NewGaussian(), copula.GaussianQuadrature)
		require.NoError(t, err)
		return m
	}
	d := ref.AddDate(5, 0, 0)
	rec, err := NewRecursive(lm(), nil, 1)
	require.NoError(t, err)
	hp, err := NewHomogeneousPool(lm(), nil, 50)
	require.NoError(t, err)
	require.InDelta(t, etl(t, b, rec, d), etl(t, b, hp, d), 1e-6)
}

func TestRandomDefault(t *testing.T) {
	correl := quote.New(0.3)
	b := testBasket(t, 0.05, 0.25, quote.New(0.4))
	d := b.RefDate().AddDate(5, 0, 0)

	rec, err := NewRecursive(gaussLatent(t, correl), nil, 1)
	require.NoError(t, err)
	exact := etl(t, b, rec, d)

	rd, err := NewRandomDefault(gaussLatent(t, correl), nil, 100000, 42)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(rd))
	mean, se, err := rd.ExpectedTrancheLossWithError(d)
	require.NoError(t, err)
	require.Greater(t, se, 0.0)
	require.InDelta(t, exact, mean, 4*se)

	again, err := NewRandomDefault(gaussLatent(t, correl), nil, 100000, 42)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(again))
	mean2, _, err := again.ExpectedTrancheLossWithError(d)
	require.NoError(t, err)
	require.Equal(t, mean, mean2)

	_, err = NewRandomDefault(gaussLatent(t, correl), nil, 1, 42)
	require.ErrorIs(t, err, ErrBadParameter)
}

func TestRealizedDefaultShiftsTranche(t *testing.T) {
	rr := quote.New(0.4)
	b := testBasket(t, 0.05, 0.25, rr)
	correl := quote.New(0.3)
	rec, err := NewRecursive(gaussLatent(t, correl), nil, 1)
	require.NoError(t, err)
	require.NoError(t, b.SetLossModel(rec))
	d := b.RefDate().AddDate(5, 0, 0)
	before, err := b.ExpectedTrancheLoss(d)
	require.NoError(t, err)

	iss, err := b.Pool().Issuer("name9")
	require.NoError(t, err)
	iss.AddDefault(basket.DefaultEvent{Date: b.RefDate().AddDate(0, 0, -5), Key: key, Recovery: 0.4})
	require.NoError(t, b.Update())
	require.Equal(t, 9, b.RemainingSize())

	// 60 of settled loss eats the first 50 of subordination
	require.InDelta(t, 0.0, b.RemainingAttachmentAmount(), 1e-12)
	require.InDelta(t, 190.0, b.RemainingDetachmentAmount(), 1e-12)
	after, err := b.ExpectedTrancheLoss(d)
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}
