package mainfuncs

import (
	"fmt"
	"strings"
	"time"

	"github.com/banachtech/basket-credit/basecorr"
	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/cdo"
	"github.com/banachtech/basket-credit/config"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/lossmodel"
	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/termstructure"
	"github.com/banachtech/basket-credit/utils"
	"github.com/rs/zerolog/log"
)

// TailLevel is the confidence level of the reported loss percentile and
// expected shortfall.
const TailLevel = 0.99

var defaultKey = basket.DefaultProbKey{Currency: "USD", Seniority: "SNRFOR"}

type Report struct {
	ReferenceDate   string        `json:"reference_date"`
	Horizon         string        `json:"horizon"`
	Attach          float64       `json:"attach"`
	Detach          float64       `json:"detach"`
	TrancheNotional float64       `json:"tranche_notional"`
	Results         []ModelResult `json:"results"`
}

// ModelResult is one model's view of the tranche. A model that fails keeps
// its error here and does not affect the others.
type ModelResult struct {
	Model               string     `json:"model"`
	ExpectedTrancheLoss float64    `json:"expected_tranche_loss"`
	StdError            float64    `json:"std_error,omitempty"`
	Percentile          float64    `json:"percentile,omitempty"`
	ExpectedShortfall   float64    `json:"expected_shortfall,omitempty"`
	CDO                 *CDOResult `json:"cdo,omitempty"`
	Error               string     `json:"error,omitempty"`
}

type CDOResult struct {
	NPV             float64 `json:"npv"`
	PremiumValue    float64 `json:"premium_value"`
	ProtectionValue float64 `json:"protection_value"`
	FairPremium     float64 `json:"fair_premium"`
	FairUpfront     float64 `json:"fair_upfront"`
	Errors          int     `json:"errors"`
}

// market is the part of a scenario shared by every model.
type market struct {
	scenario config.Scenario
	refDate  time.Time
	horizon  time.Time
	pool     *basket.Pool
}

func newMarket(s config.Scenario) (*market, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ref, _ := time.Parse(utils.Layout, s.ReferenceDate)
	tenor, _ := utils.ParsePeriod(s.Horizon)
	pool := basket.NewPool()
	for i, name := range s.Names {
		curve, err := termstructure.NewFlatHazardRate(ref, quote.New(s.HazardRates[i]), utils.Act365F)
		if err != nil {
			return nil, err
		}
		iss := basket.NewIssuer(map[basket.DefaultProbKey]termstructure.DefaultCurve{defaultKey: curve})
		if err := pool.Add(name, iss, defaultKey, quote.New(s.Recoveries[i])); err != nil {
			return nil, err
		}
	}
	return &market{scenario: s, refDate: ref, horizon: tenor.Advance(ref, 1), pool: pool}, nil
}

func (mk *market) basket() (*basket.Basket, error) {
	s := mk.scenario
	return basket.New(mk.refDate, s.Names, s.Notionals, mk.pool, s.Attach, s.Detach, nil)
}

// job is a basket with its model attached, ready to be priced.
type job struct {
	name   string
	basket *basket.Basket
	model  basket.LossModel
}

// jobs builds every configured model on its own basket. Construction wires
// observers and is kept on the calling goroutine.
func (mk *market) jobs() ([]job, []ModelResult) {
	var out []job
	var failed []ModelResult
	for _, name := range mk.scenario.Models {
		b, err := mk.basket()
		var m basket.LossModel
		if err == nil {
			m, err = mk.model(name)
		}
		if err == nil {
			err = b.SetLossModel(m)
		}
		if err != nil {
			log.Error().Err(err).Str("model", name).Msg("model setup failed")
			failed = append(failed, ModelResult{Model: name, Error: err.Error()})
			continue
		}
		out = append(out, job{name: name, basket: b, model: m})
	}
	return out, failed
}

func (mk *market) latent(policy copula.Policy) (*copula.LatentModel, error) {
	s := mk.scenario
	integration, err := copula.ParseIntegrationType(s.Integration)
	if err != nil {
		return nil, err
	}
	return copula.NewQuoteLatentModel(quote.New(s.Correlation), len(s.Names), policy, integration)
}

func (mk *market) model(name string) (basket.LossModel, error) {
	s := mk.scenario
	switch name {
	case config.ModelLHP:
		return lossmodel.NewGaussianLHP(quote.New(s.Correlation), nil)
	case config.ModelBaseCorr:
		return mk.baseCorrelation()
	case config.ModelTBinomial:
		policy, err := copula.NewStudentT(s.TOrders)
		if err != nil {
			return nil, err
		}
		lm, err := mk.latent(policy)
		if err != nil {
			return nil, err
		}
		return lossmodel.NewBinomial(lm, nil), nil
	}

	lm, err := mk.latent(copula.NewGaussian())
	if err != nil {
		return nil, err
	}
	switch name {
	case config.ModelBinomial:
		return lossmodel.NewBinomial(lm, nil), nil
	case config.ModelRecursive:
		return lossmodel.NewRecursive(lm, nil, 1)
	case config.ModelInhomogeneous:
		return lossmodel.NewInhomogeneousPool(lm, nil, s.Buckets)
	case config.ModelHomogeneous:
		return lossmodel.NewHomogeneousPool(lm, nil, s.Buckets)
	case config.ModelRandom:
		return lossmodel.NewRandomDefault(lm, nil, s.Simulations, s.Seed)
	}
	return nil, fmt.Errorf("%w: unknown model %q", config.ErrInvalid, name)
}

func (mk *market) baseCorrelation() (*basecorr.LossModel, error) {
	bc := mk.scenario.BaseCorr
	kind, err := basecorr.ParseKind(bc.Kind)
	if err != nil {
		return nil, err
	}
	tenors := make([]utils.Period, len(bc.Tenors))
	quotes := make([][]*quote.Quote, len(bc.Tenors))
	for i, t := range bc.Tenors {
		if tenors[i], err = utils.ParsePeriod(t); err != nil {
			return nil, err
		}
		for _, c := range bc.Correlations[i] {
			quotes[i] = append(quotes[i], quote.New(c))
		}
	}
	surface, err := basecorr.NewSurface(mk.refDate, tenors, bc.LossLevels, quotes, utils.Act365F)
	if err != nil {
		return nil, err
	}
	opts := []basecorr.Option{basecorr.WithBuckets(mk.scenario.Buckets), basecorr.WithExtrapolation(bc.Extrapolate)}
	if len(mk.scenario.TOrders) == 2 {
		opts = append(opts, basecorr.WithTOrders(mk.scenario.TOrders[0], mk.scenario.TOrders[1]))
	}
	return basecorr.New(surface, kind, nil, opts...)
}

// price evaluates one job at the horizon.
func (mk *market) price(j job) ModelResult {
	res := ModelResult{Model: j.name}
	fail := func(err error) ModelResult {
		log.Error().Err(err).Str("model", j.name).Msg("pricing failed")
		res.Error = err.Error()
		return res
	}

	var err error
	if rd, ok := j.model.(*lossmodel.RandomDefault); ok {
		res.ExpectedTrancheLoss, res.StdError, err = rd.ExpectedTrancheLossWithError(mk.horizon)
	} else {
		res.ExpectedTrancheLoss, err = j.basket.ExpectedTrancheLoss(mk.horizon)
	}
	if err != nil {
		return fail(err)
	}
	if dist, ok := j.model.(lossmodel.Distributor); ok {
		if res.Percentile, err = dist.Percentile(mk.horizon, TailLevel); err != nil {
			return fail(err)
		}
		if res.ExpectedShortfall, err = dist.ExpectedShortfall(mk.horizon, TailLevel); err != nil {
			return fail(err)
		}
	}
	if mk.scenario.CDO != nil {
		if res.CDO, err = mk.quoteCDO(j.basket); err != nil {
			return fail(err)
		}
	}
	log.Info().Str("model", j.name).Float64("etl", res.ExpectedTrancheLoss).Msg("tranche priced")
	return res
}

func (mk *market) quoteCDO(b *basket.Basket) (*CDOResult, error) {
	q := mk.scenario.CDO
	tenor, err := utils.ParsePeriod(q.Tenor)
	if err != nil {
		return nil, err
	}
	var hols []time.Time
	if strings.EqualFold(q.Calendar, "nyse") {
		if hols, err = utils.Hols(utils.NYSE); err != nil {
			return nil, err
		}
	}
	sched, err := utils.GenerateSchedule(mk.refDate, mk.horizon, tenor, hols)
	if err != nil {
		return nil, err
	}
	side := cdo.Seller
	if strings.EqualFold(q.Side, "buyer") {
		side = cdo.Buyer
	}
	tranche, err := cdo.New(b, side, sched, q.UpfrontRate, q.RunningRate, q.DayCount, 0)
	if err != nil {
		return nil, err
	}
	yc, err := termstructure.NewFlatForward(mk.refDate, quote.New(q.Rate), utils.Act365F)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(q.Engine, "integral") {
		step, err := utils.ParsePeriod(q.Step)
		if err != nil {
			return nil, err
		}
		engine, err := cdo.NewIntegralEngine(yc, step)
		if err != nil {
			return nil, err
		}
		tranche.SetPricingEngine(engine)
	} else {
		tranche.SetPricingEngine(cdo.NewMidPointEngine(yc))
	}

	r, err := tranche.Calculate()
	if err != nil {
		return nil, err
	}
	out := &CDOResult{NPV: r.Value, PremiumValue: r.PremiumValue, ProtectionValue: r.ProtectionValue, Errors: r.Error}
	if out.FairPremium, err = tranche.FairPremium(); err != nil {
		return nil, err
	}
	if out.FairUpfront, err = tranche.FairUpfront(); err != nil {
		return nil, err
	}
	return out, nil
}

// Pricer prices the scenario tranche with every configured model. Models run
// concurrently, each on its own basket; progress, when not nil, is called
// once per finished model.
func Pricer(s config.Scenario, progress func()) (*Report, error) {
	mk, err := newMarket(s)
	if err != nil {
		return nil, err
	}
	jobs, failed := mk.jobs()

	ch := make(chan ModelResult, len(jobs))
	defer close(ch)
	for _, j := range jobs {
		go func(j job) {
			ch <- mk.price(j)
		}(j)
	}
	byName := map[string]ModelResult{}
	for _, r := range failed {
		byName[r.Model] = r
		if progress != nil {
			progress()
		}
	}
	for range jobs {
		r := <-ch
		byName[r.Model] = r
		if progress != nil {
			progress()
		}
	}

	b, err := mk.basket()
	if err != nil {
		return nil, err
	}
	report := &Report{
		ReferenceDate:   s.ReferenceDate,
		Horizon:         mk.horizon.Format(utils.Layout),
		Attach:          s.Attach,
		Detach:          s.Detach,
		TrancheNotional: b.TrancheNotional(),
	}
	for _, name := range s.Models {
		if r, ok := byName[name]; ok {
			report.Results = append(report.Results, r)
			delete(byName, name)
		}
	}
	return report, nil
}
