package basecorr

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/lossmodel"
	"github.com/banachtech/basket-credit/quote"
	"github.com/rs/zerolog/log"
)

var ErrUnknownKind = errors.New("unknown base model")

// Kind selects the single correlation model priced on each equity tranche.
type Kind int

const (
	LHP Kind = iota
	GaussianBinomial
	TBinomial
	InhomogeneousPool
)

var kindNames = map[Kind]string{
	LHP:               "lhp",
	GaussianBinomial:  "gaussian-binomial",
	TBinomial:         "t-binomial",
	InhomogeneousPool: "inhomogeneous-pool",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// LossModel prices tranche [A, D] as ETL(0, D) at the surface correlation of
// D minus ETL(0, A) at the correlation of A. The two equity tranches are
// sub-baskets of the live names, each with its own model driven by a
// correlation cell that ExpectedTrancheLoss sets before evaluating it.
//
// The cells are written and read back within one call, so a LossModel must
// have a single caller at a time.
//
// The InhomogeneousPool kind is known to give wrong equity tranche numbers
// and needs independent validation before use.
type LossModel struct {
	quote.Observable
	surface     *Surface
	kind        Kind
	recoveries  []float64
	tOrders     []float64
	nBuckets    int
	extrapolate bool

	basket       *basket.Basket
	attachRatio  float64
	detachRatio  float64
	attachCell   *quote.Quote
	detachCell   *quote.Quote
	attachBasket *basket.Basket
	detachBasket *basket.Basket

	etl map[time.Time]float64
}

type Option func(*LossModel)

// WithTOrders sets the Student-t degrees of freedom of factor and
// idiosyncratic variables for TBinomial.
func WithTOrders(factor, idiosyncratic float64) Option {
	return func(m *LossModel) { m.tOrders = []float64{factor, idiosyncratic} }
}

// WithBuckets sets the loss grid size for InhomogeneousPool.
func WithBuckets(n int) Option {
	return func(m *LossModel) { m.nBuckets = n }
}

// WithExtrapolation allows flat surface extrapolation.
func WithExtrapolation(on bool) Option {
	return func(m *LossModel) { m.extrapolate = on }
}

// New builds a model over surface. recoveries may be nil to use pool quotes;
// otherwise it is indexed like the names of the basket the model attaches to.
func New(surface *Surface, kind Kind, recoveries []float64, opts ...Option) (*LossModel, error) {
	if surface == nil {
		return nil, fmt.Errorf("%w: nil surface", lossmodel.ErrBadParameter)
	}
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	m := &LossModel{
		surface:    surface,
		kind:       kind,
		recoveries: recoveries,
		tOrders:    []float64{5, 5},
		nBuckets:   100,
		attachCell: quote.New(0),
		detachCell: quote.New(0),
		etl:        map[time.Time]float64{},
	}
	for _, o := range opts {
		o(m)
	}
	surface.Register(m)
	return m, nil
}

func (m *LossModel) Kind() Kind { return m.kind }

// Invalidate drops memoized values when the surface moves.
func (m *LossModel) Invalidate() {
	m.etl = map[time.Time]float64{}
	m.NotifyObservers()
}

// Attach rebuilds the equity sub-baskets from the live names of bk. Each
// attach starts from fresh correlation cells so the sub-models it replaces
// stop receiving notifications. On error the model is left detached.
func (m *LossModel) Attach(bk *basket.Basket) error {
	m.detach()
	if bk == nil {
		return lossmodel.ErrNotAttached
	}
	if err := bk.CheckTranche(); err != nil {
		return err
	}

	var attachRatio, detachRatio float64
	var attachBasket, detachBasket *basket.Basket
	attachCell, detachCell := quote.New(0), quote.New(0)
	if notional := bk.RemainingNotional(); notional > 0 {
		attachRatio = math.Min(bk.RemainingAttachmentAmount()/notional, 1)
		detachRatio = math.Min(bk.RemainingDetachmentAmount()/notional, 1)

		var recoveries []float64
		if m.recoveries != nil {
			for _, i := range bk.LiveList() {
				if i >= len(m.recoveries) {
					return fmt.Errorf("%w: recovery rate for %s", basket.ErrNotSet, bk.Names()[i])
				}
				recoveries = append(recoveries, m.recoveries[i])
			}
		}
		var err error
		// an equity tranche needs no attachment leg
		if attachRatio > 0 {
			if attachBasket, err = m.subBasket(bk, attachRatio, attachCell, recoveries); err != nil {
				return err
			}
		}
		if detachRatio > 0 {
			if detachBasket, err = m.subBasket(bk, detachRatio, detachCell, recoveries); err != nil {
				return err
			}
		}
	}

	m.basket = bk
	m.attachRatio, m.detachRatio = attachRatio, detachRatio
	m.attachCell, m.detachCell = attachCell, detachCell
	m.attachBasket, m.detachBasket = attachBasket, detachBasket
	log.Debug().Str("kind", m.kind.String()).Float64("attach", attachRatio).Float64("detach", detachRatio).Msg("base correlation sub-models rebuilt")
	return nil
}

func (m *LossModel) detach() {
	m.basket = nil
	m.attachBasket, m.detachBasket = nil, nil
	m.attachRatio, m.detachRatio = 0, 0
	m.etl = map[time.Time]float64{}
}

func (m *LossModel) subBasket(bk *basket.Basket, ratio float64, cell *quote.Quote, recoveries []float64) (*basket.Basket, error) {
	sub, err := basket.New(bk.RefDate(), bk.RemainingNames(), bk.RemainingNotionals(), bk.Pool(), 0, ratio, bk.Claim())
	if err != nil {
		return nil, err
	}
	model, err := m.newModel(cell, sub.Size(), recoveries)
	if err != nil {
		return nil, err
	}
	if err := sub.SetLossModel(model); err != nil {
		return nil, err
	}
	return sub, nil
}

// newModel is the factory of the scalar correlation model of each kind.
func (m *LossModel) newModel(cell *quote.Quote, n int, recoveries []float64) (basket.LossModel, error) {
	switch m.kind {
	case LHP:
		return lossmodel.NewGaussianLHP(cell, recoveries)
	case GaussianBinomial:
		lm, err := copula.NewQuoteLatentModel(cell, n, copula.NewGaussian(), copula.GaussianQuadrature)
		if err != nil {
			return nil, err
		}
		return lossmodel.NewBinomial(lm, recoveries), nil
	case TBinomial:
		t, err := copula.NewStudentT(m.tOrders)
		if err != nil {
			return nil, err
		}
		lm, err := copula.NewQuoteLatentModel(cell, n, t, copula.GaussianQuadrature)
		if err != nil {
			return nil, err
		}
		return lossmodel.NewBinomial(lm, recoveries), nil
	case InhomogeneousPool:
		lm, err := copula.NewQuoteLatentModel(cell, n, copula.NewGaussian(), copula.GaussianQuadrature)
		if err != nil {
			return nil, err
		}
		return lossmodel.NewInhomogeneousPool(lm, recoveries, m.nBuckets)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, m.kind)
}

// Correlations returns the surface correlations used at d for the
// attachment and detachment points.
func (m *LossModel) Correlations(d time.Time) (attach, detach float64, err error) {
	if m.basket == nil {
		return 0, 0, lossmodel.ErrNotAttached
	}
	if m.attachBasket != nil {
		if attach, err = m.surface.Correlation(d, m.attachRatio, m.extrapolate); err != nil {
			return 0, 0, err
		}
	}
	if m.detachBasket != nil {
		if detach, err = m.surface.Correlation(d, m.detachRatio, m.extrapolate); err != nil {
			return 0, 0, err
		}
	}
	return attach, detach, nil
}

func (m *LossModel) ExpectedTrancheLoss(d time.Time) (float64, error) {
	if m.basket == nil {
		return 0, lossmodel.ErrNotAttached
	}
	if v, ok := m.etl[d]; ok {
		return v, nil
	}
	ca, cd, err := m.Correlations(d)
	if err != nil {
		return 0, err
	}
	var la, ld float64
	if m.attachBasket != nil {
		m.attachCell.Set(ca)
		if la, err = m.attachBasket.ExpectedTrancheLoss(d); err != nil {
			return 0, err
		}
	}
	if m.detachBasket != nil {
		m.detachCell.Set(cd)
		if ld, err = m.detachBasket.ExpectedTrancheLoss(d); err != nil {
			return 0, err
		}
	}
	v := ld - la
	m.etl[d] = v
	return v, nil
}
