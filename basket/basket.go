// Package basket describes a tranched portfolio of credit names and the
// contract its loss models fulfil.
package basket

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/utils"
)

var (
	ErrSizeMismatch    = errors.New("sizes differ")
	ErrInvalidTranche  = errors.New("invalid tranche")
	ErrNegativeWeight  = errors.New("negative notional")
	ErrUnknownName     = errors.New("name not in pool")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrNotSet          = errors.New("not set")
	ErrLossModelNotSet = fmt.Errorf("loss model %w", ErrNotSet)
)

// LossModel prices the expected loss of a basket's tranche. Attach binds the
// model to a basket and rebuilds whatever it caches about it; it is called
// again whenever the basket changes.
type LossModel interface {
	Attach(b *Basket) error
	ExpectedTrancheLoss(d time.Time) (float64, error)
}

// Basket is a tranche [attach, detach] of a portfolio of names drawn from a
// pool. Realized defaults up to the reference date reduce the live portfolio.
type Basket struct {
	quote.Observable
	refDate   time.Time
	names     []string
	notionals []float64
	pool      *Pool
	attach    float64
	detach    float64
	claim     Claim
	model     LossModel
}

// New validates the inputs and builds a basket. A nil claim means face value.
func New(refDate time.Time, names []string, notionals []float64, pool *Pool, attach, detach float64, claim Claim) (*Basket, error) {
	if len(names) != len(notionals) {
		return nil, fmt.Errorf("%w: %d names, %d notionals", ErrSizeMismatch, len(names), len(notionals))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty basket", ErrSizeMismatch)
	}
	if pool == nil {
		return nil, fmt.Errorf("pool %w", ErrNotSet)
	}
	if !(attach >= 0 && attach < detach && detach <= 1) {
		return nil, fmt.Errorf("%w: need 0 <= attach < detach <= 1, got [%v, %v]", ErrInvalidTranche, attach, detach)
	}
	seen := map[string]bool{}
	for i, n := range names {
		if !pool.Has(n) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownName, n)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, n)
		}
		seen[n] = true
		if notionals[i] < 0 || math.IsNaN(notionals[i]) {
			return nil, fmt.Errorf("%w: %s has %v", ErrNegativeWeight, n, notionals[i])
		}
	}
	if claim == nil {
		claim = FaceValueClaim{}
	}
	return &Basket{
		refDate:   refDate,
		names:     append([]string(nil), names...),
		notionals: append([]float64(nil), notionals...),
		pool:      pool,
		attach:    attach,
		detach:    detach,
		claim:     claim,
	}, nil
}

func (b *Basket) RefDate() time.Time       { return b.refDate }
func (b *Basket) Names() []string          { return append([]string(nil), b.names...) }
func (b *Basket) Notionals() []float64     { return append([]float64(nil), b.notionals...) }
func (b *Basket) Size() int                { return len(b.names) }
func (b *Basket) Pool() *Pool              { return b.pool }
func (b *Basket) Claim() Claim             { return b.claim }
func (b *Basket) AttachmentRatio() float64 { return b.attach }
func (b *Basket) DetachmentRatio() float64 { return b.detach }

func (b *Basket) BasketNotional() float64 {
	var s float64
	for _, n := range b.notionals {
		s += n
	}
	return s
}

func (b *Basket) AttachmentAmount() float64 { return b.attach * b.BasketNotional() }
func (b *Basket) DetachmentAmount() float64 { return b.detach * b.BasketNotional() }
func (b *Basket) TrancheNotional() float64  { return b.DetachmentAmount() - b.AttachmentAmount() }

// SetRefDate moves the basket and resets its loss model.
func (b *Basket) SetRefDate(d time.Time) error {
	b.refDate = d
	return b.Update()
}

// Update tells the loss model and observers that the composition or the
// realized defaults changed.
func (b *Basket) Update() error {
	if b.model != nil {
		if err := b.model.Attach(b); err != nil {
			return err
		}
	}
	b.NotifyObservers()
	return nil
}

func (b *Basket) SetLossModel(m LossModel) error {
	if m == nil {
		return ErrLossModelNotSet
	}
	if err := m.Attach(b); err != nil {
		return err
	}
	b.model = m
	return nil
}

func (b *Basket) LossModel() LossModel { return b.model }

// ExpectedTrancheLoss forwards to the attached loss model.
func (b *Basket) ExpectedTrancheLoss(d time.Time) (float64, error) {
	if b.model == nil {
		return 0, ErrLossModelNotSet
	}
	return b.model.ExpectedTrancheLoss(d)
}

// defaultEvent is the realized default of name at or before the reference date.
func (b *Basket) defaultEvent(name string) *DefaultEvent {
	e := b.pool.entries[name]
	return e.issuer.DefaultedBetween(time.Time{}, b.refDate, e.key)
}

// LiveList returns the indices of names not defaulted by the reference date.
func (b *Basket) LiveList() []int {
	var out []int
	for i, n := range b.names {
		if b.defaultEvent(n) == nil {
			out = append(out, i)
		}
	}
	return out
}

func (b *Basket) RemainingNames() []string {
	var out []string
	for _, i := range b.LiveList() {
		out = append(out, b.names[i])
	}
	return out
}

func (b *Basket) RemainingNotionals() []float64 {
	var out []float64
	for _, i := range b.LiveList() {
		out = append(out, b.notionals[i])
	}
	return out
}

func (b *Basket) RemainingSize() int { return len(b.LiveList()) }

func (b *Basket) RemainingNotional() float64 {
	var s float64
	for _, n := range b.RemainingNotionals() {
		s += n
	}
	return s
}

// SettledLoss is the portfolio loss already realized by the reference date.
func (b *Basket) SettledLoss() float64 {
	var s float64
	for i, n := range b.names {
		if e := b.defaultEvent(n); e != nil {
			s += b.claim.Amount(e.Date, b.notionals[i], e.Recovery)
		}
	}
	return s
}

// RemainingAttachmentAmount is the attachment point measured in future
// losses of the live portfolio.
func (b *Basket) RemainingAttachmentAmount() float64 {
	return math.Max(0, b.AttachmentAmount()-b.SettledLoss())
}

func (b *Basket) RemainingDetachmentAmount() float64 {
	return math.Max(0, b.DetachmentAmount()-b.SettledLoss())
}

// RemainingTrancheNotional is the tranche notional not yet written down.
func (b *Basket) RemainingTrancheNotional() float64 {
	return b.RemainingDetachmentAmount() - b.RemainingAttachmentAmount()
}

// Probabilities returns each name's probability of defaulting between the
// reference date and d, given survival to the reference date.
func (b *Basket) Probabilities(d time.Time) ([]float64, error) {
	return b.probabilities(d, b.names)
}

// RemainingProbabilities is Probabilities restricted to live names.
func (b *Basket) RemainingProbabilities(d time.Time) ([]float64, error) {
	return b.probabilities(d, b.RemainingNames())
}

func (b *Basket) probabilities(d time.Time, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	if !d.After(b.refDate) {
		return out, nil
	}
	for i, n := range names {
		c, err := b.pool.Curve(n)
		if err != nil {
			return nil, err
		}
		s0, err := c.SurvivalProbability(b.refDate, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		s1, err := c.SurvivalProbability(d, false)
		if err != nil {
			return nil, fmt.Errorf("%s at %s: %w", n, d.Format(utils.Layout), err)
		}
		if s0 <= 0 {
			out[i] = 1
			continue
		}
		out[i] = math.Min(1, math.Max(0, 1-s1/s0))
	}
	return out, nil
}

// RemainingRecoveries returns recovery rates of the live names. override,
// when given, is indexed like Names(); otherwise the pool quotes are used.
func (b *Basket) RemainingRecoveries(override []float64) ([]float64, error) {
	live := b.LiveList()
	out := make([]float64, len(live))
	for k, i := range live {
		if override != nil {
			if i >= len(override) {
				return nil, fmt.Errorf("%w: recovery rate for %s", ErrNotSet, b.names[i])
			}
			out[k] = override[i]
		} else {
			r, err := b.pool.Recovery(b.names[i])
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		if out[k] < 0 || out[k] > 1 {
			return nil, fmt.Errorf("%w: recovery rate %v for %s", ErrInvalidTranche, out[k], b.names[i])
		}
	}
	return out, nil
}

// LGDs are the live names' losses given default.
func (b *Basket) LGDs(override []float64) ([]float64, error) {
	rr, err := b.RemainingRecoveries(override)
	if err != nil {
		return nil, err
	}
	notionals := b.RemainingNotionals()
	out := make([]float64, len(rr))
	for i, r := range rr {
		out[i] = b.claim.Amount(b.refDate, notionals[i], r)
	}
	return out, nil
}

// CheckTranche verifies the remaining tranche amounts are consistent.
func (b *Basket) CheckTranche() error {
	a, d := b.RemainingAttachmentAmount(), b.RemainingDetachmentAmount()
	if d < a {
		return fmt.Errorf("%w: detachment %v below attachment %v", ErrInvalidTranche, d, a)
	}
	if a < 0 || d > b.BasketNotional() {
		return fmt.Errorf("%w: amounts [%v, %v] outside [0, %v]", ErrInvalidTranche, a, d, b.BasketNotional())
	}
	return nil
}
