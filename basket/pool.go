package basket

import (
	"fmt"
	"sort"
	"time"

	"github.com/banachtech/basket-credit/quote"
	"github.com/banachtech/basket-credit/termstructure"
)

// DefaultProbKey selects one of an issuer's default curves.
type DefaultProbKey struct {
	Currency  string
	Seniority string
	Tenor     string
	Threshold float64
}

// DefaultEvent is a realized credit event.
type DefaultEvent struct {
	Date     time.Time
	Key      DefaultProbKey
	Recovery float64
}

// Issuer holds the default curves of one reference entity and its realized defaults.
type Issuer struct {
	curves map[DefaultProbKey]termstructure.DefaultCurve
	events []DefaultEvent
}

func NewIssuer(curves map[DefaultProbKey]termstructure.DefaultCurve, events ...DefaultEvent) *Issuer {
	iss := &Issuer{curves: curves}
	for _, e := range events {
		iss.AddDefault(e)
	}
	return iss
}

func (iss *Issuer) Curve(key DefaultProbKey) (termstructure.DefaultCurve, error) {
	c, ok := iss.curves[key]
	if !ok {
		return nil, fmt.Errorf("%w: no curve for key %+v", ErrNotSet, key)
	}
	return c, nil
}

// AddDefault records a credit event, keeping events in date order.
func (iss *Issuer) AddDefault(e DefaultEvent) {
	iss.events = append(iss.events, e)
	sort.SliceStable(iss.events, func(i, j int) bool { return iss.events[i].Date.Before(iss.events[j].Date) })
}

// DefaultedBetween returns the first event for key in (start, end], or nil.
func (iss *Issuer) DefaultedBetween(start, end time.Time, key DefaultProbKey) *DefaultEvent {
	for i := range iss.events {
		e := &iss.events[i]
		if e.Key == key && e.Date.After(start) && !e.Date.After(end) {
			return e
		}
	}
	return nil
}

type poolEntry struct {
	issuer   *Issuer
	key      DefaultProbKey
	recovery *quote.Quote
}

// Pool maps obligor names to issuers. It is shared read-only between baskets.
type Pool struct {
	names   []string
	entries map[string]poolEntry
}

func NewPool() *Pool {
	return &Pool{entries: map[string]poolEntry{}}
}

// Add registers name with the curve key used for it. recovery may be nil
// when loss models are given recovery rates explicitly.
func (p *Pool) Add(name string, issuer *Issuer, key DefaultProbKey, recovery *quote.Quote) error {
	if _, ok := p.entries[name]; ok {
		return fmt.Errorf("%w: %s already in pool", ErrDuplicateName, name)
	}
	if issuer == nil {
		return fmt.Errorf("%w: nil issuer for %s", ErrNotSet, name)
	}
	if _, err := issuer.Curve(key); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	p.names = append(p.names, name)
	p.entries[name] = poolEntry{issuer: issuer, key: key, recovery: recovery}
	return nil
}

func (p *Pool) Size() int       { return len(p.names) }
func (p *Pool) Names() []string { return append([]string(nil), p.names...) }

func (p *Pool) Has(name string) bool {
	_, ok := p.entries[name]
	return ok
}

func (p *Pool) Issuer(name string) (*Issuer, error) {
	e, ok := p.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return e.issuer, nil
}

func (p *Pool) Key(name string) (DefaultProbKey, error) {
	e, ok := p.entries[name]
	if !ok {
		return DefaultProbKey{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return e.key, nil
}

// Curve is the default curve used for name in this pool.
func (p *Pool) Curve(name string) (termstructure.DefaultCurve, error) {
	e, ok := p.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return e.issuer.Curve(e.key)
}

// Recovery returns the quoted recovery rate of name.
func (p *Pool) Recovery(name string) (float64, error) {
	e, ok := p.entries[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	if e.recovery == nil {
		return 0, fmt.Errorf("%w: recovery rate for %s", ErrNotSet, name)
	}
	return e.recovery.Value(), nil
}
