// Package quote holds observable scalar market data and the invalidation
// plumbing between quotes, models and baskets.
package quote

// Observer is notified when something it depends on changes. Implementations
// mark cached values dirty and recompute on next read.
type Observer interface {
	Invalidate()
}

// Observable keeps a list of observers. Embed it to gain Register/Unregister.
type Observable struct {
	observers []Observer
}

func (o *Observable) Register(obs Observer) {
	for _, v := range o.observers {
		if v == obs {
			return
		}
	}
	o.observers = append(o.observers, obs)
}

func (o *Observable) Unregister(obs Observer) {
	for i, v := range o.observers {
		if v == obs {
			o.observers = append(o.observers[:i], o.observers[i+1:]...)
			return
		}
	}
}

// Observers is the number of registered observers.
func (o *Observable) Observers() int { return len(o.observers) }

// NotifyObservers invalidates every registered observer.
func (o *Observable) NotifyObservers() {
	for _, v := range o.observers {
		v.Invalidate()
	}
}

// Quote is a mutable scalar cell. Setting a different value invalidates
// every dependent.
type Quote struct {
	Observable
	value float64
}

func New(v float64) *Quote {
	return &Quote{value: v}
}

func (q *Quote) Value() float64 {
	return q.value
}

// Set stores v and notifies dependents when the value changes.
func (q *Quote) Set(v float64) {
	if v == q.value {
		return
	}
	q.value = v
	q.NotifyObservers()
}
