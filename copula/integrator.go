package copula

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/integrate/quad"
)

// IntegrationType selects how the systemic factors are integrated out.
type IntegrationType int

const (
	GaussianQuadrature IntegrationType = iota
	Trapezoid
)

func (t IntegrationType) String() string {
	switch t {
	case GaussianQuadrature:
		return "GaussianQuadrature"
	case Trapezoid:
		return "Trapezoid"
	}
	return fmt.Sprintf("IntegrationType(%d)", int(t))
}

func ParseIntegrationType(s string) (IntegrationType, error) {
	switch strings.ToLower(s) {
	case "gaussianquadrature", "quadrature", "gauss", "":
		return GaussianQuadrature, nil
	case "trapezoid", "trapezoidal":
		return Trapezoid, nil
	}
	return 0, fmt.Errorf("unknown integration type %q", s)
}

const (
	DefaultQuadratureOrder = 64
	DefaultTrapezoidPoints = 801
)

// Integrator integrates over the factor box [lo, hi]^dims. The point slice
// handed to f is reused between calls and must not be retained.
type Integrator interface {
	Integrate(f func(m []float64) float64) float64
	IntegrateVector(f func(m []float64) []float64) []float64
}

// NewIntegrator builds an integrator of the given type. A non-positive
// order selects the default for the type.
func NewIntegrator(t IntegrationType, dims int, lo, hi float64, order int) (Integrator, error) {
	if dims < 1 {
		return nil, fmt.Errorf("integrator needs at least one dimension, got %d", dims)
	}
	if !(hi > lo) {
		return nil, fmt.Errorf("empty integration domain [%v, %v]", lo, hi)
	}
	switch t {
	case GaussianQuadrature:
		if order <= 0 {
			order = DefaultQuadratureOrder
		}
		g := &gaussQuad{dims: dims, x: make([]float64, order), w: make([]float64, order)}
		quad.Legendre{}.FixedLocations(g.x, g.w, lo, hi)
		return g, nil
	case Trapezoid:
		if order <= 1 {
			order = DefaultTrapezoidPoints
		}
		tr := &trapezoid{dims: dims, x: make([]float64, order)}
		step := (hi - lo) / float64(order-1)
		for i := range tr.x {
			tr.x[i] = lo + float64(i)*step
		}
		tr.x[order-1] = hi
		return tr, nil
	}
	return nil, fmt.Errorf("unknown integration type %v", t)
}

// gaussQuad is a tensor product of Gauss-Legendre rules.
type gaussQuad struct {
	dims int
	x, w []float64
}

func (g *gaussQuad) Integrate(f func(m []float64) float64) float64 {
	idx := make([]int, g.dims)
	m := make([]float64, g.dims)
	var sum float64
	for {
		w := 1.0
		for k, i := range idx {
			m[k] = g.x[i]
			w *= g.w[i]
		}
		sum += w * f(m)
		if !next(idx, len(g.x)) {
			return sum
		}
	}
}

func (g *gaussQuad) IntegrateVector(f func(m []float64) []float64) []float64 {
	idx := make([]int, g.dims)
	m := make([]float64, g.dims)
	var sum []float64
	for {
		w := 1.0
		for k, i := range idx {
			m[k] = g.x[i]
			w *= g.w[i]
		}
		v := f(m)
		if sum == nil {
			sum = make([]float64, len(v))
		}
		for j := range v {
			sum[j] += w * v[j]
		}
		if !next(idx, len(g.x)) {
			return sum
		}
	}
}

// trapezoid applies the composite trapezoid rule one dimension at a time.
type trapezoid struct {
	dims int
	x    []float64
}

func (t *trapezoid) Integrate(f func(m []float64) float64) float64 {
	m := make([]float64, t.dims)
	return t.nest(f, m, 0)
}

func (t *trapezoid) nest(f func(m []float64) float64, m []float64, d int) float64 {
	vals := make([]float64, len(t.x))
	for i, x := range t.x {
		m[d] = x
		if d == t.dims-1 {
			vals[i] = f(m)
		} else {
			vals[i] = t.nest(f, m, d+1)
		}
	}
	return integrate.Trapezoidal(t.x, vals)
}

func (t *trapezoid) IntegrateVector(f func(m []float64) []float64) []float64 {
	m := make([]float64, t.dims)
	return t.nestVector(f, m, 0)
}

func (t *trapezoid) nestVector(f func(m []float64) []float64, m []float64, d int) []float64 {
	vals := make([][]float64, len(t.x))
	for i, x := range t.x {
		m[d] = x
		if d == t.dims-1 {
			v := f(m)
			vals[i] = append([]float64(nil), v...)
		} else {
			vals[i] = t.nestVector(f, m, d+1)
		}
	}
	out := make([]float64, len(vals[0]))
	col := make([]float64, len(t.x))
	for j := range out {
		for i := range vals {
			col[i] = vals[i][j]
		}
		out[j] = integrate.Trapezoidal(t.x, col)
	}
	return out
}
