// Package copula holds the latent factor models: copula policies, factor
// integration and conditional default probabilities.
package copula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrDegreesOfFreedom = errors.New("degrees of freedom must exceed 2")
	ErrLoadings         = errors.New("invalid factor loadings")
	ErrSizeMismatch     = errors.New("sizes differ")
	ErrProbability      = errors.New("probability out of [0, 1]")
)

// Rander draws one variate.
type Rander interface {
	Rand() float64
}

// Policy is the distribution family of the systemic factors M and of the
// idiosyncratic factor Z in Y = a.M + sqrt(1 - a.a) Z.
type Policy interface {
	Name() string
	// Check accepts or rejects a factor count.
	Check(nFactors int) error
	// Domain is the integration range of every systemic factor.
	Domain() (lo, hi float64)
	// Order is the per-factor quadrature order suited to the density.
	Order() int
	// Density is the joint density of the systemic factors.
	Density(m []float64) float64
	CumulativeZ(z float64) float64
	InverseCumulativeZ(p float64) float64
	// InverseCumulativeY inverts the marginal of Y for the given systemic loadings.
	InverseCumulativeY(p float64, loadings []float64) float64
	CumulativeY(y float64, loadings []float64) float64
	// Variates returns one generator per systemic factor plus the
	// idiosyncratic one, all drawing from src.
	Variates(src rand.Source, nFactors int) (factors []Rander, idiosyncratic Rander)
}

// Gaussian is the Gaussian copula. Y is standard normal for any loadings.
type Gaussian struct{}

func NewGaussian() *Gaussian { return &Gaussian{} }

func (g *Gaussian) Name() string { return "gaussian" }

func (g *Gaussian) Check(nFactors int) error {
	if nFactors < 1 {
		return fmt.Errorf("%w: at least one factor required", ErrLoadings)
	}
	return nil
}

func (g *Gaussian) Domain() (float64, float64) { return -8, 8 }

func (g *Gaussian) Order() int { return DefaultQuadratureOrder }

func (g *Gaussian) Density(m []float64) float64 {
	d := 1.0
	for _, v := range m {
		d *= distuv.UnitNormal.Prob(v)
	}
	return d
}

func (g *Gaussian) CumulativeZ(z float64) float64        { return distuv.UnitNormal.CDF(z) }
func (g *Gaussian) InverseCumulativeZ(p float64) float64 { return distuv.UnitNormal.Quantile(p) }

func (g *Gaussian) CumulativeY(y float64, _ []float64) float64 { return distuv.UnitNormal.CDF(y) }
func (g *Gaussian) InverseCumulativeY(p float64, _ []float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

func (g *Gaussian) Variates(src rand.Source, nFactors int) ([]Rander, Rander) {
	factors := make([]Rander, nFactors)
	for i := range factors {
		factors[i] = distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	}
	return factors, distuv.Normal{Mu: 0, Sigma: 1, Src: src}
}

// StudentT is the Student-t copula. Every factor is a t variable rescaled to
// unit variance; Orders holds one degree-of-freedom per systemic factor
// followed by the idiosyncratic one.
type StudentT struct {
	orders []float64
	dists  []distuv.StudentsT
	tables map[string]*interp.PiecewiseLinear
	nodes  []float64
	// weight[k][i] is the quadrature weight times factor k's density at node i
	weight [][]float64
}

const (
	tDomain    = 20.0
	tQuadOrder = 200
	tGridSize  = 1601
)

func NewStudentT(orders []float64) (*StudentT, error) {
	if len(orders) < 2 {
		return nil, fmt.Errorf("%w: need one order per factor plus the idiosyncratic order", ErrDegreesOfFreedom)
	}
	t := &StudentT{orders: orders, tables: map[string]*interp.PiecewiseLinear{}}
	for _, nu := range orders {
		if !(nu > 2) {
			return nil, fmt.Errorf("%w: got %v", ErrDegreesOfFreedom, nu)
		}
		t.dists = append(t.dists, unitT(nu, nil))
	}
	t.nodes = make([]float64, tQuadOrder)
	w := make([]float64, tQuadOrder)
	quad.Legendre{}.FixedLocations(t.nodes, w, -tDomain, tDomain)
	for _, d := range t.dists[:len(t.dists)-1] {
		dw := make([]float64, tQuadOrder)
		for i, m := range t.nodes {
			dw[i] = w[i] * d.Prob(m)
		}
		t.weight = append(t.weight, dw)
	}
	return t, nil
}

func unitT(nu float64, src rand.Source) distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: math.Sqrt((nu - 2) / nu), Nu: nu, Src: src}
}

func (t *StudentT) Name() string { return "student-t" }

func (t *StudentT) Orders() []float64 { return t.orders }

func (t *StudentT) Check(nFactors int) error {
	if nFactors+1 != len(t.orders) {
		return fmt.Errorf("%w: %d orders for %d factors", ErrDegreesOfFreedom, len(t.orders), nFactors)
	}
	return nil
}

func (t *StudentT) Domain() (float64, float64) { return -tDomain, tDomain }

// heavy tails need a wide box and more nodes
func (t *StudentT) Order() int { return tQuadOrder }

func (t *StudentT) Density(m []float64) float64 {
	d := 1.0
	for k, v := range m {
		d *= t.dists[k].Prob(v)
	}
	return d
}

func (t *StudentT) idio() distuv.StudentsT { return t.dists[len(t.dists)-1] }

func (t *StudentT) CumulativeZ(z float64) float64        { return t.idio().CDF(z) }
func (t *StudentT) InverseCumulativeZ(p float64) float64 { return t.idio().Quantile(p) }

// CumulativeY convolves the systemic factors with the idiosyncratic CDF.
func (t *StudentT) CumulativeY(y float64, loadings []float64) float64 {
	b := residual(loadings)
	n := len(loadings)
	if n == 0 {
		return t.CumulativeZ(y)
	}
	idx := make([]int, n)
	var sum float64
	for {
		w, s := 1.0, 0.0
		for k, i := range idx {
			w *= t.weight[k][i]
			s += loadings[k] * t.nodes[i]
		}
		if b > 0 {
			sum += w * t.CumulativeZ((y-s)/b)
		} else if s <= y {
			sum += w
		}
		if !next(idx, tQuadOrder) {
			return sum
		}
	}
}

// InverseCumulativeY interpolates a tabulated CDF of Y. Tables are cached
// per loading vector.
func (t *StudentT) InverseCumulativeY(p float64, loadings []float64) float64 {
	key := loadingKey(loadings)
	tbl, ok := t.tables[key]
	if !ok {
		tbl = t.tabulate(loadings)
		t.tables[key] = tbl
	}
	return tbl.Predict(p)
}

func (t *StudentT) tabulate(loadings []float64) *interp.PiecewiseLinear {
	var xs, ys []float64
	step := 2 * tDomain / float64(tGridSize-1)
	for i := 0; i < tGridSize; i++ {
		y := -tDomain + float64(i)*step
		c := t.CumulativeY(y, loadings)
		// the inverse needs strictly increasing abscissae
		if len(xs) > 0 && c <= xs[len(xs)-1] {
			continue
		}
		xs = append(xs, c)
		ys = append(ys, y)
	}
	if len(xs) < 2 {
		// degenerate table, Fit needs two strictly increasing points
		xs, ys = []float64{0, 1}, []float64{-tDomain, tDomain}
	}
	tbl := &interp.PiecewiseLinear{}
	// xs is strictly increasing with at least two points, so Fit cannot fail
	_ = tbl.Fit(xs, ys)
	return tbl
}

func (t *StudentT) Variates(src rand.Source, nFactors int) ([]Rander, Rander) {
	factors := make([]Rander, nFactors)
	for i := range factors {
		factors[i] = unitT(t.orders[i], src)
	}
	return factors, unitT(t.orders[len(t.orders)-1], src)
}

func residual(loadings []float64) float64 {
	var s float64
	for _, a := range loadings {
		s += a * a
	}
	if s >= 1 {
		return 0
	}
	return math.Sqrt(1 - s)
}

func loadingKey(loadings []float64) string {
	parts := make([]string, len(loadings))
	for i, a := range loadings {
		parts[i] = strconv.FormatFloat(a, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// next advances a tensor-product odometer; false once it wraps.
func next(idx []int, order int) bool {
	for k := len(idx) - 1; k >= 0; k-- {
		idx[k]++
		if idx[k] < order {
			return true
		}
		idx[k] = 0
	}
	return false
}
