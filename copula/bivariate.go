package copula

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"
)

// BivariateNormalCDF is P(X <= x, Y <= y) for standard normals with
// correlation rho. It integrates the density along the correlation,
// d/dr Phi2 = phi2, after substituting r = sin(theta) which removes the
// singularity at |r| = 1.
func BivariateNormalCDF(x, y, rho float64) float64 {
	if math.IsInf(x, -1) || math.IsInf(y, -1) {
		return 0
	}
	if math.IsInf(x, 1) {
		return distuv.UnitNormal.CDF(y)
	}
	if math.IsInf(y, 1) {
		return distuv.UnitNormal.CDF(x)
	}
	rho = math.Max(-1, math.Min(1, rho))
	base := distuv.UnitNormal.CDF(x) * distuv.UnitNormal.CDF(y)
	if rho == 0 {
		return base
	}
	theta := math.Asin(rho)
	lo, hi, sign := 0.0, theta, 1.0
	if theta < 0 {
		lo, hi, sign = theta, 0, -1
	}
	f := func(t float64) float64 {
		c := math.Cos(t)
		if c == 0 {
			return 0
		}
		return math.Exp(-(x*x - 2*x*y*math.Sin(t) + y*y) / (2 * c * c))
	}
	v := base + sign*quad.Fixed(f, lo, hi, 64, quad.Legendre{}, 0)/(2*math.Pi)
	return math.Max(0, math.Min(1, v))
}
