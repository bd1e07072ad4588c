// Package lossdist builds discretized portfolio loss distributions from
// per-obligor loss amounts and default probabilities.
package lossdist

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrSizeMismatch    = errors.New("sizes differ")
	ErrOutOfRange      = errors.New("value out of distribution range")
	ErrBucketInvariant = errors.New("bucket average out of range")
	ErrBadGrid         = errors.New("invalid bucket grid")
	ErrNotHomogeneous  = errors.New("inputs are not homogeneous")
)

// Distribution is a histogram over [xmin, xmax] with a density and an
// average value per bucket. It is filled either by sampling (Add) or by
// assigning densities directly (AddDensity/AddAverage). Queries normalize
// the distribution first.
type Distribution struct {
	size       int
	xmin, xmax float64
	x, dx      []float64

	count   []int
	sum     []float64
	samples int

	density, average  []float64
	cumulativeDensity []float64
	excessProbability []float64

	underflow, overflow int
	overflowSum         float64
	underflowMass       float64
	overflowMass        float64
	overflowAverage     float64
	normalized          bool
}

// NewDistribution creates nBuckets equal buckets over [xmin, xmax]. The last
// bucket absorbs rounding so the grid ends exactly at xmax.
func NewDistribution(nBuckets int, xmin, xmax float64) (*Distribution, error) {
	if nBuckets < 1 {
		return nil, fmt.Errorf("%w: %d buckets", ErrBadGrid, nBuckets)
	}
	if !(xmax > xmin) {
		return nil, fmt.Errorf("%w: xmax %v must exceed xmin %v", ErrBadGrid, xmax, xmin)
	}
	d := &Distribution{
		size:              nBuckets,
		xmin:              xmin,
		xmax:              xmax,
		x:                 make([]float64, nBuckets),
		dx:                make([]float64, nBuckets),
		count:             make([]int, nBuckets),
		sum:               make([]float64, nBuckets),
		density:           make([]float64, nBuckets),
		average:           make([]float64, nBuckets),
		cumulativeDensity: make([]float64, nBuckets),
		excessProbability: make([]float64, nBuckets),
		overflowAverage:   xmax,
	}
	step := (xmax - xmin) / float64(nBuckets)
	for i := range d.x {
		d.x[i] = xmin + float64(i)*step
		d.dx[i] = step
	}
	d.dx[nBuckets-1] = xmax - d.x[nBuckets-1]
	return d, nil
}

func (d *Distribution) Size() int        { return d.size }
func (d *Distribution) XMin() float64    { return d.xmin }
func (d *Distribution) XMax() float64    { return d.xmax }
func (d *Distribution) X(i int) float64  { return d.x[i] }
func (d *Distribution) Dx(i int) float64 { return d.dx[i] }

// Locate returns the bucket containing x. xmax belongs to the last bucket.
func (d *Distribution) Locate(x float64) (int, error) {
	if x < d.xmin || x > d.xmax {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, x, d.xmin, d.xmax)
	}
	for i := 0; i < d.size-1; i++ {
		if d.x[i+1] > x {
			return i, nil
		}
	}
	return d.size - 1, nil
}

// DxAt returns the width of the bucket containing x.
func (d *Distribution) DxAt(x float64) (float64, error) {
	i, err := d.Locate(x)
	if err != nil {
		return 0, err
	}
	return d.dx[i], nil
}

// Add records one sample.
func (d *Distribution) Add(value float64) {
	d.normalized = false
	d.samples++
	if value < d.xmin {
		d.underflow++
		return
	}
	for i := 0; i < d.size; i++ {
		if d.x[i]+d.dx[i] > value {
			d.count[i]++
			d.sum[i] += value
			return
		}
	}
	d.overflow++
	d.overflowSum += value
}

func (d *Distribution) AddDensity(bucket int, value float64) {
	d.density[bucket] += value
	d.normalized = false
}

func (d *Distribution) AddAverage(bucket int, value float64) {
	d.average[bucket] += value
	d.normalized = false
}

// AddOverflowMass records probability of losses beyond xmax.
func (d *Distribution) AddOverflowMass(mass float64) {
	d.overflowMass += mass
	d.normalized = false
}

// Normalize turns sample counts into densities, or rescales assigned
// densities, so that bucket mass plus tail mass is one.
func (d *Distribution) Normalize() {
	if d.normalized {
		return
	}
	if d.samples > 0 {
		n := float64(d.samples)
		for i := 0; i < d.size; i++ {
			d.density[i] = float64(d.count[i]) / (n * d.dx[i])
			if d.count[i] > 0 {
				d.average[i] = d.sum[i] / float64(d.count[i])
			}
		}
		d.underflowMass = float64(d.underflow) / n
		d.overflowMass = float64(d.overflow) / n
		if d.overflow > 0 {
			d.overflowAverage = d.overflowSum / float64(d.overflow)
		}
	} else {
		total := d.underflowMass + d.overflowMass
		for i := 0; i < d.size; i++ {
			total += d.density[i] * d.dx[i]
		}
		if total > 0 {
			floats.Scale(1/total, d.density)
			d.underflowMass /= total
			d.overflowMass /= total
		}
	}
	cum := d.underflowMass
	for i := 0; i < d.size; i++ {
		if d.density[i] == 0 {
			d.average[i] = d.x[i] + d.dx[i]/2
		}
		d.excessProbability[i] = 1 - cum
		cum += d.density[i] * d.dx[i]
		d.cumulativeDensity[i] = cum
	}
	d.normalized = true
}

func (d *Distribution) Density(i int) float64 {
	d.Normalize()
	return d.density[i]
}

func (d *Distribution) Average(i int) float64 {
	d.Normalize()
	return d.average[i]
}

// Mass is the probability carried by bucket i.
func (d *Distribution) Mass(i int) float64 {
	d.Normalize()
	return d.density[i] * d.dx[i]
}

// ExcessProbability is P(X >= x_i).
func (d *Distribution) ExcessProbability(i int) float64 {
	d.Normalize()
	return d.excessProbability[i]
}

func (d *Distribution) OverflowMass() float64 {
	d.Normalize()
	return d.overflowMass
}

// TotalMass sums bucket and tail probabilities.
func (d *Distribution) TotalMass() float64 {
	d.Normalize()
	return d.cumulativeDensity[d.size-1] + d.overflowMass
}

// CumulativeDensity is P(X <= x), linear within a bucket.
func (d *Distribution) CumulativeDensity(x float64) float64 {
	d.Normalize()
	if x <= d.xmin {
		return d.underflowMass
	}
	if x >= d.xmax {
		return d.cumulativeDensity[d.size-1]
	}
	i, _ := d.Locate(x)
	lo := d.underflowMass
	if i > 0 {
		lo = d.cumulativeDensity[i-1]
	}
	return lo + (x-d.x[i])*d.density[i]
}

// CumulativeExcessProbability integrates P(X > x) over [a, b].
func (d *Distribution) CumulativeExcessProbability(a, b float64) (float64, error) {
	if a < d.xmin || b > d.xmax || a > b {
		return 0, fmt.Errorf("%w: [%v, %v] not within [%v, %v]", ErrOutOfRange, a, b, d.xmin, d.xmax)
	}
	d.Normalize()
	// the cumulative density is piecewise linear, so the trapezoid rule on
	// the bucket boundaries inside [a, b] is exact
	pts := []float64{a}
	for i := 0; i < d.size; i++ {
		if d.x[i] > a && d.x[i] < b {
			pts = append(pts, d.x[i])
		}
	}
	pts = append(pts, b)
	var s float64
	for i := 1; i < len(pts); i++ {
		e0 := 1 - d.CumulativeDensity(pts[i-1])
		e1 := 1 - d.CumulativeDensity(pts[i])
		s += 0.5 * (e0 + e1) * (pts[i] - pts[i-1])
	}
	return s, nil
}

// ConfidenceLevel returns the smallest x with P(X <= x) >= q.
func (d *Distribution) ConfidenceLevel(q float64) (float64, error) {
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("%w: quantile %v", ErrOutOfRange, q)
	}
	d.Normalize()
	if q <= d.underflowMass {
		return d.xmin, nil
	}
	lo := d.underflowMass
	for i := 0; i < d.size; i++ {
		if d.cumulativeDensity[i] >= q {
			m := d.density[i] * d.dx[i]
			if m == 0 {
				return d.x[i], nil
			}
			return d.x[i] + d.dx[i]*(q-lo)/m, nil
		}
		lo = d.cumulativeDensity[i]
	}
	return 0, fmt.Errorf("%w: quantile %v beyond distribution cutoff %v", ErrOutOfRange, q, d.xmax)
}

// ExpectedValue is the mean, using bucket averages.
func (d *Distribution) ExpectedValue() float64 {
	d.Normalize()
	var e float64
	for i := 0; i < d.size; i++ {
		e += d.density[i] * d.dx[i] * d.average[i]
	}
	return e + d.overflowMass*d.overflowAverage
}

// TrancheExpectedValue is E[min(max(X - a, 0), detachment - a)].
func (d *Distribution) TrancheExpectedValue(a, detachment float64) float64 {
	d.Normalize()
	layer := func(x float64) float64 {
		return math.Min(math.Max(x-a, 0), detachment-a)
	}
	var e float64
	for i := 0; i < d.size; i++ {
		if m := d.density[i] * d.dx[i]; m > 0 {
			e += m * layer(d.average[i])
		}
	}
	return e + d.overflowMass*layer(d.overflowAverage)
}

// ExpectedShortfall is the mean of X over the buckets at or beyond the
// q-quantile.
func (d *Distribution) ExpectedShortfall(q float64) (float64, error) {
	v, err := d.ConfidenceLevel(q)
	if err != nil {
		return 0, err
	}
	var num, den float64
	for i := 0; i < d.size; i++ {
		if d.x[i]+d.dx[i] <= v {
			continue
		}
		m := d.density[i] * d.dx[i]
		num += m * d.average[i]
		den += m
	}
	num += d.overflowMass * d.overflowAverage
	den += d.overflowMass
	if den == 0 {
		return v, nil
	}
	return num / den, nil
}

// Convolve returns the distribution of the sum of two independent variables
// whose distributions start at zero and share a constant bucket width.
func Convolve(d1, d2 *Distribution) (*Distribution, error) {
	if d1.xmin != 0 || d2.xmin != 0 {
		return nil, fmt.Errorf("%w: distributions must start at 0", ErrBadGrid)
	}
	w := d1.dx[0]
	for _, d := range []*Distribution{d1, d2} {
		for i := range d.dx {
			if math.Abs(d.dx[i]-w) > 1e-10*w {
				return nil, fmt.Errorf("%w: bucket sizes differ", ErrBadGrid)
			}
		}
	}
	n := d1.size + d2.size - 1
	out, err := NewDistribution(n, 0, w*float64(n))
	if err != nil {
		return nil, err
	}
	sums := make([]float64, n)
	for i := 0; i < d1.size; i++ {
		m1 := d1.Mass(i)
		if m1 == 0 {
			continue
		}
		for j := 0; j < d2.size; j++ {
			m := m1 * d2.Mass(j)
			out.density[i+j] += m / out.dx[i+j]
			sums[i+j] += m * (d1.average[i] + d2.average[j])
		}
	}
	for k := range sums {
		if m := out.density[k] * out.dx[k]; m > 0 {
			out.average[k] = sums[k] / m
		}
	}
	out.overflowMass = 1 - (1-d1.overflowMass)*(1-d2.overflowMass)
	out.normalized = false
	return out, nil
}
