package lossdist

import "fmt"

// Bucketing is the Hull-White bucketing algorithm: obligors are convolved in
// one at a time and every bucket keeps its probability and its average loss.
// Losses beyond the grid are dropped from the buckets and kept as overflow mass.
type Bucketing struct {
	nBuckets int
	maximum  float64
	epsilon  float64
}

func NewBucketing(nBuckets int, maximum, epsilon float64) (*Bucketing, error) {
	if nBuckets < 1 || !(maximum > 0) {
		return nil, fmt.Errorf("%w: %d buckets over [0, %v]", ErrBadGrid, nBuckets, maximum)
	}
	if epsilon <= 0 {
		epsilon = 1e-6
	}
	return &Bucketing{nBuckets: nBuckets, maximum: maximum, epsilon: epsilon}, nil
}

func (b *Bucketing) Buckets() int     { return b.nBuckets }
func (b *Bucketing) Maximum() float64 { return b.maximum }

// Distribution does not truncate: mass pushed past maximum is kept as overflow
// mass and priced at maximum.
func (b *Bucketing) Distribution(nominals, probabilities []float64) (*Distribution, error) {
	if len(nominals) != len(probabilities) {
		return nil, fmt.Errorf("%w: %d nominals, %d probabilities", ErrSizeMismatch, len(nominals), len(probabilities))
	}
	n := b.nBuckets
	dx := b.maximum / float64(n)
	p := make([]float64, n)
	a := make([]float64, n)
	p[0] = 1
	for k := 1; k < n; k++ {
		a[k] = dx*float64(k) + dx/2
	}
	var dropped float64

	for i := range nominals {
		L, P := nominals[i], probabilities[i]
		// top down, so bucket k is read before anything lands in it during this pass
		for k := n - 1; k >= 0; k-- {
			if p[k] > 0 {
				u, err := b.locateTargetBucket(a[k]+L, k)
				if err != nil {
					return nil, fmt.Errorf("obligor %d: %w", i, err)
				}
				if u < k {
					return nil, fmt.Errorf("%w: target %d below bucket %d for obligor %d", ErrBucketInvariant, u, k, i)
				}
				dp := p[k] * P
				if u == k {
					a[k] += P * L
				} else {
					if u < n {
						if dp > 0 {
							// (p[u]/p[k])/P rather than p[u]/dp, which can overflow to NaN for tiny p[k]
							f := 1.0 / (1.0 + (p[u]/p[k])/P)
							a[u] = (1.0-f)*a[u] + f*(a[k]+L)
						}
						p[u] += dp
					} else {
						dropped += dp
					}
					p[k] -= dp
				}
			}
			if !(a[k]+b.epsilon >= dx*float64(k) && a[k] < dx*float64(k+1)) {
				return nil, fmt.Errorf("%w: a[%d] = %v, obligor %d", ErrBucketInvariant, k, a[k], i)
			}
		}
	}

	dist, err := NewDistribution(n, 0, b.maximum)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		dist.AddDensity(i, p[i]/dist.Dx(i))
		dist.AddAverage(i, a[i])
	}
	dist.AddOverflowMass(dropped)
	return dist, nil
}

// locateTargetBucket returns the bucket holding loss, searching from i0, or
// nBuckets when the loss is beyond the grid.
func (b *Bucketing) locateTargetBucket(loss float64, i0 int) (int, error) {
	if loss < 0 {
		return 0, fmt.Errorf("%w: loss %v must be >= 0", ErrOutOfRange, loss)
	}
	dx := b.maximum / float64(b.nBuckets)
	for i := i0; i <= b.nBuckets; i++ {
		if dx*float64(i) > loss+b.epsilon {
			return i - 1, nil
		}
	}
	return b.nBuckets, nil
}
