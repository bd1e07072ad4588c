package lossdist

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// Strategy turns per-obligor loss amounts and default probabilities into a
// loss distribution on a fixed bucket grid.
type Strategy interface {
	Buckets() int
	Maximum() float64
	Distribution(nominals, probabilities []float64) (*Distribution, error)
}

// ProbabilityOfNEvents returns P(exactly k events), k = 0..len(p), for
// independent events with probabilities p.
func ProbabilityOfNEvents(p []float64) []float64 {
	n := len(p)
	prob := make([]float64, n+1)
	prev := make([]float64, n+1)
	prob[0] = 1
	for j := 0; j < n; j++ {
		copy(prev, prob)
		prob[0] = prev[0] * (1 - p[j])
		for i := 1; i <= j; i++ {
			prob[i] = prev[i-1]*p[j] + prev[i]*(1-p[j])
		}
		prob[j+1] = prev[j] * p[j]
	}
	return prob
}

// ProbabilityOfAtLeastNEvents returns P(at least k events).
func ProbabilityOfAtLeastNEvents(k int, p []float64) float64 {
	prob := ProbabilityOfNEvents(p)
	sum := 1.0
	for j := 0; j < k && j < len(prob); j++ {
		sum -= prob[j]
	}
	return sum
}

// BinomialProbabilityOfNEvents approximates the pool by len(p) events all
// with probability p[0].
func BinomialProbabilityOfNEvents(k int, p []float64) (float64, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: no probabilities given", ErrSizeMismatch)
	}
	return binomialPMF(len(p), p[0], k), nil
}

// BinomialProbabilityOfAtLeastNEvents is the binomial tail P(X >= k).
func BinomialProbabilityOfAtLeastNEvents(k int, p []float64) (float64, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: no probabilities given", ErrSizeMismatch)
	}
	if k <= 0 {
		return 1, nil
	}
	sum := 1.0
	for j := 0; j < k; j++ {
		sum -= binomialPMF(len(p), p[0], j)
	}
	return sum, nil
}

// BinomialPMF returns P(X = k), k = 0..n, for X ~ Binomial(n, p).
func BinomialPMF(n int, p float64) []float64 {
	prob := make([]float64, n+1)
	for k := range prob {
		prob[k] = binomialPMF(n, p, k)
	}
	return prob
}

func binomialPMF(n int, p float64, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	switch p {
	case 0:
		if k == 0 {
			return 1
		}
		return 0
	case 1:
		if k == n {
			return 1
		}
		return 0
	}
	return distuv.Binomial{N: float64(n), P: p}.Prob(float64(k))
}
