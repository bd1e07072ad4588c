package basecorr

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banachtech/basket-credit/basket"
	"github.com/banachtech/basket-credit/quote"
	"gonum.org/v1/gonum/optimize"
)

// maxCorrelation keeps implied correlations off one, where latent models
// lose their idiosyncratic term.
const maxCorrelation = 0.999

var ErrNoConvergence = errors.New("implied correlation did not converge")

// SolveCorrelation finds c in (0, 0.999) with value(c) = target, starting
// from guess. The search runs on an unbounded transform of c.
func SolveCorrelation(target, guess float64, value func(c float64) (float64, error)) (float64, error) {
	if !(guess > 0 && guess < maxCorrelation) {
		guess = 0.3
	}
	var failure error
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			v, err := value(toCorrelation(x[0]))
			if err != nil {
				if failure == nil {
					failure = err
				}
				return math.Inf(1)
			}
			return (v - target) * (v - target)
		},
	}
	res, err := optimize.Minimize(problem, []float64{fromCorrelation(guess)}, nil, &optimize.NelderMead{})
	if failure != nil {
		return 0, failure
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	rho := toCorrelation(res.X[0])
	v, err := value(rho)
	if err != nil {
		return 0, err
	}
	if math.Abs(v-target) > 1e-4*math.Max(1, math.Abs(target)) {
		return rho, fmt.Errorf("%w: value %v at correlation %v, target %v", ErrNoConvergence, v, rho, target)
	}
	return rho, nil
}

// ImpliedCorrelation finds the flat correlation at which the model returned
// by build prices the tranche of b at target expected loss on d. build must
// return a model observing the quote it is given. b is left with that model
// attached at the implied correlation.
func ImpliedCorrelation(b *basket.Basket, d time.Time, target float64, build func(correl *quote.Quote) (basket.LossModel, error)) (float64, error) {
	correl := quote.New(0.3)
	model, err := build(correl)
	if err != nil {
		return 0, err
	}
	if err := b.SetLossModel(model); err != nil {
		return 0, err
	}
	return SolveCorrelation(target, correl.Value(), func(c float64) (float64, error) {
		correl.Set(c)
		return b.ExpectedTrancheLoss(d)
	})
}

// toCorrelation maps the real line onto (0, maxCorrelation).
func toCorrelation(x float64) float64 {
	return maxCorrelation / (1 + math.Exp(-x))
}

func fromCorrelation(c float64) float64 {
	return math.Log(c / (maxCorrelation - c))
}
