package hmm

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Engine is the numerical backend of a model: it re-estimates tables from
// an observation index sequence and draws from the generative process.
type Engine interface {
	// Fit returns new tables estimated from obs, starting at init.
	// init must not be modified.
	Fit(init Tables, obs []int) (Tables, error)
	// Sample draws n (state, observation) index pairs from t.
	Sample(t Tables, n int, src rand.Source) (states, obs []int, err error)
}

// BaumWelch fits a multinomial HMM on a single sequence with scaled
// forward-backward passes.
type BaumWelch struct {
	// MaxIter bounds the number of EM iterations
	MaxIter int
	// Tol stops the iterations once the log likelihood gains less
	Tol float64
}

// NewBaumWelch returns an engine with the default iteration settings
func NewBaumWelch() *BaumWelch {
	return &BaumWelch{MaxIter: 1000, Tol: 1e-2}
}

// Fit runs EM until convergence or MaxIter. It never modifies init.
func (b *BaumWelch) Fit(init Tables, obs []int) (Tables, error) {
	logger := log.WithFields(log.Fields{
		"function": "BaumWelch.Fit",
	})
	n, m, T := init.States(), init.Observations(), len(obs)
	if n == 0 || m == 0 {
		return Tables{}, errors.Wrap(ErrFitFailed, "empty model")
	}
	if T == 0 {
		return init.Clone(), nil
	}
	for t, o := range obs {
		if o < 0 || o >= m {
			return Tables{}, errors.Wrapf(ErrFitFailed, "observation %d at %d outside 0..%d", o, t, m-1)
		}
	}

	cur := init.Clone()
	alpha := make([][]float64, T)
	beta := make([][]float64, T)
	for t := range alpha {
		alpha[t] = make([]float64, n)
		beta[t] = make([]float64, n)
	}
	scale := make([]float64, T)
	gamma := make([]float64, n)
	xi := NewTable(n, n)
	emit := NewTable(n, m)
	occupancy := make([]float64, n)

	prevLL := math.Inf(-1)
	iter := 0
	for ; iter < b.MaxIter; iter++ {
		// forward
		for i := 0; i < n; i++ {
			alpha[0][i] = cur.Start.At(0, i) * cur.Emission.At(i, obs[0])
		}
		for t := 0; t < T; t++ {
			if t > 0 {
				for j := 0; j < n; j++ {
					sum := 0.0
					for i := 0; i < n; i++ {
						sum += alpha[t-1][i] * cur.Transition.At(i, j)
					}
					alpha[t][j] = sum * cur.Emission.At(j, obs[t])
				}
			}
			scale[t] = floats.Sum(alpha[t])
			if scale[t] == 0 || math.IsNaN(scale[t]) || math.IsInf(scale[t], 0) {
				return Tables{}, errors.Wrapf(ErrFitFailed, "sequence has zero likelihood at %d", t)
			}
			floats.Scale(1/scale[t], alpha[t])
		}
		ll := 0.0
		for _, c := range scale {
			ll += math.Log(c)
		}

		// backward
		for i := range beta[T-1] {
			beta[T-1][i] = 1
		}
		for t := T - 2; t >= 0; t-- {
			for i := 0; i < n; i++ {
				sum := 0.0
				for j := 0; j < n; j++ {
					sum += cur.Transition.At(i, j) * cur.Emission.At(j, obs[t+1]) * beta[t+1][j]
				}
				beta[t][i] = sum / scale[t+1]
			}
		}

		// expectations
		xi.Zero()
		emit.Zero()
		for i := range occupancy {
			occupancy[i] = 0
		}
		next := cur.Clone()
		for t := 0; t < T; t++ {
			floats.MulTo(gamma, alpha[t], beta[t])
			if sum := floats.Sum(gamma); sum > 0 {
				floats.Scale(1/sum, gamma)
			}
			if t == 0 {
				copy(next.Start.Row(0), gamma)
			}
			for i := 0; i < n; i++ {
				emit.Inc(i, obs[t], gamma[i])
				occupancy[i] += gamma[i]
			}
			if t == T-1 {
				continue
			}
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					xi.Inc(i, j, alpha[t][i]*cur.Transition.At(i, j)*cur.Emission.At(j, obs[t+1])*beta[t+1][j]/scale[t+1])
				}
			}
		}

		// maximization; rows without evidence keep their previous values
		for i := 0; i < n; i++ {
			if sum := floats.Sum(xi.Row(i)); sum > 0 {
				floats.ScaleTo(next.Transition.Row(i), 1/sum, xi.Row(i))
			}
			if occupancy[i] > 0 {
				floats.ScaleTo(next.Emission.Row(i), 1/occupancy[i], emit.Row(i))
			}
		}
		cur = next

		if math.IsNaN(ll) {
			return Tables{}, errors.Wrap(ErrFitFailed, "log likelihood is NaN")
		}
		if ll-prevLL < b.Tol {
			break
		}
		prevLL = ll
	}
	if iter == b.MaxIter {
		logger.Warnf("no convergence after %d iterations", b.MaxIter)
	}
	logger.Debugf("fit %d observations in %d iterations", T, iter+1)
	return cur, nil
}

// Sample draws from the generative process of t
func (b *BaumWelch) Sample(t Tables, n int, src rand.Source) (states, obs []int, err error) {
	if n <= 0 {
		return nil, nil, ErrInvalidCount
	}
	if t.States() == 0 || t.Observations() == 0 {
		return nil, nil, ErrEmptyModel
	}
	start := distuv.NewCategorical(t.Start.Row(0), src)
	transition := make([]distuv.Categorical, t.Transition.Rows())
	emission := make([]distuv.Categorical, t.Emission.Rows())
	for i := range transition {
		transition[i] = distuv.NewCategorical(t.Transition.Row(i), src)
		emission[i] = distuv.NewCategorical(t.Emission.Row(i), src)
	}

	states = make([]int, n)
	obs = make([]int, n)
	state := int(start.Rand())
	for k := 0; k < n; k++ {
		if k > 0 {
			state = int(transition[state].Rand())
		}
		states[k] = state
		obs[k] = int(emission[state].Rand())
	}
	return states, obs, nil
}
