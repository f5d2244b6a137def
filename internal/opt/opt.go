// Package opt provides optimization algorithms.
package opt

import (
	"fmt"
	"math"
)

// Optimizer updates network parameters based on gradients.
type Optimizer interface {
	// Step updates every parameter group in place from its gradient group.
	// Groups must be passed in the same order on every call.
	Step(params, gradients [][]float32)

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// SetLearningRate replaces the learning rate; used by schedulers.
	SetLearningRate(lr float64)
}

// AdamW is Adam with decoupled weight decay.
// Each step applies p -= lr*wd*p before the bias-corrected Adam update.
type AdamW struct {
	lr          float64
	Beta1       float64 // Exponential decay rate for first moment
	Beta2       float64 // Exponential decay rate for second moment
	Epsilon     float64 // Small constant for numerical stability
	WeightDecay float64

	t int
	m [][]float64
	v [][]float64
}

// NewAdamW creates a new AdamW optimizer with default betas and epsilon.
func NewAdamW(learningRate, weightDecay float64) *AdamW {
	return &AdamW{
		lr:          learningRate,
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: weightDecay,
	}
}

func (a *AdamW) LearningRate() float64      { return a.lr }
func (a *AdamW) SetLearningRate(lr float64) { a.lr = lr }

// Steps returns the number of updates performed so far.
func (a *AdamW) Steps() int { return a.t }

// Step performs one AdamW update over all parameter groups.
func (a *AdamW) Step(params, gradients [][]float32) {
	if len(params) != len(gradients) {
		panic(fmt.Sprintf("AdamW: %d parameter groups but %d gradient groups", len(params), len(gradients)))
	}
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p))
			a.v[i] = make([]float64, len(p))
		}
	}
	if len(a.m) != len(params) {
		panic("AdamW: parameter groups changed between steps")
	}

	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))
	stepSize := a.lr / bc1
	decay := 1 - a.lr*a.WeightDecay

	for gi, p := range params {
		g := gradients[gi]
		if len(p) != len(g) || len(p) != len(a.m[gi]) {
			panic(fmt.Sprintf("AdamW: group %d size mismatch", gi))
		}
		m, v := a.m[gi], a.v[gi]
		for i := range p {
			grad := float64(g[i])
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*grad
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*grad*grad

			denom := math.Sqrt(v[i])/math.Sqrt(bc2) + a.Epsilon
			p[i] = float32(float64(p[i])*decay - stepSize*m[i]/denom)
		}
	}
}
