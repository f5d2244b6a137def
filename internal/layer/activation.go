// Package layer provides neural network layer implementations.
package layer

import "github.com/FlavioCFOliveira/mesonet/internal/activations"

// Activation applies an element-wise activation function.
type Activation struct {
	act  activations.Activation
	size int

	preActBuf []float32
	outputBuf []float32
	gradInBuf []float32
}

// NewActivation creates an activation layer for samples of the given size.
func NewActivation(act activations.Activation, size int) *Activation {
	return &Activation{act: act, size: size}
}

// Forward applies the activation.
func (a *Activation) Forward(x []float32, batchSize int) []float32 {
	if len(x) != batchSize*a.size {
		panic("Activation: input length does not match batch size")
	}
	a.preActBuf = ensure(a.preActBuf, len(x))
	copy(a.preActBuf, x)
	a.outputBuf = ensure(a.outputBuf, len(x))
	for i, v := range x {
		a.outputBuf[i] = a.act.Activate(v)
	}
	return a.outputBuf
}

// Backward multiplies grad by f'(z).
func (a *Activation) Backward(grad []float32) []float32 {
	a.gradInBuf = ensure(a.gradInBuf, len(grad))
	for i, g := range grad {
		a.gradInBuf[i] = g * a.act.Derivative(a.preActBuf[i])
	}
	return a.gradInBuf
}

// Func returns the wrapped activation function.
func (a *Activation) Func() activations.Activation { return a.act }

func (a *Activation) Params() []float32         { return nil }
func (a *Activation) Gradients() []float32      { return nil }
func (a *Activation) ClearGradients()           {}
func (a *Activation) NamedParams() []NamedParam { return nil }
func (a *Activation) SetTraining(bool)          {}
func (a *Activation) InSize() int               { return a.size }
func (a *Activation) OutSize() int              { return a.size }
