// Package layer provides neural network layer implementations.
//
// All layers work on flat float32 slices holding a whole mini-batch in
// NCHW order (or N×features for fully connected layers). Buffers returned
// by Forward and Backward are owned by the layer and reused by the next call.
package layer

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Layer is a neural network layer operating on mini-batches.
type Layer interface {
	// Forward computes the output for batchSize samples packed in x.
	Forward(x []float32, batchSize int) []float32

	// Backward receives dL/d(output) for the last Forward call, accumulates
	// parameter gradients and returns dL/d(input).
	Backward(grad []float32) []float32

	// Params returns the trainable parameters as one contiguous slice.
	// The optimizer updates it in place.
	Params() []float32

	// Gradients returns the gradient buffer aligned with Params.
	Gradients() []float32

	// ClearGradients zeroes out the accumulated gradients.
	ClearGradients()

	// NamedParams lists every persisted tensor, buffers included.
	NamedParams() []NamedParam

	// SetTraining switches between training and evaluation behaviour.
	SetTraining(training bool)

	// InSize and OutSize are per-sample feature counts.
	InSize() int
	OutSize() int
}

// NamedParam is a view on a named tensor of a layer.
// Data aliases the layer memory, so copying into it updates the layer.
type NamedParam struct {
	Name      string
	Shape     []int
	Data      []float32
	Trainable bool
}

// uniformInit fills data with U(-bound, bound).
func uniformInit(rng *rand.Rand, data []float32, bound float64) {
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

func ensure(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

// Dense is a fully connected layer: y = x·Wᵀ + b.
// No activation is applied; stack an Activation layer for that.
type Dense struct {
	inSize  int
	outSize int

	// params holds weights [out*in] followed by biases [out].
	params  []float32
	weights []float32
	biases  []float32

	grads    []float32
	gradW    []float32
	gradB    []float32
	training bool

	batchSize  int
	savedInput []float32
	outputBuf  []float32
	gradInBuf  []float32
}

// NewDense creates a fully connected layer initialised with
// U(-1/sqrt(in), 1/sqrt(in)) for weights and biases.
func NewDense(in, out int, rng *rand.Rand) *Dense {
	params := make([]float32, out*in+out)
	grads := make([]float32, len(params))

	bound := 1 / math.Sqrt(float64(in))
	uniformInit(rng, params, bound)

	return &Dense{
		inSize:   in,
		outSize:  out,
		params:   params,
		weights:  params[:out*in],
		biases:   params[out*in:],
		grads:    grads,
		gradW:    grads[:out*in],
		gradB:    grads[out*in:],
		training: true,
	}
}

// Forward performs a forward pass through the dense layer.
func (d *Dense) Forward(x []float32, batchSize int) []float32 {
	if len(x) != batchSize*d.inSize {
		panic(fmt.Sprintf("Dense: input length %d does not match batch %d x %d", len(x), batchSize, d.inSize))
	}
	d.batchSize = batchSize
	d.savedInput = ensure(d.savedInput, len(x))
	copy(d.savedInput, x)

	d.outputBuf = ensure(d.outputBuf, batchSize*d.outSize)
	out := d.outputBuf
	for n := 0; n < batchSize; n++ {
		copy(out[n*d.outSize:(n+1)*d.outSize], d.biases)
	}

	in := blas32.General{Rows: batchSize, Cols: d.inSize, Stride: d.inSize, Data: d.savedInput}
	w := blas32.General{Rows: d.outSize, Cols: d.inSize, Stride: d.inSize, Data: d.weights}
	y := blas32.General{Rows: batchSize, Cols: d.outSize, Stride: d.outSize, Data: out}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, in, w, 1, y)

	return out
}

// Backward accumulates dW = gradᵀ·x, db = Σ grad and returns grad·W.
func (d *Dense) Backward(grad []float32) []float32 {
	batchSize := d.batchSize
	g := blas32.General{Rows: batchSize, Cols: d.outSize, Stride: d.outSize, Data: grad}
	in := blas32.General{Rows: batchSize, Cols: d.inSize, Stride: d.inSize, Data: d.savedInput}
	gw := blas32.General{Rows: d.outSize, Cols: d.inSize, Stride: d.inSize, Data: d.gradW}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, g, in, 1, gw)

	for n := 0; n < batchSize; n++ {
		row := grad[n*d.outSize : (n+1)*d.outSize]
		for o, v := range row {
			d.gradB[o] += v
		}
	}

	d.gradInBuf = ensure(d.gradInBuf, batchSize*d.inSize)
	gin := blas32.General{Rows: batchSize, Cols: d.inSize, Stride: d.inSize, Data: d.gradInBuf}
	w := blas32.General{Rows: d.outSize, Cols: d.inSize, Stride: d.inSize, Data: d.weights}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, g, w, 0, gin)

	return d.gradInBuf
}

// Params returns weights followed by biases.
func (d *Dense) Params() []float32 { return d.params }

// Gradients returns the gradient buffer aligned with Params.
func (d *Dense) Gradients() []float32 { return d.grads }

// ClearGradients zeroes out the accumulated gradients.
func (d *Dense) ClearGradients() { clear(d.grads) }

// NamedParams exposes weight and bias.
func (d *Dense) NamedParams() []NamedParam {
	return []NamedParam{
		{Name: "weight", Shape: []int{d.outSize, d.inSize}, Data: d.weights, Trainable: true},
		{Name: "bias", Shape: []int{d.outSize}, Data: d.biases, Trainable: true},
	}
}

// SetTraining is a no-op for Dense besides bookkeeping.
func (d *Dense) SetTraining(training bool) { d.training = training }

// InSize returns the input size of the layer.
func (d *Dense) InSize() int { return d.inSize }

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int { return d.outSize }

// GetWeight gets a single weight at (row, col).
func (d *Dense) GetWeight(row, col int) float32 {
	return d.weights[row*d.inSize+col]
}

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float32) {
	d.weights[row*d.inSize+col] = val
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float32) {
	d.biases[idx] = val
}
