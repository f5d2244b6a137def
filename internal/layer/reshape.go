// Package layer provides neural network layer implementations.
package layer

// Flatten reshapes [batch, channels, height, width] into [batch, features].
// Batches are already stored row-major, so the data passes through untouched.
type Flatten struct {
	size int
}

// NewFlatten creates a flatten layer for samples of the given feature count.
func NewFlatten(size int) *Flatten {
	return &Flatten{size: size}
}

// Forward returns x unchanged.
func (f *Flatten) Forward(x []float32, batchSize int) []float32 {
	if len(x) != batchSize*f.size {
		panic("Flatten: input length does not match batch size")
	}
	return x
}

// Backward returns grad unchanged.
func (f *Flatten) Backward(grad []float32) []float32 { return grad }

func (f *Flatten) Params() []float32         { return nil }
func (f *Flatten) Gradients() []float32      { return nil }
func (f *Flatten) ClearGradients()           {}
func (f *Flatten) NamedParams() []NamedParam { return nil }
func (f *Flatten) SetTraining(bool)          {}
func (f *Flatten) InSize() int               { return f.size }
func (f *Flatten) OutSize() int              { return f.size }
