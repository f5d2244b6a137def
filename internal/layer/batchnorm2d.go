// Package layer provides neural network layer implementations.
package layer

import (
	"fmt"
	"math"
)

// BatchNorm2D implements 2D batch normalization.
// In training mode it normalizes with per-channel statistics of the current
// batch and updates the running estimates; in evaluation mode it uses the
// frozen running statistics.
type BatchNorm2D struct {
	numFeatures int
	eps         float64
	momentum    float64

	training bool

	// Learnable parameters: contiguous gamma + beta
	params []float32
	gamma  []float32
	beta   []float32

	grads        []float32
	gradGammaBuf []float32
	gradBetaBuf  []float32

	// Running statistics (for inference)
	runningMean []float32
	runningVar  []float32

	inputHeight int
	inputWidth  int

	// Saved state of the last Forward for the backward pass
	batchSize   int
	spatialSize int
	usedBatch   bool
	xHat        []float32
	invStd      []float64

	outputBuf []float32
	gradInBuf []float32
}

// NewBatchNorm2D creates a new 2D batch normalization layer with gamma=1, beta=0.
func NewBatchNorm2D(numFeatures int, eps, momentum float64) *BatchNorm2D {
	params := make([]float32, numFeatures*2)
	grads := make([]float32, numFeatures*2)
	b := &BatchNorm2D{
		numFeatures:  numFeatures,
		eps:          eps,
		momentum:     momentum,
		training:     true,
		params:       params,
		gamma:        params[:numFeatures],
		beta:         params[numFeatures:],
		grads:        grads,
		gradGammaBuf: grads[:numFeatures],
		gradBetaBuf:  grads[numFeatures:],
		runningMean:  make([]float32, numFeatures),
		runningVar:   make([]float32, numFeatures),
		invStd:       make([]float64, numFeatures),
	}
	for i := 0; i < numFeatures; i++ {
		b.gamma[i] = 1
		b.runningVar[i] = 1
	}
	return b
}

// SetInputDimensions sets the spatial dimensions for the layer.
func (b *BatchNorm2D) SetInputDimensions(height, width int) {
	b.inputHeight = height
	b.inputWidth = width
}

// GetOutputDimensions returns the spatial dimensions of the output.
func (b *BatchNorm2D) GetOutputDimensions() (int, int) {
	return b.inputHeight, b.inputWidth
}

// Forward normalizes x laid out as [batch, numFeatures, spatial].
func (b *BatchNorm2D) Forward(x []float32, batchSize int) []float32 {
	total := len(x)
	if batchSize <= 0 || total%(batchSize*b.numFeatures) != 0 {
		panic(fmt.Sprintf("BatchNorm2D: input length %d not divisible by batch %d x features %d", total, batchSize, b.numFeatures))
	}
	spatial := total / (batchSize * b.numFeatures)
	b.batchSize = batchSize
	b.spatialSize = spatial
	b.usedBatch = b.training

	b.outputBuf = ensure(b.outputBuf, total)
	b.xHat = ensure(b.xHat, total)
	output := b.outputBuf
	count := float64(batchSize * spatial)

	for f := 0; f < b.numFeatures; f++ {
		var mean, variance float64
		if b.training {
			var sum float64
			for i := 0; i < batchSize; i++ {
				base := (i*b.numFeatures + f) * spatial
				for _, v := range x[base : base+spatial] {
					sum += float64(v)
				}
			}
			mean = sum / count

			var sumSq float64
			for i := 0; i < batchSize; i++ {
				base := (i*b.numFeatures + f) * spatial
				for _, v := range x[base : base+spatial] {
					d := float64(v) - mean
					sumSq += d * d
				}
			}
			variance = sumSq / count

			unbiased := variance
			if count > 1 {
				unbiased = sumSq / (count - 1)
			}
			b.runningMean[f] = float32((1-b.momentum)*float64(b.runningMean[f]) + b.momentum*mean)
			b.runningVar[f] = float32((1-b.momentum)*float64(b.runningVar[f]) + b.momentum*unbiased)
		} else {
			mean = float64(b.runningMean[f])
			variance = float64(b.runningVar[f])
		}

		inv := 1 / math.Sqrt(variance+b.eps)
		b.invStd[f] = inv
		g, be := float64(b.gamma[f]), float64(b.beta[f])

		for i := 0; i < batchSize; i++ {
			base := (i*b.numFeatures + f) * spatial
			for s := base; s < base+spatial; s++ {
				norm := (float64(x[s]) - mean) * inv
				b.xHat[s] = float32(norm)
				output[s] = float32(g*norm + be)
			}
		}
	}

	return output
}

// Backward performs backpropagation through the normalization.
func (b *BatchNorm2D) Backward(grad []float32) []float32 {
	total := len(grad)
	spatial := b.spatialSize
	b.gradInBuf = ensure(b.gradInBuf, total)
	gradIn := b.gradInBuf
	m := float64(b.batchSize * spatial)

	for f := 0; f < b.numFeatures; f++ {
		g := float64(b.gamma[f])
		inv := b.invStd[f]

		var sumGrad, sumGradXHat float64
		for i := 0; i < b.batchSize; i++ {
			base := (i*b.numFeatures + f) * spatial
			for s := base; s < base+spatial; s++ {
				sumGrad += float64(grad[s])
				sumGradXHat += float64(grad[s]) * float64(b.xHat[s])
			}
		}
		b.gradBetaBuf[f] += float32(sumGrad)
		b.gradGammaBuf[f] += float32(sumGradXHat)

		for i := 0; i < b.batchSize; i++ {
			base := (i*b.numFeatures + f) * spatial
			for s := base; s < base+spatial; s++ {
				if !b.usedBatch {
					gradIn[s] = float32(float64(grad[s]) * g * inv)
					continue
				}
				xh := float64(b.xHat[s])
				gradIn[s] = float32(g * inv / m * (m*float64(grad[s]) - sumGrad - xh*sumGradXHat))
			}
		}
	}
	return gradIn
}

// Params returns gamma followed by beta.
func (b *BatchNorm2D) Params() []float32 { return b.params }

// Gradients returns the gradient buffer aligned with Params.
func (b *BatchNorm2D) Gradients() []float32 { return b.grads }

// ClearGradients zeroes out the accumulated gradients.
func (b *BatchNorm2D) ClearGradients() { clear(b.grads) }

// NamedParams exposes the affine parameters and the running statistics.
func (b *BatchNorm2D) NamedParams() []NamedParam {
	return []NamedParam{
		{Name: "weight", Shape: []int{b.numFeatures}, Data: b.gamma, Trainable: true},
		{Name: "bias", Shape: []int{b.numFeatures}, Data: b.beta, Trainable: true},
		{Name: "running_mean", Shape: []int{b.numFeatures}, Data: b.runningMean},
		{Name: "running_var", Shape: []int{b.numFeatures}, Data: b.runningVar},
	}
}

// SetTraining switches between batch and running statistics.
func (b *BatchNorm2D) SetTraining(training bool) { b.training = training }

// IsTraining reports the current mode.
func (b *BatchNorm2D) IsTraining() bool { return b.training }

// InSize returns the per-sample size once input dimensions are known.
func (b *BatchNorm2D) InSize() int {
	return b.numFeatures * b.inputHeight * b.inputWidth
}

// OutSize equals InSize.
func (b *BatchNorm2D) OutSize() int { return b.InSize() }

func (b *BatchNorm2D) GetGamma() []float32       { return b.gamma }
func (b *BatchNorm2D) GetBeta() []float32        { return b.beta }
func (b *BatchNorm2D) GetRunningMean() []float32 { return b.runningMean }
func (b *BatchNorm2D) GetRunningVar() []float32  { return b.runningVar }
