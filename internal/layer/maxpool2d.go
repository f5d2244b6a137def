// Package layer provides neural network layer implementations.
package layer

import (
	"fmt"
	"math"
)

// MaxPool2D implements 2D max pooling.
// Downsamples by taking the maximum over sliding windows.
// Stores argmax indices for correct gradient flow during backward pass.
type MaxPool2D struct {
	kernelSize int
	stride     int

	inChannels   int
	inputHeight  int
	inputWidth   int
	outputHeight int
	outputWidth  int

	batchSize int
	outputBuf []float32
	gradInBuf []float32
	argmaxBuf []int // index into the batch input of the max value for each output
}

// NewMaxPool2D creates a new 2D max pooling layer.
// inChannels: number of input channels
// kernelSize: size of pooling window (square)
// stride: stride for pooling
func NewMaxPool2D(inChannels, kernelSize, stride int) *MaxPool2D {
	return &MaxPool2D{
		inChannels: inChannels,
		kernelSize: kernelSize,
		stride:     stride,
	}
}

// SetInputDimensions sets the spatial size of incoming feature maps.
func (m *MaxPool2D) SetInputDimensions(height, width int) {
	m.inputHeight = height
	m.inputWidth = width
	m.outputHeight = (height-m.kernelSize)/m.stride + 1
	m.outputWidth = (width-m.kernelSize)/m.stride + 1
}

// GetOutputDimensions returns the spatial dimensions of the output.
func (m *MaxPool2D) GetOutputDimensions() (int, int) {
	return m.outputHeight, m.outputWidth
}

// Forward performs a forward pass through the max pooling layer.
func (m *MaxPool2D) Forward(input []float32, batchSize int) []float32 {
	if m.inputHeight == 0 || m.inputWidth == 0 {
		panic("MaxPool2D: input dimensions not set")
	}
	if len(input) != batchSize*m.InSize() {
		panic(fmt.Sprintf("MaxPool2D: input length %d does not match batch %d x %d", len(input), batchSize, m.InSize()))
	}
	m.batchSize = batchSize

	outH, outW := m.outputHeight, m.outputWidth
	total := batchSize * m.OutSize()
	m.outputBuf = ensure(m.outputBuf, total)
	if cap(m.argmaxBuf) < total {
		m.argmaxBuf = make([]int, total)
	}
	m.argmaxBuf = m.argmaxBuf[:total]

	channelStride := m.inputHeight * m.inputWidth
	outputChannelStride := outH * outW

	for plane := 0; plane < batchSize*m.inChannels; plane++ {
		channelOffset := plane * channelStride
		outputOffset := plane * outputChannelStride

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				maxVal := float32(math.Inf(-1))
				maxIdx := -1

				for kh := 0; kh < m.kernelSize; kh++ {
					inH := oh*m.stride + kh
					for kw := 0; kw < m.kernelSize; kw++ {
						inW := ow*m.stride + kw
						idx := channelOffset + inH*m.inputWidth + inW
						if maxIdx < 0 || input[idx] > maxVal {
							maxVal = input[idx]
							maxIdx = idx
						}
					}
				}

				pos := outputOffset + oh*outW + ow
				m.outputBuf[pos] = maxVal
				m.argmaxBuf[pos] = maxIdx
			}
		}
	}

	return m.outputBuf
}

// Backward routes each output gradient to the input position that won the max.
func (m *MaxPool2D) Backward(grad []float32) []float32 {
	m.gradInBuf = ensure(m.gradInBuf, m.batchSize*m.InSize())
	clear(m.gradInBuf)

	for pos, g := range grad {
		m.gradInBuf[m.argmaxBuf[pos]] += g
	}
	return m.gradInBuf
}

// Params returns nil; pooling has no parameters.
func (m *MaxPool2D) Params() []float32 { return nil }

// Gradients returns nil; pooling has no parameters.
func (m *MaxPool2D) Gradients() []float32 { return nil }

// ClearGradients is a no-op for MaxPool2D.
func (m *MaxPool2D) ClearGradients() {}

// NamedParams returns nil; pooling has no state to persist.
func (m *MaxPool2D) NamedParams() []NamedParam { return nil }

// SetTraining has no effect on pooling.
func (m *MaxPool2D) SetTraining(bool) {}

// InSize returns the total input size (channels * height * width).
func (m *MaxPool2D) InSize() int {
	return m.inChannels * m.inputHeight * m.inputWidth
}

// OutSize returns the total output size (channels * outputHeight * outputWidth).
func (m *MaxPool2D) OutSize() int {
	return m.inChannels * m.outputHeight * m.outputWidth
}

// GetArgmax returns the argmax indices buffer (for testing/verification).
func (m *MaxPool2D) GetArgmax() []int {
	return m.argmaxBuf
}
