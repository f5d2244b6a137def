// Package layer provides neural network layer implementations.
package layer

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2D implements a 2D convolutional layer.
// Each sample is unrolled with im2col and multiplied with the kernel matrix.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	inputHeight int
	inputWidth  int
	outH        int
	outW        int

	// params holds weights [outChannels, inChannels, k, k] followed by biases.
	params  []float32
	weights []float32
	biases  []float32

	grads       []float32
	gradWeights []float32
	gradBiases  []float32

	batchSize  int
	savedInput []float32
	colBuf     []float32
	dColBuf    []float32
	outputBuf  []float32
	gradInBuf  []float32
}

// NewConv2D creates a new 2D convolutional layer.
// inChannels: number of input channels
// outChannels: number of output feature maps
// kernelSize: size of convolutional kernel (square)
// stride: stride for convolution
// padding: zero padding size
// SetInputDimensions must be called before the first Forward.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) *Conv2D {
	nWeights := outChannels * inChannels * kernelSize * kernelSize
	params := make([]float32, nWeights+outChannels)
	grads := make([]float32, len(params))

	bound := 1 / math.Sqrt(float64(inChannels*kernelSize*kernelSize))
	uniformInit(rng, params, bound)

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		params:      params,
		weights:     params[:nWeights],
		biases:      params[nWeights:],
		grads:       grads,
		gradWeights: grads[:nWeights],
		gradBiases:  grads[nWeights:],
	}
}

// SetInputDimensions sets the spatial size of incoming feature maps.
func (c *Conv2D) SetInputDimensions(height, width int) {
	c.inputHeight = height
	c.inputWidth = width
	c.outH, c.outW = c.computeOutputSize(height, width)
}

// GetOutputDimensions returns the spatial dimensions of the output.
func (c *Conv2D) GetOutputDimensions() (int, int) {
	return c.outH, c.outW
}

// computeOutputSize calculates the output spatial dimensions
func (c *Conv2D) computeOutputSize(inputHeight, inputWidth int) (int, int) {
	outH := (inputHeight+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputWidth+2*c.padding-c.kernelSize)/c.stride + 1
	return outH, outW
}

func (c *Conv2D) kernelDim() int {
	return c.inChannels * c.kernelSize * c.kernelSize
}

// Forward performs a forward pass through the convolutional layer.
// input: flattened [batch, inChannels, inputHeight, inputWidth]
// Returns: flattened [batch, outChannels, outputHeight, outputWidth]
func (c *Conv2D) Forward(input []float32, batchSize int) []float32 {
	if c.inputHeight == 0 || c.inputWidth == 0 {
		panic("Conv2D: input dimensions not set")
	}
	inSize := c.InSize()
	if len(input) != batchSize*inSize {
		panic(fmt.Sprintf("Conv2D: input length %d does not match batch %d x %d", len(input), batchSize, inSize))
	}

	c.batchSize = batchSize
	c.savedInput = ensure(c.savedInput, len(input))
	copy(c.savedInput, input)

	kdim := c.kernelDim()
	outSize := c.outH * c.outW
	outPer := c.outChannels * outSize
	c.colBuf = ensure(c.colBuf, kdim*outSize)
	c.outputBuf = ensure(c.outputBuf, batchSize*outPer)

	w := blas32.General{Rows: c.outChannels, Cols: kdim, Stride: kdim, Data: c.weights}
	col := blas32.General{Rows: kdim, Cols: outSize, Stride: outSize, Data: c.colBuf}

	for n := 0; n < batchSize; n++ {
		c.im2col(c.savedInput[n*inSize:(n+1)*inSize], c.colBuf)

		out := c.outputBuf[n*outPer : (n+1)*outPer]
		for oc := 0; oc < c.outChannels; oc++ {
			row := out[oc*outSize : (oc+1)*outSize]
			for i := range row {
				row[i] = c.biases[oc]
			}
		}
		y := blas32.General{Rows: c.outChannels, Cols: outSize, Stride: outSize, Data: out}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, w, col, 1, y)
	}

	return c.outputBuf
}

// Backward performs backpropagation through the convolutional layer.
// grad: gradient of loss w.r.t. output (shape: [batch, outChannels, outH, outW] flattened)
// Returns: gradient of loss w.r.t. input
func (c *Conv2D) Backward(grad []float32) []float32 {
	inSize := c.InSize()
	kdim := c.kernelDim()
	outSize := c.outH * c.outW
	outPer := c.outChannels * outSize

	c.dColBuf = ensure(c.dColBuf, kdim*outSize)
	c.gradInBuf = ensure(c.gradInBuf, c.batchSize*inSize)
	clear(c.gradInBuf)

	w := blas32.General{Rows: c.outChannels, Cols: kdim, Stride: kdim, Data: c.weights}
	gw := blas32.General{Rows: c.outChannels, Cols: kdim, Stride: kdim, Data: c.gradWeights}
	col := blas32.General{Rows: kdim, Cols: outSize, Stride: outSize, Data: c.colBuf}
	dcol := blas32.General{Rows: kdim, Cols: outSize, Stride: outSize, Data: c.dColBuf}

	for n := 0; n < c.batchSize; n++ {
		gOut := grad[n*outPer : (n+1)*outPer]
		g := blas32.General{Rows: c.outChannels, Cols: outSize, Stride: outSize, Data: gOut}

		for oc := 0; oc < c.outChannels; oc++ {
			var sum float32
			for _, v := range gOut[oc*outSize : (oc+1)*outSize] {
				sum += v
			}
			c.gradBiases[oc] += sum
		}

		c.im2col(c.savedInput[n*inSize:(n+1)*inSize], c.colBuf)
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, g, col, 1, gw)

		blas32.Gemm(blas.Trans, blas.NoTrans, 1, w, g, 0, dcol)
		c.col2im(c.dColBuf, c.gradInBuf[n*inSize:(n+1)*inSize])
	}

	return c.gradInBuf
}

// im2col unrolls one sample into a [inChannels*k*k, outH*outW] matrix.
func (c *Conv2D) im2col(x, col []float32) {
	k := c.kernelSize
	outSize := c.outH * c.outW
	for ch := 0; ch < c.inChannels; ch++ {
		chOffset := ch * c.inputHeight * c.inputWidth
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				rowBase := ((ch*k+kh)*k + kw) * outSize
				for oh := 0; oh < c.outH; oh++ {
					dst := col[rowBase+oh*c.outW : rowBase+(oh+1)*c.outW]
					inH := oh*c.stride + kh - c.padding
					if inH < 0 || inH >= c.inputHeight {
						clear(dst)
						continue
					}
					inHOffset := chOffset + inH*c.inputWidth
					for ow := range dst {
						inW := ow*c.stride + kw - c.padding
						if inW < 0 || inW >= c.inputWidth {
							dst[ow] = 0
						} else {
							dst[ow] = x[inHOffset+inW]
						}
					}
				}
			}
		}
	}
}

// col2im scatters a column gradient back onto one input sample (accumulating).
func (c *Conv2D) col2im(col, gradIn []float32) {
	k := c.kernelSize
	outSize := c.outH * c.outW
	for ch := 0; ch < c.inChannels; ch++ {
		chOffset := ch * c.inputHeight * c.inputWidth
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				rowBase := ((ch*k+kh)*k + kw) * outSize
				for oh := 0; oh < c.outH; oh++ {
					inH := oh*c.stride + kh - c.padding
					if inH < 0 || inH >= c.inputHeight {
						continue
					}
					src := col[rowBase+oh*c.outW : rowBase+(oh+1)*c.outW]
					inHOffset := chOffset + inH*c.inputWidth
					for ow, v := range src {
						inW := ow*c.stride + kw - c.padding
						if inW >= 0 && inW < c.inputWidth {
							gradIn[inHOffset+inW] += v
						}
					}
				}
			}
		}
	}
}

// Params returns weights followed by biases.
func (c *Conv2D) Params() []float32 { return c.params }

// Gradients returns the gradient buffer aligned with Params.
func (c *Conv2D) Gradients() []float32 { return c.grads }

// ClearGradients zeroes out the accumulated gradients.
func (c *Conv2D) ClearGradients() { clear(c.grads) }

// NamedParams exposes weight and bias.
func (c *Conv2D) NamedParams() []NamedParam {
	return []NamedParam{
		{Name: "weight", Shape: []int{c.outChannels, c.inChannels, c.kernelSize, c.kernelSize}, Data: c.weights, Trainable: true},
		{Name: "bias", Shape: []int{c.outChannels}, Data: c.biases, Trainable: true},
	}
}

// SetTraining has no effect on convolutions.
func (c *Conv2D) SetTraining(bool) {}

// InSize returns the per-sample input size (channels * height * width).
func (c *Conv2D) InSize() int {
	return c.inChannels * c.inputHeight * c.inputWidth
}

// OutSize returns the per-sample output size.
func (c *Conv2D) OutSize() int {
	return c.outChannels * c.outH * c.outW
}

// OutChannels returns the number of output feature maps.
func (c *Conv2D) OutChannels() int { return c.outChannels }

// GetKernelSize returns the kernel size.
func (c *Conv2D) GetKernelSize() int { return c.kernelSize }

// GetPadding returns the padding.
func (c *Conv2D) GetPadding() int { return c.padding }
