// Package model builds the MesoNet classifier.
package model

import (
	"math/rand"

	"github.com/FlavioCFOliveira/mesonet/internal/activations"
	"github.com/FlavioCFOliveira/mesonet/internal/layer"
	"github.com/FlavioCFOliveira/mesonet/internal/loss"
	"github.com/FlavioCFOliveira/mesonet/internal/net"
	"github.com/FlavioCFOliveira/mesonet/internal/opt"
)

const (
	// ImageSize is the default square input resolution.
	ImageSize = 128
	// Channels is the number of input colour channels.
	Channels = 3
	// NumClasses is the number of output logits.
	NumClasses = 2

	bnEps      = 1e-5
	bnMomentum = 0.1
)

// InputSize is the per-sample input length (CHW) for a square image.
func InputSize(imageSize int) int { return Channels * imageSize * imageSize }

// Layers returns the MesoNet topology for imageSize x imageSize inputs
// (imageSize must be divisible by 4). For 128 pixels:
//
//	Conv(3→8, k3, p1) → BN → ReLU → MaxPool(2)
//	Conv(8→16, k5, p2) → BN → ReLU → MaxPool(2)
//	Flatten(16·32·32) → Linear(16) → Linear(2)
//
// There is no activation between the two linear layers.
func Layers(rng *rand.Rand, imageSize int) []layer.Layer {
	if imageSize <= 0 || imageSize%4 != 0 {
		panic("model: image size must be a positive multiple of 4")
	}
	s := imageSize

	conv1 := layer.NewConv2D(Channels, 8, 3, 1, 1, rng)
	conv1.SetInputDimensions(s, s)
	bn1 := layer.NewBatchNorm2D(8, bnEps, bnMomentum)
	bn1.SetInputDimensions(s, s)
	pool1 := layer.NewMaxPool2D(8, 2, 2)
	pool1.SetInputDimensions(s, s)
	s /= 2

	conv2 := layer.NewConv2D(8, 16, 5, 1, 2, rng)
	conv2.SetInputDimensions(s, s)
	bn2 := layer.NewBatchNorm2D(16, bnEps, bnMomentum)
	bn2.SetInputDimensions(s, s)
	pool2 := layer.NewMaxPool2D(16, 2, 2)
	pool2.SetInputDimensions(s, s)
	s /= 2

	flat := 16 * s * s
	return []layer.Layer{
		conv1,
		bn1,
		layer.NewActivation(activations.ReLU{}, bn1.OutSize()),
		pool1,
		conv2,
		bn2,
		layer.NewActivation(activations.ReLU{}, bn2.OutSize()),
		pool2,
		layer.NewFlatten(flat),
		layer.NewDense(flat, 16, rng),
		layer.NewDense(16, NumClasses, rng),
	}
}

// NewMesoNet creates the classifier wired to its loss and optimizer.
func NewMesoNet(rng *rand.Rand, imageSize int, lossFn loss.Loss, optimizer opt.Optimizer) *net.Network {
	return net.New(Layers(rng, imageSize), lossFn, optimizer)
}
