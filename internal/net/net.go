// Package net provides core neural network types.
package net

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/FlavioCFOliveira/mesonet/internal/layer"
	"github.com/FlavioCFOliveira/mesonet/internal/loss"
	"github.com/FlavioCFOliveira/mesonet/internal/opt"
)

// Network is an ordered stack of layers trained with one loss and optimizer.
type Network struct {
	layers   []layer.Layer
	loss     loss.Loss
	opt      opt.Optimizer
	training bool

	paramGroups [][]float32
	gradGroups  [][]float32
}

// New creates a new neural network with the given layers.
// The network starts in training mode.
func New(layers []layer.Layer, lossFn loss.Loss, optimizer opt.Optimizer) *Network {
	n := &Network{
		layers: layers,
		loss:   lossFn,
		opt:    optimizer,
	}
	for _, l := range layers {
		if p := l.Params(); len(p) > 0 {
			n.paramGroups = append(n.paramGroups, p)
			n.gradGroups = append(n.gradGroups, l.Gradients())
		}
	}
	n.SetTraining(true)
	return n
}

// Forward performs a forward pass through all layers and returns the logits.
func (n *Network) Forward(x []float32, batchSize int) []float32 {
	curr := x
	for i := range n.layers {
		curr = n.layers[i].Forward(curr, batchSize)
	}
	return curr
}

// Backward performs a backward pass through all layers.
func (n *Network) Backward(grad []float32) []float32 {
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		curr = n.layers[i].Backward(curr)
	}
	return curr
}

// ZeroGrad clears the accumulated gradients of every layer.
func (n *Network) ZeroGrad() {
	for _, l := range n.layers {
		l.ClearGradients()
	}
}

// Step performs one optimization step using the stored optimizer.
func (n *Network) Step() {
	n.opt.Step(n.paramGroups, n.gradGroups)
}

// TrainBatch runs one optimisation step on a mini-batch:
// zero gradients, forward, loss, backward, optimizer step.
// It returns the batch loss and the logits computed before the update.
func (n *Network) TrainBatch(x []float32, labels []int) (float64, []float32) {
	n.ZeroGrad()
	logits := n.Forward(x, len(labels))
	l := n.loss.Forward(logits, labels)
	n.Backward(n.loss.Backward())
	n.Step()
	return l, logits
}

// EvalBatch computes loss and logits without touching gradients or parameters.
func (n *Network) EvalBatch(x []float32, labels []int) (float64, []float32) {
	logits := n.Forward(x, len(labels))
	return n.loss.Forward(logits, labels), logits
}

// SetTraining switches every layer between training and evaluation mode.
func (n *Network) SetTraining(training bool) {
	n.training = training
	for _, l := range n.layers {
		l.SetTraining(training)
	}
}

// Training reports the current mode.
func (n *Network) Training() bool { return n.training }

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer { return n.layers }

// Loss returns the loss used by TrainBatch and EvalBatch.
func (n *Network) Loss() loss.Loss { return n.loss }

// Optimizer returns the optimizer used by Step.
func (n *Network) Optimizer() opt.Optimizer { return n.opt }

// ParamGroups returns the per-layer parameter views handed to the optimizer.
func (n *Network) ParamGroups() [][]float32 { return n.paramGroups }

// GradGroups returns the gradient views aligned with ParamGroups.
func (n *Network) GradGroups() [][]float32 { return n.gradGroups }

// NamedParams lists every persisted tensor prefixed with its layer index,
// e.g. "0.weight" or "1.running_mean".
func (n *Network) NamedParams() []layer.NamedParam {
	var out []layer.NamedParam
	for i, l := range n.layers {
		for _, p := range l.NamedParams() {
			p.Name = fmt.Sprintf("%d.%s", i, p.Name)
			out = append(out, p)
		}
	}
	return out
}

// NumParams returns the number of trainable parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, p := range n.paramGroups {
		total += len(p)
	}
	return total
}

type spatial interface {
	GetOutputDimensions() (int, int)
}

// Summary writes a per-layer table of output shapes and parameter counts.
func (n *Network) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Layer\tType\tOutput Shape\tParams")

	var shape []int
	for i, l := range n.layers {
		switch s := l.(type) {
		case spatial:
			if h, wd := s.GetOutputDimensions(); h > 0 && wd > 0 {
				shape = []int{l.OutSize() / (h * wd), h, wd}
			}
		case *layer.Flatten:
			shape = []int{l.OutSize()}
		default:
			if prod(shape) != l.OutSize() {
				shape = []int{l.OutSize()}
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i, layerName(l), formatShape(shape), len(l.Params()))
	}
	fmt.Fprintf(tw, "Total trainable params:\t\t\t%d\n", n.NumParams())
	return tw.Flush()
}

func layerName(l layer.Layer) string {
	switch v := l.(type) {
	case *layer.Conv2D:
		return fmt.Sprintf("Conv2D(k=%d, p=%d)", v.GetKernelSize(), v.GetPadding())
	case *layer.BatchNorm2D:
		return "BatchNorm2D"
	case *layer.MaxPool2D:
		return "MaxPool2D"
	case *layer.Activation:
		return v.Func().Name()
	case *layer.Flatten:
		return "Flatten"
	case *layer.Dense:
		return "Linear"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", l), "*layer.")
	}
}

func prod(shape []int) int {
	if len(shape) == 0 {
		return -1
	}
	p := 1
	for _, d := range shape {
		p *= d
	}
	return p
}

func formatShape(shape []int) string {
	parts := make([]string, 0, len(shape)+1)
	parts = append(parts, "N")
	for _, d := range shape {
		parts = append(parts, fmt.Sprint(d))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
