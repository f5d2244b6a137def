// Package loss provides classification losses over batched logits.
package loss

import (
	"fmt"
	"math"
)

// Loss is a classification loss over a batch of logits.
type Loss interface {
	// Forward computes the reduced loss for logits laid out as [batch, classes].
	Forward(logits []float32, labels []int) float64

	// Backward returns dL/d(logits) for the last Forward call.
	// The returned slice is owned by the loss and reused.
	Backward() []float32
}

// WeightedCrossEntropy is softmax cross-entropy with per-class weights.
// The batch reduction is the weighted mean Σ w[y]·nll / Σ w[y].
type WeightedCrossEntropy struct {
	weights []float64

	probs     []float64
	labels    []int
	weightSum float64
	gradBuf   []float32
}

// NewWeightedCrossEntropy creates the loss. A nil weights slice means
// uniform weights; otherwise one weight per class is required.
func NewWeightedCrossEntropy(weights []float64) *WeightedCrossEntropy {
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			panic(fmt.Sprintf("WeightedCrossEntropy: invalid weight %v for class %d", w, i))
		}
	}
	return &WeightedCrossEntropy{weights: append([]float64(nil), weights...)}
}

// NumClasses returns the number of weighted classes, or 0 when unweighted.
func (c *WeightedCrossEntropy) NumClasses() int { return len(c.weights) }

func (c *WeightedCrossEntropy) weight(label int) float64 {
	if c.weights == nil {
		return 1
	}
	return c.weights[label]
}

// Forward computes the weighted mean negative log-likelihood.
func (c *WeightedCrossEntropy) Forward(logits []float32, labels []int) float64 {
	n := len(labels)
	if n == 0 || len(logits)%n != 0 {
		panic(fmt.Sprintf("WeightedCrossEntropy: %d logits for %d labels", len(logits), n))
	}
	classes := len(logits) / n
	if c.weights != nil && classes != len(c.weights) {
		panic(fmt.Sprintf("WeightedCrossEntropy: %d classes but %d weights", classes, len(c.weights)))
	}

	if cap(c.probs) < len(logits) {
		c.probs = make([]float64, len(logits))
	}
	c.probs = c.probs[:len(logits)]
	c.labels = append(c.labels[:0], labels...)

	var total, weightSum float64
	for i, y := range labels {
		if y < 0 || y >= classes {
			panic(fmt.Sprintf("WeightedCrossEntropy: label %d out of range [0,%d)", y, classes))
		}
		row := logits[i*classes : (i+1)*classes]
		p := c.probs[i*classes : (i+1)*classes]
		logSumExp := softmax(row, p)

		w := c.weight(y)
		total += w * (logSumExp - float64(row[y]))
		weightSum += w
	}
	c.weightSum = weightSum
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// Backward returns w[y]·(softmax − onehot) / Σ w for every sample.
func (c *WeightedCrossEntropy) Backward() []float32 {
	n := len(c.labels)
	if n == 0 {
		panic("WeightedCrossEntropy: Backward called before Forward")
	}
	classes := len(c.probs) / n
	if cap(c.gradBuf) < len(c.probs) {
		c.gradBuf = make([]float32, len(c.probs))
	}
	c.gradBuf = c.gradBuf[:len(c.probs)]
	if c.weightSum == 0 {
		clear(c.gradBuf)
		return c.gradBuf
	}

	for i, y := range c.labels {
		scale := c.weight(y) / c.weightSum
		for k := 0; k < classes; k++ {
			g := c.probs[i*classes+k]
			if k == y {
				g -= 1
			}
			c.gradBuf[i*classes+k] = float32(scale * g)
		}
	}
	return c.gradBuf
}

// SampleLoss returns the unreduced weighted loss w[label]·nll of one sample.
func (c *WeightedCrossEntropy) SampleLoss(logits []float32, label int) float64 {
	p := make([]float64, len(logits))
	return c.weight(label) * (softmax(logits, p) - float64(logits[label]))
}

// softmax writes the probabilities of row into p and returns log Σ exp(row).
func softmax(row []float32, p []float64) float64 {
	maxVal := math.Inf(-1)
	for _, v := range row {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for k, v := range row {
		e := math.Exp(float64(v) - maxVal)
		p[k] = e
		sum += e
	}
	for k := range p {
		p[k] /= sum
	}
	return maxVal + math.Log(sum)
}
