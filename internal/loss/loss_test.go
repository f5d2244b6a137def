// Package loss provides unit tests for loss functions.
package loss

import (
	"math"
	"testing"
)

func TestWeightedCrossEntropyUniform(t *testing.T) {
	ce := NewWeightedCrossEntropy(nil)

	tests := []struct {
		name     string
		logits   []float32
		labels   []int
		expected float64
	}{
		{"Equal logits", []float32{0, 0}, []int{1}, math.Log(2)},
		{"Confident correct", []float32{10, -10}, []int{0}, math.Log(1 + math.Exp(-20))},
		{"Batch mean", []float32{0, 0, 1, 0}, []int{0, 0}, (math.Log(2) + math.Log(1+math.Exp(-1))) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ce.Forward(tt.logits, tt.labels)
			if math.Abs(result-tt.expected) > 1e-6 {
				t.Errorf("Forward() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// A misclassified Fake sample costs twice as much as the equivalent Real one.
func TestWeightedCrossEntropySampleLossDoubleWeight(t *testing.T) {
	ce := NewWeightedCrossEntropy([]float64{1, 2})

	realMiss := ce.SampleLoss([]float32{-1, 1}, 0)
	fakeMiss := ce.SampleLoss([]float32{1, -1}, 1)
	if math.Abs(fakeMiss-2*realMiss) > 1e-9 {
		t.Errorf("fake loss = %v, expected 2 x %v", fakeMiss, realMiss)
	}
}

func TestWeightedCrossEntropyWeightedMean(t *testing.T) {
	ce := NewWeightedCrossEntropy([]float64{1, 2})
	logits := []float32{0.5, -0.5, 0.2, 0.1}
	labels := []int{0, 1}

	l0 := ce.SampleLoss(logits[:2], 0)
	l1 := ce.SampleLoss(logits[2:], 1)
	expected := (l0 + l1) / 3

	if got := ce.Forward(logits, labels); math.Abs(got-expected) > 1e-9 {
		t.Errorf("Forward() = %v, want %v", got, expected)
	}
}

func TestWeightedCrossEntropyBackwardNumeric(t *testing.T) {
	ce := NewWeightedCrossEntropy([]float64{1, 2})
	logits := []float32{0.3, -0.2, 1.1, 0.4, -0.7, 0.9}
	labels := []int{1, 0, 1}

	ce.Forward(logits, labels)
	grad := append([]float32(nil), ce.Backward()...)

	const eps = 1e-3
	for i := range logits {
		orig := logits[i]
		logits[i] = orig + eps
		plus := ce.Forward(logits, labels)
		logits[i] = orig - eps
		minus := ce.Forward(logits, labels)
		logits[i] = orig

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-float64(grad[i])) > 1e-3 {
			t.Errorf("grad[%d] = %v, numeric %v", i, grad[i], numeric)
		}
	}
}

func TestWeightedCrossEntropyGradientRowsSumToZero(t *testing.T) {
	ce := NewWeightedCrossEntropy([]float64{1, 2})
	ce.Forward([]float32{2, -3, 0.5, 0.5}, []int{0, 1})
	grad := ce.Backward()
	for i := 0; i < 2; i++ {
		if s := grad[2*i] + grad[2*i+1]; math.Abs(float64(s)) > 1e-6 {
			t.Errorf("row %d gradient sums to %v", i, s)
		}
	}
}

func TestWeightedCrossEntropyStableForLargeLogits(t *testing.T) {
	ce := NewWeightedCrossEntropy(nil)
	got := ce.Forward([]float32{1000, -1000}, []int{1})
	if math.IsInf(got, 0) || math.IsNaN(got) || math.Abs(got-2000) > 1e-3 {
		t.Errorf("Forward() = %v, want 2000", got)
	}
}

func TestWeightedCrossEntropyPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"label out of range", func() { NewWeightedCrossEntropy(nil).Forward([]float32{0, 0}, []int{2}) }},
		{"weight count", func() { NewWeightedCrossEntropy([]float64{1, 2, 3}).Forward([]float32{0, 0}, []int{0}) }},
		{"negative weight", func() { NewWeightedCrossEntropy([]float64{-1, 1}) }},
		{"backward before forward", func() { NewWeightedCrossEntropy(nil).Backward() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("Expected panic")
				}
			}()
			tt.fn()
		})
	}
}
