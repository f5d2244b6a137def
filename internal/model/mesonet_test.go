package model

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/FlavioCFOliveira/mesonet/internal/loss"
	"github.com/FlavioCFOliveira/mesonet/internal/net"
	"github.com/FlavioCFOliveira/mesonet/internal/opt"
)

func newTestModel(seed int64) *net.Network {
	return NewMesoNet(rand.New(rand.NewSource(seed)), ImageSize, loss.NewWeightedCrossEntropy([]float64{1, 2}), opt.NewAdamW(1e-4, 1e-5))
}

func randomImages(n int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float32, n*InputSize(ImageSize))
	for i := range x {
		x[i] = float32(rng.Float64()*2 - 1)
	}
	return x
}

func TestMesoNetOutputShape(t *testing.T) {
	m := newTestModel(42)
	for _, n := range []int{1, 3} {
		out := m.Forward(randomImages(n, int64(n)), n)
		if len(out) != n*NumClasses {
			t.Errorf("batch %d: logits length = %d, want %d", n, len(out), n*NumClasses)
		}
		for i, v := range out {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("logit %d is %v", i, v)
			}
		}
	}
}

func TestMesoNetParamCount(t *testing.T) {
	m := newTestModel(42)
	// conv1 224, bn1 16, conv2 3216, bn2 32, fc1 262160, fc2 34
	if got := m.NumParams(); got != 265682 {
		t.Errorf("NumParams = %d, want 265682", got)
	}
	if len(m.Layers()) != 11 {
		t.Errorf("layers = %d, want 11", len(m.Layers()))
	}
}

func TestMesoNetSeeded(t *testing.T) {
	a := newTestModel(7).NamedParams()
	b := newTestModel(7).NamedParams()
	for i := range a {
		if !slices.Equal(a[i].Data, b[i].Data) {
			t.Fatalf("tensor %s differs between identically seeded models", a[i].Name)
		}
	}
}

func TestMesoNetEvalBatchIndependence(t *testing.T) {
	m := newTestModel(1)
	m.SetTraining(false)

	x := randomImages(2, 9)
	batch := slices.Clone(m.Forward(x, 2))
	second := m.Forward(x[InputSize(ImageSize):], 1)

	for k := 0; k < NumClasses; k++ {
		if math.Abs(float64(batch[NumClasses+k]-second[k])) > 1e-4 {
			t.Errorf("logit %d = %v in batch, %v alone", k, batch[NumClasses+k], second[k])
		}
	}
}

func TestMesoNetSmallImages(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := NewMesoNet(rng, 16, loss.NewWeightedCrossEntropy(nil), opt.NewAdamW(1e-3, 0))
	x := make([]float32, 2*InputSize(16))
	if out := m.Forward(x, 2); len(out) != 2*NumClasses {
		t.Errorf("logits length = %d, want %d", len(out), 2*NumClasses)
	}
	// fc1 sees 16 channels of 4x4
	if got := m.Layers()[9].InSize(); got != 256 {
		t.Errorf("flattened size = %d, want 256", got)
	}
}
