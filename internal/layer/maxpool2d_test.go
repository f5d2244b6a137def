package layer

import (
	"testing"
)

func TestMaxPool2DForward(t *testing.T) {
	// Test 2x2 max pooling with stride 2 (single channel)
	pool := NewMaxPool2D(1, 2, 2)
	pool.SetInputDimensions(4, 4)

	// 1  2  3  4
	// 5  6  7  8
	// 9  10 11 12
	// 13 14 15 16
	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	output := pool.Forward(input, 1)

	// max(1,2,5,6) = 6, max(3,4,7,8) = 8
	// max(9,10,13,14) = 14, max(11,12,15,16) = 16
	expected := []float32{6, 8, 14, 16}

	if len(output) != 4 {
		t.Fatalf("Output length = %d, expected 4", len(output))
	}
	for i := 0; i < 4; i++ {
		if output[i] != expected[i] {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestMaxPool2DBatchAndChannels(t *testing.T) {
	pool := NewMaxPool2D(2, 2, 2)
	pool.SetInputDimensions(2, 2)

	// 2 samples x 2 channels x 2x2
	input := []float32{
		1, 2, 3, 4,
		-1, -2, -3, -4,
		0, 9, 0, 0,
		5, 5, 7, 6,
	}
	output := pool.Forward(input, 2)
	expected := []float32{4, -1, 9, 7}
	for i := range expected {
		if output[i] != expected[i] {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestMaxPool2DBackward(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2)
	pool.SetInputDimensions(2, 4)

	input := []float32{
		1, 7, 3, 2,
		4, 5, 8, 6,
	}
	pool.Forward(input, 1)

	gradIn := pool.Backward([]float32{10, 20})
	expected := []float32{
		0, 10, 0, 0,
		0, 0, 20, 0,
	}
	for i := range expected {
		if gradIn[i] != expected[i] {
			t.Errorf("GradIn[%d] = %f, expected %f", i, gradIn[i], expected[i])
		}
	}
}

func TestMaxPool2DGradients(t *testing.T) {
	pool := NewMaxPool2D(2, 2, 2)
	pool.SetInputDimensions(4, 4)
	checkGradients(t, pool, randomInput(2*2*4*4, 21), 2, 1e-3, 1e-2)
}

func TestMaxPool2DSizes(t *testing.T) {
	pool := NewMaxPool2D(16, 2, 2)
	pool.SetInputDimensions(64, 64)
	if pool.OutSize() != 16*32*32 {
		t.Errorf("OutSize = %d, expected %d", pool.OutSize(), 16*32*32)
	}
	if pool.Params() != nil || pool.NamedParams() != nil {
		t.Errorf("MaxPool2D should have no parameters")
	}
}
