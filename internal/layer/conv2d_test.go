package layer

import (
	"math"
	"math/rand"
	"testing"
)

func TestConv2DOutputShape(t *testing.T) {
	tests := []struct {
		name                    string
		inC, outC, k, pad, h, w int
		expectedH, expectedW    int
	}{
		{"same padding k3", 3, 8, 3, 1, 128, 128, 128, 128},
		{"same padding k5", 8, 16, 5, 2, 64, 64, 64, 64},
		{"valid k3", 1, 2, 3, 0, 8, 6, 6, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConv2D(tt.inC, tt.outC, tt.k, 1, tt.pad, rand.New(rand.NewSource(1)))
			c.SetInputDimensions(tt.h, tt.w)
			oh, ow := c.GetOutputDimensions()
			if oh != tt.expectedH || ow != tt.expectedW {
				t.Errorf("output dims = %dx%d, expected %dx%d", oh, ow, tt.expectedH, tt.expectedW)
			}
			if c.OutSize() != tt.outC*tt.expectedH*tt.expectedW {
				t.Errorf("OutSize = %d, expected %d", c.OutSize(), tt.outC*tt.expectedH*tt.expectedW)
			}
		})
	}
}

func TestConv2DForwardKnownValues(t *testing.T) {
	// Single 3x3 kernel of ones with padding 1 sums each 3x3 neighbourhood.
	c := NewConv2D(1, 1, 3, 1, 1, rand.New(rand.NewSource(1)))
	c.SetInputDimensions(3, 3)
	params := c.Params()
	for i := 0; i < 9; i++ {
		params[i] = 1
	}
	params[9] = 0.5 // bias

	input := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	output := c.Forward(input, 1)

	expected := []float32{
		12, 21, 16,
		27, 45, 33,
		24, 39, 28,
	}
	for i := range expected {
		if math.Abs(float64(output[i]-(expected[i]+0.5))) > 1e-5 {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i]+0.5)
		}
	}
}

func TestConv2DBatchIndependence(t *testing.T) {
	c := NewConv2D(2, 3, 3, 1, 1, rand.New(rand.NewSource(2)))
	c.SetInputDimensions(4, 4)

	a := randomInput(2*4*4, 1)
	b := randomInput(2*4*4, 2)

	single := append([]float32(nil), c.Forward(b, 1)...)
	batch := c.Forward(append(append([]float32(nil), a...), b...), 2)

	per := c.OutSize()
	for i := 0; i < per; i++ {
		if math.Abs(float64(batch[per+i]-single[i])) > 1e-5 {
			t.Fatalf("sample 1 output[%d] = %f, single-sample %f", i, batch[per+i], single[i])
		}
	}
}

func TestConv2DGradients(t *testing.T) {
	c := NewConv2D(2, 3, 3, 1, 1, rand.New(rand.NewSource(3)))
	c.SetInputDimensions(4, 5)
	checkGradients(t, c, randomInput(2*2*4*5, 4), 2, 1e-2, 1e-2)
}

func TestConv2DGradientsStridedKernel5(t *testing.T) {
	c := NewConv2D(1, 2, 5, 2, 2, rand.New(rand.NewSource(5)))
	c.SetInputDimensions(6, 6)
	checkGradients(t, c, randomInput(6*6, 6), 1, 1e-2, 1e-2)
}

func TestConv2DNamedParams(t *testing.T) {
	c := NewConv2D(3, 8, 3, 1, 1, rand.New(rand.NewSource(1)))
	named := c.NamedParams()
	if len(named) != 2 {
		t.Fatalf("NamedParams length = %d, expected 2", len(named))
	}
	shape := named[0].Shape
	if len(shape) != 4 || shape[0] != 8 || shape[1] != 3 || shape[2] != 3 || shape[3] != 3 {
		t.Errorf("weight shape = %v, expected [8 3 3 3]", shape)
	}
	if len(named[1].Data) != 8 {
		t.Errorf("bias length = %d, expected 8", len(named[1].Data))
	}
}
