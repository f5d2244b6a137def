package layer

import (
	"testing"

	"github.com/pkg/errors"
)

func TestSelectDevice(t *testing.T) {
	tests := []struct {
		name        string
		unavailable bool
	}{
		{"", false},
		{"auto", false},
		{"CPU", false},
		{"gpu", true},
		{"tpu", true},
	}

	for _, tt := range tests {
		dev, err := SelectDevice(tt.name)
		if dev == nil || dev.Type() != CPU || !dev.IsAvailable() {
			t.Errorf("SelectDevice(%q) = %v, expected an available CPU device", tt.name, dev)
		}
		if got := errors.Is(err, ErrDeviceUnavailable); got != tt.unavailable {
			t.Errorf("SelectDevice(%q) error = %v, unavailable expected %v", tt.name, err, tt.unavailable)
		}
	}
}

func TestDeviceTypeString(t *testing.T) {
	if CPU.String() != "cpu" || GPU.String() != "gpu" {
		t.Errorf("unexpected device names %s/%s", CPU, GPU)
	}
}
