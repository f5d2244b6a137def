package layer

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrDeviceUnavailable is returned when a requested accelerator cannot be used.
// It is not fatal: SelectDevice still returns a usable CPU device alongside it.
var ErrDeviceUnavailable = errors.New("device unavailable")

// DeviceType represents the hardware device used for computation.
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// Device manages the hardware resources for neural network operations.
type Device interface {
	Type() DeviceType
	IsAvailable() bool
	Name() string
}

// CPUDevice handles computations on the host CPU.
type CPUDevice struct{}

func (d *CPUDevice) Type() DeviceType  { return CPU }
func (d *CPUDevice) IsAvailable() bool { return true }
func (d *CPUDevice) Name() string {
	return "cpu (" + runtime.GOOS + "/" + runtime.GOARCH + ", " + strconv.Itoa(runtime.NumCPU()) + " threads)"
}

// AcceleratorDevice stands for a GPU backend. None is compiled into this
// build, so it always reports itself unavailable.
type AcceleratorDevice struct{}

func (d *AcceleratorDevice) Type() DeviceType  { return GPU }
func (d *AcceleratorDevice) IsAvailable() bool { return false }
func (d *AcceleratorDevice) Name() string      { return "gpu" }

// GetDefaultDevice returns the best available device for the current platform.
func GetDefaultDevice() Device {
	if gpu := (&AcceleratorDevice{}); gpu.IsAvailable() {
		return gpu
	}
	return &CPUDevice{}
}

// SelectDevice resolves a device name ("auto", "cpu", "gpu").
// An unavailable "gpu" falls back to the CPU and reports ErrDeviceUnavailable.
func SelectDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return GetDefaultDevice(), nil
	case "cpu":
		return &CPUDevice{}, nil
	case "gpu", "cuda", "metal":
		if gpu := (&AcceleratorDevice{}); gpu.IsAvailable() {
			return gpu, nil
		}
		return &CPUDevice{}, errors.Wrapf(ErrDeviceUnavailable, "%q requested, falling back to cpu", name)
	default:
		return &CPUDevice{}, errors.Wrapf(ErrDeviceUnavailable, "unknown device %q, falling back to cpu", name)
	}
}
