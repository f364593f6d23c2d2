package compute

import (
	"errors"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
)

var (
	ErrDeviceUnavailable = errors.New("compute: device not available")
	ErrNotInitialized    = errors.New("compute: kernel not initialized")
	ErrCapacityExceeded  = errors.New("compute: device capacity exceeded")
)

// Counters are the aggregate figures shown by monitors.
type Counters struct {
	Cells          int
	Particles      int
	Tokens         int
	InternalEnergy float64
}

// Kernel owns the authoritative simulation state. Implementations are not
// safe for concurrent use; a single goroutine drives every call.
type Kernel interface {
	Name() string
	Available() bool
	Initialize(worldSize description.IntVector, timestep uint64, params config.SimulationParameters, constants config.DeviceConstants) error
	ComputeOneTimestep() error
	// ReadSnapshot returns every cluster with at least one cell inside the
	// rectangle [upperLeft, lowerRight) and the particles inside it.
	ReadSnapshot(upperLeft, lowerRight description.IntVector) (description.Data, error)
	// WriteSnapshot replaces the whole simulation content with data.
	WriteSnapshot(data description.Data) error
	ReadCounters() (Counters, error)
	SetParameters(params config.SimulationParameters) error
	Close() error
}

// AutoSelectKernel returns the CUDA kernel when a device is present and the
// CPU kernel otherwise.
func AutoSelectKernel() Kernel {
	cuda := NewCUDAKernel()
	if cuda.Available() {
		return cuda
	}
	return NewCPUKernel()
}

// NewKernel returns the kernel for name: "cpu", "cuda" or "auto".
func NewKernel(name string) (Kernel, error) {
	switch name {
	case "", "auto":
		return AutoSelectKernel(), nil
	case "cpu":
		return NewCPUKernel(), nil
	case "cuda":
		k := NewCUDAKernel()
		if !k.Available() {
			return nil, ErrDeviceUnavailable
		}
		return k, nil
	default:
		return nil, errors.New("compute: unknown kernel " + name)
	}
}
