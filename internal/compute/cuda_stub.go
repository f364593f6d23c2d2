//go:build !cuda

package compute

import (
	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
)

type CUDAKernel struct{}

func NewCUDAKernel() *CUDAKernel {
	return &CUDAKernel{}
}

func (k *CUDAKernel) Name() string    { return "cuda (not available)" }
func (k *CUDAKernel) Available() bool { return false }

func (k *CUDAKernel) Initialize(description.IntVector, uint64, config.SimulationParameters, config.DeviceConstants) error {
	return ErrDeviceUnavailable
}

func (k *CUDAKernel) ComputeOneTimestep() error { return ErrDeviceUnavailable }

func (k *CUDAKernel) ReadSnapshot(description.IntVector, description.IntVector) (description.Data, error) {
	return description.Data{}, ErrDeviceUnavailable
}

func (k *CUDAKernel) WriteSnapshot(description.Data) error { return ErrDeviceUnavailable }

func (k *CUDAKernel) ReadCounters() (Counters, error) { return Counters{}, ErrDeviceUnavailable }

func (k *CUDAKernel) SetParameters(config.SimulationParameters) error { return ErrDeviceUnavailable }

func (k *CUDAKernel) Close() error { return nil }
