//go:build cuda

package compute

/*
#cgo CFLAGS: -I/opt/cuda/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L${SRCDIR} -lcudart -lkernels -lstdc++
#include <stdlib.h>

extern int cuda_device_count();
extern const char* cuda_device_name_get();
extern void integrate_cells_gpu(float* pos, float* vel, float* force, int n, float damping, float max_vel, float dt, float size_x, float size_y, int blocks, int threads);
*/
import "C"

import (
	"unsafe"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
)

// CUDAKernel integrates cell motion on the GPU. Bond bookkeeping, radiation
// and snapshot access stay on the host.
type CUDAKernel struct {
	*CPUKernel
	available  bool
	deviceName string

	pos, vel, force []float32
}

func NewCUDAKernel() *CUDAKernel {
	count := int(C.cuda_device_count())
	name := ""
	if count > 0 {
		name = C.GoString(C.cuda_device_name_get())
	}
	return &CUDAKernel{
		CPUKernel:  NewCPUKernel(),
		available:  count > 0,
		deviceName: name,
	}
}

func (k *CUDAKernel) Name() string {
	if k.available {
		return "cuda (" + k.deviceName + ")"
	}
	return "cuda (not available)"
}

func (k *CUDAKernel) Available() bool { return k.available }

func (k *CUDAKernel) Initialize(worldSize description.IntVector, timestep uint64, params config.SimulationParameters, constants config.DeviceConstants) error {
	if !k.available {
		return ErrDeviceUnavailable
	}
	return k.CPUKernel.Initialize(worldSize, timestep, params, constants)
}

func (k *CUDAKernel) ComputeOneTimestep() error {
	h := k.CPUKernel
	if !h.initialized {
		return ErrNotInitialized
	}
	h.gather()
	h.applyForces()

	n := len(h.cells)
	if n > 0 {
		k.pack()
		size := h.metric.Size()
		C.integrate_cells_gpu(
			(*C.float)(unsafe.Pointer(&k.pos[0])),
			(*C.float)(unsafe.Pointer(&k.vel[0])),
			(*C.float)(unsafe.Pointer(&k.force[0])),
			C.int(n),
			C.float(1-h.params.Friction),
			C.float(h.params.CellMaxVelocity),
			C.float(h.params.TimestepSize),
			C.float(size.X),
			C.float(size.Y),
			C.int(h.constants.Blocks),
			C.int(h.constants.ThreadsPerBlock),
		)
		k.unpack()
	}

	h.integrateParticles()
	h.radiate()
	return h.breakBonds()
}

func (k *CUDAKernel) pack() {
	n := len(k.CPUKernel.cells)
	k.pos = resize(k.pos, 2*n)
	k.vel = resize(k.vel, 2*n)
	k.force = resize(k.force, 2*n)
	for i, cell := range k.CPUKernel.cells {
		p, v, f := cell.Pos.Value(), cell.Vel.Value(), k.CPUKernel.forces[i]
		k.pos[2*i], k.pos[2*i+1] = float32(p.X), float32(p.Y)
		k.vel[2*i], k.vel[2*i+1] = float32(v.X), float32(v.Y)
		k.force[2*i], k.force[2*i+1] = float32(f.X), float32(f.Y)
	}
}

func (k *CUDAKernel) unpack() {
	for i, cell := range k.CPUKernel.cells {
		cell.Pos.Init(description.RealVector{X: float64(k.pos[2*i]), Y: float64(k.pos[2*i+1])})
		cell.Vel.Init(description.RealVector{X: float64(k.vel[2*i]), Y: float64(k.vel[2*i+1])})
	}
}

func resize(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
