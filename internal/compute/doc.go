// Package compute provides the simulation kernels that own and advance the
// authoritative simulation state.
//
// Two kernels are available:
//
//   - CUDA: cell motion integrated on the GPU (build tag cuda)
//   - CPU: reference kernel, always available
//
// # Kernel
//
// A [Kernel] is driven by exactly one goroutine. It is initialized once
// with the world size, the simulation parameters and the device constants,
// then advanced one timestep at a time:
//
//	k := compute.AutoSelectKernel()
//	if err := k.Initialize(size, 0, params, constants); err != nil {
//		return err
//	}
//	err := k.ComputeOneTimestep()
//
// Snapshots are read and written whole; the kernel never merges edits.
// Writes that exceed the device constants fail with [ErrCapacityExceeded].
//
// The CPU kernel moves cells by bond springs and short range repulsion,
// applies friction and the velocity cap, and wraps positions on a torus.
// Bonds stretched past the maximum binding distance break and the affected
// clusters are regrouped in the same step.
//
// Build with CUDA support:
//
//	go build -tags cuda ./...
package compute
