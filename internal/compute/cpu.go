package compute

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"slices"
	"sync"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/connectivity"
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/space"
)

const (
	// bondRestLength is the bond length at which the spring force vanishes.
	bondRestLength = 1.0
	// particleSpeed is the speed added to a radiated particle.
	particleSpeed     = 0.1
	parallelThreshold = 256
)

type CPUKernel struct {
	workers     int
	initialized bool

	metric    *space.Torus
	params    config.SimulationParameters
	constants config.DeviceConstants
	data      description.Data
	rng       *rand.Rand
	nextID    uint64

	cells  []*description.Cell
	slot   map[uint64]int
	forces []description.RealVector
}

func NewCPUKernel() *CPUKernel {
	return &CPUKernel{
		workers: runtime.NumCPU(),
	}
}

func (k *CPUKernel) Name() string    { return "cpu" }
func (k *CPUKernel) Available() bool { return true }

func (k *CPUKernel) Initialize(worldSize description.IntVector, timestep uint64, params config.SimulationParameters, constants config.DeviceConstants) error {
	if worldSize.X <= 0 || worldSize.Y <= 0 {
		return fmt.Errorf("compute: invalid world size %dx%d", worldSize.X, worldSize.Y)
	}
	k.metric = space.NewTorus(worldSize)
	k.params = params
	k.constants = constants
	k.data = description.Data{}
	k.rng = rand.New(rand.NewSource(int64(timestep) + 1))
	k.nextID = 1
	k.slot = make(map[uint64]int)
	k.initialized = true
	return nil
}

func (k *CPUKernel) ComputeOneTimestep() error {
	if !k.initialized {
		return ErrNotInitialized
	}
	k.gather()
	k.applyForces()
	k.integrateCells()
	k.integrateParticles()
	k.radiate()
	return k.breakBonds()
}

func (k *CPUKernel) ReadSnapshot(upperLeft, lowerRight description.IntVector) (description.Data, error) {
	if !k.initialized {
		return description.Data{}, ErrNotInitialized
	}
	inside := func(p description.RealVector) bool {
		return p.X >= float64(upperLeft.X) && p.X < float64(lowerRight.X) &&
			p.Y >= float64(upperLeft.Y) && p.Y < float64(lowerRight.Y)
	}

	var out description.Data
	for _, cluster := range k.data.Clusters {
		hit := slices.ContainsFunc(cluster.Cells, func(c description.Cell) bool {
			return inside(c.Pos.Value())
		})
		if !hit {
			continue
		}
		cells := make([]description.Cell, len(cluster.Cells))
		for i, cell := range cluster.Cells {
			cells[i] = cell.Clone()
		}
		out.AddCluster(cells...)
	}
	for _, p := range k.data.Particles {
		if inside(p.Pos.Value()) {
			out.AddParticles(p)
		}
	}
	return out, nil
}

func (k *CPUKernel) WriteSnapshot(data description.Data) error {
	if !k.initialized {
		return ErrNotInitialized
	}
	if n := data.CellCount(); n > k.constants.MaxCells {
		return fmt.Errorf("%w: %d cells, limit %d", ErrCapacityExceeded, n, k.constants.MaxCells)
	}
	if n := len(data.Particles); n > k.constants.MaxParticles {
		return fmt.Errorf("%w: %d particles, limit %d", ErrCapacityExceeded, n, k.constants.MaxParticles)
	}
	if n := data.TokenCount(); n > k.constants.MaxTokens {
		return fmt.Errorf("%w: %d tokens, limit %d", ErrCapacityExceeded, n, k.constants.MaxTokens)
	}

	data = data.Clone()
	var maxID uint64
	ids := make(map[uint64]struct{}, data.CellCount())
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			ids[cell.ID] = struct{}{}
			maxID = max(maxID, cell.ID)
		}
	}
	for ci := range data.Clusters {
		cells := data.Clusters[ci].Cells
		for j := range cells {
			for _, id := range cells[j].Connections.Value() {
				if _, ok := ids[id]; !ok {
					return fmt.Errorf("compute: cell %d: %w: %d", cells[j].ID, connectivity.ErrDanglingCell, id)
				}
			}
			cells[j].Pos.Init(k.metric.CorrectPosition(cells[j].Pos.Value()))
		}
	}
	for i := range data.Particles {
		p := &data.Particles[i]
		p.Pos.Init(k.metric.CorrectPosition(p.Pos.Value()))
		maxID = max(maxID, p.ID)
	}
	data.ClearModified()

	k.data = data
	k.nextID = maxID + 1
	return nil
}

func (k *CPUKernel) ReadCounters() (Counters, error) {
	if !k.initialized {
		return Counters{}, ErrNotInitialized
	}
	return Counters{
		Cells:          k.data.CellCount(),
		Particles:      len(k.data.Particles),
		Tokens:         k.data.TokenCount(),
		InternalEnergy: k.data.InternalEnergy(),
	}, nil
}

func (k *CPUKernel) SetParameters(params config.SimulationParameters) error {
	if !k.initialized {
		return ErrNotInitialized
	}
	k.params = params
	return nil
}

func (k *CPUKernel) Close() error {
	k.initialized = false
	k.data = description.Data{}
	k.cells = nil
	k.forces = nil
	return nil
}

// gather flattens the cluster layout into per-step scratch slices. The
// pointers stay valid until the cluster layout changes.
func (k *CPUKernel) gather() {
	k.cells = k.cells[:0]
	clear(k.slot)
	for ci := range k.data.Clusters {
		cells := k.data.Clusters[ci].Cells
		for j := range cells {
			k.slot[cells[j].ID] = len(k.cells)
			k.cells = append(k.cells, &cells[j])
		}
	}
	k.forces = slices.Grow(k.forces[:0], len(k.cells))[:len(k.cells)]
}

// applyForces sums bond springs and short range repulsion between unbonded
// cells, capped at the maximum force.
func (k *CPUKernel) applyForces() {
	p := k.params
	ix := connectivity.BuildIndex(&k.data, k.metric)
	size := k.metric.Size()
	reach := int(math.Ceil(p.CellMaxCollisionDistance))
	xs, ys := offsets(reach, size.X), offsets(reach, size.Y)
	stiffness := p.Rigidity * p.CellBindingForce

	parallelFor(len(k.cells), k.workers, func(start, end int) {
		for i := start; i < end; i++ {
			cell := k.cells[i]
			pos := cell.Pos.Value()
			var f description.RealVector

			for _, id := range cell.Connections.Value() {
				j, ok := k.slot[id]
				if !ok {
					continue
				}
				d := k.metric.CorrectDisplacement(k.cells[j].Pos.Value().Sub(pos))
				if l := d.Length(); l > 0 {
					f = f.Add(d.Scale(stiffness * (l - bondRestLength) / l))
				}
			}

			center := k.metric.ToGrid(pos)
			for _, dx := range xs {
				for _, dy := range ys {
					g := k.metric.CorrectGrid(center.Add(description.IntVector{X: dx, Y: dy}))
					for _, id := range ix.Lookup(g) {
						if id == cell.ID || cell.IsBondedTo(id) {
							continue
						}
						d := k.metric.CorrectDisplacement(pos.Sub(k.cells[k.slot[id]].Pos.Value()))
						l := d.Length()
						if l == 0 || l >= p.CellMaxCollisionDistance {
							continue
						}
						f = f.Add(d.Scale(p.CellRepulsionStrength * (p.CellMaxCollisionDistance - l) / (p.CellMaxCollisionDistance * l)))
					}
				}
			}

			if m := f.Length(); p.CellMaxForce > 0 && m > p.CellMaxForce {
				f = f.Scale(p.CellMaxForce / m)
			}
			k.forces[i] = f
		}
	})
}

func (k *CPUKernel) integrateCells() {
	dt := k.params.TimestepSize
	damping := 1 - k.params.Friction
	maxVel := k.params.CellMaxVelocity

	parallelFor(len(k.cells), k.workers, func(start, end int) {
		for i := start; i < end; i++ {
			cell := k.cells[i]
			vel := cell.Vel.Value().Add(k.forces[i]).Scale(damping)
			if v := vel.Length(); v > maxVel {
				vel = vel.Scale(maxVel / v)
			}
			cell.Vel.Init(vel)
			cell.Pos.Init(k.metric.CorrectPosition(cell.Pos.Value().Add(vel.Scale(dt))))
		}
	})
}

func (k *CPUKernel) integrateParticles() {
	dt := k.params.TimestepSize
	for i := range k.data.Particles {
		p := &k.data.Particles[i]
		p.Pos.Init(k.metric.CorrectPosition(p.Pos.Value().Add(p.Vel.Value().Scale(dt))))
	}
}

// radiate lets cells above the minimum energy emit part of it as a particle.
// Total internal energy is unchanged.
func (k *CPUKernel) radiate() {
	p := k.params
	if p.RadiationProbability <= 0 || p.RadiationFactor <= 0 {
		return
	}
	for _, cell := range k.cells {
		if len(k.data.Particles) >= k.constants.MaxParticles {
			return
		}
		energy := cell.Energy.Value()
		if energy <= p.CellMinEnergy || k.rng.Float64() >= p.RadiationProbability {
			continue
		}
		emitted := energy * p.RadiationFactor
		cell.Energy.Init(energy - emitted)

		angle := k.rng.Float64() * 2 * math.Pi
		kick := description.RealVector{X: math.Cos(angle), Y: math.Sin(angle)}.Scale(particleSpeed)
		k.data.AddParticles(description.Particle{
			ID:     k.nextID,
			Pos:    description.Some(cell.Pos.Value()),
			Vel:    description.Some(cell.Vel.Value().Add(kick)),
			Energy: description.Some(emitted),
		})
		k.nextID++
	}
}

// breakBonds drops bonds stretched beyond the maximum binding distance and
// regroups the clusters they held together.
func (k *CPUKernel) breakBonds() error {
	type pair struct{ a, b int }
	var broken []pair

	for i, cell := range k.cells {
		for _, id := range cell.Connections.Value() {
			if id < cell.ID {
				continue
			}
			j, ok := k.slot[id]
			if !ok {
				continue
			}
			if space.Distance(k.metric, cell.Pos.Value(), k.cells[j].Pos.Value()) > k.params.CellMaxBindingDistance {
				broken = append(broken, pair{i, j})
			}
		}
	}
	if len(broken) == 0 {
		return nil
	}

	for _, bp := range broken {
		a, b := k.cells[bp.a], k.cells[bp.b]
		a.Connections.Set(without(a.Connections.Value(), b.ID))
		b.Connections.Set(without(b.Connections.Value(), a.ID))
	}
	if err := connectivity.Partition(&k.data); err != nil {
		return fmt.Errorf("compute: regroup after bond break: %w", err)
	}
	k.data.ClearModified()
	return nil
}

// offsets returns the window offsets -r..r, dropping those that wrap onto
// an earlier one in a world of the given size.
func offsets(r, size int) []int {
	out := make([]int, 0, 2*r+1)
	seen := make(map[int]struct{}, 2*r+1)
	for d := -r; d <= r; d++ {
		m := ((d % size) + size) % size
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, d)
	}
	return out
}

func without(ids []uint64, id uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func parallelFor(n, workers int, fn func(start, end int)) {
	if n < parallelThreshold || workers < 2 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := (n + workers - 1) / workers
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
