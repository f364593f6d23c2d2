package scenario

import (
	"math"
	"math/rand"

	"github.com/san-kum/cellsim/internal/description"
)

// RandomCells scatters n unbonded cells uniformly over the world. Every field
// is flagged modified so the cells get bonded when the edit is applied.
func RandomCells(rng *rand.Rand, n int, world description.IntVector, energy, maxSpeed float64, firstID uint64) description.Data {
	var d description.Data
	for i := range n {
		angle := rng.Float64() * 2 * math.Pi
		speed := rng.Float64() * maxSpeed
		d.AddCluster(description.Cell{
			ID: firstID + uint64(i),
			Pos: description.Changed(description.RealVector{
				X: rng.Float64() * float64(world.X),
				Y: rng.Float64() * float64(world.Y),
			}),
			Vel:    description.Changed(description.RealVector{X: math.Cos(angle), Y: math.Sin(angle)}.Scale(speed)),
			Energy: description.Changed(energy),
		})
	}
	return d
}

// Lattice places rows x cols cells spacing apart, starting at origin.
func Lattice(rows, cols int, spacing float64, origin description.RealVector, energy float64, firstID uint64) description.Data {
	cells := make([]description.Cell, 0, rows*cols)
	for r := range rows {
		for c := range cols {
			cells = append(cells, description.Cell{
				ID:     firstID + uint64(len(cells)),
				Pos:    description.Changed(origin.Add(description.RealVector{X: float64(c) * spacing, Y: float64(r) * spacing})),
				Vel:    description.Changed(description.RealVector{}),
				Energy: description.Changed(energy),
			})
		}
	}
	var d description.Data
	if len(cells) > 0 {
		d.AddCluster(cells...)
	}
	return d
}

// NextID returns an ID above every cell and particle in data.
func NextID(data description.Data) uint64 {
	var id uint64
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			id = max(id, cell.ID)
		}
	}
	for _, p := range data.Particles {
		id = max(id, p.ID)
	}
	return id + 1
}
