// Package space implements the boundary metric of the simulated world.
package space

import (
	"math"

	"github.com/san-kum/cellsim/internal/description"
)

// Metric corrects positions and displacements for the world topology.
// Connectivity code never assumes a flat unbounded plane; it goes through
// a Metric for every distance and grid lookup.
type Metric interface {
	CorrectPosition(p description.RealVector) description.RealVector
	CorrectDisplacement(d description.RealVector) description.RealVector
	// ToGrid corrects p and converts it to the integer grid cell holding it.
	ToGrid(p description.RealVector) description.IntVector
	CorrectGrid(g description.IntVector) description.IntVector
}

// Torus is a rectangular world whose opposite edges are glued together.
type Torus struct {
	size description.IntVector
}

func NewTorus(size description.IntVector) *Torus {
	if size.X < 1 {
		size.X = 1
	}
	if size.Y < 1 {
		size.Y = 1
	}
	return &Torus{size: size}
}

func (t *Torus) Size() description.IntVector { return t.size }

func (t *Torus) CorrectPosition(p description.RealVector) description.RealVector {
	return description.RealVector{
		X: wrap(p.X, float64(t.size.X)),
		Y: wrap(p.Y, float64(t.size.Y)),
	}
}

// CorrectDisplacement maps d to the shortest equivalent displacement, each
// component within [-size/2, size/2).
func (t *Torus) CorrectDisplacement(d description.RealVector) description.RealVector {
	return description.RealVector{
		X: shortest(d.X, float64(t.size.X)),
		Y: shortest(d.Y, float64(t.size.Y)),
	}
}

func (t *Torus) ToGrid(p description.RealVector) description.IntVector {
	p = t.CorrectPosition(p)
	return t.CorrectGrid(description.IntVector{
		X: int(math.Floor(p.X)),
		Y: int(math.Floor(p.Y)),
	})
}

func (t *Torus) CorrectGrid(g description.IntVector) description.IntVector {
	return description.IntVector{
		X: ((g.X % t.size.X) + t.size.X) % t.size.X,
		Y: ((g.Y % t.size.Y) + t.size.Y) % t.size.Y,
	}
}

// Distance is the corrected Euclidean distance between two positions.
func Distance(m Metric, a, b description.RealVector) float64 {
	return m.CorrectDisplacement(b.Sub(a)).Length()
}

func wrap(v, size float64) float64 {
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	// math.Mod of a tiny negative value can round up to size.
	if v >= size {
		v = 0
	}
	return v
}

func shortest(v, size float64) float64 {
	v = math.Mod(v, size)
	half := size / 2
	if v >= half {
		v -= size
	} else if v < -half {
		v += size
	}
	return v
}
