package description

import "math"

type RealVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v RealVector) Add(o RealVector) RealVector { return RealVector{X: v.X + o.X, Y: v.Y + o.Y} }
func (v RealVector) Sub(o RealVector) RealVector { return RealVector{X: v.X - o.X, Y: v.Y - o.Y} }
func (v RealVector) Scale(f float64) RealVector  { return RealVector{X: v.X * f, Y: v.Y * f} }

func (v RealVector) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

// IntVector is a discretized position or a world size.
type IntVector struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (v IntVector) Add(o IntVector) IntVector { return IntVector{X: v.X + o.X, Y: v.Y + o.Y} }

func (v IntVector) ToReal() RealVector {
	return RealVector{X: float64(v.X), Y: float64(v.Y)}
}
