package metrics

import (
	"time"

	"github.com/san-kum/cellsim/internal/engine"
)

// Metric folds a stream of samples into a single figure.
type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Sample is one observation of a running worker.
type Sample struct {
	Time           time.Time `json:"time"`
	Timestep       uint64    `json:"timestep"`
	Running        bool      `json:"running"`
	TPS            float64   `json:"tps"`
	Cells          int       `json:"cells"`
	Particles      int       `json:"particles"`
	Tokens         int       `json:"tokens"`
	InternalEnergy float64   `json:"internal_energy"`
}

func FromStatistics(s engine.Statistics, now time.Time) Sample {
	return Sample{
		Time:           now,
		Timestep:       s.Timestep,
		Running:        s.State == engine.StateRunning,
		TPS:            s.TPS,
		Cells:          s.Cells,
		Particles:      s.Particles,
		Tokens:         s.Tokens,
		InternalEnergy: s.InternalEnergy,
	}
}

// DefaultMetrics returns a fresh set of the metrics recorded for every run.
func DefaultMetrics() []Metric {
	return []Metric{
		NewEnergyDrift(),
		NewThroughput(),
		NewPeakPopulation(),
	}
}
