package metrics

import "math"

// EnergyDrift is the largest relative deviation of the internal energy from
// the first observed value. Edits change the energy on purpose, so a
// recorder is usually reset after one.
type EnergyDrift struct {
	name     string
	initial  float64
	maxDrift float64
	samples  int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{name: "energy_drift"}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(s Sample) {
	if e.samples == 0 {
		e.initial = s.InternalEnergy
	}
	e.samples++

	if e.initial != 0 {
		drift := math.Abs(s.InternalEnergy-e.initial) / math.Abs(e.initial)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

func (e *EnergyDrift) Reset() {
	e.initial = 0
	e.maxDrift = 0
	e.samples = 0
}
