package scenario

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/san-kum/cellsim/internal/description"
)

// Sweep replays the same seeded population once per parameter value.
type Sweep struct {
	Parameter string
	Min       float64
	Max       float64
	NumSteps  int
	Timesteps uint64
	Cells     int
	Energy    float64
	MaxSpeed  float64
	Seed      int64
}

type SweepResult struct {
	Value          float64
	Cells          int
	Particles      int
	Clusters       int
	LargestCluster int
	InternalEnergy float64
}

// Values lists the parameter values visited by the sweep.
func (s *Sweep) Values() []float64 {
	if s.NumSteps <= 1 {
		return []float64{s.Min}
	}
	step := (s.Max - s.Min) / float64(s.NumSteps-1)
	out := make([]float64, s.NumSteps)
	for i := range out {
		out[i] = s.Min + float64(i)*step
	}
	return out
}

func (r *Runner) RunSweep(ctx context.Context, sweep *Sweep) ([]SweepResult, error) {
	if sweep.Cells <= 0 || sweep.Timesteps == 0 {
		return nil, fmt.Errorf("%w: sweep needs cells and timesteps", ErrInvalidScenario)
	}
	probe := r.params
	if err := probe.Set(sweep.Parameter, sweep.Min); err != nil {
		return nil, err
	}
	defer func() { _ = r.worker.SetParameters(r.params) }()

	results := make([]SweepResult, 0, sweep.NumSteps)
	for i, v := range sweep.Values() {
		p := r.params
		if err := p.Set(sweep.Parameter, v); err != nil {
			return results, err
		}
		if err := r.worker.Clear(ctx); err != nil {
			return results, err
		}
		if err := r.worker.SetParameters(p); err != nil {
			return results, err
		}

		rng := rand.New(rand.NewSource(sweep.Seed))
		seed := RandomCells(rng, sweep.Cells, r.world, sweep.Energy, sweep.MaxSpeed, 1)
		if err := r.worker.ApplyEdit(ctx, seed); err != nil {
			return results, err
		}
		for range sweep.Timesteps {
			if err := r.worker.CalcSingleTimestep(ctx); err != nil {
				return results, err
			}
		}

		data, err := r.worker.RequestSnapshot(ctx, description.IntVector{}, r.world)
		if err != nil {
			return results, err
		}
		res := SweepResult{
			Value:          v,
			Cells:          data.CellCount(),
			Particles:      len(data.Particles),
			Clusters:       len(data.Clusters),
			InternalEnergy: data.InternalEnergy(),
		}
		for _, c := range data.Clusters {
			res.LargestCluster = max(res.LargestCluster, len(c.Cells))
		}
		results = append(results, res)

		r.logger.Info("Sweep point done", "point", i+1, "of", sweep.NumSteps, sweep.Parameter, v, "clusters", res.Clusters)
	}
	return results, nil
}
