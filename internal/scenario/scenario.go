package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
)

var ErrInvalidScenario = errors.New("scenario: invalid scenario")

const (
	ActionSeed    = "seed"
	ActionLattice = "lattice"
	ActionStep    = "step"
	ActionRun     = "run"
	ActionParams  = "params"
	ActionTPS     = "tps"
	ActionClear   = "clear"
)

// Scenario is a scripted sequence of worker operations.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Preset      string `yaml:"preset"`
	Seed        int64  `yaml:"seed"`
	Steps       []Step `yaml:"steps"`
}

// Step is one operation. Action selects which fields apply.
type Step struct {
	Action string `yaml:"action"`

	// seed
	Cells    int     `yaml:"cells"`
	Energy   float64 `yaml:"energy"`
	MaxSpeed float64 `yaml:"max_speed"`

	// lattice
	Rows    int                    `yaml:"rows"`
	Cols    int                    `yaml:"cols"`
	Spacing float64                `yaml:"spacing"`
	Origin  description.RealVector `yaml:"origin"`

	// step
	Timesteps uint64 `yaml:"timesteps"`

	// run
	Duration time.Duration `yaml:"duration"`

	// params
	Params map[string]float64 `yaml:"params"`

	// tps
	TPS int `yaml:"tps"`
}

// Result describes the simulation after a step.
type Result struct {
	Step           int
	Action         string
	Timestep       uint64
	Cells          int
	Particles      int
	Clusters       int
	InternalEnergy float64
}

// Worker is the part of the simulation worker a scenario drives.
type Worker interface {
	Statistics() engine.Statistics
	Run() error
	Pause(ctx context.Context) error
	CalcSingleTimestep(ctx context.Context) error
	RequestSnapshot(ctx context.Context, upperLeft, lowerRight description.IntVector) (description.Data, error)
	ApplyEdit(ctx context.Context, edit description.Data) error
	Clear(ctx context.Context) error
	SetParameters(p config.SimulationParameters) error
	SetTPSLimit(tps int)
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	var errs []error
	for i, step := range s.Steps {
		fail := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("%w: step %d (%s): %s", ErrInvalidScenario, i+1, step.Action, fmt.Sprintf(format, args...)))
		}
		switch step.Action {
		case ActionSeed:
			if step.Cells <= 0 {
				fail("cells must be positive")
			}
		case ActionLattice:
			if step.Rows <= 0 || step.Cols <= 0 {
				fail("rows and cols must be positive")
			}
		case ActionStep:
			if step.Timesteps == 0 {
				fail("timesteps must be positive")
			}
		case ActionRun:
			if step.Duration <= 0 {
				fail("duration must be positive")
			}
		case ActionParams:
			p := config.DefaultParameters()
			for name, v := range step.Params {
				if err := p.Set(name, v); err != nil {
					fail("%v", err)
				}
			}
		case ActionTPS:
			if step.TPS < 0 {
				fail("tps must not be negative")
			}
		case ActionClear:
		default:
			fail("unknown action")
		}
	}
	return errors.Join(errs...)
}

// Runner plays scenarios against a worker. The worker must be started and
// paused; it is left paused.
type Runner struct {
	worker Worker
	world  description.IntVector
	params config.SimulationParameters
	logger *slog.Logger
}

func NewRunner(w Worker, settings *config.Settings, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		worker: w,
		world:  description.IntVector{X: settings.General.WorldSizeX, Y: settings.General.WorldSizeY},
		params: settings.Parameters,
		logger: logger,
	}
}

func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]Result, error) {
	rng := rand.New(rand.NewSource(sc.Seed))
	results := make([]Result, 0, len(sc.Steps))

	for i, step := range sc.Steps {
		r.logger.Info("Running scenario step", "scenario", sc.Name, "step", i+1, "of", len(sc.Steps), "action", step.Action)

		if err := r.apply(ctx, rng, step); err != nil {
			return results, fmt.Errorf("scenario: step %d (%s): %w", i+1, step.Action, err)
		}
		res, err := r.observe(ctx)
		if err != nil {
			return results, fmt.Errorf("scenario: step %d (%s): %w", i+1, step.Action, err)
		}
		res.Step, res.Action = i+1, step.Action
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) apply(ctx context.Context, rng *rand.Rand, step Step) error {
	switch step.Action {
	case ActionSeed:
		next, err := r.nextID(ctx)
		if err != nil {
			return err
		}
		return r.worker.ApplyEdit(ctx, RandomCells(rng, step.Cells, r.world, step.Energy, step.MaxSpeed, next))
	case ActionLattice:
		next, err := r.nextID(ctx)
		if err != nil {
			return err
		}
		spacing := step.Spacing
		if spacing <= 0 {
			spacing = 1
		}
		return r.worker.ApplyEdit(ctx, Lattice(step.Rows, step.Cols, spacing, step.Origin, step.Energy, next))
	case ActionStep:
		for range step.Timesteps {
			if err := r.worker.CalcSingleTimestep(ctx); err != nil {
				return err
			}
		}
		return nil
	case ActionRun:
		if err := r.worker.Run(); err != nil {
			return err
		}
		timer := time.NewTimer(step.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		return r.worker.Pause(ctx)
	case ActionParams:
		p := r.params
		for name, v := range step.Params {
			if err := p.Set(name, v); err != nil {
				return err
			}
		}
		if err := r.worker.SetParameters(p); err != nil {
			return err
		}
		r.params = p
		return nil
	case ActionTPS:
		r.worker.SetTPSLimit(step.TPS)
		return nil
	case ActionClear:
		return r.worker.Clear(ctx)
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidScenario, step.Action)
}

func (r *Runner) nextID(ctx context.Context) (uint64, error) {
	data, err := r.worker.RequestSnapshot(ctx, description.IntVector{}, r.world)
	if err != nil {
		return 0, err
	}
	return NextID(data), nil
}

func (r *Runner) observe(ctx context.Context) (Result, error) {
	data, err := r.worker.RequestSnapshot(ctx, description.IntVector{}, r.world)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Timestep:       r.worker.Statistics().Timestep,
		Cells:          data.CellCount(),
		Particles:      len(data.Particles),
		Clusters:       len(data.Clusters),
		InternalEnergy: data.InternalEnergy(),
	}, nil
}
