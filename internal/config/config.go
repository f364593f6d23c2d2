package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSettings = errors.New("config: invalid settings")

const (
	DefaultWorldSize       = 400
	DefaultTimestepSize    = 1.0
	DefaultMaxBindDistance = 2.6
	DefaultMaxBonds        = 6
	DefaultTPSLimit        = 0
	DefaultMonitorInterval = 250 * time.Millisecond
)

type Settings struct {
	General    GeneralSettings      `yaml:"general"`
	Parameters SimulationParameters `yaml:"simulation_parameters"`
	Device     DeviceConstants      `yaml:"device"`
	Runtime    RuntimeSettings      `yaml:"runtime"`
}

type GeneralSettings struct {
	// Timestep is the counter the worker resumes from.
	Timestep   uint64 `yaml:"timestep"`
	WorldSizeX int    `yaml:"world_size_x"`
	WorldSizeY int    `yaml:"world_size_y"`
}

// SimulationParameters may be changed while the simulation runs.
type SimulationParameters struct {
	TimestepSize             float64 `yaml:"timestep_size"`
	Friction                 float64 `yaml:"friction"`
	Rigidity                 float64 `yaml:"rigidity"`
	CellBindingForce         float64 `yaml:"cell_binding_force"`
	CellMaxVelocity          float64 `yaml:"cell_max_velocity"`
	CellMaxBindingDistance   float64 `yaml:"cell_max_binding_distance"`
	CellRepulsionStrength    float64 `yaml:"cell_repulsion_strength"`
	CellMinDistance          float64 `yaml:"cell_min_distance"`
	CellMaxCollisionDistance float64 `yaml:"cell_max_collision_distance"`
	CellMaxForce             float64 `yaml:"cell_max_force"`
	CellMaxBonds             int     `yaml:"cell_max_bonds"`
	CellMinEnergy            float64 `yaml:"cell_min_energy"`
	RadiationFactor          float64 `yaml:"radiation_factor"`
	RadiationProbability     float64 `yaml:"radiation_probability"`
}

// DeviceConstants size the kernel's buffers. They are fixed at initialization.
type DeviceConstants struct {
	MaxCells        int `yaml:"max_cells"`
	MaxParticles    int `yaml:"max_particles"`
	MaxTokens       int `yaml:"max_tokens"`
	Blocks          int `yaml:"blocks"`
	ThreadsPerBlock int `yaml:"threads_per_block"`
}

type RuntimeSettings struct {
	// TPSLimit caps timesteps per second; 0 disables the cap.
	TPSLimit        int           `yaml:"tps_limit"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

func DefaultParameters() SimulationParameters {
	return SimulationParameters{
		TimestepSize:             DefaultTimestepSize,
		Friction:                 0.001,
		Rigidity:                 0.3,
		CellBindingForce:         1.0,
		CellMaxVelocity:          2.0,
		CellMaxBindingDistance:   DefaultMaxBindDistance,
		CellRepulsionStrength:    0.08,
		CellMinDistance:          0.3,
		CellMaxCollisionDistance: 1.3,
		CellMaxForce:             0.8,
		CellMaxBonds:             DefaultMaxBonds,
		CellMinEnergy:            50,
		RadiationFactor:          0.0002,
		RadiationProbability:     0.03,
	}
}

// Set assigns the parameter whose YAML key is name. Integer parameters
// reject values with a fractional part.
func (p *SimulationParameters) Set(name string, value float64) error {
	if kind, ok := parameterKind(name); ok && kind == reflect.Int && value != math.Trunc(value) {
		return fmt.Errorf("%w: parameter %s: %v is not an integer", ErrInvalidSettings, name, value)
	}
	doc, err := yaml.Marshal(map[string]float64{name: value})
	if err != nil {
		return err
	}
	next := *p
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("%w: parameter %s: %w", ErrInvalidSettings, name, err)
	}
	*p = next
	return nil
}

func parameterKind(name string) (reflect.Kind, bool) {
	t := reflect.TypeFor[SimulationParameters]()
	for i := range t.NumField() {
		f := t.Field(i)
		if key, _, _ := strings.Cut(f.Tag.Get("yaml"), ","); key == name {
			return f.Type.Kind(), true
		}
	}
	return reflect.Invalid, false
}

func DefaultSettings() *Settings {
	return &Settings{
		General: GeneralSettings{
			WorldSizeX: DefaultWorldSize,
			WorldSizeY: DefaultWorldSize,
		},
		Parameters: DefaultParameters(),
		Device: DeviceConstants{
			MaxCells:        500000,
			MaxParticles:    500000,
			MaxTokens:       50000,
			Blocks:          64,
			ThreadsPerBlock: 16,
		},
		Runtime: RuntimeSettings{
			TPSLimit:        DefaultTPSLimit,
			MonitorInterval: DefaultMonitorInterval,
		},
	}
}

// Load reads a YAML settings file. Keys missing from the file keep their
// default values.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidSettings, msg))
		}
	}

	check(s.General.WorldSizeX > 0 && s.General.WorldSizeY > 0, "world size must be positive")
	check(s.Parameters.TimestepSize > 0, "timestep size must be positive")
	check(s.Parameters.CellMaxBindingDistance >= 0, "max binding distance must not be negative")
	check(s.Parameters.CellMaxBonds >= 0, "max bonds must not be negative")
	check(s.Parameters.CellMaxVelocity >= 0, "max velocity must not be negative")
	check(s.Parameters.Friction >= 0 && s.Parameters.Friction <= 1, "friction must be within [0, 1]")
	check(s.Device.MaxCells > 0, "device max cells must be positive")
	check(s.Device.MaxParticles >= 0 && s.Device.MaxTokens >= 0, "device capacities must not be negative")
	check(s.Runtime.TPSLimit >= 0, "tps limit must not be negative")
	check(s.Runtime.MonitorInterval > 0, "monitor interval must be positive")

	return errors.Join(errs...)
}

func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}
