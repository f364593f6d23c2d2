package config

import "sort"

var Presets = map[string]*Settings{
	"default": DefaultSettings(),
	"small": func() *Settings {
		s := DefaultSettings()
		s.General.WorldSizeX, s.General.WorldSizeY = 64, 64
		s.Device.MaxCells, s.Device.MaxParticles = 10000, 10000
		return s
	}(),
	"dense": func() *Settings {
		s := DefaultSettings()
		s.General.WorldSizeX, s.General.WorldSizeY = 128, 128
		s.Parameters.CellMaxBindingDistance = 3.5
		s.Parameters.CellMaxBonds = 8
		s.Parameters.Friction = 0.01
		return s
	}(),
	"brittle": func() *Settings {
		s := DefaultSettings()
		s.Parameters.CellMaxBindingDistance = 1.5
		s.Parameters.CellMaxBonds = 3
		s.Parameters.Rigidity = 0.05
		s.Parameters.CellBindingForce = 0.4
		return s
	}(),
	"throttled": func() *Settings {
		s := DefaultSettings()
		s.General.WorldSizeX, s.General.WorldSizeY = 64, 64
		s.Runtime.TPSLimit = 30
		return s
	}(),
}

// GetPreset returns a copy of the named preset, or nil if it does not exist.
func GetPreset(name string) *Settings {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return p.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
