package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/cellsim/internal/compute"
	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
	"github.com/san-kum/cellsim/internal/scenario"
	"github.com/san-kum/cellsim/internal/storage"
)

type seedOptions struct {
	cells    int
	energy   float64
	maxSpeed float64
	seed     int64
	load     string
}

func (o *seedOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.cells, "cells", 500, "number of random cells to seed")
	cmd.Flags().Float64Var(&o.energy, "energy", 100, "energy per seeded cell")
	cmd.Flags().Float64Var(&o.maxSpeed, "max-speed", 0.5, "max initial cell speed")
	cmd.Flags().Int64Var(&o.seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().StringVar(&o.load, "load", "", "seed from a JSON snapshot instead of random cells")
}

// loadSettings resolves the settings file, then the preset, then defaults.
func loadSettings() (*config.Settings, string, error) {
	switch {
	case configFile != "":
		if preset != "" {
			slog.Warn("Settings file overrides preset", "config", configFile, "preset", preset)
		}
		s, err := config.Load(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return s, "", nil
	case preset != "":
		s := config.GetPreset(preset)
		if s == nil {
			return nil, "", fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		return s, preset, nil
	default:
		return config.DefaultSettings(), "default", nil
	}
}

func startWorker(ctx context.Context, settings *config.Settings) (*engine.Worker, compute.Kernel, error) {
	kernel, err := compute.NewKernel(kernelName)
	if err != nil {
		return nil, nil, err
	}
	w := engine.New(kernel, settings, engine.WithLogger(slog.Default()))
	if err := w.Start(ctx); err != nil {
		return nil, nil, err
	}
	return w, kernel, nil
}

func worldOf(s *config.Settings) description.IntVector {
	return description.IntVector{X: s.General.WorldSizeX, Y: s.General.WorldSizeY}
}

func seedWorker(ctx context.Context, w *engine.Worker, settings *config.Settings, o seedOptions) error {
	var (
		edit description.Data
		err  error
	)
	switch {
	case o.load != "":
		edit, err = storage.ImportEdit(o.load)
		if err != nil {
			return err
		}
	case o.cells > 0:
		rng := rand.New(rand.NewSource(o.seed))
		edit = scenario.RandomCells(rng, o.cells, worldOf(settings), o.energy, o.maxSpeed, 1)
	default:
		return nil
	}

	if err := w.ApplyEdit(ctx, edit); err != nil {
		return fmt.Errorf("seed simulation: %w", err)
	}
	slog.Info("Simulation seeded", "cells", edit.CellCount(), "particles", len(edit.Particles))
	return nil
}

// watchSettings applies live edits of the settings file until ctx is done.
// World size and device constants are fixed once the worker started.
func watchSettings(ctx context.Context, w *engine.Worker) error {
	if configFile == "" {
		<-ctx.Done()
		return nil
	}
	return config.Watch(ctx, configFile, func(s *config.Settings) {
		if err := w.SetParameters(s.Parameters); err != nil {
			slog.Warn("Failed to apply reloaded parameters", "error", err)
			return
		}
		w.SetTPSLimit(s.Runtime.TPSLimit)
	})
}
