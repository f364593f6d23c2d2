package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/cellsim/internal/scenario"
)

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [file]",
		Short: "play a scripted scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			if sc.Preset != "" && preset == "" && configFile == "" {
				preset = sc.Preset
			}

			return withRunner(cmd, func(ctx context.Context, r *scenario.Runner) error {
				results, err := r.Run(ctx, sc)

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STEP\tACTION\tTIMESTEP\tCELLS\tPARTICLES\tCLUSTERS\tENERGY")
				for _, res := range results {
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%.3f\n",
						res.Step, res.Action, res.Timestep, res.Cells, res.Particles, res.Clusters, res.InternalEnergy)
				}
				if ferr := w.Flush(); ferr != nil && err == nil {
					err = ferr
				}
				return err
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	var sweep scenario.Sweep
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "sweep one simulation parameter over a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, r *scenario.Runner) error {
				results, err := r.RunSweep(ctx, &sweep)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "%s\tCELLS\tPARTICLES\tCLUSTERS\tLARGEST\tENERGY\n", sweep.Parameter)
				clusters := make([]float64, len(results))
				for i, res := range results {
					fmt.Fprintf(w, "%.4f\t%d\t%d\t%d\t%d\t%.3f\n",
						res.Value, res.Cells, res.Particles, res.Clusters, res.LargestCluster, res.InternalEnergy)
					clusters[i] = float64(res.Clusters)
				}
				if err := w.Flush(); err != nil {
					return err
				}

				if len(clusters) > 1 {
					fmt.Println()
					fmt.Println(asciigraph.Plot(clusters,
						asciigraph.Height(10),
						asciigraph.Width(60),
						asciigraph.Caption("clusters vs "+sweep.Parameter),
					))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sweep.Parameter, "param", "cell_max_binding_distance", "parameter to sweep (yaml key)")
	cmd.Flags().Float64Var(&sweep.Min, "min", 1.0, "first value")
	cmd.Flags().Float64Var(&sweep.Max, "max", 3.0, "last value")
	cmd.Flags().IntVar(&sweep.NumSteps, "steps", 5, "number of values")
	cmd.Flags().Uint64Var(&sweep.Timesteps, "timesteps", 100, "timesteps per value")
	cmd.Flags().IntVar(&sweep.Cells, "cells", 300, "random cells per value")
	cmd.Flags().Float64Var(&sweep.Energy, "energy", 100, "energy per cell")
	cmd.Flags().Float64Var(&sweep.MaxSpeed, "max-speed", 0.5, "max initial cell speed")
	cmd.Flags().Int64Var(&sweep.Seed, "seed", 42, "random seed")
	return cmd
}

func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *scenario.Runner) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, _, err := loadSettings()
	if err != nil {
		return err
	}
	w, _, err := startWorker(ctx, settings)
	if err != nil {
		return err
	}
	defer w.Shutdown()

	return fn(ctx, scenario.NewRunner(w, settings, nil))
}
