package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/cellsim/internal/scenario"
)

func newBenchCmd() *cobra.Command {
	var (
		populations []int
		duration    time.Duration
		seed        int64
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark the kernel at several population sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings()
			if err != nil {
				return err
			}
			settings.Runtime.TPSLimit = 0

			fmt.Printf("benchmarking %dx%d world\n\n", settings.General.WorldSizeX, settings.General.WorldSizeY)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KERNEL\tCELLS\tSTEPS\tTIME\tSTEPS/SEC")

			for _, n := range populations {
				if n > settings.Device.MaxCells {
					fmt.Fprintf(w, "-\t%d\tskipped: above max_cells %d\t\t\n", n, settings.Device.MaxCells)
					continue
				}

				ctx := cmd.Context()
				worker, kernel, err := startWorker(context.Background(), settings)
				if err != nil {
					return err
				}
				rng := rand.New(rand.NewSource(seed))
				edit := scenario.RandomCells(rng, n, worldOf(settings), 100, 0.5, 1)
				if err := worker.ApplyEdit(ctx, edit); err != nil {
					_ = worker.Shutdown()
					return err
				}

				startStep := worker.CurrentTimestep()
				start := time.Now()
				if err := worker.Run(); err != nil {
					_ = worker.Shutdown()
					return err
				}
				time.Sleep(duration)
				if err := worker.Pause(ctx); err != nil {
					_ = worker.Shutdown()
					return err
				}
				elapsed := time.Since(start)
				steps := worker.CurrentTimestep() - startStep

				if err := worker.Shutdown(); err != nil {
					return err
				}

				fmt.Fprintf(w, "%s\t%d\t%d\t%v\t%.1f\n",
					kernel.Name(),
					n,
					steps,
					elapsed.Round(time.Millisecond),
					float64(steps)/elapsed.Seconds(),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntSliceVar(&populations, "cells", []int{100, 1000, 5000}, "population sizes")
	cmd.Flags().DurationVar(&duration, "time", 2*time.Second, "run time per population")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}
