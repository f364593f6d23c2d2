package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
	"github.com/san-kum/cellsim/internal/export"
	"github.com/san-kum/cellsim/internal/metrics"
	"github.com/san-kum/cellsim/internal/storage"
)

type runOptions struct {
	seed       seedOptions
	duration   time.Duration
	timesteps  uint64
	tps        int
	exportJSON string
	exportSVG  string
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation and record it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, o)
		},
	}
	o.seed.register(cmd)
	cmd.Flags().DurationVar(&o.duration, "time", 10*time.Second, "wall clock duration")
	cmd.Flags().Uint64Var(&o.timesteps, "timesteps", 0, "compute exactly this many timesteps instead of running for --time")
	cmd.Flags().IntVar(&o.tps, "tps", 0, "timesteps per second cap, 0 for unlimited")
	cmd.Flags().StringVar(&o.exportJSON, "export-json", "", "write the final snapshot as JSON")
	cmd.Flags().StringVar(&o.exportSVG, "export-svg", "", "write the final snapshot as SVG")
	return cmd
}

func runSimulation(cmd *cobra.Command, o runOptions) error {
	settings, presetName, err := loadSettings()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("tps") {
		settings.Runtime.TPSLimit = o.tps
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The worker outlives an interrupt so the partial run can still be saved.
	w, kernel, err := startWorker(context.Background(), settings)
	if err != nil {
		return err
	}
	defer w.Shutdown()

	if err := seedWorker(ctx, w, settings, o.seed); err != nil {
		return err
	}

	recorder := metrics.NewRecorder(w, settings.Runtime.MonitorInterval, 0, metrics.DefaultMetrics()...)

	fmt.Printf("running on %s kernel...\n", kernel.Name())
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	g.Go(func() error { return recorder.Run(runCtx) })
	g.Go(func() error { return watchSettings(runCtx, w) })
	g.Go(func() error {
		defer cancelRun()
		return drive(runCtx, w, o)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	recorder.Record()

	snapshot, err := w.RequestSnapshot(context.Background(), description.IntVector{}, worldOf(settings))
	if err != nil {
		return err
	}

	meta := storage.RunMetadata{
		Preset:   presetName,
		Kernel:   kernel.Name(),
		Seed:     o.seed.seed,
		Timestep: w.CurrentTimestep(),
		Duration: elapsed.Seconds(),
		Settings: settings,
		Metrics:  recorder.Values(),
	}
	runID, err := st.Save(meta, snapshot, recorder.Samples())
	if err != nil {
		return err
	}

	if o.exportJSON != "" {
		if err := storage.ExportJSON(o.exportJSON, snapshot); err != nil {
			return err
		}
	}
	if o.exportSVG != "" {
		svg := export.SnapshotToSVG(snapshot, worldOf(settings), 4)
		if err := os.WriteFile(o.exportSVG, []byte(svg), 0644); err != nil {
			return err
		}
	}

	fmt.Printf("completed in %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("timesteps: %d\n", meta.Timestep)
	fmt.Printf("cells: %d  particles: %d  clusters: %d\n", snapshot.CellCount(), len(snapshot.Particles), len(snapshot.Clusters))
	fmt.Println("\nmetrics:")
	names := make([]string, 0, len(meta.Metrics))
	for name := range meta.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, meta.Metrics[name])
	}
	return nil
}

// drive advances the simulation until the run is complete or ctx is done.
// An interrupt ends the run early without failing it.
func drive(ctx context.Context, w *engine.Worker, o runOptions) error {
	if o.timesteps > 0 {
		for range o.timesteps {
			if err := w.CalcSingleTimestep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
		return nil
	}

	if err := w.Run(); err != nil {
		return err
	}
	timer := time.NewTimer(o.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.Done():
		return w.Err()
	}
	return w.Pause(context.Background())
}
