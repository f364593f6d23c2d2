package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/export"
	"github.com/san-kum/cellsim/internal/metrics"
	"github.com/san-kum/cellsim/internal/storage"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := storage.New(dataDir).List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRESET\tKERNEL\tTIME\tDURATION\tTIMESTEP\tCELLS\tPARTICLES")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%d\t%d\t%d\n",
					run.ID,
					run.Preset,
					run.Kernel,
					run.Timestamp.Format("2006-01-02 15:04:05"),
					run.Duration,
					run.Timestep,
					run.Cells,
					run.Particles,
				)
			}
			return w.Flush()
		},
	}
}

func newPlotCmd() *cobra.Command {
	var series []string
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot recorded statistics of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := storage.New(dataDir)
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			history, err := st.LoadHistory(args[0])
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("no data to plot")
			}

			fmt.Printf("run: %s\n", meta.ID)
			fmt.Printf("kernel: %s\n", meta.Kernel)
			fmt.Printf("samples: %d\n\n", len(history))

			for _, name := range series {
				data, err := metrics.SeriesOf(history, name)
				if err != nil {
					return err
				}
				graph := asciigraph.Plot(data,
					asciigraph.Height(10),
					asciigraph.Width(80),
					asciigraph.Caption(name+" vs sample"),
				)
				fmt.Println(graph)
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&series, "series", []string{"tps", "cells", "energy"},
		fmt.Sprintf("series to plot %v", metrics.SeriesNames))
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		jsonPath string
		svgPath  string
		scale    float64
	)
	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export the final snapshot of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonPath == "" && svgPath == "" {
				return fmt.Errorf("nothing to do: pass --json or --svg")
			}
			st := storage.New(dataDir)
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			snapshot, err := st.LoadSnapshot(args[0])
			if err != nil {
				return err
			}

			if jsonPath != "" {
				if err := storage.ExportJSON(jsonPath, snapshot); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", jsonPath)
			}
			if svgPath != "" {
				settings := meta.Settings
				if settings == nil {
					settings = config.DefaultSettings()
				}
				svg := export.SnapshotToSVG(snapshot, worldOf(settings), scale)
				if err := os.WriteFile(svgPath, []byte(svg), 0644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", svgPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonPath, "json", "", "write the snapshot as JSON to this path")
	cmd.Flags().StringVar(&svgPath, "svg", "", "write the snapshot as SVG to this path")
	cmd.Flags().Float64Var(&scale, "scale", 4, "svg pixels per world unit")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tWORLD\tMAX CELLS\tBONDS\tBIND DIST\tTPS LIMIT")
			for _, name := range config.ListPresets() {
				p := config.GetPreset(name)
				fmt.Fprintf(w, "%s\t%dx%d\t%d\t%d\t%.2f\t%d\n",
					name,
					p.General.WorldSizeX, p.General.WorldSizeY,
					p.Device.MaxCells,
					p.Parameters.CellMaxBonds,
					p.Parameters.CellMaxBindingDistance,
					p.Runtime.TPSLimit,
				)
			}
			return w.Flush()
		},
	}
}
