package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cellsim/internal/engine"
	"github.com/san-kum/cellsim/internal/metrics"
	"github.com/san-kum/cellsim/internal/transport/ws"
	"github.com/san-kum/cellsim/internal/tui"
)

func newServeCmd() *cobra.Command {
	var (
		seed   seedOptions
		addr   string
		paused bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a simulation and expose it over http",
		Long:  "serve runs a simulation until interrupted. /metrics serves Prometheus metrics, /stats the current statistics and /ws a websocket stream.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := seedWorker(ctx, w, settings, seed); err != nil {
				return err
			}
			if !paused {
				if err := w.Run(); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return watchSettings(gctx, w) })
			g.Go(func() error { return serveHTTP(gctx, addr, w, settings.Runtime.MonitorInterval) })
			g.Go(func() error { return waitWorker(gctx, w) })
			return g.Wait()
		},
	}
	seed.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&paused, "paused", false, "start paused")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	var (
		seed seedOptions
		addr string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "run a simulation in the terminal monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings, name, err := loadSettings()
			if err != nil {
				return err
			}
			w, kernel, err := startWorker(ctx, settings)
			if err != nil {
				return err
			}
			defer w.Shutdown()

			if err := seedWorker(ctx, w, settings, seed); err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			uiCtx, cancelUI := context.WithCancel(gctx)
			g.Go(func() error { return watchSettings(uiCtx, w) })
			if addr != "" {
				g.Go(func() error { return serveHTTP(uiCtx, addr, w, settings.Runtime.MonitorInterval) })
			}
			g.Go(func() error {
				defer cancelUI()
				title := fmt.Sprintf("cellsim %s/%s", name, kernel.Name())
				return tui.Run(uiCtx, w, worldOf(settings), title)
			})
			return g.Wait()
		},
	}
	seed.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "also serve metrics and the websocket stream on this address")
	return cmd
}

func serveHTTP(ctx context.Context, addr string, w *engine.Worker, interval time.Duration) error {
	recorder := metrics.NewRecorder(w, interval, 0, metrics.DefaultMetrics()...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(w, recorder),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observer := ws.NewServer(w, slog.Default())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", observer.StatsHandler())
	mux.HandleFunc("/ws", observer.WSHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error {
		slog.Info("Serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// waitWorker returns the error that terminated the worker, or nil once ctx
// is done.
func waitWorker(ctx context.Context, w *engine.Worker) error {
	select {
	case <-ctx.Done():
		return nil
	case <-w.Done():
		if ctx.Err() != nil {
			return nil
		}
		if err := w.Err(); err != nil {
			return err
		}
		return errors.New("simulation worker stopped")
	}
}
