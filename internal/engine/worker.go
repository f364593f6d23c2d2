package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/san-kum/cellsim/internal/compute"
	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/connectivity"
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/space"
)

type Worker struct {
	kernel          compute.Kernel
	settings        config.Settings
	metric          *space.Torus
	logger          *slog.Logger
	stepHook        func(inStep bool)
	monitorInterval time.Duration
	queueSize       int

	started atomic.Bool
	running atomic.Bool
	state   atomic.Int32

	requests chan *request
	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	paramsMu      sync.Mutex
	pendingParams *config.SimulationParameters

	timestep atomic.Uint64
	tpsLimit atomic.Int64
	tps      atomic.Uint64
	limiter  *rate.Limiter
	stats    monitor

	errMu sync.Mutex
	err   error

	// Owned by the loop goroutine.
	params       config.SimulationParameters
	lastRefresh  time.Time
	measureStart time.Time
	measureSteps uint64
}

func New(kernel compute.Kernel, settings *config.Settings, opts ...Option) *Worker {
	w := &Worker{
		kernel:          kernel,
		settings:        *settings,
		logger:          slog.Default(),
		monitorInterval: settings.Runtime.MonitorInterval,
		queueSize:       DefaultAccessQueueSize,
		wake:            make(chan struct{}, 1),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		params:          settings.Parameters,
		limiter:         rate.NewLimiter(limitFor(settings.Runtime.TPSLimit), 1),
	}
	if w.monitorInterval <= 0 {
		w.monitorInterval = DefaultMonitorInterval
	}
	for _, opt := range opts {
		opt(w)
	}
	w.requests = make(chan *request, w.queueSize)
	w.metric = space.NewTorus(w.worldSize())
	w.tpsLimit.Store(int64(max(settings.Runtime.TPSLimit, 0)))
	w.timestep.Store(settings.General.Timestep)
	return w
}

// Start initializes the kernel and launches the loop. The worker starts
// paused. Cancelling ctx shuts the worker down.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s := w.settings
	if err := w.kernel.Initialize(w.worldSize(), s.General.Timestep, s.Parameters, s.Device); err != nil {
		fatal := w.fatal("initialize kernel", err)
		w.fail(fatal)
		w.state.Store(int32(StateTerminated))
		close(w.done)
		return fatal
	}
	if err := w.refreshStatistics(); err != nil {
		w.fail(err)
		w.state.Store(int32(StateTerminated))
		_ = w.kernel.Close()
		close(w.done)
		return err
	}

	w.logger.Info("Simulation worker started",
		"kernel", w.kernel.Name(),
		"world", fmt.Sprintf("%dx%d", s.General.WorldSizeX, s.General.WorldSizeY),
		"tps_limit", w.TPSLimit())

	go w.loop()
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Shutdown()
		case <-w.done:
		}
	}()
	return nil
}

func (w *Worker) loop() {
	defer close(w.done)
	defer w.finish()

	for {
		select {
		case <-w.quit:
			return
		default:
		}

		if err := w.applyPendingParameters(); err != nil {
			w.fail(err)
			return
		}

		if !w.running.Load() {
			w.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
			w.resetMeasure()
			select {
			case <-w.quit:
				return
			case <-w.wake:
			case req := <-w.requests:
				if err := w.serve(req); err != nil {
					w.fail(err)
					return
				}
			}
			continue
		}

		w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
		if w.measureStart.IsZero() {
			w.measureStart = time.Now()
		}

		proceed, err := w.throttle()
		if err != nil {
			w.fail(err)
			return
		}
		if !proceed {
			continue
		}

		if err := w.step(); err != nil {
			w.fail(err)
			return
		}
		w.measureSteps++

		if err := w.serveQueued(); err != nil {
			w.fail(err)
			return
		}

		now := time.Now()
		w.measure(now)
		if now.Sub(w.lastRefresh) >= w.monitorInterval {
			if err := w.refreshStatistics(); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *Worker) step() error {
	if w.stepHook != nil {
		w.stepHook(true)
	}
	err := w.kernel.ComputeOneTimestep()
	if w.stepHook != nil {
		w.stepHook(false)
	}
	if err != nil {
		return w.fatal("compute timestep", err)
	}
	w.timestep.Add(1)
	return nil
}

func (w *Worker) applyPendingParameters() error {
	w.paramsMu.Lock()
	p := w.pendingParams
	w.pendingParams = nil
	w.paramsMu.Unlock()

	if p == nil {
		return nil
	}
	if err := w.kernel.SetParameters(*p); err != nil {
		return w.fatal("set parameters", err)
	}
	w.params = *p
	w.logger.Debug("Simulation parameters applied", "timestep", w.timestep.Load())
	return nil
}

func (w *Worker) finish() {
	w.running.Store(false)
	w.resetMeasure()
	if err := w.kernel.Close(); err != nil {
		w.logger.Warn("Failed to close kernel", "error", err)
	}
	w.state.Store(int32(StateTerminated))
	w.logger.Info("Simulation worker stopped", "timestep", w.timestep.Load())
}

func (w *Worker) fatal(op string, err error) *FatalError {
	return &FatalError{Op: op, Timestep: w.timestep.Load(), Err: err}
}

func (w *Worker) fail(err error) {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()

	var fatal *FatalError
	if errors.As(err, &fatal) {
		w.logger.Error("Simulation worker failed",
			"op", fatal.Op,
			"timestep", fatal.Timestep,
			"error", fatal.Err)
		return
	}
	w.logger.Error("Simulation worker failed", "error", err)
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) checkAlive() error {
	if !w.started.Load() {
		return ErrNotStarted
	}
	switch w.State() {
	case StateShuttingDown, StateTerminated:
		return w.shutdownErr()
	}
	return nil
}

func (w *Worker) shutdownErr() error {
	if err := w.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return ErrShutdown
}

func (w *Worker) worldSize() description.IntVector {
	return description.IntVector{X: w.settings.General.WorldSizeX, Y: w.settings.General.WorldSizeY}
}

// Run resumes timestep computation. Calling it on a running worker is a
// no-op.
func (w *Worker) Run() error {
	if err := w.checkAlive(); err != nil {
		return err
	}
	if w.running.Swap(true) {
		return nil
	}
	w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
	w.signal()
	w.logger.Info("Simulation running", "timestep", w.timestep.Load())
	return nil
}

// Pause stops timestep computation and returns once the loop has stopped
// advancing. Pausing a paused worker is a no-op.
func (w *Worker) Pause(ctx context.Context) error {
	if err := w.checkAlive(); err != nil {
		return err
	}
	wasRunning := w.running.Swap(false)
	err := w.submit(ctx, func() error {
		w.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		w.resetMeasure()
		return nil
	})
	if err == nil && wasRunning {
		w.logger.Info("Simulation paused", "timestep", w.timestep.Load())
	}
	return err
}

func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// CalcSingleTimestep computes one timestep at the next boundary, typically
// while paused.
func (w *Worker) CalcSingleTimestep(ctx context.Context) error {
	return w.submit(ctx, func() error {
		if err := w.step(); err != nil {
			return err
		}
		return w.refreshStatistics()
	})
}

// RequestSnapshot returns the clusters intersecting the rectangle
// [upperLeft, lowerRight) and the particles inside it.
func (w *Worker) RequestSnapshot(ctx context.Context, upperLeft, lowerRight description.IntVector) (description.Data, error) {
	var data description.Data
	err := w.submit(ctx, func() error {
		var err error
		data, err = w.kernel.ReadSnapshot(upperLeft, lowerRight)
		if err != nil {
			return w.fatal("read snapshot", err)
		}
		return nil
	})
	return data, err
}

// ApplyEdit merges edit into the simulation. Cells with a modified position
// are rebonded and affected clusters regrouped before the loop resumes, so
// no timestep ever sees a partial edit.
//
// An edit that exceeds the device capacity is rejected and leaves the
// simulation unchanged. A bond to an unknown cell is fatal.
func (w *Worker) ApplyEdit(ctx context.Context, edit description.Data) error {
	return w.submit(ctx, func() error {
		base, err := w.kernel.ReadSnapshot(description.IntVector{}, w.worldSize())
		if err != nil {
			return w.fatal("read snapshot", err)
		}

		merged := description.Merge(base, edit)
		cfg := connectivity.Config{
			MaxDistance:           w.params.CellMaxBindingDistance,
			DefaultMaxConnections: w.params.CellMaxBonds,
		}
		if err := connectivity.Reconnect(&merged, w.metric, cfg); err != nil {
			return w.fatal("reconnect", err)
		}
		merged.ClearModified()

		if err := w.kernel.WriteSnapshot(merged); err != nil {
			if errors.Is(err, compute.ErrCapacityExceeded) {
				return err
			}
			return w.fatal("write snapshot", err)
		}
		return w.refreshStatistics()
	})
}

// Clear removes every cell and particle.
func (w *Worker) Clear(ctx context.Context) error {
	return w.submit(ctx, func() error {
		if err := w.kernel.WriteSnapshot(description.Data{}); err != nil {
			return w.fatal("clear", err)
		}
		return w.refreshStatistics()
	})
}

// SetParameters schedules p for the next boundary between timesteps. A
// newer call replaces an update that has not been applied yet.
func (w *Worker) SetParameters(p config.SimulationParameters) error {
	if err := w.checkAlive(); err != nil {
		return err
	}
	w.paramsMu.Lock()
	w.pendingParams = &p
	w.paramsMu.Unlock()
	w.signal()
	return nil
}

func (w *Worker) CurrentTimestep() uint64 {
	return w.timestep.Load()
}

func (w *Worker) SetCurrentTimestep(t uint64) {
	w.timestep.Store(t)
}

// Shutdown stops the loop after the timestep in flight, closes the kernel
// and returns the error that terminated the worker, if any.
func (w *Worker) Shutdown() error {
	if !w.started.Load() {
		w.state.Store(int32(StateTerminated))
		return nil
	}
	w.quitOnce.Do(func() {
		for {
			cur := w.state.Load()
			if State(cur) == StateTerminated || w.state.CompareAndSwap(cur, int32(StateShuttingDown)) {
				break
			}
		}
		close(w.quit)
	})
	<-w.done
	return w.Err()
}

// Wait blocks until the loop has terminated.
func (w *Worker) Wait() error {
	if !w.started.Load() {
		return ErrNotStarted
	}
	<-w.done
	return w.Err()
}

// Done is closed when the loop has terminated.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}
