package engine

import (
	"log/slog"
	"time"
)

const (
	DefaultMonitorInterval = 250 * time.Millisecond
	DefaultAccessQueueSize = 64
)

type Option func(*Worker)

// WithStepHook installs a function called with true right before the
// kernel computes a timestep and with false right after.
func WithStepHook(hook func(inStep bool)) Option {
	return func(w *Worker) { w.stepHook = hook }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMonitorInterval sets how often the statistics are refreshed while
// running. It overrides the interval from the settings.
func WithMonitorInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.monitorInterval = d
		}
	}
}

func WithAccessQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}
