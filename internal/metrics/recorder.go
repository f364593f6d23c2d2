package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/cellsim/internal/engine"
)

const (
	DefaultInterval = 250 * time.Millisecond
	DefaultCapacity = 4096
)

var ErrUnknownSeries = errors.New("metrics: unknown series")

// SeriesNames lists the names accepted by Recorder.Series.
var SeriesNames = []string{"timestep", "tps", "cells", "particles", "tokens", "energy"}

// Source is anything that reports worker statistics without blocking.
type Source interface {
	Statistics() engine.Statistics
}

// Recorder samples a Source at a fixed interval and keeps the most recent
// samples. It is safe for concurrent use.
type Recorder struct {
	source   Source
	interval time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	samples []Sample
	metrics []Metric
}

func NewRecorder(source Source, interval time.Duration, capacity int, metrics ...Metric) *Recorder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		source:   source,
		interval: interval,
		capacity: capacity,
		now:      time.Now,
		metrics:  metrics,
	}
}

// Run records a sample every interval until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Record()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Record()
		}
	}
}

// Record takes one sample immediately.
func (r *Recorder) Record() Sample {
	s := FromStatistics(r.source.Statistics(), r.now())

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == r.capacity {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}
	r.samples = append(r.samples, s)
	for _, m := range r.metrics {
		m.Observe(s)
	}
	return s
}

func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

func (r *Recorder) Latest() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return Sample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

// Series extracts one column of the recorded history for plotting.
func (r *Recorder) Series(name string) ([]float64, error) {
	pick, err := seriesField(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.samples))
	for i, s := range r.samples {
		out[i] = pick(s)
	}
	return out, nil
}

// Values reports the current value of every metric by name.
func (r *Recorder) Values() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.metrics))
	for _, m := range r.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

// Reset drops the history and resets every metric.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = nil
	for _, m := range r.metrics {
		m.Reset()
	}
}

// SeriesOf extracts one column from samples loaded elsewhere.
func SeriesOf(samples []Sample, name string) ([]float64, error) {
	pick, err := seriesField(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = pick(s)
	}
	return out, nil
}

func seriesField(name string) (func(Sample) float64, error) {
	switch name {
	case "timestep":
		return func(s Sample) float64 { return float64(s.Timestep) }, nil
	case "tps":
		return func(s Sample) float64 { return s.TPS }, nil
	case "cells":
		return func(s Sample) float64 { return float64(s.Cells) }, nil
	case "particles":
		return func(s Sample) float64 { return float64(s.Particles) }, nil
	case "tokens":
		return func(s Sample) float64 { return float64(s.Tokens) }, nil
	case "energy":
		return func(s Sample) float64 { return s.InternalEnergy }, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSeries, name)
}
