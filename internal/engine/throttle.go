package engine

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

func limitFor(tps int) rate.Limit {
	if tps <= 0 {
		return rate.Inf
	}
	return rate.Limit(tps)
}

// SetTPSLimit caps the timesteps per second; 0 removes the cap. The new
// limit applies from the next timestep.
func (w *Worker) SetTPSLimit(tps int) {
	if tps < 0 {
		tps = 0
	}
	w.tpsLimit.Store(int64(tps))
	w.limiter.SetLimit(limitFor(tps))
	w.signal()
}

func (w *Worker) TPSLimit() int {
	return int(w.tpsLimit.Load())
}

// TPS is the rate measured over the last full second of running.
func (w *Worker) TPS() float64 {
	return math.Float64frombits(w.tps.Load())
}

// throttle waits until the limiter admits the next timestep. Access
// requests are served while waiting. It reports false when the pending
// timestep must not run, because the worker was paused, woken for a limit
// change or asked to stop.
func (w *Worker) throttle() (bool, error) {
	if w.limiter.Limit() == rate.Inf {
		return true, nil
	}
	r := w.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return true, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true, nil
		case <-w.quit:
			r.Cancel()
			return false, nil
		case <-w.wake:
			r.Cancel()
			return false, nil
		case req := <-w.requests:
			if err := w.serve(req); err != nil {
				r.Cancel()
				return false, err
			}
			if !w.running.Load() {
				r.Cancel()
				return false, nil
			}
		}
	}
}

// measure recomputes the achieved rate once per second.
func (w *Worker) measure(now time.Time) {
	elapsed := now.Sub(w.measureStart)
	if elapsed < time.Second {
		return
	}
	w.tps.Store(math.Float64bits(float64(w.measureSteps) / elapsed.Seconds()))
	w.measureStart = now
	w.measureSteps = 0
}

func (w *Worker) resetMeasure() {
	w.tps.Store(0)
	w.measureStart = time.Time{}
	w.measureSteps = 0
}
