package engine

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/san-kum/cellsim/internal/compute"
)

// Statistics is a point-in-time view of the worker. Counters lag the
// simulation by at most one monitor interval.
type Statistics struct {
	State          State
	Timestep       uint64
	TPS            float64
	TPSLimit       int
	Cells          int
	Particles      int
	Tokens         int
	InternalEnergy float64
	UpdatedAt      time.Time
}

type monitor struct {
	cells     atomic.Int64
	particles atomic.Int64
	tokens    atomic.Int64
	energy    atomic.Uint64
	updatedAt atomic.Int64
}

func (m *monitor) store(c compute.Counters, now time.Time) {
	m.cells.Store(int64(c.Cells))
	m.particles.Store(int64(c.Particles))
	m.tokens.Store(int64(c.Tokens))
	m.energy.Store(math.Float64bits(c.InternalEnergy))
	m.updatedAt.Store(now.UnixNano())
}

// Statistics never waits for the loop.
func (w *Worker) Statistics() Statistics {
	s := Statistics{
		State:          w.State(),
		Timestep:       w.timestep.Load(),
		TPS:            w.TPS(),
		TPSLimit:       w.TPSLimit(),
		Cells:          int(w.stats.cells.Load()),
		Particles:      int(w.stats.particles.Load()),
		Tokens:         int(w.stats.tokens.Load()),
		InternalEnergy: math.Float64frombits(w.stats.energy.Load()),
	}
	if ns := w.stats.updatedAt.Load(); ns != 0 {
		s.UpdatedAt = time.Unix(0, ns)
	}
	return s
}

// refreshStatistics runs on the loop goroutine.
func (w *Worker) refreshStatistics() error {
	c, err := w.kernel.ReadCounters()
	if err != nil {
		return w.fatal("read counters", err)
	}
	now := time.Now()
	w.stats.store(c, now)
	w.lastRefresh = now
	return nil
}
