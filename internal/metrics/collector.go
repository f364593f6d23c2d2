package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/cellsim/internal/engine"
)

const namespace = "cellsim"

// Collector exports worker statistics to Prometheus. Values are read at
// scrape time, so a scrape never waits for the simulation loop.
type Collector struct {
	source   Source
	recorder *Recorder

	timestep  *prometheus.Desc
	tps       *prometheus.Desc
	tpsLimit  *prometheus.Desc
	running   *prometheus.Desc
	cells     *prometheus.Desc
	particles *prometheus.Desc
	tokens    *prometheus.Desc
	energy    *prometheus.Desc
	metric    *prometheus.Desc
}

// NewCollector returns a collector for source. When recorder is not nil its
// metric values are exported as well.
func NewCollector(source Source, recorder *Recorder) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "worker", name), help, labels, nil)
	}
	return &Collector{
		source:    source,
		recorder:  recorder,
		timestep:  desc("timestep", "Current simulation timestep"),
		tps:       desc("timesteps_per_second", "Measured timesteps per second"),
		tpsLimit:  desc("tps_limit", "Configured timesteps per second cap, 0 when unlimited"),
		running:   desc("running", "1 while the worker computes timesteps"),
		cells:     desc("cells", "Number of cells"),
		particles: desc("particles", "Number of energy particles"),
		tokens:    desc("tokens", "Number of tokens"),
		energy:    desc("internal_energy", "Total internal energy of cells and particles"),
		metric:    desc("metric", "Run metrics folded from recorded samples", "name"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.timestep
	ch <- c.tps
	ch <- c.tpsLimit
	ch <- c.running
	ch <- c.cells
	ch <- c.particles
	ch <- c.tokens
	ch <- c.energy
	ch <- c.metric
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Statistics()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	gauge(c.timestep, float64(s.Timestep))
	gauge(c.tps, s.TPS)
	gauge(c.tpsLimit, float64(s.TPSLimit))
	running := 0.0
	if s.State == engine.StateRunning {
		running = 1
	}
	gauge(c.running, running)
	gauge(c.cells, float64(s.Cells))
	gauge(c.particles, float64(s.Particles))
	gauge(c.tokens, float64(s.Tokens))
	gauge(c.energy, s.InternalEnergy)

	if c.recorder == nil {
		return
	}
	for name, v := range c.recorder.Values() {
		ch <- prometheus.MustNewConstMetric(c.metric, prometheus.GaugeValue, v, name)
	}
}
