package metrics

// Throughput is the mean timesteps per second over the samples taken while
// the worker was running.
type Throughput struct {
	name    string
	sum     float64
	samples int
}

func NewThroughput() *Throughput {
	return &Throughput{name: "mean_tps"}
}

func (t *Throughput) Name() string {
	return t.name
}

func (t *Throughput) Observe(s Sample) {
	if !s.Running {
		return
	}
	t.sum += s.TPS
	t.samples++
}

func (t *Throughput) Value() float64 {
	if t.samples == 0 {
		return 0
	}
	return t.sum / float64(t.samples)
}

func (t *Throughput) Reset() {
	t.sum = 0
	t.samples = 0
}

type PeakPopulation struct {
	name string
	peak int
}

func NewPeakPopulation() *PeakPopulation {
	return &PeakPopulation{name: "peak_cells"}
}

func (p *PeakPopulation) Name() string { return p.name }

func (p *PeakPopulation) Observe(s Sample) {
	p.peak = max(p.peak, s.Cells)
}

func (p *PeakPopulation) Value() float64 { return float64(p.peak) }

func (p *PeakPopulation) Reset() { p.peak = 0 }
