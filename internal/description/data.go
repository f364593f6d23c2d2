package description

import "slices"

type Cell struct {
	ID             uint64            `json:"id"`
	Pos            Field[RealVector] `json:"pos,omitzero"`
	Vel            Field[RealVector] `json:"vel,omitzero"`
	Energy         Field[float64]    `json:"energy,omitzero"`
	MaxConnections Field[int]        `json:"max_connections,omitzero"`
	Connections    Field[[]uint64]   `json:"connections,omitzero"`
	Tokens         Field[int]        `json:"tokens,omitzero"`
}

func (c Cell) IsBondedTo(id uint64) bool {
	return slices.Contains(c.Connections.Value(), id)
}

func (c Cell) Clone() Cell {
	if ids, ok := c.Connections.Get(); ok {
		conns := slices.Clone(ids)
		if c.Connections.IsModified() {
			c.Connections.Set(conns)
		} else {
			c.Connections.Init(conns)
		}
	}
	return c
}

func (c *Cell) ClearModified() {
	c.Pos.ClearModified()
	c.Vel.ClearModified()
	c.Energy.ClearModified()
	c.MaxConnections.ClearModified()
	c.Connections.ClearModified()
	c.Tokens.ClearModified()
}

// Touch flags every present field as modified.
func (c *Cell) Touch() {
	c.Pos.Touch()
	c.Vel.Touch()
	c.Energy.Touch()
	c.MaxConnections.Touch()
	c.Connections.Touch()
	c.Tokens.Touch()
}

type Particle struct {
	ID     uint64            `json:"id"`
	Pos    Field[RealVector] `json:"pos,omitzero"`
	Vel    Field[RealVector] `json:"vel,omitzero"`
	Energy Field[float64]    `json:"energy,omitzero"`
}

func (p *Particle) ClearModified() {
	p.Pos.ClearModified()
	p.Vel.ClearModified()
	p.Energy.ClearModified()
}

func (p *Particle) Touch() {
	p.Pos.Touch()
	p.Vel.Touch()
	p.Energy.Touch()
}

// Cluster is one connected component of the bond graph as of the last
// reconciliation. It is identified only by its position within a Data.
type Cluster struct {
	Cells []Cell `json:"cells"`
}

// Data is a snapshot of a world region.
type Data struct {
	Clusters  []Cluster  `json:"clusters"`
	Particles []Particle `json:"particles,omitempty"`
}

func (d *Data) AddCluster(cells ...Cell) {
	d.Clusters = append(d.Clusters, Cluster{Cells: cells})
}

func (d *Data) AddParticles(particles ...Particle) {
	d.Particles = append(d.Particles, particles...)
}

func (d Data) Clone() Data {
	out := Data{
		Clusters:  make([]Cluster, len(d.Clusters)),
		Particles: slices.Clone(d.Particles),
	}
	for i, cluster := range d.Clusters {
		cells := make([]Cell, len(cluster.Cells))
		for j, cell := range cluster.Cells {
			cells[j] = cell.Clone()
		}
		out.Clusters[i] = Cluster{Cells: cells}
	}
	return out
}

// ClearModified demotes every modified field to present. Called once a
// reconciled snapshot has been handed back to the kernel.
func (d *Data) ClearModified() {
	for i := range d.Clusters {
		for j := range d.Clusters[i].Cells {
			d.Clusters[i].Cells[j].ClearModified()
		}
	}
	for i := range d.Particles {
		d.Particles[i].ClearModified()
	}
}

// Touch turns a stored snapshot into an edit that rebonds every cell.
func (d *Data) Touch() {
	for ci := range d.Clusters {
		for j := range d.Clusters[ci].Cells {
			d.Clusters[ci].Cells[j].Touch()
		}
	}
	for i := range d.Particles {
		d.Particles[i].Touch()
	}
}

func (d Data) IsEmpty() bool {
	return len(d.Clusters) == 0 && len(d.Particles) == 0
}

func (d Data) CellCount() int {
	n := 0
	for _, cluster := range d.Clusters {
		n += len(cluster.Cells)
	}
	return n
}

func (d Data) TokenCount() int {
	n := 0
	for _, cluster := range d.Clusters {
		for _, cell := range cluster.Cells {
			n += cell.Tokens.Value()
		}
	}
	return n
}

// InternalEnergy sums the energy held by cells and particles.
func (d Data) InternalEnergy() float64 {
	total := 0.0
	for _, cluster := range d.Clusters {
		for _, cell := range cluster.Cells {
			total += cell.Energy.Value()
		}
	}
	for _, p := range d.Particles {
		total += p.Energy.Value()
	}
	return total
}

// Merge overlays edit onto base and returns a new snapshot.
//
// A cell in edit replaces the base cell with the same ID field by field:
// present edit fields win and keep their modified flag, absent edit fields
// inherit the base value. Replaced cells leave their base cluster (clusters
// left empty are dropped) and the edit's clusters are appended as given.
// Particles are replaced whole by ID. Inherited, non-empty connection lists
// are flagged modified so the owning clusters get regrouped.
//
// An edited cell that carries a connection list owns its bonds: partners it
// dropped lose the reciprocal entry and partners it added gain one. Limits
// are not checked here; the connectivity pass does that.
func Merge(base, edit Data) Data {
	baseCells := make(map[uint64]Cell)
	for _, cluster := range base.Clusters {
		for _, cell := range cluster.Cells {
			baseCells[cell.ID] = cell
		}
	}
	edited := make(map[uint64]struct{})
	for _, cluster := range edit.Clusters {
		for _, cell := range cluster.Cells {
			edited[cell.ID] = struct{}{}
		}
	}

	out := Data{Clusters: make([]Cluster, 0, len(base.Clusters)+len(edit.Clusters))}
	for _, cluster := range base.Clusters {
		kept := make([]Cell, 0, len(cluster.Cells))
		for _, cell := range cluster.Cells {
			if _, ok := edited[cell.ID]; ok {
				continue
			}
			kept = append(kept, cell.Clone())
		}
		if len(kept) > 0 {
			out.Clusters = append(out.Clusters, Cluster{Cells: kept})
		}
	}
	for _, cluster := range edit.Clusters {
		cells := make([]Cell, len(cluster.Cells))
		for i, cell := range cluster.Cells {
			if old, ok := baseCells[cell.ID]; ok {
				cells[i] = mergeCell(old, cell)
			} else {
				cells[i] = cell.Clone()
			}
		}
		out.Clusters = append(out.Clusters, Cluster{Cells: cells})
	}

	syncPartners(&out, baseCells, edit)

	editedParticles := make(map[uint64]Particle, len(edit.Particles))
	for _, p := range edit.Particles {
		editedParticles[p.ID] = p
	}
	for _, p := range base.Particles {
		if _, ok := editedParticles[p.ID]; ok {
			continue
		}
		out.Particles = append(out.Particles, p)
	}
	out.Particles = append(out.Particles, edit.Particles...)
	return out
}

func syncPartners(out *Data, base map[uint64]Cell, edit Data) {
	cells := make(map[uint64]*Cell, out.CellCount())
	for ci := range out.Clusters {
		for k := range out.Clusters[ci].Cells {
			cell := &out.Clusters[ci].Cells[k]
			cells[cell.ID] = cell
		}
	}

	for _, cluster := range edit.Clusters {
		for _, cell := range cluster.Cells {
			ids, ok := cell.Connections.Get()
			if !ok {
				continue
			}
			old := base[cell.ID].Connections.Value()
			for _, id := range old {
				if slices.Contains(ids, id) {
					continue
				}
				if partner, ok := cells[id]; ok && partner.IsBondedTo(cell.ID) {
					partner.Connections.Set(withoutID(partner.Connections.Value(), cell.ID))
				}
			}
			for _, id := range ids {
				if id == cell.ID || slices.Contains(old, id) {
					continue
				}
				if partner, ok := cells[id]; ok && !partner.IsBondedTo(cell.ID) {
					partner.Connections.Set(append(slices.Clip(partner.Connections.Value()), cell.ID))
				}
			}
		}
	}
}

func withoutID(ids []uint64, id uint64) []uint64 {
	return slices.DeleteFunc(slices.Clone(ids), func(v uint64) bool { return v == id })
}

func mergeCell(old, edit Cell) Cell {
	old = old.Clone()
	edit = edit.Clone()
	merged := Cell{
		ID:             edit.ID,
		Pos:            overlay(old.Pos, edit.Pos),
		Vel:            overlay(old.Vel, edit.Vel),
		Energy:         overlay(old.Energy, edit.Energy),
		MaxConnections: overlay(old.MaxConnections, edit.MaxConnections),
		Connections:    overlay(old.Connections, edit.Connections),
		Tokens:         overlay(old.Tokens, edit.Tokens),
	}
	// The cell may now sit in a different cluster than its bond partners,
	// so its bonds have to be revisited by the partitioner.
	if len(merged.Connections.Value()) > 0 {
		merged.Connections.Touch()
	}
	return merged
}

func overlay[T any](old, edit Field[T]) Field[T] {
	if edit.IsPresent() {
		return edit
	}
	old.ClearModified()
	return old
}
