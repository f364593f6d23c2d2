package connectivity

import (
	"fmt"
	"math"
	"slices"

	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/space"
)

type Config struct {
	// MaxDistance is the largest corrected distance at which two cells may bond.
	MaxDistance float64
	// DefaultMaxConnections is the capacity of cells whose own capacity is absent.
	DefaultMaxConnections int
}

type Connector struct {
	metric space.Metric
	cfg    Config
}

func NewConnector(metric space.Metric, cfg Config) *Connector {
	return &Connector{metric: metric, cfg: cfg}
}

// Update rebonds every cell whose position is flagged modified. All
// tear-downs finish before the first rebond, so bonds removed in this call
// never influence one another. ix must be built from data.
//
// Cells that kept their position but carry a modified connection list are
// checked first: their bonds are made symmetric and bonds that break the
// distance or capacity limits are dropped.
func (c *Connector) Update(data *description.Data, ix *Index) error {
	loc := newLocator(data)

	for ci := range data.Clusters {
		cells := data.Clusters[ci].Cells
		for k := range cells {
			if cells[k].Pos.IsModified() || !cells[k].Connections.IsModified() {
				continue
			}
			if err := c.checkConnections(data, loc, &cells[k]); err != nil {
				return err
			}
		}
	}

	for ci := range data.Clusters {
		cells := data.Clusters[ci].Cells
		for k := range cells {
			if !cells[k].Pos.IsModified() {
				continue
			}
			if err := c.removeConnections(data, loc, &cells[k]); err != nil {
				return err
			}
		}
	}

	for ci := range data.Clusters {
		cells := data.Clusters[ci].Cells
		for k := range cells {
			if !cells[k].Pos.IsModified() {
				continue
			}
			if err := c.connectNeighbors(data, loc, ix, &cells[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Connector) removeConnections(data *description.Data, loc locator, cell *description.Cell) error {
	ids, ok := cell.Connections.Get()
	if !ok {
		return nil
	}
	for _, id := range ids {
		partner, err := loc.cell(data, id)
		if err != nil {
			return fmt.Errorf("remove bonds of cell %d: %w", cell.ID, err)
		}
		partner.Connections.Set(without(partner.Connections.Value(), cell.ID))
	}
	cell.Connections.Reset()
	return nil
}

func (c *Connector) checkConnections(data *description.Data, loc locator, cell *description.Cell) error {
	ids := cell.Connections.Value()
	kept := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == cell.ID || slices.Contains(kept, id) {
			continue
		}
		partner, err := loc.cell(data, id)
		if err != nil {
			return fmt.Errorf("check bonds of cell %d: %w", cell.ID, err)
		}
		reciprocal := partner.IsBondedTo(cell.ID)
		valid := len(kept) < c.capacity(cell) &&
			(reciprocal || len(partner.Connections.Value()) < c.capacity(partner)) &&
			space.Distance(c.metric, cell.Pos.Value(), partner.Pos.Value()) <= c.cfg.MaxDistance
		if !valid {
			if reciprocal {
				partner.Connections.Set(without(partner.Connections.Value(), cell.ID))
			}
			continue
		}
		if !reciprocal {
			partner.Connections.Set(append(slices.Clip(partner.Connections.Value()), cell.ID))
		}
		kept = append(kept, id)
	}
	if len(kept) != len(ids) {
		cell.Connections.Set(kept)
	}
	return nil
}

func (c *Connector) connectNeighbors(data *description.Data, loc locator, ix *Index, cell *description.Cell) error {
	r := int(math.Ceil(c.cfg.MaxDistance))
	center := c.metric.ToGrid(cell.Pos.Value())

	// On a world narrower than the scan window two offsets can wrap onto the
	// same grid position.
	scanned := make(map[description.IntVector]struct{}, (2*r+1)*(2*r+1))
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			g := c.metric.CorrectGrid(center.Add(description.IntVector{X: dx, Y: dy}))
			if _, seen := scanned[g]; seen {
				continue
			}
			scanned[g] = struct{}{}

			for _, id := range ix.Lookup(g) {
				other, err := loc.cell(data, id)
				if err != nil {
					return fmt.Errorf("rebond cell %d: %w", cell.ID, err)
				}
				c.connect(cell, other)
			}
		}
	}
	return nil
}

func (c *Connector) connect(a, b *description.Cell) {
	if a.ID == b.ID {
		return
	}
	if space.Distance(c.metric, a.Pos.Value(), b.Pos.Value()) > c.cfg.MaxDistance {
		return
	}
	if len(a.Connections.Value()) >= c.capacity(a) || len(b.Connections.Value()) >= c.capacity(b) {
		return
	}
	if a.IsBondedTo(b.ID) {
		return
	}
	a.Connections.Set(append(slices.Clip(a.Connections.Value()), b.ID))
	b.Connections.Set(append(slices.Clip(b.Connections.Value()), a.ID))
}

func (c *Connector) capacity(cell *description.Cell) int {
	return cell.MaxConnections.ValueOr(c.cfg.DefaultMaxConnections)
}

func without(ids []uint64, id uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
