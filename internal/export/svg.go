package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/cellsim/internal/description"
)

// SnapshotToSVG draws cells, their bonds and particles of a world of the
// given size. Bonds that wrap around the world edge are left out.
func SnapshotToSVG(data description.Data, world description.IntVector, scale float64) string {
	if scale <= 0 {
		scale = 1
	}
	width := float64(world.X) * scale
	height := float64(world.Y) * scale

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)

	pos := make(map[uint64]description.RealVector, data.CellCount())
	maxEnergy := 0.0
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			pos[cell.ID] = cell.Pos.Value()
			maxEnergy = math.Max(maxEnergy, cell.Energy.Value())
		}
	}

	sb.WriteString(`<g stroke="#446688" stroke-width="1">` + "\n")
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			a := cell.Pos.Value()
			for _, id := range cell.Connections.Value() {
				b, ok := pos[id]
				if !ok || id < cell.ID {
					continue
				}
				if d := b.Sub(a); 2*math.Abs(d.X) > float64(world.X) || 2*math.Abs(d.Y) > float64(world.Y) {
					continue
				}
				fmt.Fprintf(&sb, `<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f"/>`+"\n",
					a.X*scale, a.Y*scale, b.X*scale, b.Y*scale)
			}
		}
	}
	sb.WriteString("</g>\n")

	radius := scale * 0.4
	sb.WriteString("<g>\n")
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			p := cell.Pos.Value()
			fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="%.1f" fill="%s"/>`+"\n",
				p.X*scale, p.Y*scale, radius, energyColor(cell.Energy.Value(), maxEnergy))
		}
	}
	sb.WriteString("</g>\n")

	sb.WriteString(`<g fill="#ffcc00">` + "\n")
	for _, p := range data.Particles {
		v := p.Pos.Value()
		fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="%.1f"/>`+"\n", v.X*scale, v.Y*scale, radius/2)
	}
	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

// energyColor shades from dark green to bright green as energy approaches peak.
func energyColor(energy, peak float64) string {
	t := 1.0
	if peak > 0 {
		t = math.Min(math.Max(energy/peak, 0), 1)
	}
	g := 96 + int(t*159)
	return fmt.Sprintf("#00%02x%02x", g, g/2)
}

// SeriesToSVG plots values as a polyline scaled to the given size.
func SeriesToSVG(values []float64, width, height int, strokeColor string) string {
	if len(values) < 2 {
		return ""
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}
	lo -= rng * 0.1
	hi += rng * 0.1
	rng = hi - lo

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, strokeColor)

	step := float64(width) / float64(len(values)-1)
	for i, v := range values {
		x := float64(i) * step
		y := float64(height) - (v-lo)/rng*float64(height)
		if i == 0 {
			fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
		}
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}
