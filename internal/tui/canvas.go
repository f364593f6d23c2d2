package tui

import (
	"strings"

	"github.com/san-kum/cellsim/internal/description"
)

// Braille patterns give each character cell 2x4 dots:
// 1 4
// 2 5
// 3 6
// 7 8
var pixelMap = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const brailleBlank = 0x2800

type canvas struct {
	width, height int
	grid          [][]rune
}

func newCanvas(w, h int) *canvas {
	c := &canvas{width: w, height: h, grid: make([][]rune, h)}
	for i := range c.grid {
		c.grid[i] = make([]rune, w)
	}
	c.clear()
	return c
}

// set lights the dot at (x, y) in dot coordinates, (2*width) x (4*height).
func (c *canvas) set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.width || row >= c.height {
		return
	}
	c.grid[row][col] |= pixelMap[y%4][x%2]
}

func (c *canvas) clear() {
	for i := range c.grid {
		for j := range c.grid[i] {
			c.grid[i][j] = brailleBlank
		}
	}
}

// line draws with Bresenham's algorithm.
func (c *canvas) line(x0, y0, x1, y1 int) {
	dx, dy := abs(x1-x0), abs(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// drawWorld scales a snapshot of a world of the given size onto the canvas.
// Bonds that wrap around the world edge are left out.
func (c *canvas) drawWorld(data description.Data, world description.IntVector) {
	c.clear()
	if world.X <= 0 || world.Y <= 0 {
		return
	}
	sx := float64(2*c.width) / float64(world.X)
	sy := float64(4*c.height) / float64(world.Y)
	dot := func(p description.RealVector) (int, int) {
		return int(p.X * sx), int(p.Y * sy)
	}

	pos := make(map[uint64]description.RealVector, data.CellCount())
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			pos[cell.ID] = cell.Pos.Value()
		}
	}
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			a := cell.Pos.Value()
			ax, ay := dot(a)
			c.set(ax, ay)
			for _, id := range cell.Connections.Value() {
				b, ok := pos[id]
				if !ok || id < cell.ID {
					continue
				}
				if d := b.Sub(a); 2*abs(int(d.X)) > world.X || 2*abs(int(d.Y)) > world.Y {
					continue
				}
				bx, by := dot(b)
				c.line(ax, ay, bx, by)
			}
		}
	}
	for _, p := range data.Particles {
		c.set(dot(p.Pos.Value()))
	}
}

func (c *canvas) String() string {
	var b strings.Builder
	for i, row := range c.grid {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(row))
	}
	return b.String()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
