package connectivity

import (
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/space"
)

// Index maps a grid cell to the IDs of the cells located in it. It is a
// point-in-time view of the snapshot it was built from and is never patched;
// build a new one when positions change.
type Index struct {
	buckets map[description.IntVector][]uint64
}

func BuildIndex(data *description.Data, metric space.Metric) *Index {
	ix := &Index{buckets: make(map[description.IntVector][]uint64)}
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			pos, ok := cell.Pos.Get()
			if !ok {
				continue
			}
			g := metric.ToGrid(pos)
			ix.buckets[g] = append(ix.buckets[g], cell.ID)
		}
	}
	return ix
}

// Lookup returns the cells at grid position g. An unknown position yields nil.
func (ix *Index) Lookup(g description.IntVector) []uint64 {
	return ix.buckets[g]
}

// Len is the number of occupied grid positions.
func (ix *Index) Len() int { return len(ix.buckets) }
