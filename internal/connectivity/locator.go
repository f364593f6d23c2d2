package connectivity

import (
	"fmt"

	"github.com/san-kum/cellsim/internal/description"
)

type cellRef struct {
	cluster int
	cell    int
}

// locator resolves cell IDs to their slot in a snapshot. Valid only while
// the snapshot's cluster layout is unchanged.
type locator map[uint64]cellRef

func newLocator(data *description.Data) locator {
	loc := make(locator, data.CellCount())
	for ci, cluster := range data.Clusters {
		for k, cell := range cluster.Cells {
			loc[cell.ID] = cellRef{cluster: ci, cell: k}
		}
	}
	return loc
}

func (l locator) cell(data *description.Data, id uint64) (*description.Cell, error) {
	ref, ok := l[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDanglingCell, id)
	}
	return &data.Clusters[ref.cluster].Cells[ref.cell], nil
}
