package connectivity

import (
	"fmt"

	"github.com/san-kum/cellsim/internal/description"
)

// Partition regroups every cluster that holds a cell with modified
// connections or a modified position into the connected components of the
// bond graph. A moved cell counts even when its connection list ended up
// absent, since its old bonds are gone.
//
// Affected clusters are handled in ascending order. Traversal follows bonds
// into other clusters; a cluster reached that way joins the affected set, so
// two clusters that became bonded end up merged. Untouched clusters keep
// their order and come first, the regrouped ones follow in discovery order.
func Partition(data *description.Data) error {
	loc := newLocator(data)
	n := len(data.Clusters)
	pending := make([]bool, n)
	done := make([]bool, n)
	for ci, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			if cell.Connections.IsModified() || cell.Pos.IsModified() {
				pending[ci] = true
				break
			}
		}
	}

	visited := make(map[uint64]struct{})
	var regrouped []description.Cluster

	for ci := nextPending(pending, done); ci >= 0; ci = nextPending(pending, done) {
		for _, cell := range data.Clusters[ci].Cells {
			if _, seen := visited[cell.ID]; seen {
				continue
			}
			cells, err := collect(data, loc, cell.ID, visited, pending)
			if err != nil {
				return err
			}
			regrouped = append(regrouped, description.Cluster{Cells: cells})
		}
		done[ci] = true
	}

	if len(regrouped) == 0 {
		return nil
	}
	out := make([]description.Cluster, 0, n+len(regrouped))
	for ci, cluster := range data.Clusters {
		if !done[ci] {
			out = append(out, cluster)
		}
	}
	data.Clusters = append(out, regrouped...)
	return nil
}

// collect gathers every cell reachable from start with an explicit stack.
func collect(data *description.Data, loc locator, start uint64, visited map[uint64]struct{}, pending []bool) ([]description.Cell, error) {
	var cells []description.Cell
	stack := []uint64{start}
	visited[start] = struct{}{}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ref, ok := loc[id]
		if !ok {
			return nil, fmt.Errorf("regroup from cell %d: %w: %d", start, ErrDanglingCell, id)
		}
		pending[ref.cluster] = true
		cell := data.Clusters[ref.cluster].Cells[ref.cell]
		cells = append(cells, cell)

		for _, next := range cell.Connections.Value() {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return cells, nil
}

func nextPending(pending, done []bool) int {
	for i := range pending {
		if pending[i] && !done[i] {
			return i
		}
	}
	return -1
}
