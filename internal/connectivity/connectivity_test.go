package connectivity

import (
	"errors"
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/space"
)

func vec(x, y float64) description.RealVector { return description.RealVector{X: x, Y: y} }

func world(n int) *space.Torus {
	return space.NewTorus(description.IntVector{X: n, Y: n})
}

func findCell(t *testing.T, data *description.Data, id uint64) description.Cell {
	t.Helper()
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			if cell.ID == id {
				return cell
			}
		}
	}
	t.Fatalf("cell %d not found", id)
	return description.Cell{}
}

// clusterSets returns the partition as sorted ID lists, sorted by first ID.
func clusterSets(data *description.Data) [][]uint64 {
	var sets [][]uint64
	for _, cluster := range data.Clusters {
		ids := make([]uint64, 0, len(cluster.Cells))
		for _, cell := range cluster.Cells {
			ids = append(ids, cell.ID)
		}
		slices.Sort(ids)
		sets = append(sets, ids)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i][0] < sets[j][0] })
	return sets
}

func bondSet(data *description.Data) map[[2]uint64]bool {
	bonds := make(map[[2]uint64]bool)
	for _, cluster := range data.Clusters {
		for _, cell := range cluster.Cells {
			for _, id := range cell.Connections.Value() {
				bonds[[2]uint64{cell.ID, id}] = true
			}
		}
	}
	return bonds
}

func checkInvariants(t *testing.T, data *description.Data, metric space.Metric, cfg Config) {
	t.Helper()

	cells := make(map[uint64]description.Cell)
	clusterOf := make(map[uint64]int)
	for ci, cluster := range data.Clusters {
		if len(cluster.Cells) == 0 {
			t.Errorf("cluster %d is empty", ci)
		}
		for _, cell := range cluster.Cells {
			if _, dup := cells[cell.ID]; dup {
				t.Fatalf("cell %d appears in more than one cluster", cell.ID)
			}
			cells[cell.ID] = cell
			clusterOf[cell.ID] = ci
		}
	}

	for id, cell := range cells {
		conns := cell.Connections.Value()
		if len(conns) > cell.MaxConnections.ValueOr(cfg.DefaultMaxConnections) {
			t.Errorf("cell %d has %d bonds, capacity %d", id, len(conns), cell.MaxConnections.ValueOr(cfg.DefaultMaxConnections))
		}
		for _, other := range conns {
			if other == id {
				t.Errorf("cell %d is bonded to itself", id)
			}
			partner, ok := cells[other]
			if !ok {
				t.Fatalf("cell %d bonded to missing cell %d", id, other)
			}
			if !partner.IsBondedTo(id) {
				t.Errorf("bond %d->%d is not symmetric", id, other)
			}
			if d := space.Distance(metric, cell.Pos.Value(), partner.Pos.Value()); d > cfg.MaxDistance {
				t.Errorf("bond %d-%d spans %f > %f", id, other, d, cfg.MaxDistance)
			}
			if clusterOf[id] != clusterOf[other] {
				t.Errorf("bonded cells %d and %d are in different clusters", id, other)
			}
		}
	}

	// Cells of one cluster must be reachable from each other.
	for ci, cluster := range data.Clusters {
		reached := map[uint64]bool{cluster.Cells[0].ID: true}
		stack := []uint64{cluster.Cells[0].ID}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range cells[id].Connections.Value() {
				if !reached[next] {
					reached[next] = true
					stack = append(stack, next)
				}
			}
		}
		if len(reached) != len(cluster.Cells) {
			t.Errorf("cluster %d is not connected: %d of %d cells reachable", ci, len(reached), len(cluster.Cells))
		}
	}
}

func TestIndex_BuildAndLookup(t *testing.T) {
	metric := world(10)
	var data description.Data
	data.AddCluster(
		description.Cell{ID: 1, Pos: description.Some(vec(1.2, 1.7))},
		description.Cell{ID: 2, Pos: description.Some(vec(1.9, 1.1))},
		description.Cell{ID: 3, Pos: description.Some(vec(-0.5, 3))},
		description.Cell{ID: 4},
	)

	ix := BuildIndex(&data, metric)

	if got := ix.Lookup(description.IntVector{X: 1, Y: 1}); !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("Lookup(1,1) = %v, want [1 2]", got)
	}
	if got := ix.Lookup(description.IntVector{X: 9, Y: 3}); !slices.Equal(got, []uint64{3}) {
		t.Errorf("Lookup(9,3) = %v, want [3]", got)
	}
	if got := ix.Lookup(description.IntVector{X: 5, Y: 5}); len(got) != 0 {
		t.Errorf("empty position should yield nothing, got %v", got)
	}
	if ix.Len() != 2 {
		t.Errorf("Len = %d, want 2", ix.Len())
	}
}

func TestIndex_IsSnapshotInTime(t *testing.T) {
	metric := world(10)
	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Some(vec(1, 1))})

	ix := BuildIndex(&data, metric)
	data.Clusters[0].Cells[0].Pos.Set(vec(5, 5))

	if got := ix.Lookup(description.IntVector{X: 1, Y: 1}); !slices.Equal(got, []uint64{1}) {
		t.Errorf("index must not follow later edits, got %v", got)
	}
}

func TestReconnect_TwoCellsBond(t *testing.T) {
	metric := world(100)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(0, 0)), MaxConnections: description.Some(2)})
	data.AddCluster(description.Cell{ID: 2, Pos: description.Some(vec(0, 1))})

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	a := findCell(t, &data, 1)
	b := findCell(t, &data, 2)
	if !slices.Equal(a.Connections.Value(), []uint64{2}) {
		t.Errorf("A connections = %v, want [2]", a.Connections.Value())
	}
	if !slices.Equal(b.Connections.Value(), []uint64{1}) {
		t.Errorf("B connections = %v, want [1]", b.Connections.Value())
	}
	if len(data.Clusters) != 1 {
		t.Errorf("expected the two clusters to merge, got %d", len(data.Clusters))
	}
	checkInvariants(t, &data, metric, cfg)
}

func TestReconnect_ChainSplits(t *testing.T) {
	metric := world(100)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	var data description.Data
	data.AddCluster(
		description.Cell{ID: 1, Pos: description.Some(vec(10, 10)), Connections: description.Some([]uint64{2})},
		description.Cell{ID: 2, Pos: description.Some(vec(11, 10)), Connections: description.Some([]uint64{1, 3})},
		description.Cell{ID: 3, Pos: description.Some(vec(12, 10)), Connections: description.Some([]uint64{2})},
	)

	data.Clusters[0].Cells[2].Pos.Set(vec(20, 10))

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	want := [][]uint64{{1, 2}, {3}}
	got := clusterSets(&data)
	if len(got) != len(want) || !slices.Equal(got[0], want[0]) || !slices.Equal(got[1], want[1]) {
		t.Errorf("clusters = %v, want %v", got, want)
	}
	if c := findCell(t, &data, 3); c.Connections.IsPresent() {
		t.Errorf("isolated cell should have no connection list, got %v", c.Connections.Value())
	}
	checkInvariants(t, &data, metric, cfg)
}

func TestConnector_RespectsCapacity(t *testing.T) {
	metric := world(50)
	cfg := Config{MaxDistance: 2, DefaultMaxConnections: 6}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(5, 5)), MaxConnections: description.Some(2)})
	for i := uint64(2); i <= 5; i++ {
		data.AddCluster(description.Cell{ID: i, Pos: description.Some(vec(5+float64(i-1)*0.3, 5))})
	}

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := len(findCell(t, &data, 1).Connections.Value()); got != 2 {
		t.Errorf("cell 1 has %d bonds, want capacity 2", got)
	}
	checkInvariants(t, &data, metric, cfg)
}

func TestConnector_ZeroCapacityNeverBonds(t *testing.T) {
	metric := world(50)
	cfg := Config{MaxDistance: 2, DefaultMaxConnections: 6}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(5, 5))})
	data.AddCluster(description.Cell{ID: 2, Pos: description.Some(vec(5.5, 5)), MaxConnections: description.Some(0)})

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if len(bondSet(&data)) != 0 {
		t.Errorf("expected no bonds, got %v", bondSet(&data))
	}
	if len(data.Clusters) != 2 {
		t.Errorf("expected clusters untouched, got %d", len(data.Clusters))
	}
}

func TestConnector_BondsAcrossWorldEdge(t *testing.T) {
	metric := world(20)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(0.2, 10))})
	data.AddCluster(description.Cell{ID: 2, Pos: description.Some(vec(19.5, 10))})

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !findCell(t, &data, 1).IsBondedTo(2) {
		t.Error("cells across the wrap edge should bond")
	}
	checkInvariants(t, &data, metric, cfg)
}

func TestConnector_TinyWorldNoDuplicateBonds(t *testing.T) {
	metric := world(2)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 8}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(0.5, 0.5))})
	data.AddCluster(description.Cell{ID: 2, Pos: description.Some(vec(1.5, 0.5))})

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := findCell(t, &data, 1).Connections.Value(); !slices.Equal(got, []uint64{2}) {
		t.Errorf("connections = %v, want a single bond", got)
	}
}

func TestConnector_TearDownBeforeRebond(t *testing.T) {
	metric := world(100)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 1}

	// 1 and 2 are bonded and both full. Both move next to 3; tear-down of
	// both must finish first so that either of them can take the bond to 3.
	var data description.Data
	data.AddCluster(
		description.Cell{ID: 1, Pos: description.Some(vec(10, 10)), Connections: description.Some([]uint64{2})},
		description.Cell{ID: 2, Pos: description.Some(vec(11, 10)), Connections: description.Some([]uint64{1})},
	)
	data.AddCluster(description.Cell{ID: 3, Pos: description.Some(vec(40, 40))})

	data.Clusters[0].Cells[0].Pos.Set(vec(40, 41))
	data.Clusters[0].Cells[1].Pos.Set(vec(41, 40))

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	checkInvariants(t, &data, metric, cfg)
	if len(bondSet(&data)) != 2 {
		t.Errorf("expected exactly one symmetric bond, got %v", bondSet(&data))
	}
}

func TestReconnect_BothEndsMoveApart(t *testing.T) {
	metric := world(100)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	var data description.Data
	data.AddCluster(
		description.Cell{ID: 1, Pos: description.Some(vec(10, 10)), Connections: description.Some([]uint64{2})},
		description.Cell{ID: 2, Pos: description.Some(vec(11, 10)), Connections: description.Some([]uint64{1})},
	)
	data.Clusters[0].Cells[0].Pos.Set(vec(2, 2))
	data.Clusters[0].Cells[1].Pos.Set(vec(10, 9))

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	want := [][]uint64{{1}, {2}}
	got := clusterSets(&data)
	if len(got) != len(want) || !slices.Equal(got[0], want[0]) || !slices.Equal(got[1], want[1]) {
		t.Errorf("clusters = %v, want %v", got, want)
	}
	if len(bondSet(&data)) != 0 {
		t.Errorf("expected no bonds, got %v", bondSet(&data))
	}
	checkInvariants(t, &data, metric, cfg)
}

func bondedPair() description.Data {
	var base description.Data
	base.AddCluster(
		description.Cell{ID: 1, Pos: description.Some(vec(1, 1)), Connections: description.Some([]uint64{2})},
		description.Cell{ID: 2, Pos: description.Some(vec(2, 1)), Connections: description.Some([]uint64{1})},
	)
	return base
}

func TestReconnect_EditedConnections(t *testing.T) {
	metric := world(20)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	tests := []struct {
		name      string
		edit      description.Cell
		wantBonds int
		wantSets  [][]uint64
	}{
		{
			name:     "moved with cleared list",
			edit:     description.Cell{ID: 1, Pos: description.Changed(vec(8, 8)), Connections: description.Changed([]uint64{})},
			wantSets: [][]uint64{{1}, {2}},
		},
		{
			name:     "moved with stale list",
			edit:     description.Cell{ID: 1, Pos: description.Changed(vec(8, 8)), Connections: description.Changed([]uint64{2})},
			wantSets: [][]uint64{{1}, {2}},
		},
		{
			name:     "cleared list only",
			edit:     description.Cell{ID: 1, Connections: description.Changed([]uint64{})},
			wantSets: [][]uint64{{1}, {2}},
		},
		{
			name:      "unchanged list only",
			edit:      description.Cell{ID: 1, Connections: description.Changed([]uint64{2})},
			wantBonds: 2,
			wantSets:  [][]uint64{{1, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var edit description.Data
			edit.AddCluster(tt.edit)
			data := description.Merge(bondedPair(), edit)

			if err := Reconnect(&data, metric, cfg); err != nil {
				t.Fatalf("reconnect: %v", err)
			}
			checkInvariants(t, &data, metric, cfg)
			if got := len(bondSet(&data)); got != tt.wantBonds {
				t.Errorf("bonds = %v, want %d entries", bondSet(&data), tt.wantBonds)
			}
			got := clusterSets(&data)
			if len(got) != len(tt.wantSets) {
				t.Fatalf("clusters = %v, want %v", got, tt.wantSets)
			}
			for i := range got {
				if !slices.Equal(got[i], tt.wantSets[i]) {
					t.Errorf("clusters = %v, want %v", got, tt.wantSets)
				}
			}
		})
	}
}

func TestConnector_ChecksEditedConnections(t *testing.T) {
	metric := world(50)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 2}

	// Cell 1 lists a near cell without the reciprocal entry, a far cell, a
	// full cell and itself. Only the bond to the near cell survives.
	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Some(vec(5, 5)), Connections: description.Changed([]uint64{1, 2, 3, 4})})
	data.AddCluster(description.Cell{ID: 2, Pos: description.Some(vec(6, 5))})
	data.AddCluster(description.Cell{ID: 3, Pos: description.Some(vec(20, 20))})
	data.AddCluster(
		description.Cell{ID: 4, Pos: description.Some(vec(5, 6)), MaxConnections: description.Some(1), Connections: description.Some([]uint64{5})},
		description.Cell{ID: 5, Pos: description.Some(vec(5, 7)), Connections: description.Some([]uint64{4})},
	)

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := findCell(t, &data, 1).Connections.Value(); !slices.Equal(got, []uint64{2}) {
		t.Errorf("cell 1 connections = %v, want [2]", got)
	}
	if got := findCell(t, &data, 4).Connections.Value(); !slices.Equal(got, []uint64{5}) {
		t.Errorf("full cell 4 connections = %v, want [5]", got)
	}
	checkInvariants(t, &data, metric, cfg)
}

func TestConnector_EditedConnectionToMissingCell(t *testing.T) {
	metric := world(10)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Some(vec(1, 1)), Connections: description.Changed([]uint64{42})})

	if err := Reconnect(&data, metric, cfg); !errors.Is(err, ErrDanglingCell) {
		t.Fatalf("expected ErrDanglingCell, got %v", err)
	}
}

func TestConnector_DanglingBondIsFatal(t *testing.T) {
	metric := world(10)
	cfg := Config{MaxDistance: 1.5, DefaultMaxConnections: 4}

	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Pos: description.Changed(vec(1, 1)), Connections: description.Some([]uint64{42})})

	err := Reconnect(&data, metric, cfg)
	if !errors.Is(err, ErrDanglingCell) {
		t.Fatalf("expected ErrDanglingCell, got %v", err)
	}
}

func TestPartition_DanglingBondIsFatal(t *testing.T) {
	var data description.Data
	data.AddCluster(description.Cell{ID: 1, Connections: description.Changed([]uint64{7})})

	if err := Partition(&data); !errors.Is(err, ErrDanglingCell) {
		t.Fatalf("expected ErrDanglingCell, got %v", err)
	}
}

func TestPartition_UnaffectedClustersKept(t *testing.T) {
	var data description.Data
	data.AddCluster(description.Cell{ID: 1}, description.Cell{ID: 2})
	data.AddCluster(description.Cell{ID: 3})

	if err := Partition(&data); err != nil {
		t.Fatalf("partition: %v", err)
	}
	if len(data.Clusters) != 2 || len(data.Clusters[0].Cells) != 2 {
		t.Errorf("clusters without modified bonds must stay as they are: %v", clusterSets(&data))
	}
}

func TestPartition_MergesAcrossClusters(t *testing.T) {
	var data description.Data
	data.AddCluster(
		description.Cell{ID: 1, Connections: description.Changed([]uint64{3})},
		description.Cell{ID: 2},
	)
	data.AddCluster(
		description.Cell{ID: 3, Connections: description.Some([]uint64{1, 4})},
		description.Cell{ID: 4, Connections: description.Some([]uint64{3})},
	)
	data.AddCluster(description.Cell{ID: 5})

	if err := Partition(&data); err != nil {
		t.Fatalf("partition: %v", err)
	}

	got := clusterSets(&data)
	want := [][]uint64{{1, 3, 4}, {2}, {5}}
	if len(got) != len(want) {
		t.Fatalf("clusters = %v, want %v", got, want)
	}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("clusters = %v, want %v", got, want)
			break
		}
	}
	if data.Clusters[0].Cells[0].ID != 5 {
		t.Error("untouched cluster should come first")
	}
}

func TestPartition_LongChainIterative(t *testing.T) {
	const n = 200000
	cells := make([]description.Cell, n)
	for i := range cells {
		var conns []uint64
		if i > 0 {
			conns = append(conns, uint64(i-1))
		}
		if i < n-1 {
			conns = append(conns, uint64(i+1))
		}
		cells[i] = description.Cell{ID: uint64(i), Connections: description.Changed(conns)}
	}
	var data description.Data
	data.AddCluster(cells...)

	if err := Partition(&data); err != nil {
		t.Fatalf("partition: %v", err)
	}
	if len(data.Clusters) != 1 || len(data.Clusters[0].Cells) != n {
		t.Errorf("expected a single cluster of %d cells", n)
	}
}

func randomData(rng *rand.Rand, n int, size float64) description.Data {
	var data description.Data
	for i := 0; i < n; i++ {
		cell := description.Cell{
			ID:  uint64(i + 1),
			Pos: description.Changed(vec(rng.Float64()*size, rng.Float64()*size)),
		}
		if rng.Intn(3) == 0 {
			cell.MaxConnections = description.Some(rng.Intn(4))
		}
		data.AddCluster(cell)
	}
	return data
}

func TestReconnect_Properties(t *testing.T) {
	tests := []struct {
		name  string
		cells int
		size  int
		cfg   Config
	}{
		{"sparse", 200, 64, Config{MaxDistance: 1.5, DefaultMaxConnections: 4}},
		{"dense", 400, 16, Config{MaxDistance: 1.3, DefaultMaxConnections: 3}},
		{"long reach", 150, 30, Config{MaxDistance: 3.2, DefaultMaxConnections: 6}},
		{"tiny world", 30, 3, Config{MaxDistance: 2.5, DefaultMaxConnections: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			metric := world(tt.size)
			data := randomData(rng, tt.cells, float64(tt.size))

			if err := Reconnect(&data, metric, tt.cfg); err != nil {
				t.Fatalf("reconnect: %v", err)
			}
			checkInvariants(t, &data, metric, tt.cfg)
			if data.CellCount() != tt.cells {
				t.Fatalf("lost cells: %d of %d", data.CellCount(), tt.cells)
			}

			// Move a subset and reconcile again.
			for ci := range data.Clusters {
				for k := range data.Clusters[ci].Cells {
					cell := &data.Clusters[ci].Cells[k]
					cell.ClearModified()
					if rng.Intn(4) == 0 {
						cell.Pos.Set(vec(rng.Float64()*float64(tt.size), rng.Float64()*float64(tt.size)))
					}
				}
			}
			if err := Reconnect(&data, metric, tt.cfg); err != nil {
				t.Fatalf("second reconnect: %v", err)
			}
			checkInvariants(t, &data, metric, tt.cfg)
		})
	}
}

func TestReconnect_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	metric := world(32)
	cfg := Config{MaxDistance: 1.8, DefaultMaxConnections: 3}
	data := randomData(rng, 300, 32)

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	firstBonds := bondSet(&data)
	firstClusters := clusterSets(&data)

	// No position changes in between; connection flags stay set so the
	// partitioner regroups every cluster again.
	for ci := range data.Clusters {
		for k := range data.Clusters[ci].Cells {
			data.Clusters[ci].Cells[k].Pos.ClearModified()
		}
	}

	if err := Reconnect(&data, metric, cfg); err != nil {
		t.Fatalf("second reconnect: %v", err)
	}

	if secondBonds := bondSet(&data); len(secondBonds) != len(firstBonds) {
		t.Fatalf("bond count changed: %d -> %d", len(firstBonds), len(secondBonds))
	} else {
		for b := range firstBonds {
			if !secondBonds[b] {
				t.Errorf("bond %v disappeared", b)
			}
		}
	}

	secondClusters := clusterSets(&data)
	if len(secondClusters) != len(firstClusters) {
		t.Fatalf("cluster count changed: %d -> %d", len(firstClusters), len(secondClusters))
	}
	for i := range firstClusters {
		if !slices.Equal(firstClusters[i], secondClusters[i]) {
			t.Errorf("cluster %d changed: %v -> %v", i, firstClusters[i], secondClusters[i])
		}
	}
}
