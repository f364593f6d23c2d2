// Package connectivity keeps the bond graph of a snapshot consistent after
// cells have been moved by an external edit.
//
// A reconciliation pass has three stages, each rebuilt from scratch per call:
//
//   - [BuildIndex]: spatial hash from grid cell to the cell IDs inside it
//   - [Connector.Update]: drops the bonds of moved cells, then rebonds them
//     to neighbours within the maximum bonding distance
//   - [Partition]: regroups clusters whose bonds changed into connected
//     components
//
// [Reconnect] runs the three in order.
//
// # Invariants
//
// After a successful pass every bond is symmetric, no cell bonds to itself,
// no cell exceeds its capacity, every bonded pair lies within the maximum
// bonding distance under the boundary metric, and every cell belongs to
// exactly one cluster.
//
// A bond naming a cell that is missing from the snapshot is reported as
// [ErrDanglingCell]. It means the snapshot was already inconsistent and is
// not repaired here.
package connectivity
