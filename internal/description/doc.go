// Package description defines the data exchanged between the simulation
// worker and its callers.
//
// A [Data] value (a snapshot) holds clusters of cells plus free particles
// for a rectangular region of the world:
//
//   - [Cell]: smallest simulated entity with a position and bonds
//   - [Cluster]: one connected component of the bond graph
//   - [Particle]: free energy particle, never bonded
//
// # Tracked fields
//
// Every optional attribute is a [Field], which is either absent, present,
// or present and modified since the last reconciliation. Absent is not the
// same as the zero value: an absent field means "inherit or use the default".
// The connectivity engine relies on the modified state to decide which cells
// moved and which clusters need regrouping.
//
//	cell := description.Cell{
//		ID:  7,
//		Pos: description.Changed(description.RealVector{X: 3, Y: 4}),
//	}
//	if cell.Pos.IsModified() {
//		// rebond cell 7
//	}
//
// Snapshots are plain values. Use [Data.Clone] before handing one to another
// goroutine; connection lists are slices and would otherwise be shared.
package description
