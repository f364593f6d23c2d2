package connectivity

import "errors"

// ErrDanglingCell indicates a bond referencing a cell that is not part of the snapshot.
var ErrDanglingCell = errors.New("connectivity: bond references unknown cell")
