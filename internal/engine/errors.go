package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by calls made after the worker stopped or
	// while it is stopping.
	ErrShutdown = errors.New("engine: worker shut down")

	ErrNotStarted = errors.New("engine: worker not started")

	ErrAlreadyStarted = errors.New("engine: worker already started")
)

// FatalError terminates the worker. The kernel state can no longer be
// trusted, so nothing is retried.
type FatalError struct {
	Op       string
	Timestep uint64
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("engine: %s at timestep %d: %v", e.Op, e.Timestep, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
