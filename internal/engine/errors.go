package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrNoActiveRun is returned when stopping a room with nothing
	// running.
	ErrNoActiveRun = errors.New("engine: no active run")
)
