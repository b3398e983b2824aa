package lde

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine and loop operations.
var (
	// ErrFatal is wrapped by every FatalError. A fatal error means the
	// engine state can no longer be trusted and the daemon must exit.
	ErrFatal = errors.New("fatal label distribution error")

	// ErrLoopStopped indicates the event loop is not running anymore.
	ErrLoopStopped = errors.New("event loop stopped")

	// ErrUnknownNeighbor indicates an event referenced a peer ID that has
	// no neighbor entry.
	ErrUnknownNeighbor = errors.New("unknown neighbor")

	// ErrDuplicateNeighbor indicates NeighborUp for a peer ID already known.
	ErrDuplicateNeighbor = errors.New("neighbor already exists")

	// ErrNotMultipoint indicates an MP2MP operation on a pseudowire FEC.
	ErrNotMultipoint = errors.New("fec cannot carry an mp2mp tree")
)

// FatalError reports a condition the engine cannot recover from: resource
// exhaustion or a collaborator handing over input that violates the
// interface contract (for example an unknown FEC type).
//
// The engine raises it with panic so that no partially applied event is
// ever observed; Loop.Run recovers it and returns it as an error.
type FatalError struct {
	Msg string
}

// Error implements error.
func (e *FatalError) Error() string {
	return e.Msg
}

// Unwrap lets errors.Is(err, ErrFatal) match.
func (e *FatalError) Unwrap() error {
	return ErrFatal
}

func fatalf(format string, args ...any) *FatalError {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// FEC database errors.
var (
	// ErrDuplicateFEC indicates an insert for a FEC that is already indexed.
	ErrDuplicateFEC = errors.New("fec already indexed")

	// ErrFECNotFound indicates a remove for a FEC that is not indexed.
	ErrFECNotFound = errors.New("fec not indexed")
)
