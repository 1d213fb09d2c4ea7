package interfaces

import "errors"

// Sentinel errors shared by all repository backends
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write observed a state
	// other than the one it required.
	ErrConflict = errors.New("conflicting state")
)
