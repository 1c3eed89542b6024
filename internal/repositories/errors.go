package repositories

import "errors"

// Sentinel errors shared by every repository in this package. Callers match
// them with errors.Is; pgx-specific errors never cross the repository
// boundary.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
)
