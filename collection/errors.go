package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown document id.
	ErrNotFound = errors.New("collection: not found")

	// ErrDuplicateID is returned by strict insert when the id exists.
	ErrDuplicateID = errors.New("collection: duplicate id")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("collection: k must be positive")

	// ErrInvalidVector is returned for NaN/Inf components or empty vectors.
	ErrInvalidVector = errors.New("collection: invalid vector")

	// ErrLockTimeout is returned when the per-collection lock cannot be
	// acquired within the configured bound.
	ErrLockTimeout = errors.New("collection: lock acquisition timed out")

	// ErrReadOnly is returned for writes while the collection is read-only
	// (low disk space or manual transition).
	ErrReadOnly = errors.New("collection: read-only")

	// ErrCorrupt is returned when the collection is in the Corrupt state.
	ErrCorrupt = errors.New("collection: corrupt")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("collection: closed")
)

// ErrDimensionMismatch indicates a vector that does not match the
// collection dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("collection: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrCorruption reports an unreadable on-disk artifact. The collection may
// still serve healthy ids (state Loaded) or be unusable (state Corrupt).
type ErrCorruption struct {
	File string
	Err  error
}

func (e *ErrCorruption) Error() string {
	return fmt.Sprintf("collection: corruption in %s: %v", e.File, e.Err)
}

func (e *ErrCorruption) Unwrap() error { return e.Err }
