// Package index defines the pluggable ANN index abstraction. Variants are
// keyed by the collection's dense slot ids and return raw distances; exact
// rescoring and filtering happen above this boundary, so implementations are
// free to approximate.
package index

import (
	"errors"
	"fmt"
	"io"
)

// Kind identifies an index variant.
type Kind uint8

const (
	KindFlat Kind = 1
	KindHNSW Kind = 2
	KindIVF  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindHNSW:
		return "hnsw"
	case KindIVF:
		return "ivf"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Policy is the configured index selection policy.
type Policy uint8

const (
	PolicyAuto Policy = iota
	PolicyFlat
	PolicyHNSW
	PolicyIVF
)

func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyFlat:
		return "flat"
	case PolicyHNSW:
		return "hnsw"
	case PolicyIVF:
		return "ivf"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// ParsePolicy parses the textual policy name.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "auto":
		return PolicyAuto, nil
	case "flat":
		return PolicyFlat, nil
	case "hnsw":
		return PolicyHNSW, nil
	case "ivf":
		return PolicyIVF, nil
	default:
		return 0, fmt.Errorf("index: unknown policy %q", s)
	}
}

// Candidate is one search result: a slot and its raw distance
// (lower is better).
type Candidate struct {
	Slot     uint32
	Distance float32
}

// Visitor is an optional pre-filter callback. Returning false excludes the
// slot from results (it may still be traversed for graph connectivity).
type Visitor func(slot uint32) bool

// Index is the capability set every variant implements.
//
// Implementations are not internally synchronized: the collection holds its
// write lock across mutations and its read lock across searches.
type Index interface {
	// Kind identifies the variant.
	Kind() Kind

	// Insert adds a vector under the given slot. Duplicate slots are
	// rejected; the collection composes Remove+Insert for replacement.
	Insert(slot uint32, vec []float32) error

	// Remove deletes (or tombstones) a slot, reporting whether it was
	// present.
	Remove(slot uint32) bool

	// Search returns up to k candidates for q, best first. override
	// replaces the variant's search-width default (ef for HNSW, nprobe for
	// IVF) when positive; visitor optionally pre-filters candidates.
	Search(q []float32, k int, override int, visitor Visitor) ([]Candidate, error)

	// Len returns the number of live (non-tombstoned) slots.
	Len() int

	// Save serializes the index to w.
	Save(w io.Writer) error

	// Load replaces the index contents from r, verifying dim.
	Load(r io.Reader, dim int) error

	// MemoryUsage returns best-effort resident bytes.
	MemoryUsage() int64
}

var (
	// ErrDuplicateSlot is returned when inserting an already-present slot.
	ErrDuplicateSlot = errors.New("index: duplicate slot")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("index: k must be positive")

	// ErrBadSidecar is returned for unreadable index sidecars.
	ErrBadSidecar = errors.New("index: bad sidecar")
)

// ErrDimensionMismatch indicates a vector/index dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("index: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckDim validates a vector length against the index dimensionality.
func CheckDim(expected int, vec []float32) error {
	if len(vec) != expected {
		return &ErrDimensionMismatch{Expected: expected, Actual: len(vec)}
	}
	return nil
}
