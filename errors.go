package piramid

import (
	"context"
	"errors"
	"fmt"

	"github.com/piramidhq/piramid/collection"
	"github.com/piramidhq/piramid/document"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/metadata"
	"github.com/piramidhq/piramid/quantization"
	"github.com/piramidhq/piramid/storage"
	"github.com/piramidhq/piramid/wal"
)

var (
	// ErrInvalidName is returned for collection names outside the allowed
	// alphabet or length.
	ErrInvalidName = errors.New("piramid: invalid collection name")

	// ErrCollectionExists is returned by Create for a taken name.
	ErrCollectionExists = errors.New("piramid: collection already exists")

	// ErrCollectionNotFound is returned for unknown collection names.
	ErrCollectionNotFound = errors.New("piramid: collection not found")
)

// Kind buckets every engine error for callers that dispatch on class
// rather than identity (HTTP mappers, the CLI).
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindResource
	KindCorruption
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindResource:
		return "resource"
	case KindCorruption:
		return "corruption"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// KindOf classifies an error returned by any piramid API.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled

	case errors.Is(err, ErrCollectionNotFound),
		errors.Is(err, collection.ErrNotFound):
		return KindNotFound

	case errors.Is(err, ErrCollectionExists),
		errors.Is(err, collection.ErrDuplicateID):
		return KindConflict

	case errors.Is(err, collection.ErrLockTimeout),
		errors.Is(err, collection.ErrReadOnly):
		return KindResource

	case errors.Is(err, collection.ErrCorrupt),
		errors.Is(err, document.ErrBadCRC),
		errors.Is(err, document.ErrBadTag),
		errors.Is(err, document.ErrTruncated),
		errors.Is(err, wal.ErrInvalidCRC),
		errors.Is(err, wal.ErrBadHeader),
		errors.Is(err, storage.ErrBadSidecar),
		errors.Is(err, storage.ErrBadDescriptor),
		errors.Is(err, storage.ErrBadMagic),
		errors.Is(err, storage.ErrBadVersion),
		errors.Is(err, quantization.ErrKindMismatch),
		errors.Is(err, quantization.ErrTruncated),
		errors.Is(err, index.ErrBadSidecar):
		return KindCorruption

	case errors.Is(err, ErrInvalidName),
		errors.Is(err, collection.ErrInvalidK),
		errors.Is(err, collection.ErrInvalidVector),
		errors.Is(err, collection.ErrClosed),
		errors.Is(err, document.ErrTextTooLong),
		errors.Is(err, metadata.ErrBadKind):
		return KindValidation
	}

	var corr *collection.ErrCorruption
	if errors.As(err, &corr) {
		return KindCorruption
	}
	var dim *collection.ErrDimensionMismatch
	if errors.As(err, &dim) {
		return KindConflict
	}
	var idim *index.ErrDimensionMismatch
	if errors.As(err, &idim) {
		return KindConflict
	}
	return KindInternal
}

// Exit-code convention for the CLI collaborator.
const (
	ExitOK        = 0
	ExitUsage     = 64
	ExitInternal  = 70
	ExitCorrupt   = 74
	ExitTemporary = 75
)

// ExitCode maps an error onto the CLI exit-code convention.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict:
		return ExitUsage
	case KindResource, KindCancelled:
		return ExitTemporary
	case KindCorruption:
		return ExitCorrupt
	default:
		return ExitInternal
	}
}

// translateError normalizes internal errors at the public API boundary.
// Typed errors pass through (they are part of the API); everything else is
// component-tagged so internal failures keep their context.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) == KindInternal {
		return fmt.Errorf("piramid: internal: %w", err)
	}
	return err
}
