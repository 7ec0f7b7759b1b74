// Package wal implements the per-collection write-ahead log.
//
// Every mutation is appended to the log before its in-memory effects become
// visible. Records are length-prefixed and CRC32C-framed; replay after a
// crash applies everything past the last Checkpoint marker. Truncation only
// happens immediately after a checkpoint has been flushed.
package wal

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RecordType identifies the type of a WAL record.
type RecordType uint8

const (
	// RecordInsert logs a new document (id + encoded record).
	RecordInsert RecordType = 1
	// RecordUpdate logs a replacement document (id + encoded record).
	RecordUpdate RecordType = 2
	// RecordDelete logs a removal (id only).
	RecordDelete RecordType = 3
	// RecordCheckpoint marks a durable snapshot; replay starts after the
	// last one.
	RecordCheckpoint RecordType = 4
)

// Record is a single WAL entry.
type Record struct {
	LSN  uint64
	Type RecordType
	ID   uuid.UUID

	// Doc is the encoded document record for Insert/Update.
	Doc []byte

	// Checkpoint fields.
	HighWater     uint64 // data file high-water offset at checkpoint time
	OffsetsDigest uint32 // CRC32C of the serialized offset map
	IndexDigest   uint32 // CRC32C of the serialized ANN sidecar
}

// SyncPolicy controls when appended records are fsynced.
type SyncPolicy uint8

const (
	// SyncHighDurability fsyncs after every record.
	SyncHighDurability SyncPolicy = iota
	// SyncBatched fsyncs after BatchMaxOps records or BatchInterval,
	// whichever comes first, and always on checkpoint.
	SyncBatched
	// SyncOff leaves durability to the OS page cache. For tests and
	// throughput benchmarks.
	SyncOff
)

func (p SyncPolicy) String() string {
	switch p {
	case SyncHighDurability:
		return "high_durability"
	case SyncBatched:
		return "batched"
	case SyncOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseSyncPolicy parses the textual policy name.
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch s {
	case "", "high_durability":
		return SyncHighDurability, nil
	case "batched":
		return SyncBatched, nil
	case "off":
		return SyncOff, nil
	default:
		return 0, errors.New("wal: unknown sync policy " + s)
	}
}

// Options configures a WAL.
type Options struct {
	// Policy selects the fsync behavior. Default SyncHighDurability.
	Policy SyncPolicy

	// BatchMaxOps triggers a sync after this many records in SyncBatched
	// mode. Default 64.
	BatchMaxOps int

	// BatchInterval is the background sync period in SyncBatched mode.
	// Default 10ms.
	BatchInterval time.Duration

	// Compress enables zstd stream compression of the log body.
	Compress bool
}

// DefaultOptions returns the default WAL options.
var DefaultOptions = Options{
	Policy:        SyncHighDurability,
	BatchMaxOps:   64,
	BatchInterval: 10 * time.Millisecond,
}

var (
	// ErrInvalidCRC is returned when a record fails its checksum.
	ErrInvalidCRC = errors.New("wal: invalid record checksum")
	// ErrInvalidType is returned for an unknown record type byte.
	ErrInvalidType = errors.New("wal: invalid record type")
	// ErrShortRead is returned when a record body ends early.
	ErrShortRead = errors.New("wal: short read")
	// ErrRecordTooLarge guards against absurd length prefixes.
	ErrRecordTooLarge = errors.New("wal: record too large")
	// ErrBadHeader is returned when the file header is unrecognized.
	ErrBadHeader = errors.New("wal: bad file header")
	// ErrClosed is returned for operations on a closed WAL.
	ErrClosed = errors.New("wal: closed")
)
