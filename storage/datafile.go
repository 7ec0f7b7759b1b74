// Package storage implements the per-collection on-disk artifacts: the
// memory-mapped record store, the offset map sidecar and the collection
// descriptor.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/internal/mmap"
)

// Data file header (32 bytes, little-endian):
//
//	[magic "PRMD" u32][version u32][dim u16][metric u8][reserved u8]
//	[count hint u64][reserved 12]
const (
	dataMagic     = 0x50524d44 // "PRMD"
	dataVersion   = 1
	DataHeaderLen = 32
)

// Growth defaults per the data-file contract: double, with a 1 MiB floor.
const (
	DefaultGrowthFactor = 2.0
	growthFloor         = 1 << 20
)

var (
	// ErrBadMagic is returned when the file is not a piramid data file.
	ErrBadMagic = errors.New("storage: bad data file magic")
	// ErrBadVersion is returned for format versions this build cannot read.
	ErrBadVersion = errors.New("storage: unsupported data file version")
	// ErrOutOfBounds is returned for reads outside the written region.
	ErrOutOfBounds = errors.New("storage: read out of bounds")
)

// DataFile is the append-only, memory-mapped record store.
// Writers are serialized by the collection write lock; the only mutation is
// appending past the high-water mark and the header fields.
type DataFile struct {
	m            *mmap.File
	used         int64 // high-water offset; everything below is immutable
	growthFactor float64
}

// OpenDataFile opens or creates the data file at path.
func OpenDataFile(path string, growthFactor float64) (*DataFile, error) {
	if growthFactor < 1.1 {
		growthFactor = DefaultGrowthFactor
	}

	m, err := mmap.OpenFile(path, DataHeaderLen)
	if err != nil {
		return nil, err
	}

	d := &DataFile{m: m, used: DataHeaderLen, growthFactor: growthFactor}

	magic := binary.LittleEndian.Uint32(m.Data[0:])
	if magic == 0 {
		// Fresh file: stamp the header.
		binary.LittleEndian.PutUint32(m.Data[0:], dataMagic)
		binary.LittleEndian.PutUint32(m.Data[4:], dataVersion)
		return d, nil
	}
	if magic != dataMagic {
		_ = m.Close()
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(m.Data[4:]); v != dataVersion {
		_ = m.Close()
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	return d, nil
}

// Dim returns the dimensionality recorded in the header (0 until fixed).
func (d *DataFile) Dim() int {
	return int(binary.LittleEndian.Uint16(d.m.Data[8:]))
}

// SetDim records the collection dimensionality in the header.
func (d *DataFile) SetDim(dim int) {
	binary.LittleEndian.PutUint16(d.m.Data[8:], uint16(dim))
}

// Metric returns the metric recorded in the header.
func (d *DataFile) Metric() distance.Metric {
	return distance.Metric(d.m.Data[10])
}

// SetMetric records the metric in the header.
func (d *DataFile) SetMetric(m distance.Metric) {
	d.m.Data[10] = byte(m)
}

// CountHint returns the record-count hint from the header. It is advisory;
// the offset map is authoritative.
func (d *DataFile) CountHint() uint64 {
	return binary.LittleEndian.Uint64(d.m.Data[12:])
}

// SetCountHint updates the record-count hint.
func (d *DataFile) SetCountHint(n uint64) {
	binary.LittleEndian.PutUint64(d.m.Data[12:], n)
}

// HighWater returns the current append offset.
func (d *DataFile) HighWater() uint64 { return uint64(d.used) }

// SetHighWater restores the append offset after open/replay. The offset map
// (plus WAL replay) is the authority for where live data ends.
func (d *DataFile) SetHighWater(off uint64) error {
	if off < DataHeaderLen || off > uint64(d.m.Len()) {
		return ErrOutOfBounds
	}
	d.used = int64(off)
	return nil
}

// Append writes rec past the high-water mark, growing and remapping the
// file when needed, and returns the record's offset.
func (d *DataFile) Append(rec []byte) (uint64, error) {
	needed := d.used + int64(len(rec))
	if needed > d.m.Len() {
		newSize := int64(float64(d.m.Len()) * d.growthFactor)
		if newSize < needed {
			newSize = needed
		}
		if newSize < growthFloor {
			newSize = growthFloor
		}
		if err := d.m.Grow(newSize); err != nil {
			return 0, err
		}
	}

	off := d.used
	copy(d.m.Data[off:], rec)
	d.used = needed
	return uint64(off), nil
}

// ReadAt returns the raw bytes of the record at (off, length).
//
// The slice aliases the mapping and is valid only while the caller holds the
// collection read lock: a writer growing the file remaps and invalidates it.
func (d *DataFile) ReadAt(off uint64, length uint32) ([]byte, error) {
	end := off + uint64(length)
	if off < DataHeaderLen || end > uint64(d.used) {
		return nil, ErrOutOfBounds
	}
	return d.m.Data[off:end], nil
}

// Sync flushes the mapping to disk.
func (d *DataFile) Sync() error { return d.m.Sync() }

// Size returns the mapped file size in bytes.
func (d *DataFile) Size() int64 { return d.m.Len() }

// Shrink truncates the file to the high-water mark. Compaction only.
func (d *DataFile) Shrink() error {
	return d.m.Truncate(d.used)
}

// Close unmaps and closes the file.
func (d *DataFile) Close() error { return d.m.Close() }
