package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/internal/hash"
	"github.com/piramidhq/piramid/quantization"
	"github.com/piramidhq/piramid/wal"
)

// Descriptor is the small versioned metadata file of a collection. It pins
// the facts every other artifact is interpreted against: dimensionality,
// metric, index variant, quantization and WAL policies.
type Descriptor struct {
	Name         string
	Dim          int
	Metric       distance.Metric
	IndexKind    uint8 // index.Kind; stored as a code to keep storage leaf-level
	Quantization quantization.Kind
	WALPolicy    wal.SyncPolicy

	Count          uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastCheckpoint time.Time
}

const (
	descMagic   = 0x50444553 // "PDES"
	descVersion = 1
)

// ErrBadDescriptor is returned when the descriptor cannot be read.
var ErrBadDescriptor = errors.New("storage: bad descriptor")

// Marshal serializes the descriptor with CRC framing.
func (d *Descriptor) Marshal() []byte {
	payload := make([]byte, 0, 64+len(d.Name))
	payload = binary.AppendUvarint(payload, uint64(len(d.Name)))
	payload = append(payload, d.Name...)
	payload = binary.LittleEndian.AppendUint16(payload, uint16(d.Dim))
	payload = append(payload, byte(d.Metric), d.IndexKind, byte(d.Quantization), byte(d.WALPolicy))
	payload = binary.LittleEndian.AppendUint64(payload, d.Count)
	payload = binary.LittleEndian.AppendUint64(payload, uint64(d.CreatedAt.UnixNano()))
	payload = binary.LittleEndian.AppendUint64(payload, uint64(d.UpdatedAt.UnixNano()))
	payload = binary.LittleEndian.AppendUint64(payload, uint64(d.LastCheckpoint.UnixNano()))

	buf := make([]byte, 0, 13+len(payload))
	buf = binary.LittleEndian.AppendUint32(buf, descMagic)
	buf = append(buf, descVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32C(payload))
	buf = append(buf, payload...)
	return buf
}

// UnmarshalDescriptor parses a descriptor written by Marshal. Unknown format
// versions are refused, never guessed at.
func UnmarshalDescriptor(data []byte) (*Descriptor, error) {
	if len(data) < 13 {
		return nil, ErrBadDescriptor
	}
	if binary.LittleEndian.Uint32(data[0:]) != descMagic {
		return nil, ErrBadDescriptor
	}
	if data[4] != descVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadDescriptor, data[4])
	}
	payloadLen := binary.LittleEndian.Uint32(data[5:])
	wantCRC := binary.LittleEndian.Uint32(data[9:])
	if uint32(len(data)-13) < payloadLen {
		return nil, ErrBadDescriptor
	}
	payload := data[13 : 13+payloadLen]
	if hash.CRC32C(payload) != wantCRC {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadDescriptor)
	}

	d := &Descriptor{}
	nameLen, n := binary.Uvarint(payload)
	if n <= 0 || uint64(len(payload)) < uint64(n)+nameLen+38 {
		return nil, ErrBadDescriptor
	}
	payload = payload[n:]
	d.Name = string(payload[:nameLen])
	payload = payload[nameLen:]

	d.Dim = int(binary.LittleEndian.Uint16(payload))
	d.Metric = distance.Metric(payload[2])
	d.IndexKind = payload[3]
	d.Quantization = quantization.Kind(payload[4])
	d.WALPolicy = wal.SyncPolicy(payload[5])
	payload = payload[6:]

	d.Count = binary.LittleEndian.Uint64(payload)
	d.CreatedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(payload[8:])))
	d.UpdatedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(payload[16:])))
	d.LastCheckpoint = time.Unix(0, int64(binary.LittleEndian.Uint64(payload[24:])))
	return d, nil
}

// SaveDescriptor writes the descriptor atomically (temp file + rename).
func SaveDescriptor(path string, d *Descriptor) error {
	return WriteFileAtomic(path, d.Marshal())
}

// LoadDescriptor reads and validates the descriptor at path.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalDescriptor(data)
}
