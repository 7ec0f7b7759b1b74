package wal

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/piramidhq/piramid/internal/hash"
)

// Frame layout (little-endian):
//
//	[crc32c u32][type u8][lsn u64][len u32][payload len bytes]
//
// The checksum covers type, lsn, len and payload. Payloads:
//
//	Insert/Update: [id 16][encoded document record]
//	Delete:        [id 16]
//	Checkpoint:    [high_water u64][offsets_digest u32][index_digest u32]

const frameHeaderLen = 4 + 1 + 8 + 4

// maxRecordLen bounds a single record (vector + text + metadata).
const maxRecordLen = 64 << 20

func encodePayload(r *Record) ([]byte, error) {
	switch r.Type {
	case RecordInsert, RecordUpdate:
		buf := make([]byte, 0, 16+len(r.Doc))
		buf = append(buf, r.ID[:]...)
		buf = append(buf, r.Doc...)
		return buf, nil
	case RecordDelete:
		return append([]byte(nil), r.ID[:]...), nil
	case RecordCheckpoint:
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint64(buf[0:], r.HighWater)
		binary.LittleEndian.PutUint32(buf[8:], r.OffsetsDigest)
		binary.LittleEndian.PutUint32(buf[12:], r.IndexDigest)
		return buf, nil
	default:
		return nil, ErrInvalidType
	}
}

func decodePayload(r *Record, payload []byte) error {
	switch r.Type {
	case RecordInsert, RecordUpdate:
		if len(payload) < 16 {
			return ErrShortRead
		}
		r.ID = uuid.UUID(payload[:16])
		r.Doc = append([]byte(nil), payload[16:]...)
		return nil
	case RecordDelete:
		if len(payload) != 16 {
			return ErrShortRead
		}
		r.ID = uuid.UUID(payload)
		return nil
	case RecordCheckpoint:
		if len(payload) != 16 {
			return ErrShortRead
		}
		r.HighWater = binary.LittleEndian.Uint64(payload[0:])
		r.OffsetsDigest = binary.LittleEndian.Uint32(payload[8:])
		r.IndexDigest = binary.LittleEndian.Uint32(payload[12:])
		return nil
	default:
		return ErrInvalidType
	}
}

// encodeFrame writes one framed record to w.
func encodeFrame(w io.Writer, r *Record) error {
	payload, err := encodePayload(r)
	if err != nil {
		return err
	}
	if len(payload) > maxRecordLen {
		return ErrRecordTooLarge
	}

	header := make([]byte, frameHeaderLen)
	header[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(header[5:], r.LSN)
	binary.LittleEndian.PutUint32(header[13:], uint32(len(payload)))

	crc := hash.NewCRC32C()
	crc.Write(header[4:])
	crc.Write(payload)
	binary.LittleEndian.PutUint32(header[0:], crc.Sum32())

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// decodeFrame reads one framed record from rd. It returns io.EOF at a clean
// end of stream and io.ErrUnexpectedEOF for a torn trailing record.
func decodeFrame(rd io.Reader, r *Record) error {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(rd, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.ErrUnexpectedEOF
		}
		return err // io.EOF at a frame boundary is a clean end
	}

	want := binary.LittleEndian.Uint32(header[0:])
	r.Type = RecordType(header[4])
	r.LSN = binary.LittleEndian.Uint64(header[5:])
	length := binary.LittleEndian.Uint32(header[13:])

	if length > maxRecordLen {
		return ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(rd, payload); err != nil {
		return io.ErrUnexpectedEOF
	}

	crc := hash.NewCRC32C()
	crc.Write(header[4:])
	crc.Write(payload)
	if crc.Sum32() != want {
		return ErrInvalidCRC
	}

	return decodePayload(r, payload)
}
