package document

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/piramidhq/piramid/internal/hash"
	"github.com/piramidhq/piramid/quantization"
)

// Record layout (little-endian):
//
//	[u8  record_tag = 0x01]
//	[u128 id]
//	[u32 flags]                // bit0 = quantized
//	[u16 dim]
//	[vector payload]           // quantization codec, kind byte stripped:
//	                           //   quantized: f32 scale + i8 q[dim]
//	                           //   raw:       f32 v[dim]
//	[u32 text_len][text]
//	[u32 meta_len][meta bytes] // metadata binary codec
//	[u32 crc32c of all above]

// RecordTag identifies a document record.
const RecordTag = 0x01

// FlagQuantized marks a record whose vector payload is int8 quantized.
const FlagQuantized = 1 << 0

var (
	// ErrBadTag is returned when a record does not start with RecordTag.
	ErrBadTag = errors.New("document: bad record tag")

	// ErrBadCRC is returned when the trailing checksum does not match.
	ErrBadCRC = errors.New("document: record checksum mismatch")

	// ErrTruncated is returned when the buffer ends before the record does.
	ErrTruncated = errors.New("document: truncated record")

	// ErrTextTooLong is returned when the text exceeds MaxTextLen.
	ErrTextTooLong = errors.New("document: text too long")
)

const headerLen = 1 + 16 + 4 + 2

// EncodedSize returns the record size for a document of the given shape.
func EncodedSize(dim int, textLen int, metaLen int, quant quantization.Kind) int {
	vecLen := 4 * dim
	if quant == quantization.KindInt8 {
		vecLen = 4 + dim
	}
	return headerLen + vecLen + 4 + textLen + 4 + metaLen + 4
}

// Encode serializes doc into a self-checking record.
func Encode(doc Document, quant quantization.Kind) ([]byte, error) {
	if len(doc.Text) > MaxTextLen {
		return nil, fmt.Errorf("%w (%d > %d)", ErrTextTooLong, len(doc.Text), MaxTextLen)
	}
	if err := doc.Metadata.Validate(); err != nil {
		return nil, err
	}

	metaBytes, err := doc.Metadata.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(doc.Metadata) == 0 {
		metaBytes = nil
	}

	dim := len(doc.Vector)
	buf := make([]byte, 0, EncodedSize(dim, len(doc.Text), len(metaBytes), quant))

	buf = append(buf, RecordTag)
	buf = append(buf, doc.ID[:]...)

	var flags uint32
	if quant == quantization.KindInt8 {
		flags |= FlagQuantized
	}
	buf = binary.LittleEndian.AppendUint32(buf, flags)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(dim))

	payload, err := quantization.Encode(quant, doc.Vector)
	if err != nil {
		return nil, err
	}
	// The flags bit already records the encoding; drop the codec's kind byte.
	buf = append(buf, payload[1:]...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(doc.Text)))
	buf = append(buf, doc.Text...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(metaBytes)))
	buf = append(buf, metaBytes...)

	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32C(buf))
	return buf, nil
}

// Decode parses and verifies a record. The returned document's vector is the
// dequantized float32 view.
func Decode(data []byte) (Document, error) {
	var doc Document

	if len(data) < headerLen+4+4+4 {
		return doc, ErrTruncated
	}
	if data[0] != RecordTag {
		return doc, ErrBadTag
	}

	// Verify the trailing checksum before trusting any length field.
	body := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if hash.CRC32C(body) != want {
		return doc, ErrBadCRC
	}

	off := 1
	doc.ID = uuid.UUID(data[off : off+16])
	off += 16

	flags := binary.LittleEndian.Uint32(data[off:])
	off += 4
	dim := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	quant := quantization.KindNone
	vecLen := 4 * dim
	if flags&FlagQuantized != 0 {
		quant = quantization.KindInt8
		vecLen = 4 + dim
	}
	if len(body) < off+vecLen+4 {
		return doc, ErrTruncated
	}

	// Re-prefix the codec kind byte stripped by Encode.
	payload := make([]byte, 1+vecLen)
	payload[0] = byte(quant)
	copy(payload[1:], body[off:off+vecLen])
	off += vecLen

	vec, err := quantization.Decode(payload, dim)
	if err != nil {
		return doc, err
	}
	doc.Vector = vec

	textLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if textLen > MaxTextLen || len(body) < off+textLen+4 {
		return doc, ErrTruncated
	}
	doc.Text = string(body[off : off+textLen])
	off += textLen

	metaLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if len(body) != off+metaLen {
		return doc, ErrTruncated
	}
	if metaLen > 0 {
		if err := doc.Metadata.UnmarshalBinary(body[off : off+metaLen]); err != nil {
			return doc, err
		}
	}

	return doc, nil
}

// DecodeID extracts only the document id from a record without verifying the
// full checksum.
func DecodeID(data []byte) (uuid.UUID, error) {
	if len(data) < headerLen {
		return uuid.Nil, ErrTruncated
	}
	if data[0] != RecordTag {
		return uuid.Nil, ErrBadTag
	}
	return uuid.UUID(data[1:17]), nil
}
