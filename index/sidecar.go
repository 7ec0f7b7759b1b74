package index

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/piramidhq/piramid/internal/hash"
)

// Shared sidecar framing for every index variant:
//
//	[magic "PIDX" u32][version u8][kind u8][dim u16][payload len u32]
//	[crc32c u32][payload]
const (
	sidecarMagic   = 0x50494458 // "PIDX"
	sidecarVersion = 1
)

// WriteSidecar frames an index payload for the given kind and dim.
func WriteSidecar(w io.Writer, kind Kind, dim int, payload []byte) error {
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:], sidecarMagic)
	hdr[4] = sidecarVersion
	hdr[5] = byte(kind)
	binary.LittleEndian.PutUint16(hdr[6:], uint16(dim))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[12:], hash.CRC32C(payload))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadSidecar reads and verifies a framed index payload, checking that the
// stored kind and dim match what the collection expects.
func ReadSidecar(r io.Reader, wantKind Kind, wantDim int) ([]byte, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSidecar, err)
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != sidecarMagic {
		return nil, ErrBadSidecar
	}
	if hdr[4] != sidecarVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSidecar, hdr[4])
	}
	if Kind(hdr[5]) != wantKind {
		return nil, fmt.Errorf("%w: kind %s, want %s", ErrBadSidecar, Kind(hdr[5]), wantKind)
	}
	if dim := int(binary.LittleEndian.Uint16(hdr[6:])); wantDim > 0 && dim != wantDim {
		return nil, fmt.Errorf("%w: dim %d, want %d", ErrBadSidecar, dim, wantDim)
	}

	payloadLen := binary.LittleEndian.Uint32(hdr[8:])
	wantCRC := binary.LittleEndian.Uint32(hdr[12:])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSidecar, err)
	}
	if hash.CRC32C(payload) != wantCRC {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadSidecar)
	}
	return payload, nil
}

// SidecarKind reads the kind byte from the header of a framed sidecar held
// in data. It checks the magic but not the checksum.
func SidecarKind(data []byte) (Kind, error) {
	if len(data) < 16 || binary.LittleEndian.Uint32(data[0:]) != sidecarMagic {
		return 0, ErrBadSidecar
	}
	return Kind(data[5]), nil
}
