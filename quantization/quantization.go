// Package quantization implements the per-vector scalar int8 codec used on
// the write path. Vectors are stored either raw (float32) or quantized with
// a single per-vector scale; every encoded payload carries a kind tag so the
// two encodings can never be confused on disk.
package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind tags the encoding of a vector payload.
type Kind uint8

const (
	// KindNone stores raw float32 values.
	KindNone Kind = 0
	// KindInt8 stores per-vector scalar int8 quantization.
	KindInt8 Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt8:
		return "int8"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses the textual quantization policy name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "none":
		return KindNone, nil
	case "int8":
		return KindInt8, nil
	default:
		return 0, fmt.Errorf("quantization: unknown kind %q", s)
	}
}

var (
	// ErrKindMismatch is returned when a payload's kind tag does not match
	// the expected codec.
	ErrKindMismatch = errors.New("quantization: payload kind mismatch")

	// ErrTruncated is returned for payloads shorter than their header claims.
	ErrTruncated = errors.New("quantization: truncated payload")
)

// scaleFloor avoids a zero scale for all-zero vectors.
const scaleFloor = 1e-9

// maxQ is the symmetric quantization range limit.
const maxQ = 127

// Quantize encodes v as int8 with a per-vector scale.
// scale = max(|v_i|)/127 (floored), q_i = round(v_i/scale) clamped to ±127.
func Quantize(v []float32) (scale float32, q []int8) {
	var amax float32
	for _, x := range v {
		a := x
		if a < 0 {
			a = -a
		}
		if a > amax {
			amax = a
		}
	}

	scale = amax / maxQ
	if scale < scaleFloor {
		scale = scaleFloor
	}

	q = make([]int8, len(v))
	for i, x := range v {
		r := math.Round(float64(x) / float64(scale))
		if r > maxQ {
			r = maxQ
		} else if r < -maxQ {
			r = -maxQ
		}
		q[i] = int8(r)
	}
	return scale, q
}

// Dequantize reconstructs the float32 view of a quantized vector.
func Dequantize(scale float32, q []int8) []float32 {
	v := make([]float32, len(q))
	for i, x := range q {
		v[i] = float32(x) * scale
	}
	return v
}

// Encode serializes v according to kind. The payload layout is:
//
//	[kind u8][if int8: scale f32, q[dim] i8 | else: v[dim] f32]
func Encode(kind Kind, v []float32) ([]byte, error) {
	switch kind {
	case KindNone:
		buf := make([]byte, 1+4*len(v))
		buf[0] = byte(KindNone)
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[1+4*i:], math.Float32bits(x))
		}
		return buf, nil

	case KindInt8:
		scale, q := Quantize(v)
		buf := make([]byte, 1+4+len(q))
		buf[0] = byte(KindInt8)
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(scale))
		for i, x := range q {
			buf[5+i] = byte(x)
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("quantization: cannot encode kind %v", kind)
	}
}

// Decode reconstructs the float32 vector from an encoded payload.
// dim must match the collection dimensionality.
func Decode(payload []byte, dim int) ([]float32, error) {
	if len(payload) < 1 {
		return nil, ErrTruncated
	}

	switch Kind(payload[0]) {
	case KindNone:
		if len(payload) != 1+4*dim {
			return nil, ErrTruncated
		}
		v := make([]float32, dim)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[1+4*i:]))
		}
		return v, nil

	case KindInt8:
		if len(payload) != 1+4+dim {
			return nil, ErrTruncated
		}
		scale := math.Float32frombits(binary.LittleEndian.Uint32(payload[1:]))
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(int8(payload[5+i])) * scale
		}
		return v, nil

	default:
		return nil, ErrKindMismatch
	}
}

// DecodedKind reports the kind tag of an encoded payload.
func DecodedKind(payload []byte) (Kind, error) {
	if len(payload) < 1 {
		return 0, ErrTruncated
	}
	k := Kind(payload[0])
	if k != KindNone && k != KindInt8 {
		return 0, ErrKindMismatch
	}
	return k, nil
}

// EncodedSize returns the payload size for a vector of the given dim.
func EncodedSize(kind Kind, dim int) int {
	if kind == KindInt8 {
		return 1 + 4 + dim
	}
	return 1 + 4*dim
}
