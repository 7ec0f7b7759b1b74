package metadata

import (
	"encoding/binary"
	"errors"
	"math"
)

// Binary codec for metadata documents. The encoding is self-describing:
// every value carries its kind byte, strings and arrays are uvarint
// length-prefixed. Key order is not preserved (documents are unordered maps).

var (
	// ErrShortBuffer is returned when the input ends mid-value.
	ErrShortBuffer = errors.New("metadata: short buffer")

	// ErrBadKind is returned for an unknown kind byte.
	ErrBadKind = errors.New("metadata: invalid value kind")
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (m Metadata) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 8+len(m)*16)
	buf = binary.AppendUvarint(buf, uint64(len(m)))
	for k, v := range m {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = appendValue(buf, v)
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Metadata) UnmarshalBinary(data []byte) error {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return ErrShortBuffer
	}
	data = data[n:]

	out := make(Metadata, count)
	for range count {
		kLen, n := binary.Uvarint(data)
		if n <= 0 {
			return ErrShortBuffer
		}
		data = data[n:]
		if uint64(len(data)) < kLen {
			return ErrShortBuffer
		}
		key := string(data[:kLen])
		data = data[kLen:]

		v, rest, err := parseValue(data)
		if err != nil {
			return err
		}
		out[key] = v
		data = rest
	}

	*m = out
	return nil
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.I64))
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
	case KindString:
		buf = binary.AppendUvarint(buf, uint64(len(v.S)))
		buf = append(buf, v.S...)
	case KindArray:
		buf = binary.AppendUvarint(buf, uint64(len(v.A)))
		for _, e := range v.A {
			buf = appendValue(buf, e)
		}
	}
	return buf
}

func parseValue(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return Value{}, nil, ErrShortBuffer
	}
	kind := Kind(data[0])
	data = data[1:]

	switch kind {
	case KindNull:
		return Null(), data, nil

	case KindBool:
		if len(data) < 1 {
			return Value{}, nil, ErrShortBuffer
		}
		return Bool(data[0] != 0), data[1:], nil

	case KindInt:
		if len(data) < 8 {
			return Value{}, nil, ErrShortBuffer
		}
		return Int(int64(binary.LittleEndian.Uint64(data))), data[8:], nil

	case KindFloat:
		if len(data) < 8 {
			return Value{}, nil, ErrShortBuffer
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(data))), data[8:], nil

	case KindString:
		sLen, n := binary.Uvarint(data)
		if n <= 0 {
			return Value{}, nil, ErrShortBuffer
		}
		data = data[n:]
		if uint64(len(data)) < sLen {
			return Value{}, nil, ErrShortBuffer
		}
		return String(string(data[:sLen])), data[sLen:], nil

	case KindArray:
		aLen, n := binary.Uvarint(data)
		if n <= 0 {
			return Value{}, nil, ErrShortBuffer
		}
		data = data[n:]
		elems := make([]Value, 0, aLen)
		for range aLen {
			var (
				e   Value
				err error
			)
			e, data, err = parseValue(data)
			if err != nil {
				return Value{}, nil, err
			}
			elems = append(elems, e)
		}
		return Array(elems...), data, nil

	default:
		return Value{}, nil, ErrBadKind
	}
}
