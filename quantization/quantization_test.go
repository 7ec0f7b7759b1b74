package quantization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, dim := range []int{1, 4, 32, 384} {
		v := make([]float32, dim)
		var amax float32
		for i := range v {
			v[i] = rng.Float32()*20 - 10
			if a := float32(math.Abs(float64(v[i]))); a > amax {
				amax = a
			}
		}

		scale, q := Quantize(v)
		back := Dequantize(scale, q)
		require.Len(t, back, dim)

		// ‖dequantize(quantize(v)) − v‖∞ ≤ max|v|/127 + ε
		bound := float64(amax)/127 + 1e-6
		for i := range v {
			assert.LessOrEqual(t, math.Abs(float64(back[i]-v[i])), bound,
				"dim=%d i=%d v=%v back=%v", dim, i, v[i], back[i])
		}
	}
}

func TestQuantizeZeroVector(t *testing.T) {
	scale, q := Quantize(make([]float32, 8))
	assert.Greater(t, scale, float32(0))
	for _, x := range q {
		assert.Equal(t, int8(0), x)
	}

	back := Dequantize(scale, q)
	for _, x := range back {
		assert.Equal(t, float32(0), x)
	}
}

func TestQuantizeClamps(t *testing.T) {
	_, q := Quantize([]float32{100, -100, 50})
	for _, x := range q {
		assert.GreaterOrEqual(t, x, int8(-127))
		assert.LessOrEqual(t, x, int8(127))
	}
	assert.Equal(t, int8(127), q[0])
	assert.Equal(t, int8(-127), q[1])
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75, 0}

	t.Run("None", func(t *testing.T) {
		payload, err := Encode(KindNone, v)
		require.NoError(t, err)
		require.Len(t, payload, EncodedSize(KindNone, len(v)))

		kind, err := DecodedKind(payload)
		require.NoError(t, err)
		assert.Equal(t, KindNone, kind)

		back, err := Decode(payload, len(v))
		require.NoError(t, err)
		assert.Equal(t, v, back)
	})

	t.Run("Int8", func(t *testing.T) {
		payload, err := Encode(KindInt8, v)
		require.NoError(t, err)
		require.Len(t, payload, EncodedSize(KindInt8, len(v)))

		kind, err := DecodedKind(payload)
		require.NoError(t, err)
		assert.Equal(t, KindInt8, kind)

		back, err := Decode(payload, len(v))
		require.NoError(t, err)
		for i := range v {
			assert.InDelta(t, v[i], back[i], 3.75/127+1e-6)
		}
	})

	t.Run("KindsCannotCollide", func(t *testing.T) {
		raw, err := Encode(KindNone, v)
		require.NoError(t, err)
		q8, err := Encode(KindInt8, v)
		require.NoError(t, err)
		assert.NotEqual(t, raw[0], q8[0])
	})

	t.Run("Truncated", func(t *testing.T) {
		payload, err := Encode(KindInt8, v)
		require.NoError(t, err)

		_, err = Decode(payload[:len(payload)-1], len(v))
		assert.ErrorIs(t, err, ErrTruncated)

		_, err = Decode(nil, len(v))
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("BadKind", func(t *testing.T) {
		payload := []byte{0xEE, 0, 0, 0, 0}
		_, err := Decode(payload, 1)
		assert.ErrorIs(t, err, ErrKindMismatch)
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("int8")
	require.NoError(t, err)
	assert.Equal(t, KindInt8, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindNone, k)

	_, err = ParseKind("pq")
	assert.Error(t, err)
}
