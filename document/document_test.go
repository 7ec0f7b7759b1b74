package document

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piramidhq/piramid/metadata"
	"github.com/piramidhq/piramid/quantization"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{
			name: "Full",
			doc: Document{
				ID:     uuid.New(),
				Vector: []float32{1, 0, -0.5, 0.25},
				Text:   "hello world",
				Metadata: metadata.Metadata{
					"lang": metadata.String("en"),
					"year": metadata.Int(2021),
				},
			},
		},
		{
			name: "EmptyTextAndMetadata",
			doc: Document{
				ID:     uuid.New(),
				Vector: []float32{0.5, 0.5},
			},
		},
		{
			name: "SingleDim",
			doc: Document{
				ID:     uuid.New(),
				Vector: []float32{42},
				Text:   "x",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Encode(tt.doc, quantization.KindNone)
			require.NoError(t, err)
			assert.Len(t, rec, EncodedSize(len(tt.doc.Vector), len(tt.doc.Text), metaLen(t, tt.doc.Metadata), quantization.KindNone))

			back, err := Decode(rec)
			require.NoError(t, err)
			assert.True(t, tt.doc.Equal(back), "got %+v", back)
		})
	}
}

func metaLen(t *testing.T, m metadata.Metadata) int {
	t.Helper()
	if len(m) == 0 {
		return 0
	}
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	return len(b)
}

func TestEncodeDecodeQuantized(t *testing.T) {
	doc := Document{
		ID:     uuid.New(),
		Vector: []float32{1, -2, 3, -4},
		Text:   "q",
	}

	rec, err := Encode(doc, quantization.KindInt8)
	require.NoError(t, err)

	back, err := Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, back.ID)
	assert.Equal(t, doc.Text, back.Text)
	require.Len(t, back.Vector, len(doc.Vector))
	for i := range doc.Vector {
		assert.InDelta(t, doc.Vector[i], back.Vector[i], 4.0/127+1e-6)
	}
}

func TestDecodeCorruption(t *testing.T) {
	doc := Document{ID: uuid.New(), Vector: []float32{1, 2, 3}, Text: "abc"}
	rec, err := Encode(doc, quantization.KindNone)
	require.NoError(t, err)

	t.Run("BadTag", func(t *testing.T) {
		bad := append([]byte(nil), rec...)
		bad[0] = 0x7f
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrBadTag)
	})

	t.Run("FlippedByte", func(t *testing.T) {
		bad := append([]byte(nil), rec...)
		bad[len(bad)/2] ^= 0xff
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrBadCRC)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := Decode(rec[:8])
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestEncodeLimits(t *testing.T) {
	doc := Document{
		ID:     uuid.New(),
		Vector: []float32{1},
		Text:   strings.Repeat("a", MaxTextLen+1),
	}
	_, err := Encode(doc, quantization.KindNone)
	assert.ErrorIs(t, err, ErrTextTooLong)
}

func TestDecodeID(t *testing.T) {
	doc := Document{ID: uuid.New(), Vector: []float32{1, 2}}
	rec, err := Encode(doc, quantization.KindNone)
	require.NoError(t, err)

	id, err := DecodeID(rec)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, id)
}
