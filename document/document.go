// Package document defines the stored document model and its on-disk record
// codec. A record is fully self-contained: it carries the document id, the
// (optionally quantized) vector payload, the text, the metadata bytes and a
// trailing CRC32C over everything before it, so any byte range recovered
// from the data file can be verified and decoded in isolation.
package document

import (
	"github.com/google/uuid"

	"github.com/piramidhq/piramid/metadata"
)

// MaxTextLen bounds the UTF-8 text payload of a document.
const MaxTextLen = 64 * 1024

// Document is a stored vector document.
type Document struct {
	ID       uuid.UUID
	Vector   []float32
	Text     string
	Metadata metadata.Metadata
}

// Equal reports deep equality. Vectors are compared bit-exactly; callers
// comparing a quantized round-trip should compare within the codec bound
// instead.
func (d Document) Equal(o Document) bool {
	if d.ID != o.ID || d.Text != o.Text || len(d.Vector) != len(o.Vector) {
		return false
	}
	for i := range d.Vector {
		if d.Vector[i] != o.Vector[i] {
			return false
		}
	}
	return d.Metadata.Equal(o.Metadata)
}
