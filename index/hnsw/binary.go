package hnsw

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/piramidhq/piramid/index"
)

// Sidecar payload:
//
//	[M u32][efConstruction u32][efSearch u32]
//	[entry i64][maxLevel u32]
//	[node count uvarint]
//	  per node: [slot u32][level u32]
//	            per level 0..level: [n uvarint][neighbor u32 × n]
//	            [vector f32 × dim]
//	[tombstone bytes len uvarint][roaring bitmap]
//
// The graph structure is persisted verbatim — not rebuilt — so a loaded
// index answers identical queries with identical ef.

// Save implements index.Index.
func (h *HNSW) Save(w io.Writer) error {
	payload := make([]byte, 0, 1024)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(h.opts.M))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(h.opts.EFConstruction))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(h.opts.EFSearch))
	payload = binary.LittleEndian.AppendUint64(payload, uint64(h.entry))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(h.maxLevel))

	count := 0
	for _, n := range h.nodes {
		if n != nil {
			count++
		}
	}
	payload = binary.AppendUvarint(payload, uint64(count))

	for slot, n := range h.nodes {
		if n == nil {
			continue
		}
		payload = binary.LittleEndian.AppendUint32(payload, uint32(slot))
		payload = binary.LittleEndian.AppendUint32(payload, uint32(n.level))
		for l := 0; l <= int(n.level); l++ {
			payload = binary.AppendUvarint(payload, uint64(len(n.links[l])))
			for _, nb := range n.links[l] {
				payload = binary.LittleEndian.AppendUint32(payload, nb)
			}
		}
		for _, x := range h.vectors[slot] {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(x))
		}
	}

	tomb, err := h.tombstones.ToBytes()
	if err != nil {
		return err
	}
	payload = binary.AppendUvarint(payload, uint64(len(tomb)))
	payload = append(payload, tomb...)

	return index.WriteSidecar(w, index.KindHNSW, h.opts.Dim, payload)
}

// Load implements index.Index.
func (h *HNSW) Load(r io.Reader, dim int) error {
	payload, err := index.ReadSidecar(r, index.KindHNSW, dim)
	if err != nil {
		return err
	}
	h.opts.Dim = dim

	if len(payload) < 24 {
		return index.ErrBadSidecar
	}
	h.opts.M = int(binary.LittleEndian.Uint32(payload[0:]))
	h.opts.EFConstruction = int(binary.LittleEndian.Uint32(payload[4:]))
	h.opts.EFSearch = int(binary.LittleEndian.Uint32(payload[8:]))
	h.entry = int64(binary.LittleEndian.Uint64(payload[12:]))
	h.maxLevel = int(binary.LittleEndian.Uint32(payload[20:]))
	payload = payload[24:]

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return index.ErrBadSidecar
	}
	payload = payload[n:]

	h.nodes = nil
	h.vectors = nil
	h.live = 0

	for range count {
		if len(payload) < 8 {
			return index.ErrBadSidecar
		}
		slot := binary.LittleEndian.Uint32(payload)
		level := int(binary.LittleEndian.Uint32(payload[4:]))
		payload = payload[8:]

		nd := &node{level: int32(level), links: make([][]uint32, level+1)}
		for l := 0; l <= level; l++ {
			cnt, n := binary.Uvarint(payload)
			if n <= 0 || uint64(len(payload)-n) < cnt*4 {
				return index.ErrBadSidecar
			}
			payload = payload[n:]
			links := make([]uint32, cnt)
			for i := range links {
				links[i] = binary.LittleEndian.Uint32(payload[i*4:])
			}
			payload = payload[cnt*4:]
			nd.links[l] = links
		}

		if len(payload) < dim*4 {
			return index.ErrBadSidecar
		}
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		payload = payload[dim*4:]

		for int(slot) >= len(h.nodes) {
			h.nodes = append(h.nodes, nil)
			h.vectors = append(h.vectors, nil)
		}
		h.nodes[slot] = nd
		h.vectors[slot] = vec
		h.live++
	}

	tombLen, n := binary.Uvarint(payload)
	if n <= 0 || uint64(len(payload)-n) < tombLen {
		return index.ErrBadSidecar
	}
	payload = payload[n:]

	h.tombstones = roaring.New()
	if tombLen > 0 {
		if err := h.tombstones.UnmarshalBinary(payload[:tombLen]); err != nil {
			return index.ErrBadSidecar
		}
	}
	h.live -= h.Tombstones()

	h.mL = 1 / math.Log(float64(h.opts.M))
	return nil
}
