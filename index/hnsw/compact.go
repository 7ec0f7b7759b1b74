package hnsw

import "github.com/RoaringBitmap/roaring/v2"

// Rebuild compacts the graph: live vectors are re-inserted into a fresh
// graph and tombstoned nodes are dropped for good. Slots are preserved, so
// the offset map stays untouched.
func (h *HNSW) Rebuild() {
	type liveVec struct {
		slot uint32
		vec  []float32
	}

	lives := make([]liveVec, 0, h.live)
	for slot, n := range h.nodes {
		if n == nil || h.tombstones.Contains(uint32(slot)) {
			continue
		}
		lives = append(lives, liveVec{slot: uint32(slot), vec: h.vectors[slot]})
	}

	h.nodes = nil
	h.vectors = nil
	h.entry = -1
	h.maxLevel = 0
	h.live = 0
	h.tombstones = roaring.New()

	for _, lv := range lives {
		// Insert cannot fail here: dims were validated on first insert.
		_ = h.Insert(lv.slot, lv.vec)
	}
}
