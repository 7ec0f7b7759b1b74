// Package hnsw implements the Hierarchical Navigable Small World graph for
// approximate nearest neighbor search.
//
// Deletions are logical: the node is tombstoned and stays in the graph for
// connectivity until the tombstoned fraction crosses the rebuild threshold,
// at which point the graph is rebuilt from the live vectors. In-place graph
// surgery is deliberately avoided.
package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/internal/searcher"
	"github.com/piramidhq/piramid/internal/visited"
)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEFConstruction is the default construction beam width.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default search beam width.
	DefaultEFSearch = 100

	// DefaultRebuildThreshold is the tombstoned fraction that triggers a
	// rebuild.
	DefaultRebuildThreshold = 0.2

	minimumM = 2

	// rebuildFloor avoids rebuilding tiny graphs over and over.
	rebuildFloor = 256
)

// Options configures an HNSW index.
type Options struct {
	Dim    int
	Metric distance.Metric
	Mode   distance.Mode

	// M is the number of neighbors per node on levels above 0; level 0
	// allows 2M.
	M int

	// EFConstruction is the beam width used while linking a new node.
	EFConstruction int

	// EFSearch is the default beam width for queries; a per-query override
	// wins when positive.
	EFSearch int

	// RebuildThreshold is the tombstoned fraction that triggers compaction.
	RebuildThreshold float64

	// Seed fixes the level-sampling RNG for reproducible builds. Zero
	// seeds from the clock.
	Seed int64
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	Metric:           distance.MetricCosine,
	Mode:             distance.ModeAuto,
	M:                DefaultM,
	EFConstruction:   DefaultEFConstruction,
	EFSearch:         DefaultEFSearch,
	RebuildThreshold: DefaultRebuildThreshold,
}

type node struct {
	level int32
	links [][]uint32 // links[l] holds the out-edges on level l
}

// HNSW is the hierarchical graph. It is not internally synchronized; the
// collection's reader/writer lock provides the concurrency discipline.
type HNSW struct {
	opts   Options
	kernel distance.Kernel
	mL     float64
	rng    *rand.Rand

	nodes      []*node     // slot-indexed
	vectors    [][]float32 // slot-indexed
	entry      int64       // entry point slot, -1 when empty
	maxLevel   int
	live       int
	tombstones *roaring.Bitmap
}

var _ index.Index = (*HNSW)(nil)

// New creates an HNSW index.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}
	if opts.RebuildThreshold <= 0 {
		opts.RebuildThreshold = DefaultRebuildThreshold
	}

	kernel, err := distance.NewKernel(opts.Metric, opts.Mode)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &HNSW{
		opts:       opts,
		kernel:     kernel,
		mL:         1 / math.Log(float64(opts.M)),
		rng:        rand.New(rand.NewSource(seed)),
		entry:      -1,
		tombstones: roaring.New(),
	}, nil
}

// Kind implements index.Index.
func (h *HNSW) Kind() index.Kind { return index.KindHNSW }

// Len implements index.Index.
func (h *HNSW) Len() int { return h.live }

// Tombstones returns the number of tombstoned nodes still in the graph.
func (h *HNSW) Tombstones() int { return int(h.tombstones.GetCardinality()) }

func (h *HNSW) maxConns(level int) int {
	if level == 0 {
		return 2 * h.opts.M
	}
	return h.opts.M
}

func (h *HNSW) dist(q []float32, slot uint32) float32 {
	return h.kernel.Distance(q, h.vectors[slot])
}

func (h *HNSW) sampleLevel() int {
	u := h.rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * h.mL))
}

// Insert implements index.Index. Inserting into a tombstoned slot revives
// it with the new vector: the slot keeps its inbound edges and gets a fresh
// out-neighborhood, which is how updates reuse their slot.
func (h *HNSW) Insert(slot uint32, vec []float32) error {
	if err := index.CheckDim(h.opts.Dim, vec); err != nil {
		return err
	}

	if int(slot) < len(h.nodes) && h.nodes[slot] != nil && !h.tombstones.Contains(slot) {
		return index.ErrDuplicateSlot
	}

	for int(slot) >= len(h.nodes) {
		h.nodes = append(h.nodes, nil)
		h.vectors = append(h.vectors, nil)
	}

	cp := make([]float32, len(vec))
	copy(cp, vec)
	h.vectors[slot] = cp
	h.tombstones.Remove(slot)

	level := h.sampleLevel()
	n := &node{level: int32(level), links: make([][]uint32, level+1)}
	h.nodes[slot] = n

	if h.entry < 0 {
		h.entry = int64(slot)
		h.maxLevel = level
		h.live++
		return nil
	}

	h.link(slot, cp, level)
	h.live++

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = int64(slot)
	}
	return nil
}

// link walks the graph and wires the new node in at every level it spans.
func (h *HNSW) link(slot uint32, vec []float32, level int) {
	curr := uint32(h.entry)
	currDist := h.dist(vec, curr)

	// 1-best greedy descent above the node's top level.
	for l := h.maxLevel; l > level; l-- {
		curr, currDist = h.greedyStep(vec, curr, currDist, l)
	}

	vset := visited.New(len(h.nodes))

	for l := min(level, h.maxLevel); l >= 0; l-- {
		ranked := h.searchLayer(vec, curr, currDist, l, h.opts.EFConstruction, nil, vset)

		if len(ranked) > 0 {
			curr, currDist = ranked[0].Slot, ranked[0].Distance
		}

		m := h.maxConns(l)
		neighbors := h.selectNeighbors(ranked, m)
		h.nodes[slot].links[l] = neighbors

		for _, nb := range neighbors {
			h.addEdge(nb, slot, l)
		}
	}
}

// greedyStep repeatedly moves to the closest neighbor until no improvement.
func (h *HNSW) greedyStep(q []float32, curr uint32, currDist float32, level int) (uint32, float32) {
	for {
		improved := false
		n := h.nodes[curr]
		if int(n.level) >= level {
			for _, nb := range n.links[level] {
				if h.nodes[nb] == nil {
					continue
				}
				if d := h.dist(q, nb); d < currDist {
					curr, currDist = nb, d
					improved = true
				}
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

// searchLayer runs a beam search on one level and returns the kept
// candidates closest first. Tombstoned or filtered slots are traversed for
// connectivity but never enter the result set.
func (h *HNSW) searchLayer(q []float32, ep uint32, epDist float32, level, ef int, visitor index.Visitor, vset *visited.Set) []searcher.Candidate {
	vset.Reset()
	vset.Visit(ep)

	frontier := searcher.NewFrontier()
	results := searcher.NewTopK(ef)

	frontier.Add(ep, epDist)
	if h.eligible(ep, visitor) {
		results.Offer(ep, epDist)
	}

	for {
		curr, ok := frontier.Next()
		if !ok {
			break
		}

		if results.Full() {
			if worst, ok := results.WorstDistance(); ok && curr.Distance > worst {
				break
			}
		}

		n := h.nodes[curr.Slot]
		if n == nil || int(n.level) < level {
			continue
		}
		for _, nb := range n.links[level] {
			if vset.Visited(nb) || h.nodes[nb] == nil {
				continue
			}
			vset.Visit(nb)

			d := h.dist(q, nb)

			// Prune hopeless candidates once the beam is full — but only
			// without a filter, where dropping them cannot strand the walk
			// in an excluded region.
			if visitor == nil && results.Full() {
				if worst, ok := results.WorstDistance(); ok && d > worst {
					continue
				}
			}

			frontier.Add(nb, d)
			if h.eligible(nb, visitor) {
				results.Offer(nb, d)
			}
		}
	}

	return results.Ranked()
}

func (h *HNSW) eligible(slot uint32, visitor index.Visitor) bool {
	if h.tombstones.Contains(slot) {
		return false
	}
	return visitor == nil || visitor(slot)
}

// selectNeighbors applies the diversification heuristic over candidates
// ranked closest first: a candidate is discarded when it is closer to an
// already-selected neighbor than to the query node.
func (h *HNSW) selectNeighbors(ranked []searcher.Candidate, m int) []uint32 {
	if len(ranked) <= m {
		out := make([]uint32, len(ranked))
		for i, c := range ranked {
			out[i] = c.Slot
		}
		return out
	}

	selected := make([]uint32, 0, m)
	for _, cand := range ranked {
		if len(selected) >= m {
			break
		}
		good := true
		for _, s := range selected {
			if h.kernel.Distance(h.vectors[cand.Slot], h.vectors[s]) < cand.Distance {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, cand.Slot)
		}
	}

	// Backfill with the closest discarded candidates.
	if len(selected) < m {
		for _, cand := range ranked {
			if len(selected) >= m {
				break
			}
			already := false
			for _, s := range selected {
				if s == cand.Slot {
					already = true
					break
				}
			}
			if !already {
				selected = append(selected, cand.Slot)
			}
		}
	}

	return selected
}

// addEdge adds slot → target on level, pruning with the heuristic when the
// neighbor's out-list exceeds its cap.
func (h *HNSW) addEdge(slot, target uint32, level int) {
	n := h.nodes[slot]
	if n == nil || int(n.level) < level {
		return
	}

	for _, c := range n.links[level] {
		if c == target {
			return
		}
	}

	maxM := h.maxConns(level)
	if len(n.links[level]) < maxM {
		n.links[level] = append(n.links[level], target)
		return
	}

	// Over cap: rank current neighbors plus the newcomer and keep the best.
	src := h.vectors[slot]
	ranked := make([]searcher.Candidate, 0, len(n.links[level])+1)
	for _, c := range n.links[level] {
		ranked = append(ranked, searcher.Candidate{Slot: c, Distance: h.kernel.Distance(src, h.vectors[c])})
	}
	ranked = append(ranked, searcher.Candidate{Slot: target, Distance: h.kernel.Distance(src, h.vectors[target])})
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Distance < ranked[j].Distance })

	n.links[level] = h.selectNeighbors(ranked, maxM)
}

// Remove implements index.Index via tombstoning. Crossing the rebuild
// threshold compacts the graph.
func (h *HNSW) Remove(slot uint32) bool {
	if int(slot) >= len(h.nodes) || h.nodes[slot] == nil || h.tombstones.Contains(slot) {
		return false
	}
	h.tombstones.Add(slot)
	h.live--

	total := h.live + h.Tombstones()
	if total >= rebuildFloor && float64(h.Tombstones())/float64(total) > h.opts.RebuildThreshold {
		h.Rebuild()
	}
	return true
}

// Search implements index.Index.
func (h *HNSW) Search(q []float32, k int, override int, visitor index.Visitor) ([]index.Candidate, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if err := index.CheckDim(h.opts.Dim, q); err != nil {
		return nil, err
	}
	if h.entry < 0 || h.live == 0 {
		return nil, nil
	}

	ef := h.opts.EFSearch
	if override > 0 {
		ef = override
	}
	if ef < k {
		ef = k
	}

	curr := uint32(h.entry)
	currDist := h.dist(q, curr)
	for l := h.maxLevel; l > 0; l-- {
		curr, currDist = h.greedyStep(q, curr, currDist, l)
	}

	vset := visited.New(len(h.nodes))
	ranked := h.searchLayer(q, curr, currDist, 0, ef, visitor, vset)

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]index.Candidate, len(ranked))
	for i, c := range ranked {
		out[i] = index.Candidate{Slot: c.Slot, Distance: c.Distance}
	}
	return out, nil
}

// MemoryUsage implements index.Index.
func (h *HNSW) MemoryUsage() int64 {
	var bytes int64
	for slot, n := range h.nodes {
		if n == nil {
			continue
		}
		bytes += 48 // node bookkeeping
		for _, l := range n.links {
			bytes += int64(len(l)) * 4
		}
		if h.vectors[slot] != nil {
			bytes += int64(len(h.vectors[slot])) * 4
		}
	}
	return bytes + int64(h.tombstones.GetSizeInBytes())
}
