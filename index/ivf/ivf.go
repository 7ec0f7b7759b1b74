// Package ivf implements the inverted-file index: a k-means coarse
// quantizer partitions the space into nlist cells, each holding an inverted
// list of (slot, vector) entries. A query scores the nprobe closest cells.
//
// Until enough vectors have arrived to train the quantizer, searches fall
// back to an exact scan, so the index is usable from the first insert.
package ivf

import (
	"encoding/binary"
	"io"
	"math"
	"math/rand"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/internal/kmeans"
	"github.com/piramidhq/piramid/internal/searcher"
)

const (
	// DefaultNList is the default number of coarse cells.
	DefaultNList = 64

	// DefaultNProbe is the default number of cells scored per query.
	DefaultNProbe = 8

	// DefaultTrainSize is the number of vectors the quantizer trains on.
	DefaultTrainSize = 4096

	defaultMaxIter = 20
)

// Options configures an IVF index.
type Options struct {
	Dim    int
	Metric distance.Metric
	Mode   distance.Mode

	// NList is the number of k-means centroids.
	NList int

	// NProbe is the default number of inverted lists visited per query; a
	// per-query override wins when positive.
	NProbe int

	// TrainSize is how many vectors accumulate before the quantizer is
	// trained.
	TrainSize int

	// MaxIter bounds Lloyd's iterations.
	MaxIter int

	// Seed fixes the k-means RNG. Zero derives a fixed default so training
	// is reproducible.
	Seed int64
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	Metric:    distance.MetricCosine,
	Mode:      distance.ModeAuto,
	NList:     DefaultNList,
	NProbe:    DefaultNProbe,
	TrainSize: DefaultTrainSize,
	MaxIter:   defaultMaxIter,
	Seed:      1,
}

// IVF is the inverted-file index. Not internally synchronized; the
// collection lock provides the discipline.
type IVF struct {
	opts   Options
	kernel distance.Kernel

	vectors map[uint32][]float32 // all live vectors, slot-keyed
	order   []uint32             // insertion order, for training determinism

	centroids []float32        // nlist × dim, nil until trained
	lists     [][]uint32       // cell → slots
	assign    map[uint32]int   // slot → cell
}

var _ index.Index = (*IVF)(nil)

// New creates an IVF index.
func New(optFns ...func(o *Options)) (*IVF, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.NList <= 0 {
		opts.NList = DefaultNList
	}
	if opts.NProbe <= 0 {
		opts.NProbe = DefaultNProbe
	}
	if opts.TrainSize <= 0 {
		opts.TrainSize = DefaultTrainSize
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = defaultMaxIter
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}

	kernel, err := distance.NewKernel(opts.Metric, opts.Mode)
	if err != nil {
		return nil, err
	}
	return &IVF{
		opts:    opts,
		kernel:  kernel,
		vectors: make(map[uint32][]float32),
		assign:  make(map[uint32]int),
	}, nil
}

// Kind implements index.Index.
func (iv *IVF) Kind() index.Kind { return index.KindIVF }

// Len implements index.Index.
func (iv *IVF) Len() int { return len(iv.vectors) }

// Trained reports whether the coarse quantizer has been trained.
func (iv *IVF) Trained() bool { return iv.centroids != nil }

// Insert implements index.Index.
func (iv *IVF) Insert(slot uint32, vec []float32) error {
	if err := index.CheckDim(iv.opts.Dim, vec); err != nil {
		return err
	}
	if _, ok := iv.vectors[slot]; ok {
		return index.ErrDuplicateSlot
	}

	cp := make([]float32, len(vec))
	copy(cp, vec)
	iv.vectors[slot] = cp
	iv.order = append(iv.order, slot)

	if iv.centroids == nil {
		if len(iv.vectors) >= iv.opts.TrainSize {
			iv.Train()
		}
		return nil
	}

	cell := kmeans.Assign(cp, iv.centroids, iv.opts.Dim, iv.kernel.Distance)
	iv.lists[cell] = append(iv.lists[cell], slot)
	iv.assign[slot] = cell
	return nil
}

// Train (re)builds the coarse quantizer from the current vectors and
// redistributes every inverted list. Training on fewer vectors than nlist
// is a no-op.
func (iv *IVF) Train() {
	n := len(iv.vectors)
	if n < iv.opts.NList {
		return
	}

	dim := iv.opts.Dim
	flat := make([]float32, 0, n*dim)
	slots := make([]uint32, 0, n)
	for _, slot := range iv.order {
		vec, ok := iv.vectors[slot]
		if !ok {
			continue
		}
		flat = append(flat, vec...)
		slots = append(slots, slot)
		if len(slots) >= iv.opts.TrainSize {
			break
		}
	}

	rng := rand.New(rand.NewSource(iv.opts.Seed))
	centroids := kmeans.Train(flat, dim, iv.opts.NList, iv.opts.MaxIter, iv.kernel.Distance, rng)
	if centroids == nil {
		return
	}

	iv.centroids = centroids
	iv.lists = make([][]uint32, iv.opts.NList)
	iv.assign = make(map[uint32]int, len(iv.vectors))
	for slot, vec := range iv.vectors {
		cell := kmeans.Assign(vec, centroids, dim, iv.kernel.Distance)
		iv.lists[cell] = append(iv.lists[cell], slot)
		iv.assign[slot] = cell
	}
}

// Remove implements index.Index.
func (iv *IVF) Remove(slot uint32) bool {
	if _, ok := iv.vectors[slot]; !ok {
		return false
	}
	delete(iv.vectors, slot)

	if cell, ok := iv.assign[slot]; ok {
		list := iv.lists[cell]
		for i, s := range list {
			if s == slot {
				list[i] = list[len(list)-1]
				iv.lists[cell] = list[:len(list)-1]
				break
			}
		}
		delete(iv.assign, slot)
	}
	return true
}

// Search implements index.Index. override replaces nprobe when positive.
func (iv *IVF) Search(q []float32, k int, override int, visitor index.Visitor) ([]index.Candidate, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if err := index.CheckDim(iv.opts.Dim, q); err != nil {
		return nil, err
	}
	if len(iv.vectors) == 0 {
		return nil, nil
	}

	top := searcher.NewTopK(k)

	if iv.centroids == nil {
		// Untrained: exact scan.
		for slot, vec := range iv.vectors {
			if visitor != nil && !visitor(slot) {
				continue
			}
			top.Offer(slot, iv.kernel.Distance(q, vec))
		}
		return collect(top), nil
	}

	nprobe := iv.opts.NProbe
	if override > 0 {
		nprobe = override
	}

	cells := kmeans.Closest(q, iv.centroids, iv.opts.Dim, nprobe, iv.kernel.Distance)
	for _, cell := range cells {
		for _, slot := range iv.lists[cell] {
			if visitor != nil && !visitor(slot) {
				continue
			}
			top.Offer(slot, iv.kernel.Distance(q, iv.vectors[slot]))
		}
	}
	return collect(top), nil
}

func collect(top *searcher.TopK) []index.Candidate {
	ranked := top.Ranked()
	out := make([]index.Candidate, len(ranked))
	for i, c := range ranked {
		out[i] = index.Candidate{Slot: c.Slot, Distance: c.Distance}
	}
	return out
}

// MemoryUsage implements index.Index.
func (iv *IVF) MemoryUsage() int64 {
	var bytes int64
	bytes += int64(len(iv.vectors)) * (int64(iv.opts.Dim)*4 + 32)
	bytes += int64(len(iv.centroids)) * 4
	for _, l := range iv.lists {
		bytes += int64(len(l)) * 4
	}
	return bytes
}

// Save implements index.Index.
// Payload: [nlist u32][nprobe u32][trained u8][centroids f32...]
// [count uvarint] per vector: [slot u32][f32 × dim].
func (iv *IVF) Save(w io.Writer) error {
	dim := iv.opts.Dim
	payload := make([]byte, 0, 16+len(iv.centroids)*4+len(iv.vectors)*(4+dim*4))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(iv.opts.NList))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(iv.opts.NProbe))
	if iv.centroids != nil {
		payload = append(payload, 1)
		for _, x := range iv.centroids {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(x))
		}
	} else {
		payload = append(payload, 0)
	}

	payload = binary.AppendUvarint(payload, uint64(len(iv.vectors)))
	written := make(map[uint32]bool, len(iv.vectors))
	for _, slot := range iv.order {
		vec, ok := iv.vectors[slot]
		if !ok || written[slot] {
			continue
		}
		written[slot] = true
		payload = binary.LittleEndian.AppendUint32(payload, slot)
		for _, x := range vec {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(x))
		}
	}

	return index.WriteSidecar(w, index.KindIVF, dim, payload)
}

// Load implements index.Index.
func (iv *IVF) Load(r io.Reader, dim int) error {
	payload, err := index.ReadSidecar(r, index.KindIVF, dim)
	if err != nil {
		return err
	}
	iv.opts.Dim = dim

	if len(payload) < 9 {
		return index.ErrBadSidecar
	}
	iv.opts.NList = int(binary.LittleEndian.Uint32(payload[0:]))
	iv.opts.NProbe = int(binary.LittleEndian.Uint32(payload[4:]))
	trained := payload[8] == 1
	payload = payload[9:]

	iv.centroids = nil
	if trained {
		clen := iv.opts.NList * dim
		if len(payload) < clen*4 {
			return index.ErrBadSidecar
		}
		iv.centroids = make([]float32, clen)
		for i := range iv.centroids {
			iv.centroids[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		payload = payload[clen*4:]
	}

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return index.ErrBadSidecar
	}
	payload = payload[n:]

	iv.vectors = make(map[uint32][]float32, count)
	iv.order = make([]uint32, 0, count)
	iv.assign = make(map[uint32]int, count)
	if iv.centroids != nil {
		iv.lists = make([][]uint32, iv.opts.NList)
	} else {
		iv.lists = nil
	}

	stride := 4 + dim*4
	for range count {
		if len(payload) < stride {
			return index.ErrBadSidecar
		}
		slot := binary.LittleEndian.Uint32(payload)
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4+i*4:]))
		}
		payload = payload[stride:]

		iv.vectors[slot] = vec
		iv.order = append(iv.order, slot)
		if iv.centroids != nil {
			cell := kmeans.Assign(vec, iv.centroids, dim, iv.kernel.Distance)
			iv.lists[cell] = append(iv.lists[cell], slot)
			iv.assign[slot] = cell
		}
	}
	return nil
}
