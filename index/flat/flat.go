// Package flat implements the brute-force index. It is exact and
// deterministic, which makes it both the default for small collections and
// the recall oracle the approximate variants are tested against.
package flat

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/internal/searcher"
)

// Options configures a Flat index.
type Options struct {
	Dim    int
	Metric distance.Metric
	Mode   distance.Mode
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	Metric: distance.MetricCosine,
	Mode:   distance.ModeAuto,
}

// Flat is a brute-force scan over slot-indexed vectors.
type Flat struct {
	opts    Options
	kernel  distance.Kernel
	vectors [][]float32 // slot-indexed; nil marks an empty slot
	count   int
}

var _ index.Index = (*Flat)(nil)

// New creates a Flat index.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	kernel, err := distance.NewKernel(opts.Metric, opts.Mode)
	if err != nil {
		return nil, err
	}
	return &Flat{opts: opts, kernel: kernel}, nil
}

// Kind implements index.Index.
func (f *Flat) Kind() index.Kind { return index.KindFlat }

// Len implements index.Index.
func (f *Flat) Len() int { return f.count }

// Insert implements index.Index.
func (f *Flat) Insert(slot uint32, vec []float32) error {
	if err := index.CheckDim(f.opts.Dim, vec); err != nil {
		return err
	}
	if int(slot) < len(f.vectors) && f.vectors[slot] != nil {
		return index.ErrDuplicateSlot
	}

	for int(slot) >= len(f.vectors) {
		f.vectors = append(f.vectors, nil)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	f.vectors[slot] = cp
	f.count++
	return nil
}

// Remove implements index.Index.
func (f *Flat) Remove(slot uint32) bool {
	if int(slot) >= len(f.vectors) || f.vectors[slot] == nil {
		return false
	}
	f.vectors[slot] = nil
	f.count--
	return true
}

// Search implements index.Index. The override parameter is unused: a scan
// always visits everything.
func (f *Flat) Search(q []float32, k int, _ int, visitor index.Visitor) ([]index.Candidate, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if err := index.CheckDim(f.opts.Dim, q); err != nil {
		return nil, err
	}

	top := searcher.NewTopK(k)
	for slot, vec := range f.vectors {
		if vec == nil {
			continue
		}
		if visitor != nil && !visitor(uint32(slot)) {
			continue
		}
		top.Offer(uint32(slot), f.kernel.Distance(q, vec))
	}

	ranked := top.Ranked()
	out := make([]index.Candidate, len(ranked))
	for i, c := range ranked {
		out[i] = index.Candidate{Slot: c.Slot, Distance: c.Distance}
	}
	return out, nil
}

// MemoryUsage implements index.Index.
func (f *Flat) MemoryUsage() int64 {
	return int64(len(f.vectors))*24 + int64(f.count)*int64(f.opts.Dim)*4
}

// Save implements index.Index.
// Payload: [count uvarint] then per vector [slot u32][f32 × dim].
func (f *Flat) Save(w io.Writer) error {
	payload := make([]byte, 0, 8+f.count*(4+4*f.opts.Dim))
	payload = binary.AppendUvarint(payload, uint64(f.count))
	for slot, vec := range f.vectors {
		if vec == nil {
			continue
		}
		payload = binary.LittleEndian.AppendUint32(payload, uint32(slot))
		for _, x := range vec {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(x))
		}
	}
	return index.WriteSidecar(w, index.KindFlat, f.opts.Dim, payload)
}

// Load implements index.Index.
func (f *Flat) Load(r io.Reader, dim int) error {
	payload, err := index.ReadSidecar(r, index.KindFlat, dim)
	if err != nil {
		return err
	}
	f.opts.Dim = dim

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return index.ErrBadSidecar
	}
	payload = payload[n:]

	f.vectors = nil
	f.count = 0
	stride := 4 + 4*dim
	for range count {
		if len(payload) < stride {
			return index.ErrBadSidecar
		}
		slot := binary.LittleEndian.Uint32(payload)
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4+4*i:]))
		}
		payload = payload[stride:]

		if err := f.Insert(slot, vec); err != nil {
			return err
		}
	}
	return nil
}
