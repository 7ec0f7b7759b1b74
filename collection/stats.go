package collection

import (
	"context"
	"time"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/index/hnsw"
	"github.com/piramidhq/piramid/quantization"
)

// Stats is a point-in-time snapshot of a collection.
type Stats struct {
	Name         string
	State        State
	Count        int
	Dim          int
	Metric       distance.Metric
	IndexKind    index.Kind
	Quantization quantization.Kind

	// Tombstones counts logically deleted graph nodes still occupying the
	// HNSW index. They are not part of Count.
	Tombstones int

	BytesOnDisk    int64
	IndexMemory    int64
	CacheBytes     int64
	LastCheckpoint time.Time

	SearchLatency LatencySnapshot
	WriteLatency  LatencySnapshot
}

// Stats returns a snapshot under the read lock.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	if err := c.lock.RLock(ctx); err != nil {
		return Stats{}, err
	}
	defer c.lock.RUnlock()

	s := Stats{
		Name:           c.name,
		State:          c.state,
		Count:          c.offsets.Len(),
		Dim:            c.desc.Dim,
		Metric:         c.desc.Metric,
		IndexKind:      index.Kind(c.desc.IndexKind),
		Quantization:   c.desc.Quantization,
		BytesOnDisk:    c.BytesOnDisk(),
		CacheBytes:     c.docs.Bytes(),
		LastCheckpoint: c.desc.LastCheckpoint,
		SearchLatency:  c.searchLat.Snapshot(),
		WriteLatency:   c.writeLat.Snapshot(),
	}
	if c.idx != nil {
		s.IndexMemory = c.idx.MemoryUsage()
		if h, ok := c.idx.(*hnsw.HNSW); ok {
			s.Tombstones = h.Tombstones()
		}
	}
	return s, nil
}
