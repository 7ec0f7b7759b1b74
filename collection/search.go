package collection

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/metadata"
)

// SearchOptions carries per-query overrides.
type SearchOptions struct {
	// Override replaces the index search-width default (ef for HNSW,
	// nprobe for IVF) when positive.
	Override int

	// Overfetch replaces the collection's filter overfetch multiplier when
	// positive. Only meaningful together with a filter.
	Overfetch int
}

// Result is one search hit.
type Result struct {
	ID       uuid.UUID
	Score    float32
	Text     string
	Metadata metadata.Metadata
}

// Search runs the filter-aware k-NN pipeline:
// preflight → candidate fetch (with overfetch under a filter) → exact
// rescore on dequantized vectors → metadata filter → deterministic top-k.
func (c *Collection) Search(ctx context.Context, query []float32, k int, filter *metadata.FilterSet, opts *SearchOptions) ([]Result, error) {
	start := time.Now()
	res, err := c.search(ctx, query, k, filter, opts)
	c.searchLat.Observe(time.Since(start))
	c.metrics.RecordSearch(k, time.Since(start), err)
	c.logger.LogSearch(ctx, k, len(res), err)
	return res, err
}

func (c *Collection) search(ctx context.Context, query []float32, k int, filter *metadata.FilterSet, opts *SearchOptions) ([]Result, error) {
	if err := c.preflight(query, k, filter); err != nil {
		return nil, err
	}

	if err := c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.RUnlock()

	if err := c.readableLocked(); err != nil {
		return nil, err
	}
	return c.searchLocked(query, k, filter, opts)
}

// preflight validates the query before any lock is taken.
func (c *Collection) preflight(query []float32, k int, filter *metadata.FilterSet) error {
	if k <= 0 {
		return ErrInvalidK
	}
	if err := validateVector(query); err != nil {
		return err
	}
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// searchLocked is the pipeline core. Caller holds the read lock; it is safe
// to run concurrently from SearchBatch.
func (c *Collection) searchLocked(query []float32, k int, filter *metadata.FilterSet, opts *SearchOptions) ([]Result, error) {
	// An empty collection answers an empty list, not an error.
	if c.idx == nil || c.offsets.Len() == 0 {
		return []Result{}, nil
	}
	if len(query) != c.desc.Dim {
		return nil, &ErrDimensionMismatch{Expected: c.desc.Dim, Actual: len(query)}
	}

	q := query
	if c.normalize {
		if nq, ok := distance.NormalizeCopy(query); ok {
			q = nq
		}
	}

	// Candidate fetch: overfetch leaves room for post-filter drops.
	kPrime := k
	if filter != nil {
		overfetch := c.opts.FilterOverfetch
		if opts != nil && opts.Overfetch > 0 {
			overfetch = opts.Overfetch
		}
		kPrime = k * overfetch
	}

	override := 0
	if opts != nil {
		override = opts.Override
	}
	if override > 0 && override < kPrime {
		override = kPrime
	}

	cands, err := c.idx.Search(q, kPrime, override, nil)
	if err != nil {
		return nil, err
	}

	type hit struct {
		res Result
		seq uint64
		id  uuid.UUID
	}
	hits := make([]hit, 0, len(cands))

	for _, cand := range cands {
		id, ok := c.offsets.IDForSlot(cand.Slot)
		if !ok {
			// Index and offset map briefly disagree only on bugs; drop.
			c.dropLog.Do(func() {
				c.logger.Warn("search candidate without offset entry", "slot", cand.Slot)
			})
			continue
		}

		doc, err := c.getLocked(id)
		if err != nil {
			// Rescore failures drop the candidate but never the query.
			c.dropLog.Do(func() {
				c.logger.Warn("dropping unreadable candidate", "id", id, "error", err)
			})
			continue
		}
		if len(doc.Vector) != c.desc.Dim {
			c.dropLog.Do(func() {
				c.logger.Warn("dropping candidate with drifted dimension", "id", id, "dimension", len(doc.Vector))
			})
			continue
		}

		if filter != nil && !filter.Matches(doc.Metadata) {
			continue
		}

		// Exact rescore on the dequantized stored vector.
		d := c.kernel.Distance(q, doc.Vector)
		e, _ := c.offsets.Get(id)

		hits = append(hits, hit{
			res: Result{
				ID:       id,
				Score:    c.kernel.Similarity(d),
				Text:     doc.Text,
				Metadata: doc.Metadata,
			},
			seq: e.Seq,
			id:  id,
		})
	}

	// Deterministic top-k: score descending, ties by insertion order then
	// id lexicographic order.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].res.Score != hits[j].res.Score {
			return hits[i].res.Score > hits[j].res.Score
		}
		if hits[i].seq != hits[j].seq {
			return hits[i].seq < hits[j].seq
		}
		return bytes.Compare(hits[i].id[:], hits[j].id[:]) < 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = h.res
	}
	return out, nil
}

// SearchBatch runs every query through the pipeline under one read lock,
// in parallel. The output order matches the input order.
func (c *Collection) SearchBatch(ctx context.Context, queries [][]float32, k int, filter *metadata.FilterSet, opts *SearchOptions) ([][]Result, error) {
	start := time.Now()
	for _, q := range queries {
		if err := c.preflight(q, k, filter); err != nil {
			c.metrics.RecordSearch(k, time.Since(start), err)
			return nil, err
		}
	}

	if err := c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.RUnlock()

	if err := c.readableLocked(); err != nil {
		return nil, err
	}

	out := make([][]Result, len(queries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchParallelism)
	for i, q := range queries {
		g.Go(func() error {
			res, err := c.searchLocked(q, k, filter, opts)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.RecordSearch(k, time.Since(start), err)
		c.logger.LogSearch(ctx, k, 0, err)
		return nil, err
	}

	found := 0
	for _, res := range out {
		found += len(res)
	}
	c.searchLat.Observe(time.Since(start))
	c.metrics.RecordSearch(k, time.Since(start), nil)
	c.logger.LogSearch(ctx, k, found, nil)
	return out, nil
}

const maxBatchParallelism = 8
