// Package collection ties the storage layer, the WAL and the ANN index into
// the per-collection lifecycle: open → replay → serve → checkpoint → close.
//
// Concurrency discipline: one reader/writer lock per collection. Write
// operations hold the write lock across the WAL append and the in-memory
// apply; searches and gets hold the read lock. Different collections are
// fully independent.
package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/piramidhq/piramid/cache"
	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/document"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/index/flat"
	"github.com/piramidhq/piramid/index/hnsw"
	"github.com/piramidhq/piramid/index/ivf"
	"github.com/piramidhq/piramid/metadata"
	"github.com/piramidhq/piramid/storage"
	"github.com/piramidhq/piramid/wal"
)

// State is the collection lifecycle state.
type State uint8

const (
	StateLoaded State = iota
	StateReadOnly
	StateCorrupt
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateReadOnly:
		return "read_only"
	case StateCorrupt:
		return "corrupt"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// On-disk layout inside the collection directory.
const (
	DescriptorFile = "descriptor"
	DataFile       = "data.bin"
	WALFile        = "wal.log"
	OffsetsFile    = "offsets.bin"
	IndexFile      = "index.bin"
)

// Collection is one named vector collection.
type Collection struct {
	name string
	dir  string
	opts Options

	logger  *Logger
	metrics Metrics

	lock  *rwLock
	state State

	desc      *storage.Descriptor
	data      *storage.DataFile
	offsets   *storage.OffsetMap
	idx       index.Index
	log       *wal.WAL
	kernel    distance.Kernel
	normalize bool
	docs      *cache.DocCache

	searchLat *LatencyRecorder
	writeLat  *LatencyRecorder

	// dropLog throttles rescore-drop and corruption warnings.
	dropLog rate.Sometimes
}

// Open opens (creating on demand) the collection stored in dir.
func Open(dir, name string, opts Options) (*Collection, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = NoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if opts.FilterOverfetch <= 0 {
		opts.FilterOverfetch = 10
	}

	c := &Collection{
		name:      name,
		dir:       dir,
		opts:      opts,
		logger:    logger.With("collection", name),
		metrics:   metrics,
		lock:      newRWLock(opts.LockTimeout),
		searchLat: NewLatencyRecorder(),
		writeLat:  NewLatencyRecorder(),
		dropLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}

	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collection) open() error {
	data, err := storage.OpenDataFile(filepath.Join(c.dir, DataFile), c.opts.GrowthFactor)
	if err != nil {
		return err
	}
	c.data = data

	// Descriptor: existing facts win over the passed options.
	descPath := filepath.Join(c.dir, DescriptorFile)
	if _, err := os.Stat(descPath); err == nil {
		desc, err := storage.LoadDescriptor(descPath)
		if err != nil {
			c.state = StateCorrupt
			return &ErrCorruption{File: DescriptorFile, Err: err}
		}
		c.desc = desc
	} else {
		now := time.Now()
		c.desc = &storage.Descriptor{
			Name:         c.name,
			Dim:          c.opts.Dim,
			Metric:       c.opts.Metric,
			IndexKind:    uint8(index.Select(c.opts.IndexPolicy, 0, c.opts.Dim)),
			Quantization: c.opts.Quantization,
			WALPolicy:    c.opts.WAL.Policy,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		data.SetMetric(c.opts.Metric)
		if c.opts.Dim > 0 {
			data.SetDim(c.opts.Dim)
		}
		if err := storage.SaveDescriptor(descPath, c.desc); err != nil {
			return err
		}
	}

	kernel, err := distance.NewKernel(c.desc.Metric, c.opts.Mode)
	if err != nil {
		return err
	}
	c.kernel = kernel
	c.normalize = c.opts.NormalizeVectors && c.desc.Metric == distance.MetricCosine

	c.docs, err = cache.New(c.opts.CacheBytes)
	if err != nil {
		return err
	}

	// Offset map sidecar.
	c.offsets = storage.NewOffsetMap()
	offPath := filepath.Join(c.dir, OffsetsFile)
	if f, err := os.Open(offPath); err == nil {
		loadErr := c.offsets.Load(f)
		_ = f.Close()
		if loadErr != nil {
			c.state = StateCorrupt
			return &ErrCorruption{File: OffsetsFile, Err: loadErr}
		}
	}

	// ANN sidecar.
	if c.desc.Dim > 0 {
		idx, err := c.newIndex(c.desc.Dim)
		if err != nil {
			return err
		}
		idxPath := filepath.Join(c.dir, IndexFile)
		if f, err := os.Open(idxPath); err == nil {
			loadErr := idx.Load(f, c.desc.Dim)
			_ = f.Close()
			if loadErr != nil {
				c.state = StateCorrupt
				return &ErrCorruption{File: IndexFile, Err: loadErr}
			}
		}
		c.idx = idx
	}

	// Restore the append point before replaying.
	hw := c.offsets.HighWater()
	if hw > uint64(c.data.Size()) {
		c.state = StateCorrupt
		return &ErrCorruption{File: DataFile, Err: fmt.Errorf("offset map past end of data file")}
	}
	if err := c.data.SetHighWater(hw); err != nil {
		c.state = StateCorrupt
		return &ErrCorruption{File: DataFile, Err: err}
	}

	// WAL replay past the last checkpoint.
	walOpts := c.opts.WAL
	walOpts.Policy = c.desc.WALPolicy
	c.log, err = wal.Open(filepath.Join(c.dir, WALFile), func(o *wal.Options) { *o = walOpts })
	if err != nil {
		if errors.Is(err, wal.ErrBadHeader) {
			c.state = StateCorrupt
			return &ErrCorruption{File: WALFile, Err: err}
		}
		return err
	}

	replay, err := c.log.Replay()
	if err != nil {
		c.state = StateCorrupt
		return &ErrCorruption{File: WALFile, Err: err}
	}
	if replay.Repaired {
		c.logger.Warn("dropped torn WAL tail during recovery")
	}

	replayed := 0
	for _, r := range replay.Records {
		if err := c.applyWALRecord(r); err != nil {
			c.logger.LogRecovery(context.Background(), replayed, err)
			c.state = StateCorrupt
			return &ErrCorruption{File: WALFile, Err: err}
		}
		replayed++
	}
	if replayed > 0 {
		c.logger.LogRecovery(context.Background(), replayed, nil)
	}

	c.desc.Count = uint64(c.offsets.Len())
	c.state = StateLoaded
	return nil
}

// applyWALRecord replays one mutation. Replay is idempotent: inserts and
// updates both land as upserts, deletes are delete-if-present.
func (c *Collection) applyWALRecord(r *wal.Record) error {
	switch r.Type {
	case wal.RecordInsert, wal.RecordUpdate:
		doc, err := document.Decode(r.Doc)
		if err != nil {
			return err
		}
		if doc.ID != r.ID {
			return fmt.Errorf("WAL record id %s does not match document id %s", r.ID, doc.ID)
		}
		return c.applyDoc(doc, r.Doc)

	case wal.RecordDelete:
		c.removeDoc(r.ID)
		return nil

	default:
		return wal.ErrInvalidType
	}
}

// applyDoc installs a document into the data file, the offset map and the
// index. Caller holds the write lock (or is single-threaded open).
func (c *Collection) applyDoc(doc document.Document, rec []byte) error {
	if c.desc.Dim == 0 {
		if err := c.fixDim(len(doc.Vector)); err != nil {
			return err
		}
	}
	if len(doc.Vector) != c.desc.Dim {
		return &ErrDimensionMismatch{Expected: c.desc.Dim, Actual: len(doc.Vector)}
	}

	off, err := c.data.Append(rec)
	if err != nil {
		return err
	}
	e, isNew := c.offsets.Put(doc.ID, off, uint32(len(rec)))
	if !isNew {
		c.idx.Remove(e.Slot)
	}

	// The index keeps its own exact float32 view; quantization stays at the
	// storage boundary.
	vec := doc.Vector
	if c.normalize {
		if nv, ok := distance.NormalizeCopy(vec); ok {
			vec = nv
		}
	}

	if err := c.idx.Insert(e.Slot, vec); err != nil {
		// A write that reached the WAL must not diverge from memory:
		// retry the in-memory apply once, then give up loudly.
		if retryErr := c.idx.Insert(e.Slot, vec); retryErr != nil {
			c.logger.Error("index apply failed after retry", "id", doc.ID, "error", retryErr)
			return fmt.Errorf("internal: index apply: %w", retryErr)
		}
	}

	c.docs.Remove(doc.ID)
	return nil
}

func (c *Collection) removeDoc(id uuid.UUID) bool {
	e, ok := c.offsets.Delete(id)
	if !ok {
		return false
	}
	if c.idx != nil {
		c.idx.Remove(e.Slot)
	}
	c.docs.Remove(id)
	return true
}

func (c *Collection) fixDim(dim int) error {
	if dim <= 0 || dim > math.MaxUint16 {
		return ErrInvalidVector
	}
	c.desc.Dim = dim
	c.data.SetDim(dim)

	idx, err := c.newIndex(dim)
	if err != nil {
		return err
	}
	c.idx = idx
	return nil
}

func (c *Collection) newIndex(dim int) (index.Index, error) {
	switch index.Kind(c.desc.IndexKind) {
	case index.KindHNSW:
		return hnsw.New(func(o *hnsw.Options) {
			*o = c.opts.HNSW
			o.Dim = dim
			o.Metric = c.desc.Metric
			o.Mode = c.opts.Mode
		})
	case index.KindIVF:
		return ivf.New(func(o *ivf.Options) {
			*o = c.opts.IVF
			o.Dim = dim
			o.Metric = c.desc.Metric
			o.Mode = c.opts.Mode
		})
	default:
		return flat.New(func(o *flat.Options) {
			o.Dim = dim
			o.Metric = c.desc.Metric
			o.Mode = c.opts.Mode
		})
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dir returns the collection directory.
func (c *Collection) Dir() string { return c.dir }

// State returns the lifecycle state. Transitions happen under the write
// lock; reading a possibly stale value is fine for reporting.
func (c *Collection) State() State { return c.state }

// SetReadOnly flips the collection between Loaded and ReadOnly. Driven by
// the disk-space monitor or by an operator.
func (c *Collection) SetReadOnly(ctx context.Context, ro bool) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	switch {
	case c.state == StateLoaded && ro:
		c.state = StateReadOnly
		c.logger.Warn("collection transitioned to read-only")
	case c.state == StateReadOnly && !ro:
		c.state = StateLoaded
		c.logger.Info("collection writable again")
	}
	return nil
}

func (c *Collection) writableLocked() error {
	switch c.state {
	case StateLoaded:
		return nil
	case StateReadOnly:
		return ErrReadOnly
	case StateCorrupt:
		return ErrCorrupt
	default:
		return ErrClosed
	}
}

func (c *Collection) readableLocked() error {
	switch c.state {
	case StateLoaded, StateReadOnly:
		return nil
	case StateCorrupt:
		return ErrCorrupt
	default:
		return ErrClosed
	}
}

// validateVector rejects empty vectors and non-finite components.
func validateVector(v []float32) error {
	if len(v) == 0 {
		return ErrInvalidVector
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

func (c *Collection) prepareDoc(id uuid.UUID, vector []float32, text string, meta metadata.Metadata) (document.Document, []byte, error) {
	doc := document.Document{ID: id, Vector: vector, Text: text, Metadata: meta}
	if c.normalize {
		if nv, ok := distance.NormalizeCopy(vector); ok {
			doc.Vector = nv
		}
	}
	rec, err := document.Encode(doc, c.desc.Quantization)
	if err != nil {
		return document.Document{}, nil, err
	}
	return doc, rec, nil
}

// Insert adds a new document and returns its generated id.
func (c *Collection) Insert(ctx context.Context, vector []float32, text string, meta metadata.Metadata) (uuid.UUID, error) {
	start := time.Now()
	id, err := c.insert(ctx, vector, text, meta)
	c.writeLat.Observe(time.Since(start))
	c.metrics.RecordInsert(time.Since(start), err)
	c.logger.LogInsert(ctx, id, len(vector), err)
	return id, err
}

func (c *Collection) insert(ctx context.Context, vector []float32, text string, meta metadata.Metadata) (uuid.UUID, error) {
	if err := validateVector(vector); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	if err := c.lock.Lock(ctx); err != nil {
		return uuid.Nil, err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return uuid.Nil, err
	}
	if c.desc.Dim > 0 && len(vector) != c.desc.Dim {
		return uuid.Nil, &ErrDimensionMismatch{Expected: c.desc.Dim, Actual: len(vector)}
	}
	if _, exists := c.offsets.Get(id); exists {
		return uuid.Nil, ErrDuplicateID
	}

	doc, rec, err := c.prepareDoc(id, vector, text, meta)
	if err != nil {
		return uuid.Nil, err
	}

	if err := c.log.AppendInsert(id, rec); err != nil {
		return uuid.Nil, err
	}
	// Past this point the WAL holds the operation: the in-memory apply must
	// complete even if the caller's deadline has expired.
	if err := c.applyDoc(doc, rec); err != nil {
		return uuid.Nil, err
	}
	c.desc.Count = uint64(c.offsets.Len())

	if err := ctx.Err(); err != nil {
		return id, err
	}
	return id, nil
}

// InsertMany adds several documents atomically with respect to the WAL:
// either every record lands in one batch or none do.
func (c *Collection) InsertMany(ctx context.Context, items []Item) ([]uuid.UUID, error) {
	start := time.Now()
	ids, err := c.insertMany(ctx, items)
	c.writeLat.Observe(time.Since(start))
	c.metrics.RecordInsert(time.Since(start), err)
	c.logger.LogBatchInsert(ctx, len(items), err)
	return ids, err
}

// Item is one document payload for InsertMany/Upsert.
type Item struct {
	Vector   []float32
	Text     string
	Metadata metadata.Metadata
}

func (c *Collection) insertMany(ctx context.Context, items []Item) ([]uuid.UUID, error) {
	if len(items) == 0 {
		return nil, nil
	}
	for _, it := range items {
		if err := validateVector(it.Vector); err != nil {
			return nil, err
		}
	}

	if err := c.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return nil, err
	}

	dim := c.desc.Dim
	for _, it := range items {
		if dim == 0 {
			dim = len(it.Vector)
		}
		if len(it.Vector) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(it.Vector)}
		}
	}

	ids := make([]uuid.UUID, len(items))
	docs := make([]document.Document, len(items))
	recs := make([]*wal.Record, len(items))
	for i, it := range items {
		ids[i] = uuid.New()
		doc, rec, err := c.prepareDoc(ids[i], it.Vector, it.Text, it.Metadata)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
		recs[i] = &wal.Record{Type: wal.RecordInsert, ID: ids[i], Doc: rec}
	}

	if err := c.log.AppendBatch(recs); err != nil {
		return nil, err
	}
	for i := range docs {
		if err := c.applyDoc(docs[i], recs[i].Doc); err != nil {
			return nil, err
		}
	}
	c.desc.Count = uint64(c.offsets.Len())

	if err := ctx.Err(); err != nil {
		return ids, err
	}
	return ids, nil
}

// Upsert inserts or wholesale-replaces a document. A nil id generates a
// fresh one (and therefore always inserts).
func (c *Collection) Upsert(ctx context.Context, id uuid.UUID, item Item) (uuid.UUID, error) {
	start := time.Now()
	out, err := c.upsert(ctx, id, item)
	c.writeLat.Observe(time.Since(start))
	c.metrics.RecordUpdate(time.Since(start), err)
	c.logger.LogUpdate(ctx, out, err)
	return out, err
}

func (c *Collection) upsert(ctx context.Context, id uuid.UUID, item Item) (uuid.UUID, error) {
	if err := validateVector(item.Vector); err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	if err := c.lock.Lock(ctx); err != nil {
		return uuid.Nil, err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return uuid.Nil, err
	}
	if c.desc.Dim > 0 && len(item.Vector) != c.desc.Dim {
		return uuid.Nil, &ErrDimensionMismatch{Expected: c.desc.Dim, Actual: len(item.Vector)}
	}

	doc, rec, err := c.prepareDoc(id, item.Vector, item.Text, item.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	_, exists := c.offsets.Get(id)
	appendFn := c.log.AppendInsert
	if exists {
		appendFn = c.log.AppendUpdate
	}
	if err := appendFn(id, rec); err != nil {
		return uuid.Nil, err
	}
	if err := c.applyDoc(doc, rec); err != nil {
		return uuid.Nil, err
	}
	c.desc.Count = uint64(c.offsets.Len())

	if err := ctx.Err(); err != nil {
		return id, err
	}
	return id, nil
}

// Update replaces the vector and/or metadata of an existing document.
// Nil arguments keep the current value; the text is never touched here.
func (c *Collection) Update(ctx context.Context, id uuid.UUID, vector []float32, meta metadata.Metadata) error {
	start := time.Now()
	err := c.update(ctx, id, vector, meta)
	c.writeLat.Observe(time.Since(start))
	c.metrics.RecordUpdate(time.Since(start), err)
	c.logger.LogUpdate(ctx, id, err)
	return err
}

// UpdateVector replaces only the vector of an existing document.
func (c *Collection) UpdateVector(ctx context.Context, id uuid.UUID, vector []float32) error {
	return c.Update(ctx, id, vector, nil)
}

// UpdateMetadata replaces only the metadata of an existing document.
func (c *Collection) UpdateMetadata(ctx context.Context, id uuid.UUID, meta metadata.Metadata) error {
	return c.Update(ctx, id, nil, meta)
}

func (c *Collection) update(ctx context.Context, id uuid.UUID, vector []float32, meta metadata.Metadata) error {
	if vector == nil && meta == nil {
		return nil
	}
	if vector != nil {
		if err := validateVector(vector); err != nil {
			return err
		}
	}

	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return err
	}

	current, err := c.getLocked(id)
	if err != nil {
		return err
	}

	if vector == nil {
		vector = current.Vector
	} else if c.desc.Dim > 0 && len(vector) != c.desc.Dim {
		return &ErrDimensionMismatch{Expected: c.desc.Dim, Actual: len(vector)}
	}
	if meta == nil {
		meta = current.Metadata
	}

	doc, rec, err := c.prepareDoc(id, vector, current.Text, meta)
	if err != nil {
		return err
	}

	if err := c.log.AppendUpdate(id, rec); err != nil {
		return err
	}
	if err := c.applyDoc(doc, rec); err != nil {
		return err
	}
	return ctx.Err()
}

// Delete removes a document, reporting whether it was present.
func (c *Collection) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	start := time.Now()
	ok, err := c.deleteOne(ctx, id)
	c.writeLat.Observe(time.Since(start))
	c.metrics.RecordDelete(time.Since(start), err)
	c.logger.LogDelete(ctx, id, err)
	return ok, err
}

func (c *Collection) deleteOne(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return false, err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return false, err
	}
	if _, ok := c.offsets.Get(id); !ok {
		return false, nil
	}

	if err := c.log.AppendDelete(id); err != nil {
		return false, err
	}
	c.removeDoc(id)
	c.desc.Count = uint64(c.offsets.Len())

	if err := ctx.Err(); err != nil {
		return true, err
	}
	return true, nil
}

// DeleteMany removes a batch of ids and returns how many were present.
func (c *Collection) DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return 0, err
	}

	recs := make([]*wal.Record, 0, len(ids))
	present := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.offsets.Get(id); ok {
			recs = append(recs, &wal.Record{Type: wal.RecordDelete, ID: id})
			present = append(present, id)
		}
	}
	if len(recs) == 0 {
		return 0, nil
	}

	if err := c.log.AppendBatch(recs); err != nil {
		return 0, err
	}
	for _, id := range present {
		c.removeDoc(id)
	}
	c.desc.Count = uint64(c.offsets.Len())

	if err := ctx.Err(); err != nil {
		return len(present), err
	}
	return len(present), nil
}

// Get fetches a document by id.
func (c *Collection) Get(ctx context.Context, id uuid.UUID) (document.Document, error) {
	if err := c.lock.RLock(ctx); err != nil {
		return document.Document{}, err
	}
	defer c.lock.RUnlock()

	if err := c.readableLocked(); err != nil {
		return document.Document{}, err
	}
	return c.getLocked(id)
}

func (c *Collection) getLocked(id uuid.UUID) (document.Document, error) {
	if doc, ok := c.docs.Get(id); ok {
		return doc, nil
	}

	e, ok := c.offsets.Get(id)
	if !ok {
		return document.Document{}, ErrNotFound
	}

	raw, err := c.data.ReadAt(e.Offset, e.Length)
	if err != nil {
		return document.Document{}, &ErrCorruption{File: DataFile, Err: err}
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return document.Document{}, &ErrCorruption{File: DataFile, Err: err}
	}
	if doc.ID != id {
		return document.Document{}, &ErrCorruption{File: DataFile, Err: fmt.Errorf("record id %s at offset %d, want %s", doc.ID, e.Offset, id)}
	}

	c.docs.Add(doc)
	return doc, nil
}

// ListDocuments pages through documents in insertion order.
func (c *Collection) ListDocuments(ctx context.Context, offset, limit int) ([]document.Document, error) {
	if err := c.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.RUnlock()

	if err := c.readableLocked(); err != nil {
		return nil, err
	}

	ids := c.offsets.IDs()
	if offset >= len(ids) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	out := make([]document.Document, 0, end-offset)
	for _, id := range ids[offset:end] {
		doc, err := c.getLocked(id)
		if err != nil {
			c.dropLog.Do(func() {
				c.logger.Warn("skipping unreadable document", "id", id, "error", err)
			})
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// Count returns the number of live documents.
func (c *Collection) Count(ctx context.Context) (int, error) {
	if err := c.lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer c.lock.RUnlock()
	return c.offsets.Len(), nil
}

// Dim returns the collection dimensionality (0 until fixed).
func (c *Collection) Dim() int { return c.desc.Dim }

// Metric returns the collection metric.
func (c *Collection) Metric() distance.Metric { return c.desc.Metric }

// IndexKind returns the recorded ANN variant.
func (c *Collection) IndexKind() index.Kind { return index.Kind(c.desc.IndexKind) }

// Close checkpoints and shuts the collection down.
func (c *Collection) Close(ctx context.Context) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if c.state == StateClosed {
		return nil
	}

	var firstErr error
	if c.state == StateLoaded || c.state == StateReadOnly {
		if err := c.checkpointLocked(); err != nil {
			firstErr = err
			c.logger.Error("checkpoint on close failed", "error", err)
		}
	}
	if err := c.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.data.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.docs.Purge()
	c.state = StateClosed
	return firstErr
}

// Drop closes the collection and removes its directory.
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.Close(ctx); err != nil && !errors.Is(err, ErrClosed) {
		// Best effort: a failed checkpoint must not block a drop.
		c.logger.Warn("close before drop failed", "error", err)
	}
	return os.RemoveAll(c.dir)
}

// BytesOnDisk sums the collection's artifact sizes.
func (c *Collection) BytesOnDisk() int64 {
	var total int64
	for _, f := range []string{DescriptorFile, DataFile, WALFile, OffsetsFile, IndexFile} {
		if st, err := os.Stat(filepath.Join(c.dir, f)); err == nil {
			total += st.Size()
		}
	}
	return total
}

// digest returns the CRC digests of the serialized sidecars plus the raw
// serialized forms, so checkpoint writes exactly what it digested.
func (c *Collection) sidecars() (offsetsBuf, indexBuf *bytes.Buffer, err error) {
	offsetsBuf = &bytes.Buffer{}
	if err := c.offsets.Save(offsetsBuf); err != nil {
		return nil, nil, err
	}
	indexBuf = &bytes.Buffer{}
	if c.idx != nil {
		if err := c.idx.Save(indexBuf); err != nil {
			return nil, nil, err
		}
	}
	return offsetsBuf, indexBuf, nil
}
