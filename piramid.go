// Package piramid is an embedded-but-served vector database: it stores
// high-dimensional float vectors together with free-form text and typed
// metadata, and answers approximate k-nearest-neighbor queries with
// optional metadata filters.
//
// A DB is the process-wide registry of named collections. Each collection
// owns its on-disk artifacts (mmap data file, WAL, offset map and ANN
// sidecars, descriptor) and its own reader/writer lock, so different
// collections operate fully in parallel while a single collection
// serializes writers and admits concurrent readers.
//
//	db, err := piramid.Open("./data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close(ctx)
//
//	col, err := db.Create(ctx, "articles", func(o *collection.Options) {
//	    o.Metric = distance.MetricCosine
//	    o.IndexPolicy = index.PolicyHNSW
//	})
//	id, err := col.Insert(ctx, vec, "some text", metadata.Metadata{
//	    "lang": metadata.String("en"),
//	})
//	hits, err := col.Search(ctx, query, 10,
//	    metadata.NewFilterSet(metadata.Eq("lang", metadata.String("en"))), nil)
package piramid

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/piramidhq/piramid/collection"
	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/internal/resource"
)

// MaxNameLen bounds collection names.
const MaxNameLen = 128

// DB is the process-wide collection registry.
type DB struct {
	opts Options
	root string

	// shards hold the name → collection map. Shard locks guard only the
	// map itself and are never held across I/O; the singleflight group
	// makes concurrent get-or-create idempotent with the first caller
	// driving the load.
	shards [registryShards]registryShard
	sf     singleflight.Group

	logger  *Logger
	monitor *resource.DiskMonitor
	cancel  context.CancelFunc

	closed   sync.Once
	closeErr error
}

const registryShards = 16

type registryShard struct {
	mu   sync.RWMutex
	cols map[string]*collection.Collection
}

func shardFor(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % registryShards)
}

// Open opens a database rooted at dir.
func Open(dir string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	db := &DB{
		opts:   opts,
		root:   dir,
		logger: opts.logger,
	}
	for i := range db.shards {
		db.shards[i].cols = make(map[string]*collection.Collection)
	}

	ctx, cancel := context.WithCancel(context.Background())
	db.cancel = cancel

	db.monitor = resource.NewDiskMonitor(dir, opts.diskFloorBytes, opts.diskPollInterval)
	db.monitor.OnLow = func(free uint64) {
		db.logger.Warn("low disk space, collections going read-only", "free_bytes", free)
		db.setAllReadOnly(true)
	}
	db.monitor.OnRecovered = func(free uint64) {
		db.logger.Info("disk space recovered", "free_bytes", free)
		db.setAllReadOnly(false)
	}
	if opts.lowSpaceReadOnly {
		go db.monitor.Run(ctx)
	}

	return db, nil
}

func (db *DB) setAllReadOnly(ro bool) {
	ctx := context.Background()
	for i := range db.shards {
		s := &db.shards[i]
		s.mu.RLock()
		cols := make([]*collection.Collection, 0, len(s.cols))
		for _, c := range s.cols {
			cols = append(cols, c)
		}
		s.mu.RUnlock()
		for _, c := range cols {
			if err := c.SetReadOnly(ctx, ro); err != nil {
				db.logger.Error("read-only transition failed", "collection", c.Name(), "error", err)
			}
		}
	}
}

// ValidateName checks the collection naming rules: ASCII letters, digits,
// underscore, dash and dot, at most MaxNameLen characters.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidName, MaxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("%w: illegal character %q", ErrInvalidName, r)
		}
	}
	return nil
}

func (db *DB) dirFor(name string) string {
	return filepath.Join(db.root, name)
}

func (db *DB) collectionOptions(fns []func(o *collection.Options)) collection.Options {
	opts := db.opts.collectionDefaults
	opts.Logger = db.logger
	if opts.Metrics == nil {
		opts.Metrics = db.opts.metrics
	}
	for _, fn := range fns {
		fn(&opts)
	}
	return opts
}

// Create creates a new collection. It fails with ErrCollectionExists when
// the name is already taken (on disk or in memory).
func (db *DB) Create(ctx context.Context, name string, optFns ...func(o *collection.Options)) (*collection.Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := os.Stat(db.dirFor(name)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	c, err := db.getOrOpen(ctx, name, optFns)
	if err != nil {
		return nil, err
	}
	db.logger.Info("collection created", "collection", name,
		"metric", c.Metric().String(), "index", c.IndexKind().String())
	return c, nil
}

// Collection resolves an existing collection, loading it on demand. It
// fails with ErrCollectionNotFound for names with no on-disk directory.
func (db *DB) Collection(ctx context.Context, name string, optFns ...func(o *collection.Options)) (*collection.Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s := &db.shards[shardFor(name)]
	s.mu.RLock()
	c, ok := s.cols[name]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	if _, err := os.Stat(db.dirFor(name)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return db.getOrOpen(ctx, name, optFns)
}

// getOrOpen is the single loader: concurrent callers for the same name
// block on one flight while the winner opens (or creates) the collection
// and installs it.
func (db *DB) getOrOpen(_ context.Context, name string, optFns []func(o *collection.Options)) (*collection.Collection, error) {
	v, err, _ := db.sf.Do(name, func() (any, error) {
		s := &db.shards[shardFor(name)]

		s.mu.RLock()
		c, ok := s.cols[name]
		s.mu.RUnlock()
		if ok {
			return c, nil
		}

		c, err := collection.Open(db.dirFor(name), name, db.collectionOptions(optFns))
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cols[name] = c
		s.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return v.(*collection.Collection), nil
}

// Drop deletes a collection and its on-disk artifacts. Idempotent: an
// unknown name is not an error.
func (db *DB) Drop(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s := &db.shards[shardFor(name)]
	s.mu.Lock()
	c := s.cols[name]
	delete(s.cols, name)
	s.mu.Unlock()

	if c != nil {
		if err := c.Drop(ctx); err != nil {
			return translateError(err)
		}
		db.logger.Info("collection dropped", "collection", name)
		return nil
	}

	// Not loaded: remove the directory if it exists.
	dir := db.dirFor(name)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	db.logger.Info("collection dropped", "collection", name)
	return nil
}

// CollectionInfo is one row of List.
type CollectionInfo struct {
	Name        string
	Count       int
	Dim         int
	Metric      distance.Metric
	BytesOnDisk int64
}

// List enumerates the loaded collections.
func (db *DB) List(ctx context.Context) ([]CollectionInfo, error) {
	var out []CollectionInfo
	for i := range db.shards {
		s := &db.shards[i]
		s.mu.RLock()
		cols := make([]*collection.Collection, 0, len(s.cols))
		for _, c := range s.cols {
			cols = append(cols, c)
		}
		s.mu.RUnlock()

		for _, c := range cols {
			n, err := c.Count(ctx)
			if err != nil {
				return nil, translateError(err)
			}
			out = append(out, CollectionInfo{
				Name:        c.Name(),
				Count:       n,
				Dim:         c.Dim(),
				Metric:      c.Metric(),
				BytesOnDisk: c.BytesOnDisk(),
			})
		}
	}
	return out, nil
}

// Checkpoint checkpoints one collection by name.
func (db *DB) Checkpoint(ctx context.Context, name string) error {
	c, err := db.Collection(ctx, name)
	if err != nil {
		return err
	}
	return translateError(c.Checkpoint(ctx))
}

// Stats returns the stats snapshot of one collection.
func (db *DB) Stats(ctx context.Context, name string) (collection.Stats, error) {
	c, err := db.Collection(ctx, name)
	if err != nil {
		return collection.Stats{}, err
	}
	s, err := c.Stats(ctx)
	return s, translateError(err)
}

// Close checkpoints and closes every loaded collection, each under its own
// write lock, and stops the disk monitor. Idempotent.
func (db *DB) Close(ctx context.Context) error {
	db.closed.Do(func() {
		db.cancel()

		for i := range db.shards {
			s := &db.shards[i]
			s.mu.Lock()
			cols := s.cols
			s.cols = make(map[string]*collection.Collection)
			s.mu.Unlock()

			for name, c := range cols {
				if err := c.Close(ctx); err != nil {
					db.logger.Error("close failed", "collection", name, "error", err)
					if db.closeErr == nil {
						db.closeErr = err
					}
				}
			}
		}
	})
	return translateError(db.closeErr)
}
