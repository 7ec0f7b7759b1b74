package collection

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/metadata"
	"github.com/piramidhq/piramid/quantization"
	"github.com/piramidhq/piramid/wal"
)

func testOptions(fns ...func(o *Options)) Options {
	opts := DefaultOptions()
	opts.WAL.Policy = wal.SyncHighDurability
	opts.HNSW.Seed = 42
	for _, fn := range fns {
		fn(&opts)
	}
	return opts
}

func openTestCollection(t *testing.T, fns ...func(o *Options)) (*Collection, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "c1")
	c, err := Open(dir, "c1", testOptions(fns...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, dir
}

func TestCreateInsertGet(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) {
		o.Metric = distance.MetricCosine
		o.Dim = 4
	})
	ctx := context.Background()

	id, err := c.Insert(ctx, []float32{1, 0, 0, 0}, "x", metadata.Metadata{"k": metadata.String("a")})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	doc, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "x", doc.Text)
	assert.Equal(t, "a", doc.Metadata["k"].S)
	require.Len(t, doc.Vector, 4)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, c.Dim())
}

func TestDimFixedOnFirstInsert(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()

	assert.Equal(t, 0, c.Dim())
	_, err := c.Insert(ctx, []float32{1, 2, 3}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Dim())

	_, err = c.Insert(ctx, []float32{1, 2}, "", nil)
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
}

func TestInsertValidation(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, nil, "", nil)
	assert.ErrorIs(t, err, ErrInvalidVector)

	nan := float32(0)
	nan /= nan
	_, err = c.Insert(ctx, []float32{1, nan}, "", nil)
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestUpsertAndUpdate(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	// Upsert without id inserts.
	id, err := c.Upsert(ctx, uuid.Nil, Item{Vector: []float32{1, 0}, Text: "v1"})
	require.NoError(t, err)

	// Upsert on an existing id replaces wholesale; last writer wins.
	_, err = c.Upsert(ctx, id, Item{Vector: []float32{0, 1}, Text: "v2",
		Metadata: metadata.Metadata{"rev": metadata.Int(2)}})
	require.NoError(t, err)

	doc, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Text)
	assert.EqualValues(t, 2, doc.Metadata["rev"].I64)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Update replaces only what was passed; text stays.
	require.NoError(t, c.UpdateMetadata(ctx, id, metadata.Metadata{"rev": metadata.Int(3)}))
	doc, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Text)
	assert.EqualValues(t, 3, doc.Metadata["rev"].I64)

	require.NoError(t, c.UpdateVector(ctx, id, []float32{0.5, 0.5}))
	doc, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, doc.Metadata["rev"].I64)

	// Update of a missing id is not-found.
	err = c.Update(ctx, uuid.New(), []float32{1, 1}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertDimConflict(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 3 })
	ctx := context.Background()

	id, err := c.Insert(ctx, []float32{1, 0, 0}, "", nil)
	require.NoError(t, err)

	// Different dim on an existing id is a conflict, not a reshape.
	_, err = c.Upsert(ctx, id, Item{Vector: []float32{1, 0}})
	var dimErr *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}

func TestDelete(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	id, err := c.Insert(ctx, []float32{1, 0}, "", nil)
	require.NoError(t, err)

	ok, err := c.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMany(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	ids, err := c.InsertMany(ctx, []Item{
		{Vector: []float32{1, 0}},
		{Vector: []float32{0, 1}},
		{Vector: []float32{1, 1}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	n, err := c.DeleteMany(ctx, []uuid.UUID{ids[0], ids[2], uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListDocuments(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	var ids []uuid.UUID
	for i := range 5 {
		id, err := c.Insert(ctx, []float32{float32(i), 1}, "", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := c.ListDocuments(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	page, err = c.ListDocuments(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[4], page[0].ID)

	page, err = c.ListDocuments(ctx, 99, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c1")
	ctx := context.Background()

	c, err := Open(dir, "c1", testOptions())
	require.NoError(t, err)

	inserted := make(map[uuid.UUID]string)
	for i := range 20 {
		id, err := c.Insert(ctx, []float32{float32(i), 1, 2, 3}, "t", nil)
		require.NoError(t, err)
		inserted[id] = "t"
	}
	// Mutate: delete five.
	deleted := 0
	for id := range inserted {
		if deleted == 5 {
			break
		}
		_, err := c.Delete(ctx, id)
		require.NoError(t, err)
		delete(inserted, id)
		deleted++
	}
	require.NoError(t, c.Close(ctx))

	// Reopen: the visible set is {inserted} − {deleted}.
	c2, err := Open(dir, "c1", testOptions())
	require.NoError(t, err)
	defer c2.Close(ctx)

	n, err := c2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(inserted), n)

	for id := range inserted {
		doc, err := c2.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, doc.ID)
		assert.Len(t, doc.Vector, 4)
	}
}

func TestCrashSafetyNoCheckpoint(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c4")
	ctx := context.Background()

	opts := testOptions(func(o *Options) {
		o.Dim = 8
		o.WAL.Policy = wal.SyncHighDurability
	})

	c, err := Open(dir, "c4", opts)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	ids := make([]uuid.UUID, 200)
	for i := range ids {
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		ids[i], err = c.Insert(ctx, vec, "doc", nil)
		require.NoError(t, err)
	}

	// Simulate a crash: no checkpoint, no close. The WAL alone must carry
	// the state. (Sidecars were never written.)
	c2, err := Open(dir, "c4", opts)
	require.NoError(t, err)
	defer c2.Close(ctx)

	n, err := c2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	stats, err := c2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.Count)

	res, err := c2.Search(ctx, make([]float32, 8), 10, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res)

	for _, id := range ids {
		_, err := c2.Get(ctx, id)
		require.NoError(t, err)
	}
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c4")
	ctx := context.Background()

	c, err := Open(dir, "c4", testOptions(func(o *Options) { o.Dim = 4 }))
	require.NoError(t, err)
	defer c.Close(ctx)

	for i := range 50 {
		_, err := c.Insert(ctx, []float32{float32(i), 0, 0, 1}, "", nil)
		require.NoError(t, err)
	}

	require.NoError(t, c.Checkpoint(ctx))

	// WAL shrinks to its header.
	st, err := os.Stat(filepath.Join(dir, WALFile))
	require.NoError(t, err)
	assert.LessOrEqual(t, st.Size(), int64(64))

	// Sidecars exist and load clean on reopen.
	_, err = os.Stat(filepath.Join(dir, OffsetsFile))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, IndexFile))
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	c2, err := Open(dir, "c4", testOptions(func(o *Options) { o.Dim = 4 }))
	require.NoError(t, err)
	defer c2.Close(ctx)

	n, err := c2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestWALReplayIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c1")
	ctx := context.Background()

	c, err := Open(dir, "c1", testOptions(func(o *Options) { o.Dim = 2 }))
	require.NoError(t, err)
	id, err := c.Insert(ctx, []float32{1, 0}, "a", nil)
	require.NoError(t, err)
	_, err = c.Upsert(ctx, id, Item{Vector: []float32{0, 1}, Text: "b"})
	require.NoError(t, err)

	// Crash-reopen twice: replaying the same suffix twice converges to the
	// same state.
	for range 2 {
		c2, err := Open(dir, "c1", testOptions(func(o *Options) { o.Dim = 2 }))
		require.NoError(t, err)

		n, err := c2.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		doc, err := c2.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "b", doc.Text)

		// No checkpoint: leave the WAL as-is for the next round.
		_ = c2.log.Close()
		_ = c2.data.Close()
	}
}

func TestQuantizedCollection(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) {
		o.Dim = 4
		o.Quantization = quantization.KindInt8
		o.Metric = distance.MetricEuclidean
	})
	ctx := context.Background()

	orig := []float32{1, -2, 3, -4}
	id, err := c.Insert(ctx, orig, "q", nil)
	require.NoError(t, err)

	doc, err := c.Get(ctx, id)
	require.NoError(t, err)
	for i := range orig {
		assert.InDelta(t, orig[i], doc.Vector[i], 4.0/127+1e-6)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	id, err := c.Insert(ctx, []float32{1, 0}, "", nil)
	require.NoError(t, err)

	require.NoError(t, c.SetReadOnly(ctx, true))
	assert.Equal(t, StateReadOnly, c.State())

	_, err = c.Insert(ctx, []float32{0, 1}, "", nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = c.Delete(ctx, id)
	assert.ErrorIs(t, err, ErrReadOnly)

	// Reads still work.
	_, err = c.Get(ctx, id)
	require.NoError(t, err)
	res, err := c.Search(ctx, []float32{1, 0}, 1, nil, nil)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	require.NoError(t, c.SetReadOnly(ctx, false))
	_, err = c.Insert(ctx, []float32{0, 1}, "", nil)
	require.NoError(t, err)
}

func TestClosedRejectsEverything(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	_, err := c.Insert(ctx, []float32{1, 0}, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	_, err = c.Insert(ctx, []float32{0, 1}, "", nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Search(ctx, []float32{1, 0}, 1, nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, c.Close(ctx))
}

func TestInsertManyAtomicWAL(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) { o.Dim = 2 })
	ctx := context.Background()

	ids, err := c.InsertMany(ctx, []Item{
		{Vector: []float32{1, 0}, Text: "a"},
		{Vector: []float32{0, 1}, Text: "b"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// A bad item anywhere fails the whole batch before the WAL.
	_, err = c.InsertMany(ctx, []Item{
		{Vector: []float32{1, 0}},
		{Vector: []float32{1, 0, 0}},
	})
	require.Error(t, err)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCompactShrinksDataFile(t *testing.T) {
	c, dir := openTestCollection(t, func(o *Options) { o.Dim = 8 })
	ctx := context.Background()

	var ids []uuid.UUID
	for i := range 100 {
		id, err := c.Insert(ctx, []float32{float32(i), 1, 2, 3, 4, 5, 6, 7}, "padding-text", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids[:80] {
		_, err := c.Delete(ctx, id)
		require.NoError(t, err)
	}

	before, err := os.Stat(filepath.Join(dir, DataFile))
	require.NoError(t, err)

	require.NoError(t, c.Compact(ctx))

	after, err := os.Stat(filepath.Join(dir, DataFile))
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	// Survivors remain readable and searchable.
	for _, id := range ids[80:] {
		_, err := c.Get(ctx, id)
		require.NoError(t, err)
	}
	res, err := c.Search(ctx, []float32{90, 1, 2, 3, 4, 5, 6, 7}, 5, nil, nil)
	require.NoError(t, err)
	assert.Len(t, res, 5)

	// Reopen after compaction works.
	require.NoError(t, c.Close(ctx))
	c2, err := Open(dir, "c1", testOptions(func(o *Options) { o.Dim = 8 }))
	require.NoError(t, err)
	defer c2.Close(ctx)
	n, err := c2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestStats(t *testing.T) {
	c, _ := openTestCollection(t, func(o *Options) {
		o.Dim = 4
		o.IndexPolicy = index.PolicyHNSW
	})
	ctx := context.Background()

	_, err := c.Insert(ctx, []float32{1, 0, 0, 0}, "", nil)
	require.NoError(t, err)
	id2, err := c.Insert(ctx, []float32{0, 1, 0, 0}, "", nil)
	require.NoError(t, err)
	_, err = c.Delete(ctx, id2)
	require.NoError(t, err)

	s, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", s.Name)
	assert.Equal(t, 1, s.Count, "tombstoned nodes must not count")
	assert.Equal(t, index.KindHNSW, s.IndexKind)
	assert.Equal(t, 1, s.Tombstones)
	assert.Greater(t, s.BytesOnDisk, int64(0))
	assert.Greater(t, s.IndexMemory, int64(0))
}

func TestDescriptorWinsOverOptions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c1")
	ctx := context.Background()

	c, err := Open(dir, "c1", testOptions(func(o *Options) {
		o.Metric = distance.MetricDot
		o.Dim = 2
	}))
	require.NoError(t, err)
	_, err = c.Insert(ctx, []float32{1, 2}, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	// Reopening with a different metric keeps the created one.
	c2, err := Open(dir, "c1", testOptions(func(o *Options) {
		o.Metric = distance.MetricCosine
	}))
	require.NoError(t, err)
	defer c2.Close(ctx)
	assert.Equal(t, distance.MetricDot, c2.Metric())
}

func TestCorruptDescriptor(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c1")
	ctx := context.Background()

	c, err := Open(dir, "c1", testOptions(func(o *Options) { o.Dim = 2 }))
	require.NoError(t, err)
	_, err = c.Insert(ctx, []float32{1, 0}, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte("garbage"), 0o600))

	_, err = Open(dir, "c1", testOptions())
	var corr *ErrCorruption
	require.ErrorAs(t, err, &corr)
	assert.Equal(t, DescriptorFile, corr.File)
}
