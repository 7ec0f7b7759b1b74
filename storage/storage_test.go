package storage

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/quantization"
	"github.com/piramidhq/piramid/wal"
)

func TestDataFileAppendRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	d, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	defer d.Close()

	d.SetDim(4)
	d.SetMetric(distance.MetricCosine)

	rec1 := []byte("record-one")
	rec2 := []byte("record-two-longer")

	off1, err := d.Append(rec1)
	require.NoError(t, err)
	assert.EqualValues(t, DataHeaderLen, off1)

	off2, err := d.Append(rec2)
	require.NoError(t, err)
	assert.EqualValues(t, int(off1)+len(rec1), off2)

	got, err := d.ReadAt(off1, uint32(len(rec1)))
	require.NoError(t, err)
	assert.Equal(t, rec1, got)

	got, err = d.ReadAt(off2, uint32(len(rec2)))
	require.NoError(t, err)
	assert.Equal(t, rec2, got)
}

func TestDataFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	d, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	d.SetDim(8)
	d.SetMetric(distance.MetricDot)
	off, err := d.Append([]byte("persist"))
	require.NoError(t, err)
	hw := d.HighWater()
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())

	d2, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	defer d2.Close()

	assert.Equal(t, 8, d2.Dim())
	assert.Equal(t, distance.MetricDot, d2.Metric())
	require.NoError(t, d2.SetHighWater(hw))

	got, err := d2.ReadAt(off, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist"), got)
}

func TestDataFileGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	d, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	defer d.Close()

	// Force growth past the initial mapping.
	big := make([]byte, 3<<20)
	for i := range big {
		big[i] = byte(i)
	}
	off, err := d.Append(big)
	require.NoError(t, err)

	got, err := d.ReadAt(off, uint32(len(big)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(big, got))

	// Monotonic growth during normal operation.
	assert.GreaterOrEqual(t, d.Size(), int64(len(big))+DataHeaderLen)
}

func TestDataFileBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	d, err := OpenDataFile(path, 0)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.ReadAt(0, 8)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = d.ReadAt(DataHeaderLen, 8)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	assert.ErrorIs(t, d.SetHighWater(4), ErrOutOfBounds)
}

func TestOffsetMapPutGetDelete(t *testing.T) {
	o := NewOffsetMap()
	id1, id2 := uuid.New(), uuid.New()

	e1, isNew := o.Put(id1, 100, 10)
	assert.True(t, isNew)
	assert.EqualValues(t, 0, e1.Slot)

	e2, isNew := o.Put(id2, 200, 20)
	assert.True(t, isNew)
	assert.EqualValues(t, 1, e2.Slot)

	// Replace keeps the slot.
	e1b, isNew := o.Put(id1, 300, 30)
	assert.False(t, isNew)
	assert.Equal(t, e1.Slot, e1b.Slot)

	got, ok := o.Get(id1)
	require.True(t, ok)
	assert.EqualValues(t, 300, got.Offset)

	// Slot reverse lookup.
	back, ok := o.IDForSlot(e2.Slot)
	require.True(t, ok)
	assert.Equal(t, id2, back)

	// Delete recycles the slot.
	_, ok = o.Delete(id1)
	require.True(t, ok)
	_, ok = o.Get(id1)
	assert.False(t, ok)
	_, ok = o.IDForSlot(e1.Slot)
	assert.False(t, ok)

	id3 := uuid.New()
	e3, _ := o.Put(id3, 400, 40)
	assert.Equal(t, e1.Slot, e3.Slot)
	assert.Equal(t, 2, o.Len())
}

func TestOffsetMapInsertionOrder(t *testing.T) {
	o := NewOffsetMap()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		o.Put(ids[i], uint64(100*i+DataHeaderLen), 10)
	}
	o.Delete(ids[2])

	got := o.IDs()
	assert.Equal(t, []uuid.UUID{ids[0], ids[1], ids[3], ids[4]}, got)
}

func TestOffsetMapSaveLoad(t *testing.T) {
	o := NewOffsetMap()
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		o.Put(ids[i], uint64(DataHeaderLen+i*64), 64)
	}
	o.Delete(ids[3])
	o.Delete(ids[7])

	var buf bytes.Buffer
	require.NoError(t, o.Save(&buf))

	loaded := NewOffsetMap()
	require.NoError(t, loaded.Load(&buf))

	assert.Equal(t, o.Len(), loaded.Len())
	assert.Equal(t, o.Digest(), loaded.Digest())
	assert.Equal(t, o.IDs(), loaded.IDs())

	for _, id := range o.IDs() {
		want, _ := o.Get(id)
		got, ok := loaded.Get(id)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	// Freed slots are reusable after load.
	e, isNew := loaded.Put(uuid.New(), 10_000, 8)
	assert.True(t, isNew)
	assert.Less(t, int(e.Slot), 10)
}

func TestOffsetMapLoadRejectsCorruption(t *testing.T) {
	o := NewOffsetMap()
	o.Put(uuid.New(), DataHeaderLen, 16)

	var buf bytes.Buffer
	require.NoError(t, o.Save(&buf))

	data := buf.Bytes()
	data[9] ^= 0xff // corrupt the stored CRC

	err := NewOffsetMap().Load(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrBadSidecar)
}

func TestOffsetMapHighWater(t *testing.T) {
	o := NewOffsetMap()
	assert.EqualValues(t, DataHeaderLen, o.HighWater())

	o.Put(uuid.New(), 100, 50)
	o.Put(uuid.New(), 500, 25)
	assert.EqualValues(t, 525, o.HighWater())
}

func TestDescriptorRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Nanosecond)
	d := &Descriptor{
		Name:           "articles",
		Dim:            384,
		Metric:         distance.MetricCosine,
		IndexKind:      2,
		Quantization:   quantization.KindInt8,
		WALPolicy:      wal.SyncBatched,
		Count:          12345,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now,
		LastCheckpoint: now.Add(-time.Minute),
	}

	path := filepath.Join(t.TempDir(), "descriptor")
	require.NoError(t, SaveDescriptor(path, d))

	got, err := LoadDescriptor(path)
	require.NoError(t, err)

	assert.Equal(t, d.Name, got.Name)
	assert.Equal(t, d.Dim, got.Dim)
	assert.Equal(t, d.Metric, got.Metric)
	assert.Equal(t, d.IndexKind, got.IndexKind)
	assert.Equal(t, d.Quantization, got.Quantization)
	assert.Equal(t, d.WALPolicy, got.WALPolicy)
	assert.Equal(t, d.Count, got.Count)
	assert.True(t, d.UpdatedAt.Equal(got.UpdatedAt))
}

func TestDescriptorRejectsUnknownVersion(t *testing.T) {
	d := &Descriptor{Name: "x", Dim: 2}
	data := d.Marshal()
	data[4] = 99

	_, err := UnmarshalDescriptor(data)
	assert.ErrorIs(t, err, ErrBadDescriptor)
}
