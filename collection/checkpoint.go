package collection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/piramidhq/piramid/internal/hash"
	"github.com/piramidhq/piramid/storage"
)

// Checkpoint makes the in-memory state durable and truncates the WAL:
// flush data file → write offset map and ANN sidecars atomically → append a
// Checkpoint record and fsync → drop the log prefix.
func (c *Collection) Checkpoint(ctx context.Context) error {
	start := time.Now()
	err := c.checkpoint(ctx)
	c.metrics.RecordCheckpoint(time.Since(start), err)
	c.logger.LogCheckpoint(ctx, c.offsets.Len(), err)
	return err
}

func (c *Collection) checkpoint(ctx context.Context) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	switch c.state {
	case StateCorrupt:
		return ErrCorrupt
	case StateClosed:
		return ErrClosed
	}
	return c.checkpointLocked()
}

func (c *Collection) checkpointLocked() error {
	c.data.SetCountHint(uint64(c.offsets.Len()))
	if err := c.data.Sync(); err != nil {
		return err
	}

	offsetsBuf, indexBuf, err := c.sidecars()
	if err != nil {
		return err
	}

	if err := storage.WriteFileAtomic(filepath.Join(c.dir, OffsetsFile), offsetsBuf.Bytes()); err != nil {
		return err
	}
	if indexBuf.Len() > 0 {
		if err := storage.WriteFileAtomic(filepath.Join(c.dir, IndexFile), indexBuf.Bytes()); err != nil {
			return err
		}
	}

	now := time.Now()
	c.desc.Count = uint64(c.offsets.Len())
	c.desc.UpdatedAt = now
	c.desc.LastCheckpoint = now
	if err := storage.SaveDescriptor(filepath.Join(c.dir, DescriptorFile), c.desc); err != nil {
		return err
	}

	return c.log.Checkpoint(
		c.data.HighWater(),
		c.offsets.Digest(),
		hash.CRC32C(indexBuf.Bytes()),
	)
}

// Compact rewrites live records into a fresh data file and swaps it in.
// This is the only operation that shrinks the data file.
func (c *Collection) Compact(ctx context.Context) error {
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()

	if err := c.writableLocked(); err != nil {
		return err
	}

	tmpPath := filepath.Join(c.dir, DataFile+".compact")
	fresh, err := storage.OpenDataFile(tmpPath, c.opts.GrowthFactor)
	if err != nil {
		return err
	}
	fresh.SetDim(c.desc.Dim)
	fresh.SetMetric(c.desc.Metric)

	type moved struct {
		off uint64
		len uint32
	}
	ids := c.offsets.IDs()
	moves := make(map[int]moved, len(ids))

	for i, id := range ids {
		e, _ := c.offsets.Get(id)
		raw, err := c.data.ReadAt(e.Offset, e.Length)
		if err != nil {
			_ = fresh.Close()
			_ = os.Remove(tmpPath)
			return &ErrCorruption{File: DataFile, Err: err}
		}
		off, err := fresh.Append(raw)
		if err != nil {
			_ = fresh.Close()
			_ = os.Remove(tmpPath)
			return err
		}
		moves[i] = moved{off: off, len: e.Length}
	}

	fresh.SetCountHint(uint64(len(ids)))
	if err := fresh.Shrink(); err != nil {
		_ = fresh.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := fresh.Sync(); err != nil {
		_ = fresh.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	hw := fresh.HighWater()
	if err := fresh.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := c.data.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(c.dir, DataFile)); err != nil {
		return fmt.Errorf("compact swap: %w", err)
	}

	reopened, err := storage.OpenDataFile(filepath.Join(c.dir, DataFile), c.opts.GrowthFactor)
	if err != nil {
		c.state = StateCorrupt
		return &ErrCorruption{File: DataFile, Err: err}
	}
	if err := reopened.SetHighWater(hw); err != nil {
		c.state = StateCorrupt
		return &ErrCorruption{File: DataFile, Err: err}
	}
	c.data = reopened

	// Replacing an entry keeps its slot and seq, so the index and ordering
	// are untouched by the move.
	for i, id := range ids {
		m := moves[i]
		c.offsets.Put(id, m.off, m.len)
	}
	c.docs.Purge()

	c.logger.Info("compaction completed", "records", len(ids), "bytes", c.data.Size())
	return c.checkpointLocked()
}
