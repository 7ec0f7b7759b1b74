package wal

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ReplayResult is what Open-time recovery hands to the collection.
type ReplayResult struct {
	// Records holds everything after the last checkpoint, in log order.
	Records []*Record

	// Checkpoint is the last checkpoint record, or nil if none.
	Checkpoint *Record

	// Repaired is true when a torn trailing record was dropped.
	Repaired bool
}

// countingReader tracks how many bytes have been consumed, so the torn tail
// of an uncompressed log can be truncated at the last good frame boundary.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// readAll decodes every well-formed frame in the log body. It stops at the
// first torn or corrupt record and reports the clean byte length
// (header-relative absolute offset) for uncompressed logs.
func readAll(f *os.File, compressed bool) (records []*Record, cleanLen int64, err error) {
	if _, err := f.Seek(headerLen, 0); err != nil {
		return nil, 0, err
	}

	cleanLen = headerLen

	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, cleanLen, err
		}
		defer dec.Close()

		for {
			r := &Record{}
			if err := decodeFrame(dec, r); err != nil {
				if errors.Is(err, io.EOF) {
					return records, -1, nil
				}
				// Anything else is a torn or corrupt tail; keep the prefix.
				return records, -1, nil
			}
			records = append(records, r)
		}
	}

	cr := &countingReader{r: bufio.NewReader(f)}
	for {
		r := &Record{}
		if err := decodeFrame(cr, r); err != nil {
			if errors.Is(err, io.EOF) {
				return records, cleanLen, nil
			}
			// Torn tail (unexpected EOF) or corrupt record: stop at the
			// last clean boundary.
			return records, cleanLen, nil
		}
		records = append(records, r)
		cleanLen = headerLen + cr.n
	}
}

// Replay reads the log and returns the records after the last checkpoint.
// A torn trailing record is dropped; for uncompressed logs the file is also
// physically truncated back to the last clean frame boundary.
func (w *WAL) Replay() (*ReplayResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil, ErrClosed
	}

	if err := w.flushLocked(); err != nil {
		return nil, err
	}

	records, cleanLen, err := readAll(w.file, w.opts.Compress)
	if err != nil {
		return nil, err
	}

	res := &ReplayResult{Repaired: w.repaired}

	if cleanLen >= 0 {
		st, err := w.file.Stat()
		if err != nil {
			return nil, err
		}
		if st.Size() > cleanLen {
			if err := w.file.Truncate(cleanLen); err != nil {
				return nil, err
			}
			res.Repaired = true
		}
	}

	// Position back at the end for future appends.
	if _, err := w.file.Seek(0, 2); err != nil {
		return nil, err
	}

	last := -1
	for i, r := range records {
		if r.Type == RecordCheckpoint {
			last = i
			res.Checkpoint = r
		}
	}
	res.Records = records[last+1:]
	return res, nil
}
