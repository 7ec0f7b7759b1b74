package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// File header: [magic "PWAL"][version u8][flags u8][reserved u16]
const (
	headerLen    = 8
	walMagic     = 0x5057414c // "PWAL"
	walVersion   = 1
	flagCompress = 1 << 0
)

// WAL is an append-only, single-writer operation log.
type WAL struct {
	mu         sync.Mutex
	file       *os.File
	buf        *bufio.Writer
	compressor *zstd.Encoder
	path       string
	opts       Options
	lsn        uint64
	repaired   bool // torn tail dropped at open time

	// Batched-sync state.
	pending  int
	ticker   *time.Ticker
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

// Open opens or creates the WAL at path.
func Open(path string, optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchMaxOps <= 0 {
		opts.BatchMaxOps = DefaultOptions.BatchMaxOps
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultOptions.BatchInterval
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}

	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	w := &WAL{file: file, path: path, opts: opts}

	if st.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else {
		compressed, err := readHeader(file)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		// The on-disk flag wins over the requested option so an existing
		// log keeps decoding.
		w.opts.Compress = compressed
	}

	// Establish the next LSN and position for appending.
	if err := w.scan(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, 2); err != nil {
		_ = file.Close()
		return nil, err
	}
	w.initWriter()

	if w.opts.Policy == SyncBatched {
		w.stopCh = make(chan struct{})
		w.ticker = time.NewTicker(w.opts.BatchInterval)
		w.workerWg.Add(1)
		go w.syncWorker()
	}

	return w, nil
}

func (w *WAL) writeHeader() error {
	hdr := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(hdr[0:], walMagic)
	hdr[4] = walVersion
	if w.opts.Compress {
		hdr[5] = flagCompress
	}
	if _, err := w.file.Write(hdr); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return nil
}

func readHeader(f *os.File) (compressed bool, err error) {
	hdr := make([]byte, headerLen)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return false, ErrBadHeader
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != walMagic {
		return false, ErrBadHeader
	}
	if hdr[4] != walVersion {
		return false, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, hdr[4])
	}
	return hdr[5]&flagCompress != 0, nil
}

func (w *WAL) initWriter() {
	if w.opts.Compress {
		// Appending creates a fresh zstd frame; the decoder transparently
		// handles the concatenation on replay.
		enc, _ := zstd.NewWriter(w.file)
		w.compressor = enc
		w.buf = bufio.NewWriter(enc)
	} else {
		w.buf = bufio.NewWriter(w.file)
	}
}

// scan walks the existing log to find the highest LSN and drops any torn
// trailing record so later appends land on a clean frame boundary.
func (w *WAL) scan() error {
	records, cleanLen, err := readAll(w.file, w.opts.Compress)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.LSN > w.lsn {
			w.lsn = r.LSN
		}
	}

	if cleanLen >= 0 {
		st, err := w.file.Stat()
		if err != nil {
			return err
		}
		if st.Size() > cleanLen {
			if err := w.file.Truncate(cleanLen); err != nil {
				return err
			}
			w.repaired = true
		}
	}
	return nil
}

// AppendInsert logs an insert and applies the sync policy.
func (w *WAL) AppendInsert(id uuid.UUID, doc []byte) error {
	return w.append(&Record{Type: RecordInsert, ID: id, Doc: doc})
}

// AppendUpdate logs an update and applies the sync policy.
func (w *WAL) AppendUpdate(id uuid.UUID, doc []byte) error {
	return w.append(&Record{Type: RecordUpdate, ID: id, Doc: doc})
}

// AppendDelete logs a delete and applies the sync policy.
func (w *WAL) AppendDelete(id uuid.UUID) error {
	return w.append(&Record{Type: RecordDelete, ID: id})
}

// AppendBatch logs several records under one lock acquisition, one flush
// and one sync-policy step. The frames carry no batch marker: replay keeps
// every intact frame up to a torn one, so a batch cut short by a crash
// replays as its prefix.
func (w *WAL) AppendBatch(records []*Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}

	for _, r := range records {
		w.lsn++
		r.LSN = w.lsn
		if err := encodeFrame(w.buf, r); err != nil {
			return err
		}
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.pending += len(records)
	return w.syncPolicyLocked()
}

func (w *WAL) append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}

	w.lsn++
	r.LSN = w.lsn
	if err := encodeFrame(w.buf, r); err != nil {
		return err
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.pending++
	return w.syncPolicyLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.compressor != nil {
		return w.compressor.Flush()
	}
	return nil
}

func (w *WAL) syncPolicyLocked() error {
	switch w.opts.Policy {
	case SyncHighDurability:
		w.pending = 0
		return w.file.Sync()
	case SyncBatched:
		if w.pending >= w.opts.BatchMaxOps {
			return w.syncLocked()
		}
		return nil
	default: // SyncOff
		w.pending = 0
		return nil
	}
}

func (w *WAL) syncLocked() error {
	if w.pending == 0 {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.pending = 0
	return nil
}

func (w *WAL) syncWorker() {
	defer w.workerWg.Done()
	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			if w.file != nil {
				_ = w.syncLocked()
			}
			w.mu.Unlock()
			return
		case <-w.ticker.C:
			w.mu.Lock()
			if w.file != nil {
				_ = w.syncLocked()
			}
			w.mu.Unlock()
		}
	}
}

// Sync forces an fsync regardless of policy.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.pending = 0
	return w.file.Sync()
}

// Checkpoint appends a checkpoint marker, fsyncs it, and truncates the log
// prefix. After Checkpoint returns the log contains only the fresh header.
func (w *WAL) Checkpoint(highWater uint64, offsetsDigest, indexDigest uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}

	w.lsn++
	r := &Record{
		Type:          RecordCheckpoint,
		LSN:           w.lsn,
		HighWater:     highWater,
		OffsetsDigest: offsetsDigest,
		IndexDigest:   indexDigest,
	}
	if err := encodeFrame(w.buf, r); err != nil {
		return err
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	// A checkpoint is always a durability boundary.
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.pending = 0

	return w.truncateLocked()
}

// truncateLocked rewrites the log as an empty file with a fresh header.
func (w *WAL) truncateLocked() error {
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return err
		}
		w.compressor = nil
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	w.file = file
	if err := w.writeHeader(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.initWriter()
	w.lsn = 0
	return nil
}

// Size returns the current log file size in bytes.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, ErrClosed
	}
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Path returns the log file path.
func (w *WAL) Path() string { return w.path }

// Close flushes, syncs and closes the log. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.file == nil {
		w.mu.Unlock()
		return nil
	}

	if w.ticker != nil {
		close(w.stopCh)
		w.mu.Unlock()
		w.workerWg.Wait()
		w.mu.Lock()
		w.ticker.Stop()
		w.ticker = nil
	}
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return err
		}
		w.compressor = nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}
