// Package mmap provides the read-write memory mapping behind the data file.
// The mapping is shared (MAP_SHARED): writes through the slice land in the
// page cache and are made durable with Sync.
package mmap

import (
	"errors"
	"os"
)

// ErrClosed is returned for operations on a closed mapping.
var ErrClosed = errors.New("mmap: closed")

// File is a writable memory-mapped file.
type File struct {
	Data []byte
	f    *os.File
	path string
}

// OpenFile opens (creating if necessary) path and maps it read-write with at
// least minSize bytes. An existing larger file keeps its size.
func OpenFile(path string, minSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := fi.Size()
	if size < minSize {
		size = minSize
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	data, err := mapRW(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{Data: data, f: f, path: path}, nil
}

// Len returns the mapped size.
func (m *File) Len() int64 {
	return int64(len(m.Data))
}

// Path returns the backing file path.
func (m *File) Path() string { return m.path }

// Grow extends the backing file to newSize and remaps. All previously
// derived pointers into Data are invalid afterwards; callers must re-slice.
func (m *File) Grow(newSize int64) error {
	if m.f == nil {
		return ErrClosed
	}
	if newSize <= int64(len(m.Data)) {
		return nil
	}

	if m.Data != nil {
		if err := unmap(m.Data); err != nil {
			return err
		}
		m.Data = nil
	}
	if err := m.f.Truncate(newSize); err != nil {
		return err
	}

	data, err := mapRW(m.f, int(newSize))
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}

// Sync flushes dirty pages to the backing file (msync + fsync).
func (m *File) Sync() error {
	if m.f == nil {
		return ErrClosed
	}
	if m.Data != nil {
		if err := msync(m.Data); err != nil {
			return err
		}
	}
	return m.f.Sync()
}

// Close unmaps and closes the file.
func (m *File) Close() error {
	if m == nil || m.f == nil {
		return nil
	}
	var err error
	if m.Data != nil {
		err = unmap(m.Data)
		m.Data = nil
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	m.f = nil
	return err
}

// Truncate shrinks the backing file to newSize and remaps. Used only by
// compaction, which owns the write lock.
func (m *File) Truncate(newSize int64) error {
	if m.f == nil {
		return ErrClosed
	}
	if m.Data != nil {
		if err := unmap(m.Data); err != nil {
			return err
		}
		m.Data = nil
	}
	if err := m.f.Truncate(newSize); err != nil {
		return err
	}
	data, err := mapRW(m.f, int(newSize))
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}
