package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWriteSyncReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	m, err := OpenFile(path, 4096)
	require.NoError(t, err)
	require.EqualValues(t, 4096, m.Len())

	copy(m.Data[0:], []byte("piramid"))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	m2, err := OpenFile(path, 0)
	require.NoError(t, err)
	defer m2.Close()

	assert.Equal(t, []byte("piramid"), m2.Data[:7])
}

func TestGrowPreservesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	m, err := OpenFile(path, 1024)
	require.NoError(t, err)
	defer m.Close()

	copy(m.Data[1000:], []byte{1, 2, 3})
	require.NoError(t, m.Grow(8192))
	require.EqualValues(t, 8192, m.Len())
	assert.Equal(t, []byte{1, 2, 3}, m.Data[1000:1003])

	// Growing to a smaller size is a no-op.
	require.NoError(t, m.Grow(16))
	assert.EqualValues(t, 8192, m.Len())
}

func TestTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	m, err := OpenFile(path, 4096)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Truncate(1024))
	assert.EqualValues(t, 1024, m.Len())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, fi.Size())
}

func TestClosedOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	m, err := OpenFile(path, 64)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Sync(), ErrClosed)
	assert.ErrorIs(t, m.Grow(128), ErrClosed)
	assert.NoError(t, m.Close())
}
