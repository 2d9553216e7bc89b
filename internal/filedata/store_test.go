package filedata_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/filedata"
	"github.com/ncandio/razorfs/internal/wal"
)

func newTestStore(t *testing.T) *filedata.Store {
	t.Helper()
	dir := t.TempDir()
	log, err := wal.Open(filepath.Join(dir, "current.wal"), 0, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return filedata.NewStore(dir, log, filedata.DefaultCompressionPolicy)
}

func TestWriteThenReadBack(t *testing.T) {
	s := newTestStore(t)

	newSize, err := s.Write(1, []byte("hello world"), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 11, newSize)

	buf := make([]byte, 11)
	n, err := s.Read(1, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))
}

func TestWriteGrowsWithGapZeroFilled(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write(1, []byte("tail"), 10)
	require.NoError(t, err)

	size, err := s.Size(1)
	require.NoError(t, err)
	assert.EqualValues(t, 14, size)

	buf := make([]byte, 14)
	_, err = s.Read(1, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), buf[:10])
	assert.Equal(t, "tail", string(buf[10:]))
}

func TestReadPastEndReturnsZero(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(1, []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := s.Read(1, buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTruncateShrinksAndGrows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(1, []byte("0123456789"), 0)
	require.NoError(t, err)

	require.NoError(t, s.Truncate(1, 4))
	size, err := s.Size(1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)

	require.NoError(t, s.Truncate(1, 8))
	size, err = s.Size(1)
	require.NoError(t, err)
	assert.EqualValues(t, 8, size)

	buf := make([]byte, 8)
	_, err = s.Read(1, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf[:4]))
	assert.Equal(t, make([]byte, 4), buf[4:])
}

func TestFlushThenReadRoundTripsSmallFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(1, []byte("small file content"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Flush(1))

	buf := make([]byte, 18)
	_, err = s.Read(1, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "small file content", string(buf))
}

func TestFlushRoundTripsLargeCompressibleData(t *testing.T) {
	s := newTestStore(t)

	big := make([]byte, 64*1024)
	for i := range big {
		big[i] = 'a' // maximally compressible
	}
	_, err := s.Write(1, big, 0)
	require.NoError(t, err)
	require.NoError(t, s.Flush(1))

	buf := make([]byte, len(big))
	_, err = s.Read(1, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, big, buf)
}

func TestFlushWritesMagicAndInodeHeader(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(filepath.Join(dir, "current.wal"), 0, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	s := filedata.NewStore(dir, log, filedata.DefaultCompressionPolicy)

	_, err = s.Write(7, []byte("hello"), 0)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "file_7"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 28)
	assert.EqualValues(t, 0x46494C45, binary.LittleEndian.Uint32(raw[0:4]))
	assert.EqualValues(t, 7, binary.LittleEndian.Uint32(raw[4:8]))
	assert.EqualValues(t, 5, binary.LittleEndian.Uint64(raw[8:16]))
}

func TestReopeningBlobAfterRestartPreservesContent(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(filepath.Join(dir, "current.wal"), 0, clock.Real())
	require.NoError(t, err)
	s := filedata.NewStore(dir, log, filedata.DefaultCompressionPolicy)

	_, err = s.Write(3, []byte("durable"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, log.Close())

	log2, err := wal.Open(filepath.Join(dir, "current.wal"), 0, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log2.Close() })
	s2 := filedata.NewStore(dir, log2, filedata.DefaultCompressionPolicy)

	buf := make([]byte, 7)
	_, err = s2.Read(3, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(buf))
}

func TestRemoveDeletesBlob(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(1, []byte("x"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Flush(1))

	require.NoError(t, s.Remove(1))

	size, err := s.Size(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)
}
