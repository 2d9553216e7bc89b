package stringtable_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/internal/errs"
	"github.com/ncandio/razorfs/internal/stringtable"
)

func TestInternDeduplicates(t *testing.T) {
	tbl := stringtable.New(0)

	off1, err := tbl.Intern([]byte("hello.txt"))
	require.NoError(t, err)

	off2, err := tbl.Intern([]byte("hello.txt"))
	require.NoError(t, err)

	assert.Equal(t, off1, off2)

	got, err := tbl.Get(off1)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", string(got))
}

func TestInternDistinctNamesGetDistinctOffsets(t *testing.T) {
	tbl := stringtable.New(0)

	a, err := tbl.Intern([]byte("a"))
	require.NoError(t, err)
	b, err := tbl.Intern([]byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestInternNameTooLong(t *testing.T) {
	tbl := stringtable.New(0)

	ok := strings.Repeat("x", stringtable.MaxNameLength)
	_, err := tbl.Intern([]byte(ok))
	require.NoError(t, err)

	tooLong := strings.Repeat("x", stringtable.MaxNameLength+1)
	_, err = tbl.Intern([]byte(tooLong))
	require.Error(t, err)
	kind, ok2 := errs.KindOf(err)
	require.True(t, ok2)
	assert.Equal(t, errs.InvalidPath, kind)
}

func TestInternOutOfSpace(t *testing.T) {
	tbl := stringtable.New(8)

	_, err := tbl.Intern([]byte("abcdef"))
	require.NoError(t, err)

	_, err = tbl.Intern([]byte("ghijkl"))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.OutOfSpace, kind)
}

func TestSnapshotAndAttachRoundTrip(t *testing.T) {
	tbl := stringtable.New(0)
	names := []string{"alpha", "beta", "gamma", "delta"}
	offsets := make(map[string]uint32)
	for _, n := range names {
		off, err := tbl.Intern([]byte(n))
		require.NoError(t, err)
		offsets[n] = off
	}

	snap := tbl.Snapshot()

	attached, err := stringtable.Attach(snap, 0)
	require.NoError(t, err)

	for _, n := range names {
		got, err := attached.Get(offsets[n])
		require.NoError(t, err)
		assert.Equal(t, n, string(got))
	}

	// Interning an already-known name after attach must resolve to the same
	// offset: the hash index is rebuilt from the buffer, not just carried
	// over.
	off, err := attached.Intern([]byte("beta"))
	require.NoError(t, err)
	assert.Equal(t, offsets["beta"], off)
}

func TestManyInternsForceRehash(t *testing.T) {
	tbl := stringtable.New(0)
	seen := make(map[uint32]string)
	for i := 0; i < 5000; i++ {
		name := fmt.Sprintf("name-%d", i)
		off, err := tbl.Intern([]byte(name))
		require.NoError(t, err)
		seen[off] = name
	}

	for off, name := range seen {
		got, err := tbl.Get(off)
		require.NoError(t, err)
		assert.Equal(t, name, string(got))
	}
}
