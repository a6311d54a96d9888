package memmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappedReadWriteRoundTrip(t *testing.T) {
	backing := make([]byte, 4096)
	m := NewMapped(0, 0x1000, backing)

	require.NoError(t, m.WriteFrom(0x1010, []byte("hello")))

	got := make([]byte, 5)
	require.NoError(t, m.ReadInto(0x1010, got))
	assert.Equal(t, "hello", string(got))
}

func TestMemoryRefMutStagesUntilFlush(t *testing.T) {
	backing := make([]byte, 64)
	m := NewMapped(0, 0, backing)
	require.NoError(t, m.WriteFrom(0, []byte("AAAA")))

	ref, err := m.MemoryRefMutAt(0, 4)
	require.NoError(t, err)
	copy(ref.Bytes(), "BBBB")

	got := make([]byte, 4)
	require.NoError(t, m.ReadInto(0, got))
	assert.Equal(t, "AAAA", string(got), "write must not be visible before Flush")

	require.NoError(t, ref.Flush())
	require.NoError(t, m.ReadInto(0, got))
	assert.Equal(t, "BBBB", string(got))
}

func TestMemoryRefMutMustBeFlushedPanics(t *testing.T) {
	backing := make([]byte, 16)
	m := NewMapped(0, 0, backing)
	ref, err := m.MemoryRefMutAt(0, 4)
	require.NoError(t, err)

	assert.Panics(t, func() { ref.MustBeFlushed() })

	ref.Discard()
	assert.NotPanics(t, func() { ref.MustBeFlushed() })
}

func TestCopyStrFromPtrStopsAtNul(t *testing.T) {
	backing := make([]byte, 4096)
	copy(backing[100:], "hello\x00garbage")
	m := NewMapped(0, 0, backing)

	s, err := m.CopyStrFromPtr(100)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestCopyStrFromPtrTooLongErrors(t *testing.T) {
	backing := make([]byte, MaxPathLen+512)
	for i := range backing {
		backing[i] = 'a'
	}
	m := NewMapped(0, 0, backing)

	_, err := m.CopyStrFromPtr(0)
	assert.Error(t, err)
}

func TestReaderWriterCursors(t *testing.T) {
	backing := make([]byte, 64)
	m := NewMapped(0, 0, backing)

	w := m.NewWriter(0, 8)
	n, err := w.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = w.Write([]byte("x"))
	assert.Error(t, err, "writer span is exhausted")

	r := m.NewReader(0, 8)
	got := make([]byte, 8)
	n, err = r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "abcdefgh", string(got))
}
