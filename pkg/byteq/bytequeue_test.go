package byteq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_PushStreamPopReturnsExactBytes(t *testing.T) {
	q := New(4)

	in := bytes.NewReader([]byte("hello world"))
	n, err := q.PushStream(in)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.True(t, q.Invariant())

	var out bytes.Buffer
	res, err := q.Pop(&out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.String())
	assert.Equal(t, res.Copied, res.Removed)
	assert.True(t, q.Empty())
}

func Test_PushPacketBoundaryPreserved(t *testing.T) {
	q := New(16)

	require.NoError(t, q.PushPacket(bytes.NewReader([]byte("abcdef")), 6))
	require.NoError(t, q.PushPacket(bytes.NewReader([]byte("ghi")), 3))

	// A short writer only accepts part of the first packet.
	out := &limitedWriter{limit: 3}
	res, err := q.Pop(out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Copied)
	assert.Equal(t, 6, res.Removed) // remainder of the packet was dropped.

	var full bytes.Buffer
	res2, err := q.Pop(&full)
	require.NoError(t, err)
	assert.Equal(t, "ghi", full.String())
	assert.Equal(t, 3, res2.Copied)
}

func Test_PopChunkTruncatesStreamNotPacket(t *testing.T) {
	q := New(16)
	_, _ = q.PushStream(bytes.NewReader([]byte("0123456789")))

	c, ok := q.PopChunk(4)
	require.True(t, ok)
	assert.Equal(t, Stream, c.Kind)
	assert.Equal(t, []byte("0123"), c.Data)
	assert.Equal(t, 6, q.Len())

	require.NoError(t, q.PushPacket(bytes.NewReader([]byte("xy")), 2))
	c2, ok := q.PopChunk(100)
	require.True(t, ok)
	assert.Equal(t, []byte("456789"), c2.Data, "hint larger than the chunk returns it whole")

	c3, ok := q.PopChunk(1)
	require.True(t, ok)
	assert.Equal(t, Packet, c3.Kind)
	assert.Equal(t, []byte("xy"), c3.Data, "a Packet chunk is never truncated to the hint")
}

func Test_EmptyQueueHasZeroChunks(t *testing.T) {
	q := New(16)
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())

	var out bytes.Buffer
	res, err := q.Pop(&out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Copied)
}

// limitedWriter accepts at most `limit` bytes total, then reports it wrote
// zero further bytes without an error (mimicking a short, non-erroring
// sink for testing packet boundary drops).
type limitedWriter struct {
	limit int
	wrote int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.wrote
	if remaining <= 0 {
		return 0, nil
	}
	n := remaining
	if n > len(p) {
		n = len(p)
	}
	w.wrote += n
	return n, nil
}
