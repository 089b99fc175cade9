package stencil

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type bytesSource struct{ b []byte }

func (s bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.b)) {
		return 0, io.EOF
	}
	n := copy(p, s.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestFileConcatenatesSegments(t *testing.T) {
	a := bytesSource{b: []byte("hello ")}
	b := bytesSource{b: []byte("sparse ")}
	c := bytesSource{b: []byte("world")}

	f := New([]Segment{
		{Source: a, Offset: 0, Length: 6},
		{Source: b, Offset: 0, Length: 7},
		{Source: c, Offset: 0, Length: 5},
	})
	require.Equal(t, int64(18), f.Size())

	got := make([]byte, f.Size())
	n, err := f.ReadAt(got, 0)
	require.True(t, err == nil || err == io.EOF)
	require.Equal(t, 18, n)
	require.Equal(t, "hello sparse world", string(got))
}

func TestFileReadAtCrossesSegmentBoundary(t *testing.T) {
	a := bytesSource{b: []byte("0123456789")}
	b := bytesSource{b: []byte("abcdefghij")}
	f := New([]Segment{
		{Source: a, Offset: 0, Length: 10},
		{Source: b, Offset: 0, Length: 10},
	})

	buf := make([]byte, 6)
	n, err := f.ReadAt(buf, 7)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "789abc", string(buf))
}

func TestFileSparseHoleReadsZero(t *testing.T) {
	a := bytesSource{b: []byte("data")}
	f := New([]Segment{
		{Source: a, Offset: 0, Length: 4},
		{Source: Zero, Offset: 0, Length: 8},
	})

	buf := make([]byte, f.Size())
	_, err := f.ReadAt(buf, 0)
	require.True(t, err == nil || err == io.EOF)
	require.Equal(t, "data", string(buf[:4]))
	require.True(t, bytes.Equal(buf[4:], make([]byte, 8)))
}

func TestFileReadAtPastEndReturnsEOF(t *testing.T) {
	a := bytesSource{b: []byte("short")}
	f := New([]Segment{{Source: a, Offset: 0, Length: 5}})

	buf := make([]byte, 4)
	_, err := f.ReadAt(buf, 10)
	require.ErrorIs(t, err, io.EOF)
}
