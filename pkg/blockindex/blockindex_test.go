package blockindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ratarfs/ratarfs/pkg/model"
)

func TestMemoryStoreNearestAtOrBefore(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append("a", model.BlockCheckpoint{DecompressedOffset: 0, CompressedBitOffset: 0}))
	require.NoError(t, s.Append("a", model.BlockCheckpoint{DecompressedOffset: 100, CompressedBitOffset: 40}))
	require.NoError(t, s.Append("a", model.BlockCheckpoint{DecompressedOffset: 200, CompressedBitOffset: 80}))

	cp, ok, err := s.NearestAtOrBefore("a", 150)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), cp.DecompressedOffset)

	cp, ok, err = s.NearestAtOrBefore("a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), cp.DecompressedOffset)

	_, ok, err = s.NearestAtOrBefore("unknown-stream", 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreAppendRejectsOutOfOrder(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append("a", model.BlockCheckpoint{DecompressedOffset: 100, CompressedBitOffset: 40}))

	err := s.Append("a", model.BlockCheckpoint{DecompressedOffset: 50, CompressedBitOffset: 20})
	require.Error(t, err)

	// exact duplicate decompressed offset is a silent no-op, not an error
	err = s.Append("a", model.BlockCheckpoint{DecompressedOffset: 100, CompressedBitOffset: 40})
	require.NoError(t, err)

	all, err := s.All("a")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMemoryStoreAllIsOrdered(t *testing.T) {
	// Append enforces monotonic insertion order, so exercise All()'s ascending
	// guarantee with pre-sorted input.
	s2 := NewMemoryStore()
	for _, off := range []int64{0, 100, 200, 300} {
		require.NoError(t, s2.Append("a", model.BlockCheckpoint{DecompressedOffset: off, CompressedBitOffset: off * 8}))
	}
	all, err := s2.All("a")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].DecompressedOffset, all[i].DecompressedOffset)
	}
}
