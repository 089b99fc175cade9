package mount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnionMountSourceRightmostWins(t *testing.T) {
	lower := newMapSource()
	lower.put("/a.txt", "lower")
	upper := newMapSource()
	upper.put("/a.txt", "upper")

	u, err := NewUnionMountSource([]MountSource{lower, upper})
	require.NoError(t, err)
	ctx := context.Background()

	e, ok, err := u.Lookup(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), e.Size) // "upper" == 5 bytes, same length as "lower" but content differs

	buf := make([]byte, 5)
	n, err := u.ReadAt(ctx, "/a.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, "upper", string(buf[:n]))

	// repeat lookup to exercise the lookup-cache hit path
	_, ok, err = u.Lookup(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnionMountSourceFallsThroughToLowerLayer(t *testing.T) {
	lower := newMapSource()
	lower.put("/only-in-lower.txt", "x")
	upper := newMapSource()

	u, err := NewUnionMountSource([]MountSource{lower, upper})
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := u.Lookup(ctx, "/only-in-lower.txt")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = u.Lookup(ctx, "/missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnionMountSourceVersionsConcatenatesAcrossLayers(t *testing.T) {
	lower := newMapSource()
	lower.put("/a.txt", "lower")
	upper := newMapSource()
	upper.put("/a.txt", "upper")

	u, err := NewUnionMountSource([]MountSource{lower, upper})
	require.NoError(t, err)
	ctx := context.Background()

	versions, err := u.Versions(ctx, "/a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2, "one version from each layer, not just the winning layer's")
	require.Equal(t, int64(len("lower")), versions[0].Size, "lowest-priority layer's version comes first")
	require.Equal(t, int64(len("upper")), versions[1].Size)
}

func TestUnionMountSourceVersionsSkipsLayersMissingPath(t *testing.T) {
	lower := newMapSource()
	upper := newMapSource()
	upper.put("/only-upper.txt", "x")

	u, err := NewUnionMountSource([]MountSource{lower, upper})
	require.NoError(t, err)
	ctx := context.Background()

	versions, err := u.Versions(ctx, "/only-upper.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)

	_, err = u.Versions(ctx, "/missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnionMountSourceListMergesRightmostWins(t *testing.T) {
	lower := newMapSource()
	lower.put("/a.txt", "lower-a")
	lower.put("/only-lower.txt", "l")
	upper := newMapSource()
	upper.put("/a.txt", "upper-a")

	u, err := NewUnionMountSource([]MountSource{lower, upper})
	require.NoError(t, err)

	children, err := u.List(context.Background(), "/")
	require.NoError(t, err)
	byName := map[string]int64{}
	for _, c := range children {
		byName[c.Name] = c.Size
	}
	require.Equal(t, int64(len("upper-a")), byName["a.txt"])
	require.Equal(t, int64(len("l")), byName["only-lower.txt"])
}
