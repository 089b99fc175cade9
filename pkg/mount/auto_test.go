package mount

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoMountLayerLazilyMountsNestedArchive(t *testing.T) {
	base := newMapSource()
	base.putNestedArchive("/inner.tar", "nested-archive-bytes")
	base.put("/plain.txt", "plain")

	var opened int
	opener := func(ctx context.Context, name string, data io.ReaderAt, size int64) (MountSource, error) {
		opened++
		inner := newMapSource()
		buf := make([]byte, size)
		_, _ = data.ReadAt(buf, 0)
		inner.put("/contents.txt", string(buf))
		return inner, nil
	}

	auto := NewAutoMountLayer(base, opener, false, 4)
	ctx := context.Background()

	_, ok, err := auto.Lookup(ctx, "/plain.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, opened) // plain path never triggers a sub-mount

	e, ok, err := auto.Lookup(ctx, "/inner.tar/contents.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, opened)
	require.Equal(t, int64(len("nested-archive-bytes")), e.Size)

	// second lookup must reuse the cached sub-mount, not reopen it
	_, _, err = auto.Lookup(ctx, "/inner.tar/contents.txt")
	require.NoError(t, err)
	require.Equal(t, 1, opened)
}

func TestAutoMountLayerReadAtNestedArchive(t *testing.T) {
	base := newMapSource()
	base.putNestedArchive("/inner.tar", "xxxx")

	opener := func(ctx context.Context, name string, data io.ReaderAt, size int64) (MountSource, error) {
		inner := newMapSource()
		inner.put("/f.txt", "nested-content")
		return inner, nil
	}

	auto := NewAutoMountLayer(base, opener, false, 4)
	ctx := context.Background()

	buf := make([]byte, len("nested-content"))
	n, err := auto.ReadAt(ctx, "/inner.tar/f.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, "nested-content", string(buf[:n]))
}

func TestAutoMountLayerStripSuffixVirtualizesDirectory(t *testing.T) {
	base := newMapSource()
	base.putNestedArchive("/foo.tar", bytes.NewBufferString("data").String())

	opener := func(ctx context.Context, name string, data io.ReaderAt, size int64) (MountSource, error) {
		return newMapSource(), nil
	}

	auto := NewAutoMountLayer(base, opener, true, 4)
	children, err := auto.List(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "foo", children[0].Name)
}
