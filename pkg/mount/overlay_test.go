package mount

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteOverlayCreateAndWriteRoundTrip(t *testing.T) {
	base := newMapSource()
	w, err := NewWriteOverlay(base, t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.Create(ctx, "/new.txt", 0o644)
	require.NoError(t, err)
	n, err := w.Write(ctx, "/new.txt", []byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = w.ReadAt(ctx, "/new.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestWriteOverlayUnlinkHidesUnderlyingEntry(t *testing.T) {
	base := newMapSource()
	base.put("/a.txt", "original")
	w, err := NewWriteOverlay(base, t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := w.Lookup(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, w.Unlink(ctx, "/a.txt"))

	_, ok, err = w.Lookup(ctx, "/a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteOverlayCopyOnWriteModifiesCopyNotOriginal(t *testing.T) {
	base := newMapSource()
	base.put("/a.txt", "original-content")
	w, err := NewWriteOverlay(base, t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.Write(ctx, "/a.txt", []byte("X"), 0)
	require.NoError(t, err)

	buf := make([]byte, 1)
	n, err := w.ReadAt(ctx, "/a.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, "X", string(buf[:n]))

	origBuf := make([]byte, len("original-content"))
	n, err = base.ReadAt(ctx, "/a.txt", origBuf, 0)
	require.NoError(t, err)
	require.Equal(t, "original-content", string(origBuf[:n]))
}

func TestWriteOverlayRenameRewritesChildPaths(t *testing.T) {
	base := newMapSource()
	base.put("/dir/a.txt", "x")
	w, err := NewWriteOverlay(base, t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.Rename(ctx, "/dir", "/dir2"))
	require.Equal(t, "/dir2/a.txt", w.resolveRename("/dir/a.txt"))
}

func TestWriteOverlayCommitProducesAppendAndDeletionLists(t *testing.T) {
	base := newMapSource()
	base.put("/old.txt", "x")
	overlayDir := t.TempDir()
	w, err := NewWriteOverlay(base, overlayDir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.Create(ctx, "/new.txt", 0o644)
	require.NoError(t, err)
	_, err = w.Write(ctx, "/new.txt", []byte("data"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Unlink(ctx, "/old.txt"))

	commitDir := t.TempDir()
	require.NoError(t, w.Commit(commitDir))

	appendData, err := os.ReadFile(filepath.Join(commitDir, "append.lst"))
	require.NoError(t, err)
	require.Contains(t, string(appendData), "new.txt")

	deletionsData, err := os.ReadFile(filepath.Join(commitDir, "deletions.lst"))
	require.NoError(t, err)
	require.Contains(t, string(deletionsData), "/old.txt")
}
