package mount

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFolderMountSourceListAndReadAt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("world"), 0o644))

	f, err := NewFolderMountSource(dir)
	require.NoError(t, err)
	ctx := context.Background()

	children, err := f.List(ctx, "/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, c := range children {
		names[c.Name] = true
	}
	require.True(t, names["a.txt"])
	require.True(t, names["sub"])

	buf := make([]byte, 5)
	n, err := f.ReadAt(ctx, "/a.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	subChildren, err := f.List(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, subChildren, 1)
	require.Equal(t, "b.txt", subChildren[0].Name)
}

func TestFolderMountSourceRefreshPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolderMountSource(dir)
	require.NoError(t, err)

	_, ok, err := f.Lookup(context.Background(), "/new.txt")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	require.NoError(t, f.Refresh())

	_, ok, err = f.Lookup(context.Background(), "/new.txt")
	require.NoError(t, err)
	require.True(t, ok)
}
