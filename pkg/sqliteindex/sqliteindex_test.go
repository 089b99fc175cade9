package sqliteindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratarfs/ratarfs/pkg/model"
)

func buildSample(t *testing.T, path string) model.IndexMeta {
	t.Helper()
	b, err := NewBuilder(path)
	require.NoError(t, err)

	mtime := time.Unix(1700000000, 0).UTC()
	entries := []model.FileEntry{
		{Path: "/", Name: "/", Kind: model.KindDirectory, Mtime: mtime, Mode: 0o755},
		{Path: "/a.txt", Name: "a.txt", Kind: model.KindRegular, Size: 5, Mtime: mtime, Mode: 0o644,
			ExtendedAttrs: map[string][]byte{"user.comment": []byte("hello")}},
		{Path: "/dir", Name: "dir", Kind: model.KindDirectory, Mtime: mtime, Mode: 0o755},
		{Path: "/dir/b.txt", Name: "b.txt", Kind: model.KindRegular, Size: 10, Mtime: mtime, Mode: 0o644},
		{Path: "/a.txt", Name: "a.txt", Kind: model.KindRegular, Size: 7, Mtime: mtime, Mode: 0o644, Version: 2},
	}
	for i := range entries {
		if entries[i].Version == 0 {
			entries[i].Version = 1
		}
		require.NoError(t, b.AddEntry(entries[i]))
	}

	meta := model.IndexMeta{
		ArchiveSize:       12345,
		ArchiveMtime:      mtime,
		BackendName:       "gzip",
		BackendVersion:    "1",
		CheckpointSpacing: 16 << 20,
		Options:           map[string]string{},
	}
	require.NoError(t, b.Finish(meta))
	return meta
}

func TestBuildAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.sqlite")
	meta := buildSample(t, path)

	ix, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ix.Close()

	gotMeta, err := ix.Meta()
	require.NoError(t, err)
	require.Equal(t, meta.ArchiveSize, gotMeta.ArchiveSize)
	require.Equal(t, meta.BackendName, gotMeta.BackendName)
	require.Equal(t, SchemaVersion, gotMeta.SchemaVersion)

	e, ok, err := ix.Lookup("/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), e.Size) // newest version wins
	require.Equal(t, []byte("hello"), e.ExtendedAttrs["user.comment"])

	versions, err := ix.Versions("/a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, int64(5), versions[0].Size)
	require.Equal(t, int64(7), versions[1].Size)

	children, err := ix.List("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, c := range children {
		names[c.Name] = true
	}
	require.True(t, names["a.txt"])
	require.True(t, names["dir"])
	require.False(t, names["b.txt"]) // nested, not a direct child of "/"

	dirChildren, err := ix.List("/dir")
	require.NoError(t, err)
	require.Len(t, dirChildren, 1)
	require.Equal(t, "b.txt", dirChildren[0].Name)
}

func TestValidateDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.sqlite")
	meta := buildSample(t, path)

	ix, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ix.Close()

	ok, _, err := ix.Validate(meta.ArchiveSize, meta.ArchiveMtime, meta.BackendName, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reason, err := ix.Validate(99999, meta.ArchiveMtime, meta.BackendName, true)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, reason)

	ok, _, err = ix.Validate(meta.ArchiveSize, meta.ArchiveMtime, "zstd", true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBlockStoreHasNoCheckpointForUnknownStream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.sqlite")
	buildSample(t, path)

	ix, err := OpenReadOnly(path)
	require.NoError(t, err)
	bs, err := ix.BlockStore()
	require.NoError(t, err)

	_, ok, err := bs.NearestAtOrBefore("stream-a", 100)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, ix.Close())
}
