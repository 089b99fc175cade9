package tarindex

import (
	"bytes"
	"testing"
	"time"

	tar "github.com/vbatts/tar-split/archive/tar"

	"github.com/stretchr/testify/require"

	"github.com/ratarfs/ratarfs/pkg/blockindex"
	"github.com/ratarfs/ratarfs/pkg/model"
	"github.com/ratarfs/ratarfs/pkg/stream"
)

type collectingSink struct {
	entries []model.FileEntry
}

func (s *collectingSink) AddEntry(e model.FileEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func writeTar(t *testing.T, files []struct {
	name     string
	typeflag byte
	linkname string
	content  string
}) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mtime := time.Unix(1700000000, 0)
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.name,
			Typeflag: f.typeflag,
			Linkname: f.linkname,
			Size:     int64(len(f.content)),
			Mode:     0o644,
			ModTime:  mtime,
		}
		if f.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if len(f.content) > 0 {
			_, err := tw.Write([]byte(f.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestWalkBasicEntries(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "dir/", typeflag: tar.TypeDir},
		{name: "dir/a.txt", typeflag: tar.TypeReg, content: "hello world"},
		{name: "link-to-a", typeflag: tar.TypeSymlink, linkname: "dir/a.txt"},
	})

	sink := &collectingSink{}
	ix := New(sink, Options{})
	require.NoError(t, ix.Walk(bytes.NewReader(data)))

	require.Len(t, sink.entries, 3)
	require.Equal(t, "/dir", sink.entries[0].Path)
	require.Equal(t, model.KindDirectory, sink.entries[0].Kind)
	require.Equal(t, "/dir/a.txt", sink.entries[1].Path)
	require.Equal(t, int64(11), sink.entries[1].Size)
	require.Equal(t, "/link-to-a", sink.entries[2].Path)
	require.Equal(t, model.KindSymlink, sink.entries[2].Kind)
	require.Equal(t, "/dir/a.txt", sink.entries[2].Linkname)
}

func TestWalkDuplicatePathVersioning(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "a.txt", typeflag: tar.TypeReg, content: "v1"},
		{name: "a.txt", typeflag: tar.TypeReg, content: "version two"},
	})

	sink := &collectingSink{}
	ix := New(sink, Options{})
	require.NoError(t, ix.Walk(bytes.NewReader(data)))

	require.Len(t, sink.entries, 2)
	require.Equal(t, 1, sink.entries[0].Version)
	require.Equal(t, 2, sink.entries[1].Version)
	require.Equal(t, int64(2), sink.entries[0].Size)
	require.Equal(t, int64(11), sink.entries[1].Size)
}

func TestWalkHardlinkHasNoSize(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "a.txt", typeflag: tar.TypeReg, content: "hello"},
		{name: "b.txt", typeflag: tar.TypeLink, linkname: "a.txt"},
	})

	sink := &collectingSink{}
	ix := New(sink, Options{})
	require.NoError(t, ix.Walk(bytes.NewReader(data)))

	require.Len(t, sink.entries, 2)
	require.Equal(t, model.KindHardlink, sink.entries[1].Kind)
	require.Equal(t, int64(0), sink.entries[1].Size)
	require.Equal(t, "/a.txt", sink.entries[1].Linkname)
}

func TestWalkTruncatedArchiveReturnsErrorButKeepsPriorEntries(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "a.txt", typeflag: tar.TypeReg, content: "hello"},
		{name: "b.txt", typeflag: tar.TypeReg, content: "world"},
	})
	truncated := data[:len(data)-600] // cut off inside the end-of-archive zero blocks, after both entries' data

	sink := &collectingSink{}
	ix := New(sink, Options{})
	err := ix.Walk(bytes.NewReader(truncated))
	require.Error(t, err)
	require.GreaterOrEqual(t, len(sink.entries), 1)
}

func TestWalkMaterializesMissingParentDirectories(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "foo/bar", typeflag: tar.TypeReg, content: "bar"},
		{name: "foo/fighter/ufo", typeflag: tar.TypeReg, content: "ufo"},
	})

	sink := &collectingSink{}
	ix := New(sink, Options{})
	require.NoError(t, ix.Walk(bytes.NewReader(data)))

	byPath := map[string]model.FileEntry{}
	for _, e := range sink.entries {
		byPath[e.Path] = e
	}

	dir, ok := byPath["/foo"]
	require.True(t, ok, "/foo should be synthesized")
	require.Equal(t, model.KindDirectory, dir.Kind)

	fighter, ok := byPath["/foo/fighter"]
	require.True(t, ok, "/foo/fighter should be synthesized")
	require.Equal(t, model.KindDirectory, fighter.Kind)

	require.Contains(t, byPath, "/foo/bar")
	require.Contains(t, byPath, "/foo/fighter/ufo")
	require.Len(t, sink.entries, 4)
}

func TestWalkExplicitDirectoryHeaderSupersedesSynthesizedOne(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "foo/bar", typeflag: tar.TypeReg, content: "bar"},
		{name: "foo/", typeflag: tar.TypeDir},
	})

	sink := &collectingSink{}
	ix := New(sink, Options{})
	require.NoError(t, ix.Walk(bytes.NewReader(data)))

	var fooVersions []model.FileEntry
	for _, e := range sink.entries {
		if e.Path == "/foo" {
			fooVersions = append(fooVersions, e)
		}
	}
	require.Len(t, fooVersions, 2, "synthesized then explicit /foo, not deduplicated away")
	require.Equal(t, 1, fooVersions[0].Version)
	require.Equal(t, 2, fooVersions[1].Version)
}

func TestWalkChecksCheckpointer(t *testing.T) {
	data := writeTar(t, []struct {
		name     string
		typeflag byte
		linkname string
		content  string
	}{
		{name: "a.txt", typeflag: tar.TypeReg, content: "hello"},
	})

	store := blockindex.NewMemoryStore()
	checkpointer := stream.NewCheckpointer(store, "archive-1", 1)
	sink := &collectingSink{}
	ix := New(sink, Options{Checkpointer: checkpointer})
	require.NoError(t, ix.Walk(bytes.NewReader(data)))

	all, err := store.All("archive-1")
	require.NoError(t, err)
	require.NotEmpty(t, all)
}
