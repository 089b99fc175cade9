package mount

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	tar "github.com/vbatts/tar-split/archive/tar"

	"github.com/stretchr/testify/require"

	"github.com/ratarfs/ratarfs/pkg/model"
	"github.com/ratarfs/ratarfs/pkg/sqliteindex"
	"github.com/ratarfs/ratarfs/pkg/stream"
	"github.com/ratarfs/ratarfs/pkg/tarindex"
)

// buildGzippedTarMount writes a small gzipped TAR archive, indexes it with
// pkg/tarindex into a fresh pkg/sqliteindex database, and opens it as a
// TarMountSource — exercising the full leaves-to-mount stack in one test.
func buildGzippedTarMount(t *testing.T) (*TarMountSource, []byte) {
	t.Helper()

	var rawBuf bytes.Buffer
	tw := tar.NewWriter(&rawBuf)
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "a.txt", Typeflag: tar.TypeReg, Size: 13, Mode: 0o644, ModTime: mtime}))
	_, err := tw.Write([]byte("hello, world!"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "b.txt", Typeflag: tar.TypeReg, Size: 5, Mode: 0o644, ModTime: mtime}))
	_, err = tw.Write([]byte("bye!!"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	raw := rawBuf.Bytes()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err = gw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	compressed := gz.Bytes()

	dir := t.TempDir()
	idxPath := filepath.Join(dir, "index.sqlite")
	builder, err := sqliteindex.NewBuilder(idxPath)
	require.NoError(t, err)

	bs, err := builder.BlockStore()
	require.NoError(t, err)
	checkpointer := stream.NewCheckpointer(bs, "archive", 1)
	ix := tarindex.New(builder, tarindex.Options{Checkpointer: checkpointer})
	require.NoError(t, ix.Walk(bytes.NewReader(raw)))

	require.NoError(t, builder.Finish(model.IndexMeta{
		ArchiveSize:       int64(len(compressed)),
		ArchiveMtime:      mtime,
		BackendName:       stream.BackendGzip,
		CheckpointSpacing: 1,
		Options:           map[string]string{},
	}))

	idx, err := sqliteindex.OpenReadOnly(idxPath)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	m, err := Open(idx, bytes.NewReader(compressed), int64(len(compressed)))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return m, compressed
}

func TestTarMountSourceLookupAndReadAt(t *testing.T) {
	m, _ := buildGzippedTarMount(t)
	ctx := context.Background()

	e, ok, err := m.Lookup(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(13), e.Size)

	buf := make([]byte, 13)
	n, err := m.ReadAt(ctx, "/a.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, "hello, world!", string(buf))
}

func TestTarMountSourceList(t *testing.T) {
	m, _ := buildGzippedTarMount(t)
	ctx := context.Background()

	children, err := m.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestTarMountSourceReadPastEndIsShort(t *testing.T) {
	m, _ := buildGzippedTarMount(t)
	ctx := context.Background()

	buf := make([]byte, 32)
	n, err := m.ReadAt(ctx, "/b.txt", buf, 0)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	require.Equal(t, "bye!!", string(buf[:n]))
}
