package fuseadapter

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"

	"github.com/ratarfs/ratarfs/pkg/mount"
)

func newTestFS(t *testing.T, src *fakeSource) *FileSystem {
	return newTestFSAny(t, src)
}

func newTestFSAny(t *testing.T, src mount.MountSource) *FileSystem {
	fsys, err := NewFileSystem(src)
	require.NoError(t, err)
	return fsys
}

func TestFSNodeLookupAndRead(t *testing.T) {
	src := newFakeSource()
	src.put("/a.txt", "hello world")
	fsys := newTestFS(t, src)
	ctx := context.Background()

	var out fuse.EntryOut
	child, errno := fsys.root.Lookup(ctx, "a.txt", &out)
	require.Equal(t, syscall.Errno(0), errno)
	require.NotNil(t, child)
	require.Equal(t, uint64(len("hello world")), out.Size)

	node := child.Operations().(*FSNode)
	buf := make([]byte, 5)
	res, errno := node.Read(ctx, nil, buf, 0)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, 5, res.Size())

	readBuf, status := res.Bytes(buf)
	require.Equal(t, fuse.OK, status)
	require.Equal(t, "hello", string(readBuf))
}

func TestFSNodeLookupMissingIsENOENT(t *testing.T) {
	src := newFakeSource()
	fsys := newTestFS(t, src)

	var out fuse.EntryOut
	_, errno := fsys.root.Lookup(context.Background(), "missing.txt", &out)
	require.Equal(t, syscall.ENOENT, errno)
}

func TestFSNodeReaddirListsChildren(t *testing.T) {
	src := newFakeSource()
	src.put("/a.txt", "x")
	src.put("/b.txt", "yy")
	fsys := newTestFS(t, src)

	stream, errno := fsys.root.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	names := map[string]bool{}
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		names[e.Name] = true
	}
	require.True(t, names["a.txt"])
	require.True(t, names["b.txt"])
}

func TestFSNodeReadlink(t *testing.T) {
	src := newFakeSource()
	src.putSymlink("/link", "/a.txt")
	fsys := newTestFS(t, src)

	var out fuse.EntryOut
	child, errno := fsys.root.Lookup(context.Background(), "link", &out)
	require.Equal(t, syscall.Errno(0), errno)

	node := child.Operations().(*FSNode)
	target, errno := node.Readlink(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, "/a.txt", string(target))
}

func TestFSNodeVersionsDirectoryListsHistory(t *testing.T) {
	src := newFakeSource()
	src.put("/a.txt", "v1")
	src.put("/a.txt", "v22")
	src.put("/a.txt", "v333")
	fsys := newTestFS(t, src)
	ctx := context.Background()

	var out fuse.EntryOut
	versionsDir, errno := fsys.root.Lookup(ctx, "a.txt.versions", &out)
	require.Equal(t, syscall.Errno(0), errno)
	require.NotNil(t, versionsDir)

	vnode := versionsDir.Operations().(*FSNode)
	stream, errno := vnode.Readdir(ctx)
	require.Equal(t, syscall.Errno(0), errno)
	var names []string
	for stream.HasNext() {
		e, _ := stream.Next()
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"1", "2", "3"}, names)

	var vout fuse.EntryOut
	v1, errno := vnode.Lookup(ctx, "1", &vout)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, uint64(len("v1")), vout.Size)
}

// roSource embeds only the mount.MountSource interface, so it never
// promotes fakeSource's Create/Write/etc. methods; a type assertion for
// mount.Writable against it must fail even though the underlying fakeSource
// does implement Writable.
type roSource struct{ mount.MountSource }

func TestFSNodeReadOnlySourceRejectsWrites(t *testing.T) {
	src := roSource{newFakeSource()}
	fsys := newTestFSAny(t, src)
	ctx := context.Background()

	var out fuse.EntryOut
	_, _, _, errno := fsys.root.Create(ctx, "new.txt", 0, 0o644, &out)
	require.Equal(t, syscall.EROFS, errno)
}

func TestFSNodeWriteRoundTrip(t *testing.T) {
	src := newFakeSource()
	fsys := newTestFS(t, src)
	ctx := context.Background()

	var out fuse.EntryOut
	child, fh, _, errno := fsys.root.Create(ctx, "new.txt", 0, 0o644, &out)
	require.Equal(t, syscall.Errno(0), errno)
	require.Nil(t, fh)

	node := child.Operations().(*FSNode)
	written, errno := node.Write(ctx, nil, []byte("payload"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, uint32(len("payload")), written)

	buf := make([]byte, len("payload"))
	res, errno := node.Read(ctx, nil, buf, 0)
	require.Equal(t, syscall.Errno(0), errno)
	readBuf, status := res.Bytes(buf)
	require.Equal(t, fuse.OK, status)
	require.Equal(t, "payload", string(readBuf))
}

var _ fs.InodeEmbedder = (*FSNode)(nil)
