// Package fuseadapter wires a mount.MountSource into a real FUSE tree via
// hanwen/go-fuse/v2. Grounded on the teacher's pkg/clip/fsnode.go +
// pkg/clip/clipfs.go: there one FSNode type wrapped a single
// ClipStorageInterface; here the same FSNode/FileSystem split wraps whichever
// MountSource is handed to it (tar, folder, union, auto, overlay), so the
// FUSE callback set never needs to know which backing store it is talking to.
package fuseadapter

import (
	"context"
	"path"
	"strconv"
	"sync"
	"syscall"

	"github.com/cespare/xxhash/v2"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ratarfs/ratarfs/pkg/model"
	"github.com/ratarfs/ratarfs/pkg/mount"
)

// versionsSuffix is appended to a file's name to address its version
// history directory (spec §4.4: "<name>.versions/<N>").
const versionsSuffix = ".versions"

// FileSystem owns the MountSource being served and the lookup cache every
// directory node consults before falling through to the source, the same
// shape as the teacher's ClipFileSystem.lookupCache (pkg/clip/clipfs.go).
type FileSystem struct {
	src  mount.MountSource
	root *FSNode

	cacheMu     sync.RWMutex
	lookupCache map[string]*fs.Inode
}

// NewFileSystem builds a FileSystem rooted at src's "/" entry.
func NewFileSystem(src mount.MountSource) (*FileSystem, error) {
	root, ok, err := src.Lookup(context.Background(), "/")
	if err != nil {
		return nil, err
	}
	if !ok {
		root = model.FileEntry{Path: "/", Name: "/", Kind: model.KindDirectory, Mode: 0o755 | syscall.S_IFDIR}
	}

	fsys := &FileSystem{src: src, lookupCache: make(map[string]*fs.Inode)}
	fsys.root = &FSNode{fsys: fsys, path: "/", entry: root}
	return fsys, nil
}

// Root implements fs.NodeFS's Root-provider contract (fuse.NewServer wants
// the fs.InodeEmbedder returned here, per clip.go's MountArchive).
func (f *FileSystem) Root() fs.InodeEmbedder { return f.root }

// ino derives a stable inode number from a path; the teacher instead carried
// an Ino assigned once at archive-build time (common.ClipNode.Attr.Ino), but
// model.FileEntry has no such field and paths are already the index's unique
// key, so hashing the path is equivalent and needs no extra bookkeeping.
func ino(p string) uint64 { return xxhash.Sum64String(p) }

// FSNode is one inode: either a real MountSource entry, or (for
// "<name>.versions" and "<name>.versions/<N>") a synthetic node manufactured
// on the fly by Lookup/Readdir below.
type FSNode struct {
	fs.Inode
	fsys  *FileSystem
	path  string
	entry model.FileEntry

	// versionOf/version are set for a synthetic "<name>.versions/<N>" leaf;
	// version is 1-based, versionOf is the real path the version belongs to.
	versionOf string
	version   int
}

var (
	_ fs.NodeGetattrer  = (*FSNode)(nil)
	_ fs.NodeLookuper   = (*FSNode)(nil)
	_ fs.NodeOpendirer  = (*FSNode)(nil)
	_ fs.NodeOpener     = (*FSNode)(nil)
	_ fs.NodeReader     = (*FSNode)(nil)
	_ fs.NodeReadlinker = (*FSNode)(nil)
	_ fs.NodeReaddirer  = (*FSNode)(nil)
	_ fs.NodeStatfser   = (*FSNode)(nil)
)

func (n *FSNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr = n.entry.Attr(ino(n.identityPath()))
	return fs.OK
}

// identityPath disambiguates a synthetic version leaf from the real file it
// versions, so its inode number doesn't collide with the live file's.
func (n *FSNode) identityPath() string {
	if n.version > 0 {
		return n.versionOf + versionsSuffix + "/" + n.path
	}
	return n.path
}

func (n *FSNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.version > 0 {
		return nil, syscall.ENOTDIR
	}

	childPath := path.Join(n.path, name)

	n.fsys.cacheMu.RLock()
	cached, found := n.fsys.lookupCache[childPath]
	n.fsys.cacheMu.RUnlock()
	if found {
		if ga, ok := cached.Operations().(fs.NodeGetattrer); ok {
			var tmp fuse.AttrOut
			ga.Getattr(ctx, nil, &tmp)
			out.Attr = tmp.Attr
		}
		return cached, fs.OK
	}

	if child, errno := n.lookupVersionsNode(ctx, childPath, name, out); errno != fs.OK || child != nil {
		return child, errno
	}

	entry, ok, err := n.fsys.src.Lookup(ctx, childPath)
	if err != nil {
		return nil, mount.ErrnoOf(err)
	}
	if !ok {
		return nil, syscall.ENOENT
	}

	out.Attr = entry.Attr(ino(childPath))
	childNode := n.NewInode(ctx, &FSNode{fsys: n.fsys, path: childPath, entry: entry}, fs.StableAttr{
		Mode: entry.Mode,
		Ino:  ino(childPath),
	})

	n.fsys.cacheMu.Lock()
	n.fsys.lookupCache[childPath] = childNode
	n.fsys.cacheMu.Unlock()

	return childNode, fs.OK
}

// lookupVersionsNode handles "<name>.versions" and a version number beneath
// it; it returns (nil, fs.OK) when name doesn't address a versions path at
// all, so the caller falls through to a normal MountSource lookup.
func (n *FSNode) lookupVersionsNode(ctx context.Context, childPath, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.versionOf != "" {
		// We are already inside "<name>.versions"; name must be a version number.
		idx, ok := parseVersionNumber(name)
		if !ok {
			return nil, fs.OK
		}
		versions, err := n.fsys.src.Versions(ctx, n.versionOf)
		if err != nil {
			return nil, mount.ErrnoOf(err)
		}
		if idx <= 0 || idx > len(versions) {
			return nil, syscall.ENOENT
		}
		e := versions[idx-1]
		leaf := &FSNode{fsys: n.fsys, path: name, entry: e, versionOf: n.versionOf, version: idx}
		id := ino(leaf.identityPath())
		out.Attr = e.Attr(id)
		child := n.NewInode(ctx, leaf, fs.StableAttr{Mode: e.Mode, Ino: id})
		return child, fs.OK
	}

	base, ok := trimVersionsSuffix(name)
	if !ok {
		return nil, fs.OK
	}
	realPath := path.Join(n.path, base)
	if _, ok, err := n.fsys.src.Lookup(ctx, realPath); err != nil {
		return nil, mount.ErrnoOf(err)
	} else if !ok {
		return nil, syscall.ENOENT
	}

	dir := &FSNode{fsys: n.fsys, path: childPath, versionOf: realPath, entry: model.FileEntry{
		Path: childPath, Name: name, Kind: model.KindDirectory, Mode: 0o555 | syscall.S_IFDIR,
	}}
	out.Attr = dir.entry.Attr(ino(childPath))
	child := n.NewInode(ctx, dir, fs.StableAttr{Mode: dir.entry.Mode, Ino: ino(childPath)})
	return child, fs.OK
}

func trimVersionsSuffix(name string) (base string, ok bool) {
	if len(name) <= len(versionsSuffix) || name[len(name)-len(versionsSuffix):] != versionsSuffix {
		return "", false
	}
	return name[:len(name)-len(versionsSuffix)], true
}

func parseVersionNumber(name string) (int, bool) {
	n, err := strconv.Atoi(name)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (n *FSNode) Opendir(ctx context.Context) syscall.Errno {
	if !n.entry.IsDir() {
		return syscall.ENOTDIR
	}
	return fs.OK
}

func (n *FSNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, 0, fs.OK
}

func (n *FSNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if n.version > 0 {
		vr, ok := n.fsys.src.(mount.VersionedReader)
		if !ok {
			return nil, syscall.ENOSYS
		}
		nRead, err := vr.ReadVersionAt(ctx, n.versionOf, n.version, dest, off)
		if err != nil && nRead == 0 {
			return nil, mount.ErrnoOf(err)
		}
		return fuse.ReadResultData(dest[:nRead]), fs.OK
	}

	if off >= n.entry.Size {
		return fuse.ReadResultData(dest[:0]), fs.OK
	}
	maxReadable := n.entry.Size - off
	readLen := int64(len(dest))
	if readLen > maxReadable {
		readLen = maxReadable
	}

	nRead, err := n.fsys.src.ReadAt(ctx, n.path, dest[:readLen], off)
	if err != nil && nRead == 0 {
		return nil, mount.ErrnoOf(err)
	}
	return fuse.ReadResultData(dest[:nRead]), fs.OK
}

func (n *FSNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	if !n.entry.IsSymlink() {
		return nil, syscall.EINVAL
	}
	return []byte(n.entry.Linkname), fs.OK
}

func (n *FSNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if n.versionOf != "" && n.version == 0 {
		versions, err := n.fsys.src.Versions(ctx, n.versionOf)
		if err != nil {
			return nil, mount.ErrnoOf(err)
		}
		dirents := make([]fuse.DirEntry, 0, len(versions))
		for i := range versions {
			name := strconv.Itoa(i + 1)
			dirents = append(dirents, fuse.DirEntry{Mode: 0o444 | syscall.S_IFREG, Name: name, Ino: ino(n.path + "/" + name)})
		}
		return fs.NewListDirStream(dirents), fs.OK
	}

	entries, err := n.fsys.src.List(ctx, n.path)
	if err != nil {
		return nil, mount.ErrnoOf(err)
	}
	dirents := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		childPath := path.Join(n.path, e.Name)
		dirents = append(dirents, e.DirEntry(ino(childPath)))
	}
	return fs.NewListDirStream(dirents), fs.OK
}

func (n *FSNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	info, err := n.fsys.src.Statfs(ctx)
	if err != nil {
		return mount.ErrnoOf(err)
	}
	out.Bsize = info.BlockSize
	out.Blocks = info.TotalBytes / uint64(blockSizeOrDefault(info.BlockSize))
	out.Bfree = info.FreeBytes / uint64(blockSizeOrDefault(info.BlockSize))
	out.Bavail = out.Bfree
	out.Files = info.Files
	out.Ffree = info.FilesFree
	return fs.OK
}

func blockSizeOrDefault(b uint32) uint32 {
	if b == 0 {
		return 4096
	}
	return b
}
