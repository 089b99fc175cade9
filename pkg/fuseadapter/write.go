package fuseadapter

import (
	"context"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ratarfs/ratarfs/pkg/mount"
)

// Every mutating callback below mirrors the teacher's fsnode.go shape
// exactly (Create/Mkdir/Rmdir/Unlink/Rename/Write/Setattr), but instead of
// hard-coding syscall.EROFS the way the teacher's read-only archive FSNode
// does, each one type-asserts the MountSource for mount.Writable and
// forwards to it; a source that isn't Writable (everything except
// WriteOverlay) falls back to the teacher's original EROFS behavior via
// mount.ErrnoOf(mount.ErrReadOnly).

var (
	_ fs.NodeCreater   = (*FSNode)(nil)
	_ fs.NodeMkdirer   = (*FSNode)(nil)
	_ fs.NodeRmdirer   = (*FSNode)(nil)
	_ fs.NodeUnlinker  = (*FSNode)(nil)
	_ fs.NodeRenamer   = (*FSNode)(nil)
	_ fs.NodeWriter    = (*FSNode)(nil)
	_ fs.NodeSetattrer = (*FSNode)(nil)
)

func (n *FSNode) writable() (mount.Writable, syscall.Errno) {
	w, ok := n.fsys.src.(mount.Writable)
	if !ok {
		return nil, mount.ErrnoOf(mount.ErrReadOnly)
	}
	return w, fs.OK
}

func (n *FSNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	w, errno := n.writable()
	if errno != fs.OK {
		return nil, nil, 0, errno
	}
	childPath := path.Join(n.path, name)
	entry, err := w.Create(ctx, childPath, mode)
	if err != nil {
		return nil, nil, 0, mount.ErrnoOf(err)
	}
	out.Attr = entry.Attr(ino(childPath))
	child := n.NewInode(ctx, &FSNode{fsys: n.fsys, path: childPath, entry: entry}, fs.StableAttr{Mode: entry.Mode, Ino: ino(childPath)})
	n.invalidateCache(childPath)
	return child, nil, 0, fs.OK
}

func (n *FSNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	w, errno := n.writable()
	if errno != fs.OK {
		return nil, errno
	}
	childPath := path.Join(n.path, name)
	entry, err := w.Mkdir(ctx, childPath, mode)
	if err != nil {
		return nil, mount.ErrnoOf(err)
	}
	out.Attr = entry.Attr(ino(childPath))
	child := n.NewInode(ctx, &FSNode{fsys: n.fsys, path: childPath, entry: entry}, fs.StableAttr{Mode: entry.Mode, Ino: ino(childPath)})
	n.invalidateCache(childPath)
	return child, fs.OK
}

func (n *FSNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	w, errno := n.writable()
	if errno != fs.OK {
		return errno
	}
	childPath := path.Join(n.path, name)
	if err := w.Rmdir(ctx, childPath); err != nil {
		return mount.ErrnoOf(err)
	}
	n.invalidateCache(childPath)
	return fs.OK
}

func (n *FSNode) Unlink(ctx context.Context, name string) syscall.Errno {
	w, errno := n.writable()
	if errno != fs.OK {
		return errno
	}
	childPath := path.Join(n.path, name)
	if err := w.Unlink(ctx, childPath); err != nil {
		return mount.ErrnoOf(err)
	}
	n.invalidateCache(childPath)
	return fs.OK
}

func (n *FSNode) Rename(ctx context.Context, oldName string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	w, errno := n.writable()
	if errno != fs.OK {
		return errno
	}
	oldPath := path.Join(n.path, oldName)
	newDir, ok := newParent.(*FSNode)
	if !ok {
		return syscall.EINVAL
	}
	newPath := path.Join(newDir.path, newName)
	if err := w.Rename(ctx, oldPath, newPath); err != nil {
		return mount.ErrnoOf(err)
	}
	n.invalidateCache(oldPath)
	n.invalidateCache(newPath)
	return fs.OK
}

func (n *FSNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	w, errno := n.writable()
	if errno != fs.OK {
		return 0, errno
	}
	written, err := w.Write(ctx, n.path, data, off)
	if err != nil {
		return uint32(written), mount.ErrnoOf(err)
	}
	if off+int64(written) > n.entry.Size {
		n.entry.Size = off + int64(written)
	}
	return uint32(written), fs.OK
}

func (n *FSNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	w, isWritable := n.fsys.src.(mount.Writable)
	if !isWritable {
		// A read-only source still needs to answer Getattr-shaped Setattr
		// calls (e.g. a no-op chmod FUSE issues on open(O_TRUNC)) without
		// erroring every stat-only client; only reject actual size changes.
		if size, ok := in.GetSize(); ok && int64(size) != n.entry.Size {
			return mount.ErrnoOf(mount.ErrReadOnly)
		}
		out.Attr = n.entry.Attr(ino(n.identityPath()))
		return fs.OK
	}

	if size, ok := in.GetSize(); ok {
		if err := w.Truncate(ctx, n.path, int64(size)); err != nil {
			return mount.ErrnoOf(err)
		}
		n.entry.Size = int64(size)
	}

	var modePtr, uidPtr, gidPtr *uint32
	if mode, ok := in.GetMode(); ok {
		modePtr = &mode
	}
	if uid, ok := in.GetUID(); ok {
		uidPtr = &uid
	}
	if gid, ok := in.GetGID(); ok {
		gidPtr = &gid
	}
	if modePtr != nil || uidPtr != nil || gidPtr != nil {
		if err := w.Setattr(ctx, n.path, modePtr, uidPtr, gidPtr); err != nil {
			return mount.ErrnoOf(err)
		}
	}

	out.Attr = n.entry.Attr(ino(n.identityPath()))
	return fs.OK
}

// invalidateCache drops a stale lookup-cache entry after a mutation, the way
// the teacher never had to (its archive is immutable) but WriteOverlay
// requires: a Create/Unlink/Rename must not leave a previous Lookup's cached
// *fs.Inode authoritative.
func (n *FSNode) invalidateCache(childPath string) {
	n.fsys.cacheMu.Lock()
	delete(n.fsys.lookupCache, childPath)
	n.fsys.cacheMu.Unlock()
}
