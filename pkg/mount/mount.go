// Package mount implements the MountSource abstraction of spec §4.4: a single
// interface every archive/folder/union/overlay implementation satisfies, so
// pkg/fuseadapter never needs to know which kind of backing store it is
// looking at. Grounded on the teacher's storage.ClipStorageInterface +
// FSNode pairing (pkg/clip/clipfs.go, pkg/clip/fsnode.go): there, one
// storage interface backed either a local archive or an S3 one behind a
// single FUSE tree; here the same shape generalizes to five different
// backing stores behind one tree.
package mount

import (
	"context"
	"errors"
	"syscall"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// ErrNotFound is returned by Lookup for a path that does not exist.
var ErrNotFound = errors.New("mount: not found")

// ErrReadOnly is returned by any mutating method on a MountSource that does
// not support writes (every variant except WriteOverlay).
var ErrReadOnly = errors.New("mount: read-only mount source")

// StatfsInfo mirrors the handful of syscall.Statfs_t fields spec §4.4's
// statfs operation must report (total/free space, block size), independent
// of platform-specific struct layouts.
type StatfsInfo struct {
	BlockSize  uint32
	TotalBytes uint64
	FreeBytes  uint64
	Files      uint64
	FilesFree  uint64
}

// MountSource is the read path every backing store implements: lookup one
// entry, list a directory's children, read file content at an offset, list
// historical versions of a path, and report filesystem-level statistics.
// Implementations that also support writes additionally implement Writable.
type MountSource interface {
	// Lookup returns the entry at path (the newest version if more than one
	// exists), or ok=false if nothing is mounted there.
	Lookup(ctx context.Context, path string) (model.FileEntry, bool, error)

	// List returns the direct children of dir (path, not including dir
	// itself), or ErrNotFound if dir does not exist or is not a directory.
	List(ctx context.Context, dir string) ([]model.FileEntry, error)

	// ReadAt reads len(p) bytes of path's content starting at off, following
	// I4's hardlink-resolves-to-target semantics and I3's sparse-hole
	// zero-fill semantics transparently.
	ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error)

	// Versions returns every recorded version of path, oldest first, for
	// "<name>.versions/<N>" listings (spec §4.4).
	Versions(ctx context.Context, path string) ([]model.FileEntry, error)

	// ExtendedAttrs returns path's extended attribute map, possibly empty.
	ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error)

	// Statfs reports filesystem-level statistics for the mount.
	Statfs(ctx context.Context) (StatfsInfo, error)

	// Close releases any resources (open file handles, decoders) the source
	// holds.
	Close() error
}

// Writable is implemented by MountSource variants that support FUSE's write
// path (currently only WriteOverlay); pkg/fuseadapter type-asserts for it
// and returns EROFS for any mutating call a non-Writable source receives,
// the same way the teacher's FSNode hard-codes EROFS for every mutating
// callback (pkg/clip/fsnode.go Create/Mkdir/Rmdir/Unlink/Rename).
type Writable interface {
	MountSource

	Create(ctx context.Context, path string, mode uint32) (model.FileEntry, error)
	Write(ctx context.Context, path string, p []byte, off int64) (int, error)
	Truncate(ctx context.Context, path string, size int64) error
	Mkdir(ctx context.Context, path string, mode uint32) (model.FileEntry, error)
	Rmdir(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Setattr(ctx context.Context, path string, mode *uint32, uid, gid *uint32) error
}

// VersionedReader is implemented by MountSource variants that can serve the
// content of a specific historical version of path rather than only the
// newest one. pkg/fuseadapter type-asserts for it when resolving
// "<name>.versions/<N>" (spec §4.4); sources with at most one version per
// path (FolderMountSource, WriteOverlay) have no reason to implement it.
type VersionedReader interface {
	ReadVersionAt(ctx context.Context, path string, version int, p []byte, off int64) (int, error)
}

// ErrnoOf maps a mount-layer error to the syscall.Errno pkg/fuseadapter's
// callbacks must return, the one translation point every FSNode callback
// funnels through instead of each callback inventing its own mapping.
func ErrnoOf(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}
