// Package model defines the data types shared by every layer of ratarfs: the
// archive-entry metadata the indexer produces, the checkpoints the seekable
// decompressors persist, and the sidecar state a write overlay keeps.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Kind enumerates the archive entry types a FileEntry can describe.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindHardlink
	KindBlockDevice
	KindCharDevice
	KindFIFO
	KindSparse
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	case KindBlockDevice:
		return "block-device"
	case KindCharDevice:
		return "char-device"
	case KindFIFO:
		return "fifo"
	case KindSparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// SparseRun is one (dataOffset, dataLength, holeLength) tuple of a GNU sparse file's
// sparsity map, relative to the start of the entry's logical (non-sparse) content.
type SparseRun struct {
	DataOffset int64
	DataLength int64
	HoleLength int64
}

// FileEntry is one row of the TAR index: the atom the rest of the stack is built on.
// (path, name) is the composite primary key (I1/I2 in spec §3); entries are kept
// ordered lexicographically by (Path, Name, Version).
type FileEntry struct {
	Path string // full path including name, e.g. "/foo/bar"
	Name string // basename, e.g. "bar"

	OffsetHeader int64 // byte offset of the 512-byte TAR header in the decompressed stream
	OffsetData   int64 // byte offset of the payload

	Size  int64
	Mtime time.Time
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Kind  Kind

	Linkname string // symlink target, or hardlink-target path (I4)

	IsNestedArchive bool
	Version         int // 1-based, monotone per path; highest is the default visible one

	SparsityMap []SparseRun

	ExtendedAttrs map[string][]byte // e.g. SCHILY.xattr.* PAX records
}

// IsDir reports whether the entry is a directory.
func (e *FileEntry) IsDir() bool { return e.Kind == KindDirectory }

// IsSymlink reports whether the entry is a symlink.
func (e *FileEntry) IsSymlink() bool { return e.Kind == KindSymlink }

// IsHardlink reports whether the entry is a hardlink alias (I4: Size is 0, reads
// return the target entry's bytes).
func (e *FileEntry) IsHardlink() bool { return e.Kind == KindHardlink }

// Attr converts the entry into the fuse.Attr the FUSE adapter and MountSource
// callers need, filling in Blocks as ceil(size/512) per spec §6.
func (e *FileEntry) Attr(ino uint64) fuse.Attr {
	blocks := uint64((e.Size + 511) / 512)
	nlink := uint32(1)
	if e.Kind == KindDirectory {
		nlink = 2
	}
	mt := uint64(e.Mtime.Unix())
	return fuse.Attr{
		Ino:    ino,
		Size:   uint64(e.Size),
		Blocks: blocks,
		Atime:  mt,
		Mtime:  mt,
		Ctime:  mt,
		Mode:   e.Mode,
		Nlink:  nlink,
		Owner:  fuse.Owner{Uid: e.Uid, Gid: e.Gid},
	}
}

// DirEntry converts the entry into the fuse.DirEntry the Readdir+ callback needs.
func (e *FileEntry) DirEntry(ino uint64) fuse.DirEntry {
	return fuse.DirEntry{Mode: e.Mode, Name: e.Name, Ino: ino}
}

// BlockCheckpoint is a restart point for a seekable decompressor: the compressed
// bit offset, the corresponding decompressed byte offset, and the opaque decoder
// state blob needed to resume from it (empty for self-contained frames, e.g. xz/zstd).
// Checkpoints are strictly increasing in both coordinates (spec §3 invariant).
type BlockCheckpoint struct {
	CompressedBitOffset int64
	DecompressedOffset  int64
	DecoderState        []byte
}

// IndexMeta is the one-row summary of how an on-disk index was built, used to
// validate that a reused index still matches the archive it claims to describe.
type IndexMeta struct {
	ArchiveSize    int64
	ArchiveMtime   time.Time
	BackendName    string
	BackendVersion string

	IgnoreZeros       bool
	GNUIncremental    bool
	CheckpointSpacing int64

	SchemaVersion int

	Options map[string]string
}

// OverlayState is the sidecar metadata a WriteOverlay keeps in addition to the
// mirrored files in its overlay folder: which underlying paths are hidden, and
// which paths have been renamed.
type OverlayState struct {
	Deletions map[string]struct{}
	Renames   map[string]string // old path -> new path
}

func NewOverlayState() *OverlayState {
	return &OverlayState{
		Deletions: make(map[string]struct{}),
		Renames:   make(map[string]string),
	}
}

// SourceID is a stable identity value for a MountSource instance. No cache in
// this module keys on it: AutoMountLayer's sub-mount cache is one map per
// layer keyed by entry path, and UnionMountSource's lookup cache is keyed by
// path.
type SourceID = uuid.UUID

// NewSourceID allocates a fresh SourceID.
func NewSourceID() SourceID { return uuid.New() }
