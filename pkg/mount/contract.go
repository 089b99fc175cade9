package mount

import (
	"context"
	"fmt"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// NotImplemented is returned by every method except Close (which returns nil)
// of the contract-only MountSource
// stubs below (ZipMountSource, RarMountSource, SquashFSMountSource). Wiring a
// real ZIP/RAR/SquashFS parser library is explicitly out of scope (spec §1
// "only the random-access indexing core"); these stubs exist so pkg/fuseadapter
// and AutoMountLayer already have a MountSource-shaped seam to slot a real
// implementation into later, without pkg/mount's own contract changing.
var NotImplemented = fmt.Errorf("mount: not implemented")

// ZipMountSource is the contract a ZIP backend must satisfy. Central
// directory parsing and per-entry DEFLATE decoding would ground naturally on
// pkg/stream's SeekableStream for the per-entry compressed ranges, but no
// ZIP-specific code lives here.
type ZipMountSource struct{}

func (ZipMountSource) Lookup(ctx context.Context, path string) (model.FileEntry, bool, error) {
	return model.FileEntry{}, false, NotImplemented
}
func (ZipMountSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	return nil, NotImplemented
}
func (ZipMountSource) ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	return 0, NotImplemented
}
func (ZipMountSource) Versions(ctx context.Context, path string) ([]model.FileEntry, error) {
	return nil, NotImplemented
}
func (ZipMountSource) ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error) {
	return nil, NotImplemented
}
func (ZipMountSource) Statfs(ctx context.Context) (StatfsInfo, error) {
	return StatfsInfo{}, NotImplemented
}
func (ZipMountSource) Close() error { return nil }

// RarMountSource is the contract a RAR backend must satisfy (solid-archive
// decoding makes random access fundamentally harder than ZIP/TAR; a real
// implementation would need its own seekable-stream variant, out of scope
// here per spec §1).
type RarMountSource struct{}

func (RarMountSource) Lookup(ctx context.Context, path string) (model.FileEntry, bool, error) {
	return model.FileEntry{}, false, NotImplemented
}
func (RarMountSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	return nil, NotImplemented
}
func (RarMountSource) ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	return 0, NotImplemented
}
func (RarMountSource) Versions(ctx context.Context, path string) ([]model.FileEntry, error) {
	return nil, NotImplemented
}
func (RarMountSource) ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error) {
	return nil, NotImplemented
}
func (RarMountSource) Statfs(ctx context.Context) (StatfsInfo, error) {
	return StatfsInfo{}, NotImplemented
}
func (RarMountSource) Close() error { return nil }

// SquashFSMountSource is the contract a SquashFS backend must satisfy
// (SquashFS is already block-addressed and natively random-access; a real
// implementation would mostly be a metadata-block reader, out of scope here
// per spec §1).
type SquashFSMountSource struct{}

func (SquashFSMountSource) Lookup(ctx context.Context, path string) (model.FileEntry, bool, error) {
	return model.FileEntry{}, false, NotImplemented
}
func (SquashFSMountSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	return nil, NotImplemented
}
func (SquashFSMountSource) ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	return 0, NotImplemented
}
func (SquashFSMountSource) Versions(ctx context.Context, path string) ([]model.FileEntry, error) {
	return nil, NotImplemented
}
func (SquashFSMountSource) ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error) {
	return nil, NotImplemented
}
func (SquashFSMountSource) Statfs(ctx context.Context) (StatfsInfo, error) {
	return StatfsInfo{}, NotImplemented
}
func (SquashFSMountSource) Close() error { return nil }
