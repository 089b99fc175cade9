package fuseadapter

import (
	"context"
	"strings"
	"sync"

	"github.com/ratarfs/ratarfs/pkg/model"
	"github.com/ratarfs/ratarfs/pkg/mount"
)

// fakeSource is a minimal in-memory mount.MountSource double, independent of
// pkg/mount's own unexported mapSource test helper (package-private, so not
// importable here). It additionally implements mount.Writable and
// mount.VersionedReader so the FUSE adapter's write path and
// "<name>.versions/<N>" handling can both be exercised without a real
// archive or overlay folder.
type fakeSource struct {
	mu      sync.Mutex
	entries map[string]model.FileEntry
	data    map[string][]byte
	history map[string][]model.FileEntry // oldest first, per path
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		entries: map[string]model.FileEntry{
			"/": {Path: "/", Name: "/", Kind: model.KindDirectory, Mode: 0o755},
		},
		data:    map[string][]byte{},
		history: map[string][]model.FileEntry{},
	}
}

func (f *fakeSource) put(path, content string) {
	e := model.FileEntry{Path: path, Name: base(path), Kind: model.KindRegular, Mode: 0o644, Size: int64(len(content))}
	f.entries[path] = e
	f.data[path] = []byte(content)
	f.history[path] = append(f.history[path], e)
}

func (f *fakeSource) putSymlink(path, target string) {
	f.entries[path] = model.FileEntry{Path: path, Name: base(path), Kind: model.KindSymlink, Linkname: target}
}

func base(p string) string {
	i := strings.LastIndex(p, "/")
	return p[i+1:]
}

func (f *fakeSource) Lookup(ctx context.Context, path string) (model.FileEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[path]
	return e, ok, nil
}

func (f *fakeSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	var out []model.FileEntry
	for p, e := range f.entries {
		if p == dir || p == "/" {
			continue
		}
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeSource) ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[path]
	if !ok {
		return 0, mount.ErrNotFound
	}
	if off >= int64(len(d)) {
		return 0, nil
	}
	n := copy(p, d[off:])
	return n, nil
}

func (f *fakeSource) Versions(ctx context.Context, path string) ([]model.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[path], nil
}

func (f *fakeSource) ReadVersionAt(ctx context.Context, path string, version int, p []byte, off int64) (int, error) {
	f.mu.Lock()
	versions := f.history[path]
	f.mu.Unlock()
	i := version - 1
	if i < 0 || i >= len(versions) {
		return 0, mount.ErrNotFound
	}
	// This fixture only keeps the latest bytes; version content equal to the
	// recorded size is enough to exercise the FUSE-level plumbing.
	content := make([]byte, versions[i].Size)
	return copy(p, content[minInt(off, int64(len(content))):]), nil
}

func minInt(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (f *fakeSource) ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error) {
	return nil, nil
}

func (f *fakeSource) Statfs(ctx context.Context) (mount.StatfsInfo, error) {
	return mount.StatfsInfo{BlockSize: 4096, TotalBytes: 1 << 30, FreeBytes: 1 << 20}, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Create(ctx context.Context, path string, mode uint32) (model.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := model.FileEntry{Path: path, Name: base(path), Kind: model.KindRegular, Mode: mode}
	f.entries[path] = e
	f.data[path] = nil
	return e, nil
}

func (f *fakeSource) Write(ctx context.Context, path string, p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.data[path]
	end := off + int64(len(p))
	if end > int64(len(d)) {
		grown := make([]byte, end)
		copy(grown, d)
		d = grown
	}
	copy(d[off:], p)
	f.data[path] = d
	e := f.entries[path]
	e.Size = int64(len(d))
	f.entries[path] = e
	return len(p), nil
}

func (f *fakeSource) Truncate(ctx context.Context, path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.data[path]
	if int64(len(d)) > size {
		d = d[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, d)
		d = grown
	}
	f.data[path] = d
	e := f.entries[path]
	e.Size = size
	f.entries[path] = e
	return nil
}

func (f *fakeSource) Mkdir(ctx context.Context, path string, mode uint32) (model.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := model.FileEntry{Path: path, Name: base(path), Kind: model.KindDirectory, Mode: mode}
	f.entries[path] = e
	return e, nil
}

func (f *fakeSource) Rmdir(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, path)
	return nil
}

func (f *fakeSource) Unlink(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, path)
	delete(f.data, path)
	return nil
}

func (f *fakeSource) Rename(ctx context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[oldPath]
	if !ok {
		return mount.ErrNotFound
	}
	e.Path = newPath
	e.Name = base(newPath)
	f.entries[newPath] = e
	delete(f.entries, oldPath)
	if d, ok := f.data[oldPath]; ok {
		f.data[newPath] = d
		delete(f.data, oldPath)
	}
	return nil
}

func (f *fakeSource) Setattr(ctx context.Context, path string, mode *uint32, uid, gid *uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[path]
	if !ok {
		return mount.ErrNotFound
	}
	if mode != nil {
		e.Mode = *mode
	}
	if uid != nil {
		e.Uid = *uid
	}
	if gid != nil {
		e.Gid = *gid
	}
	f.entries[path] = e
	return nil
}

var (
	_ mount.MountSource     = (*fakeSource)(nil)
	_ mount.Writable        = (*fakeSource)(nil)
	_ mount.VersionedReader = (*fakeSource)(nil)
)
