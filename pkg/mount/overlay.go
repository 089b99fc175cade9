package mount

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ratarfs/ratarfs/pkg/model"
)

const overlayShardCount = 256

// WriteOverlay sits atop a read-only MountSource and implements Writable by
// redirecting every mutation to a host folder (spec §4.9), the same
// copy-on-write shape the teacher's FSNode stops short of (it hard-codes
// EROFS for every mutating callback instead) — WriteOverlay is the piece
// this codebase adds to actually support writes, grounded on that same
// FSNode method set turned from "always reject" into "implement for real".
type WriteOverlay struct {
	base MountSource
	dir  string // host folder holding copy-on-write and newly-created files

	shards [overlayShardCount]sync.Mutex

	mu        sync.RWMutex
	deletions map[string]struct{}
	renames   map[string]string // old path -> new path
	created   map[string]model.FileEntry
}

// NewWriteOverlay opens (or creates) dir as the overlay folder atop base.
// Deletions/renames state is loaded from state if non-nil (a persisted
// model.OverlayState; cmd/ratarfs keeps it in a JSON sidecar file in the
// overlay folder, not in an SQLite database).
func NewWriteOverlay(base MountSource, dir string, state *model.OverlayState) (*WriteOverlay, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mount: creating overlay dir: %w", err)
	}
	w := &WriteOverlay{
		base:      base,
		dir:       dir,
		deletions: map[string]struct{}{},
		renames:   map[string]string{},
		created:   map[string]model.FileEntry{},
	}
	if state != nil {
		for p := range state.Deletions {
			w.deletions[p] = struct{}{}
		}
		for from, to := range state.Renames {
			w.renames[from] = to
		}
	}
	return w, nil
}

// shardFor returns the mutex serializing writes to path, sharded by
// xxhash64(path) the way the teacher's SaveTheRbtz sibling example hashes
// cache keys with the same library, reused here so every write to a given
// path is serialized without a single global lock serializing unrelated
// paths' writes against each other.
func (w *WriteOverlay) shardFor(path string) *sync.Mutex {
	h := xxhash.Sum64String(path)
	return &w.shards[h%overlayShardCount]
}

// resolveRename follows the rename chain for path (and, for a path nested
// under a renamed directory, rewrites its renamed prefix), per spec §4.9
// "renames of directories are recursive: child paths rewrite on read".
func (w *WriteOverlay) resolveRename(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if to, ok := w.renames[path]; ok {
		return to
	}
	for from, to := range w.renames {
		prefix := from
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		if strings.HasPrefix(path, prefix) {
			return to + strings.TrimPrefix(path, from)
		}
	}
	return path
}

func (w *WriteOverlay) isDeleted(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.deletions[path]
	return ok
}

func (w *WriteOverlay) hostPath(path string) string {
	return filepath.Join(w.dir, filepath.FromSlash(path))
}

func (w *WriteOverlay) Lookup(ctx context.Context, path string) (model.FileEntry, bool, error) {
	path = w.resolveRename(path)
	if w.isDeleted(path) {
		return model.FileEntry{}, false, nil
	}
	w.mu.RLock()
	if e, ok := w.created[path]; ok {
		w.mu.RUnlock()
		return e, true, nil
	}
	w.mu.RUnlock()

	if fi, err := os.Lstat(w.hostPath(path)); err == nil {
		return entryFromHostStat(path, fi), true, nil
	}
	return w.base.Lookup(ctx, path)
}

func (w *WriteOverlay) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	dir = w.resolveRename(dir)
	base, err := w.base.List(ctx, dir)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	byName := map[string]model.FileEntry{}
	for _, e := range base {
		p := dir
		if p != "/" {
			p += "/"
		}
		p += e.Name
		if w.isDeleted(p) {
			continue
		}
		byName[e.Name] = e
	}

	w.mu.RLock()
	for p, e := range w.created {
		if filepath.Dir(p) == dir || (dir == "/" && !strings.Contains(strings.TrimPrefix(p, "/"), "/")) {
			byName[e.Name] = e
		}
	}
	w.mu.RUnlock()

	out := make([]model.FileEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	if len(out) == 0 && len(base) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (w *WriteOverlay) ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	path = w.resolveRename(path)
	if w.isDeleted(path) {
		return 0, ErrNotFound
	}
	if fh, err := os.Open(w.hostPath(path)); err == nil {
		defer fh.Close()
		return fh.ReadAt(p, off)
	}
	return w.base.ReadAt(ctx, path, p, off)
}

func (w *WriteOverlay) Versions(ctx context.Context, path string) ([]model.FileEntry, error) {
	path = w.resolveRename(path)
	if w.isDeleted(path) {
		return nil, ErrNotFound
	}
	return w.base.Versions(ctx, path)
}

func (w *WriteOverlay) ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error) {
	path = w.resolveRename(path)
	if w.isDeleted(path) {
		return nil, ErrNotFound
	}
	return w.base.ExtendedAttrs(ctx, path)
}

func (w *WriteOverlay) Statfs(ctx context.Context) (StatfsInfo, error) {
	return w.base.Statfs(ctx)
}

func (w *WriteOverlay) Close() error { return w.base.Close() }

// copyOnWrite ensures path has a host-folder copy, copying the underlying
// union's bytes out first if this is the first write to an unmodified file.
func (w *WriteOverlay) copyOnWrite(ctx context.Context, path string) error {
	hp := w.hostPath(path)
	if _, err := os.Stat(hp); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(hp), 0o755); err != nil {
		return err
	}
	e, ok, err := w.base.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		// brand-new file; Create should have already staged it
		return nil
	}
	out, err := os.OpenFile(hp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(e.Mode))
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 256*1024)
	var off int64
	for off < e.Size {
		n, rerr := w.base.ReadAt(ctx, path, buf, off)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

func (w *WriteOverlay) Create(ctx context.Context, path string, mode uint32) (model.FileEntry, error) {
	shard := w.shardFor(path)
	shard.Lock()
	defer shard.Unlock()

	hp := w.hostPath(path)
	if err := os.MkdirAll(filepath.Dir(hp), 0o755); err != nil {
		return model.FileEntry{}, err
	}
	f, err := os.OpenFile(hp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(mode))
	if err != nil {
		return model.FileEntry{}, err
	}
	f.Close()

	entry := model.FileEntry{Path: path, Name: filepath.Base(path), Kind: model.KindRegular, Mode: mode, Version: 1}
	w.mu.Lock()
	w.created[path] = entry
	delete(w.deletions, path)
	w.mu.Unlock()
	return entry, nil
}

func (w *WriteOverlay) Write(ctx context.Context, path string, p []byte, off int64) (int, error) {
	shard := w.shardFor(path)
	shard.Lock()
	defer shard.Unlock()

	if err := w.copyOnWrite(ctx, path); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(w.hostPath(path), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteAt(p, off)
}

func (w *WriteOverlay) Truncate(ctx context.Context, path string, size int64) error {
	shard := w.shardFor(path)
	shard.Lock()
	defer shard.Unlock()

	if err := w.copyOnWrite(ctx, path); err != nil {
		return err
	}
	return os.Truncate(w.hostPath(path), size)
}

func (w *WriteOverlay) Mkdir(ctx context.Context, path string, mode uint32) (model.FileEntry, error) {
	shard := w.shardFor(path)
	shard.Lock()
	defer shard.Unlock()

	if err := os.MkdirAll(w.hostPath(path), os.FileMode(mode)); err != nil {
		return model.FileEntry{}, err
	}
	entry := model.FileEntry{Path: path, Name: filepath.Base(path), Kind: model.KindDirectory, Mode: mode | uint32(os.ModeDir)}
	w.mu.Lock()
	w.created[path] = entry
	delete(w.deletions, path)
	w.mu.Unlock()
	return entry, nil
}

func (w *WriteOverlay) Rmdir(ctx context.Context, path string) error {
	return w.Unlink(ctx, path)
}

// Unlink records path as deleted: deletions take precedence over overlay
// contents and the underlying entry alike, per spec §4.9's invariant.
func (w *WriteOverlay) Unlink(ctx context.Context, path string) error {
	shard := w.shardFor(path)
	shard.Lock()
	defer shard.Unlock()

	_ = os.RemoveAll(w.hostPath(path))
	w.mu.Lock()
	w.deletions[path] = struct{}{}
	delete(w.created, path)
	w.mu.Unlock()
	return nil
}

// Rename records (oldPath -> newPath) in the persistent rename table; a
// directory rename is recursive because resolveRename rewrites any path
// whose prefix matches oldPath, not just an exact match.
func (w *WriteOverlay) Rename(ctx context.Context, oldPath, newPath string) error {
	oldShard, newShard := w.shardFor(oldPath), w.shardFor(newPath)
	if oldShard == newShard {
		oldShard.Lock()
		defer oldShard.Unlock()
	} else {
		oldShard.Lock()
		newShard.Lock()
		defer oldShard.Unlock()
		defer newShard.Unlock()
	}

	if hp := w.hostPath(oldPath); fileExists(hp) {
		if err := os.Rename(hp, w.hostPath(newPath)); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.renames[oldPath] = newPath
	if e, ok := w.created[oldPath]; ok {
		e.Path, e.Name = newPath, filepath.Base(newPath)
		delete(w.created, oldPath)
		w.created[newPath] = e
	}
	w.mu.Unlock()
	return nil
}

func (w *WriteOverlay) Setattr(ctx context.Context, path string, mode *uint32, uid, gid *uint32) error {
	shard := w.shardFor(path)
	shard.Lock()
	defer shard.Unlock()

	if err := w.copyOnWrite(ctx, path); err != nil {
		return err
	}
	hp := w.hostPath(path)
	if mode != nil {
		if err := os.Chmod(hp, os.FileMode(*mode)); err != nil {
			return err
		}
	}
	if uid != nil || gid != nil {
		u, g := -1, -1
		if uid != nil {
			u = int(*uid)
		}
		if gid != nil {
			g = int(*gid)
		}
		return os.Chown(hp, u, g)
	}
	return nil
}

// State snapshots the overlay's deletions/renames for persistence into a
// sidecar (spec §4.9); the overlay folder's own contents need no separate
// snapshot since they live directly on disk under dir.
func (w *WriteOverlay) State() *model.OverlayState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := model.NewOverlayState()
	for p := range w.deletions {
		s.Deletions[p] = struct{}{}
	}
	for from, to := range w.renames {
		s.Renames[from] = to
	}
	return s
}

// Commit writes append.lst (every overlay-folder path, to be added or
// replaced in the archive) and deletions.lst (every recorded deletion) into
// dir, for an external archiver to apply against the original archive, per
// spec §4.9. Commit never touches the original archive itself.
func (w *WriteOverlay) Commit(dir string) error {
	appendList, err := os.Create(filepath.Join(dir, "append.lst"))
	if err != nil {
		return err
	}
	defer appendList.Close()

	err = filepath.Walk(w.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(w.dir, p)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(appendList, filepath.ToSlash(rel))
		return err
	})
	if err != nil {
		return fmt.Errorf("mount: writing append.lst: %w", err)
	}

	deletionsList, err := os.Create(filepath.Join(dir, "deletions.lst"))
	if err != nil {
		return err
	}
	defer deletionsList.Close()

	w.mu.RLock()
	defer w.mu.RUnlock()
	for p := range w.deletions {
		if _, err := fmt.Fprintln(deletionsList, p); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func entryFromHostStat(path string, fi os.FileInfo) model.FileEntry {
	kind := model.KindRegular
	switch {
	case fi.IsDir():
		kind = model.KindDirectory
	case fi.Mode()&os.ModeSymlink != 0:
		kind = model.KindSymlink
	}
	return model.FileEntry{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    fi.Size(),
		Mtime:   fi.ModTime(),
		Mode:    uint32(fi.Mode()),
		Kind:    kind,
		Version: 1,
	}
}

var _ Writable = (*WriteOverlay)(nil)
