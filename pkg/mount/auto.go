package mount

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// ArchiveOpener builds a MountSource over a nested archive's own byte range,
// given a ReaderAt view of the member's decompressed data and its size. It is
// supplied by the caller (cmd/ratarfs) rather than hardcoded here, since
// opening a nested archive requires building its own index first — a
// concern AutoMountLayer itself has no business knowing about.
type ArchiveOpener func(ctx context.Context, name string, data io.ReaderAt, size int64) (MountSource, error)

// AutoMountLayer wraps a MountSource and lazily substitutes any entry with
// IsNestedArchive set for a sub-mount over its contents, recursively, up to
// MaxDepth (spec §4.8). Grounded on the teacher's ClipFileSystem.lookupCache
// (pkg/clip/clipfs.go): both are a sync.RWMutex-guarded map memoizing
// expensive per-path work, used here because constructing a sub-mount opens
// file handles and builds an index — side effects ristretto's eviction would
// tear down silently, unlike the pure lookup memoization UnionMountSource
// uses ristretto for.
type AutoMountLayer struct {
	base        MountSource
	open        ArchiveOpener
	stripSuffix bool
	maxDepth    int
	depth       int

	cacheMu sync.RWMutex
	cache   map[string]MountSource // entry path -> sub-mount, this layer's depth only
}

// NewAutoMountLayer wraps base at recursion depth 0. StripSuffix controls
// whether a nested archive's suffix (".tar", ".tar.gz", ...) is stripped
// from its virtual directory name (spec §4.8).
func NewAutoMountLayer(base MountSource, open ArchiveOpener, stripSuffix bool, maxDepth int) *AutoMountLayer {
	return &AutoMountLayer{base: base, open: open, stripSuffix: stripSuffix, maxDepth: maxDepth, cache: map[string]MountSource{}}
}

// virtualName returns the name a nested archive entry presents as in
// listings: its own name when strip_suffix is false, or the name with a
// known archive suffix stripped when strip_suffix is true.
func (a *AutoMountLayer) virtualName(name string) string {
	if !a.stripSuffix {
		return name
	}
	for _, suf := range nestedArchiveSuffixes {
		if strings.HasSuffix(strings.ToLower(name), suf) {
			return name[:len(name)-len(suf)]
		}
	}
	return name
}

// splitVirtualPath determines whether p addresses a path inside a nested
// archive's virtualized directory, returning the archive's own path and the
// remainder inside it, or ok=false if p belongs to the base layer directly.
func (a *AutoMountLayer) splitVirtualPath(ctx context.Context, p string) (archivePath, inner string, ok bool, err error) {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	cur := "/"
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		children, listErr := a.base.List(ctx, cur)
		if listErr != nil {
			return "", "", false, nil
		}
		var matched *model.FileEntry
		for idx := range children {
			c := &children[idx]
			if !c.IsNestedArchive && c.Name == seg {
				matched = nil // an existing sibling of that name wins
				break
			}
			if c.IsNestedArchive && matched == nil && a.virtualName(c.Name) == seg {
				matched = c
			}
		}
		if matched == nil {
			cur = path.Join(cur, seg)
			continue
		}
		remainder := "/" + strings.Join(segments[i+1:], "/")
		if remainder == "/" && i == len(segments)-1 {
			remainder = "/"
		}
		return matched.Path, remainder, true, nil
	}
	return "", "", false, nil
}

// subMount returns (building if necessary) the cached sub-mount for
// archivePath, or an error if recursion depth is exhausted.
func (a *AutoMountLayer) subMount(ctx context.Context, archivePath string) (MountSource, error) {
	a.cacheMu.RLock()
	sub, ok := a.cache[archivePath]
	a.cacheMu.RUnlock()
	if ok {
		return sub, nil
	}

	if a.depth >= a.maxDepth {
		return nil, fmt.Errorf("mount: max recursion depth %d reached at %s", a.maxDepth, archivePath)
	}

	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if sub, ok := a.cache[archivePath]; ok {
		return sub, nil
	}

	entry, ok, err := a.base.Lookup(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	reader := &mountSourceReaderAt{ctx: ctx, src: a.base, path: archivePath}
	built, err := a.open(ctx, entry.Name, reader, entry.Size)
	if err != nil {
		return nil, fmt.Errorf("mount: opening nested archive %s: %w", archivePath, err)
	}
	inner := NewAutoMountLayer(built, a.open, a.stripSuffix, a.maxDepth)
	inner.depth = a.depth + 1
	a.cache[archivePath] = inner
	return inner, nil
}

func (a *AutoMountLayer) Lookup(ctx context.Context, p string) (model.FileEntry, bool, error) {
	archivePath, inner, ok, err := a.splitVirtualPath(ctx, p)
	if err != nil {
		return model.FileEntry{}, false, err
	}
	if !ok {
		return a.base.Lookup(ctx, p)
	}
	sub, err := a.subMount(ctx, archivePath)
	if err != nil {
		return model.FileEntry{}, false, err
	}
	return sub.Lookup(ctx, inner)
}

func (a *AutoMountLayer) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	archivePath, inner, ok, err := a.splitVirtualPath(ctx, dir)
	if err != nil {
		return nil, err
	}
	if ok {
		sub, err := a.subMount(ctx, archivePath)
		if err != nil {
			return nil, err
		}
		return sub.List(ctx, inner)
	}

	children, err := a.base.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !a.stripSuffix {
		return children, nil
	}

	// When strip_suffix is set, a nested-archive entry's virtual name
	// replaces its literal filename; a collision with an existing sibling
	// directory of that stripped name is a warning, and the sibling wins
	// (spec §4.8) — the nested archive entry is simply dropped from the
	// listing in that case.
	byName := make(map[string]model.FileEntry, len(children))
	order := make([]string, 0, len(children))
	for _, c := range children {
		name := c.Name
		if c.IsNestedArchive {
			name = a.virtualName(c.Name)
		}
		existing, collide := byName[name]
		if collide && existing.IsNestedArchive != c.IsNestedArchive {
			log.Warn().Str("dir", dir).Str("name", name).Msg("nested archive's virtual directory collides with a sibling entry; the sibling wins")
		}
		if collide && !existing.IsNestedArchive {
			continue // sibling wins; drop the nested-archive entry
		}
		if !collide {
			order = append(order, name)
		}
		c.Name = name
		byName[name] = c
	}
	out := make([]model.FileEntry, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

func (a *AutoMountLayer) ReadAt(ctx context.Context, p string, buf []byte, off int64) (int, error) {
	archivePath, inner, ok, err := a.splitVirtualPath(ctx, p)
	if err != nil {
		return 0, err
	}
	if !ok {
		return a.base.ReadAt(ctx, p, buf, off)
	}
	sub, err := a.subMount(ctx, archivePath)
	if err != nil {
		return 0, err
	}
	return sub.ReadAt(ctx, inner, buf, off)
}

func (a *AutoMountLayer) Versions(ctx context.Context, p string) ([]model.FileEntry, error) {
	archivePath, inner, ok, err := a.splitVirtualPath(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.base.Versions(ctx, p)
	}
	sub, err := a.subMount(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	return sub.Versions(ctx, inner)
}

func (a *AutoMountLayer) ExtendedAttrs(ctx context.Context, p string) (map[string][]byte, error) {
	archivePath, inner, ok, err := a.splitVirtualPath(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return a.base.ExtendedAttrs(ctx, p)
	}
	sub, err := a.subMount(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	return sub.ExtendedAttrs(ctx, inner)
}

func (a *AutoMountLayer) Statfs(ctx context.Context) (StatfsInfo, error) {
	return a.base.Statfs(ctx)
}

func (a *AutoMountLayer) Close() error {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	var firstErr error
	for _, sub := range a.cache {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.base.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// mountSourceReaderAt adapts a MountSource's (ctx, path)-addressed ReadAt
// into the plain io.ReaderAt a nested archive's own SeekableStream needs.
type mountSourceReaderAt struct {
	ctx  context.Context
	src  MountSource
	path string
}

func (r *mountSourceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.src.ReadAt(r.ctx, r.path, p, off)
}
