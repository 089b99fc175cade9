package mount

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// UnionMountSource layers several read-only MountSources into one tree,
// rightmost-wins: a path visible in more than one layer resolves to the
// layer with the highest index (spec §4.7 P5). Grounded on the teacher's
// localChunkCache pattern (pkg/v2/cdn.go, pkg/clip/clipfs.go): there a
// ristretto.Cache memoizes expensive chunk fetches; here it memoizes the
// expensive part of a union lookup — scanning every layer back-to-front —
// keyed by path instead of by chunk id.
type UnionMountSource struct {
	layers []MountSource // index 0 = leftmost (lowest priority)

	// lookupCache maps a path to the index (in layers) of the layer that
	// won the last lookup for it, so a hot path doesn't re-scan every layer
	// on every access. It is an optimization only: a cache miss just falls
	// back to the full scan, so eviction never produces a wrong answer.
	lookupCache *ristretto.Cache
}

// NewUnionMountSource builds a union over layers, ordered lowest to highest
// priority (the last element wins ties).
func NewUnionMountSource(layers []MountSource) (*UnionMountSource, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("mount: union requires at least one layer")
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("mount: building union lookup cache: %w", err)
	}
	return &UnionMountSource{layers: layers, lookupCache: cache}, nil
}

// resolve returns the highest-priority layer in which path exists, and that
// layer's own lookup result.
func (u *UnionMountSource) resolve(ctx context.Context, path string) (MountSource, model.FileEntry, bool, error) {
	if v, ok := u.lookupCache.Get(path); ok {
		idx := v.(int)
		e, ok, err := u.layers[idx].Lookup(ctx, path)
		if err == nil && ok {
			return u.layers[idx], e, true, nil
		}
		// stale cache entry (layer's content moved under it); fall through
		// to the authoritative scan below.
	}

	for i := len(u.layers) - 1; i >= 0; i-- {
		e, ok, err := u.layers[i].Lookup(ctx, path)
		if err != nil {
			return nil, model.FileEntry{}, false, err
		}
		if ok {
			u.lookupCache.Set(path, i, 1)
			return u.layers[i], e, true, nil
		}
	}
	return nil, model.FileEntry{}, false, nil
}

func (u *UnionMountSource) Lookup(ctx context.Context, path string) (model.FileEntry, bool, error) {
	_, e, ok, err := u.resolve(ctx, path)
	return e, ok, err
}

// List merges every layer's listing of dir, rightmost-wins on name
// collisions, per spec §4.7 P5.
func (u *UnionMountSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	byName := map[string]model.FileEntry{}
	var anyFound bool

	for _, layer := range u.layers {
		children, err := layer.List(ctx, dir)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		anyFound = true
		for _, c := range children {
			byName[c.Name] = c // later (higher-priority) layer overwrites
		}
	}
	if !anyFound {
		return nil, ErrNotFound
	}

	out := make([]model.FileEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	return out, nil
}

func (u *UnionMountSource) ReadAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	layer, _, ok, err := u.resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return layer.ReadAt(ctx, path, p, off)
}

// Versions concatenates every layer's version list for path, lowest-priority
// layer first, so "<name>.versions/1" is the oldest version across the whole
// union rather than just the oldest version within the winning layer (spec
// §4.7). A layer that doesn't have path at all is skipped, not an error: only
// resolve (which decides whether path exists in the union at all) treats
// universal absence as ErrNotFound.
func (u *UnionMountSource) Versions(ctx context.Context, path string) ([]model.FileEntry, error) {
	_, _, ok, err := u.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	var all []model.FileEntry
	for _, layer := range u.layers {
		vs, err := layer.Versions(ctx, path)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, vs...)
	}
	return all, nil
}

func (u *UnionMountSource) ExtendedAttrs(ctx context.Context, path string) (map[string][]byte, error) {
	layer, _, ok, err := u.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return layer.ExtendedAttrs(ctx, path)
}

// Statfs reports the sum of every layer's capacity, a reasonable union-wide
// approximation since no single layer owns the whole tree.
func (u *UnionMountSource) Statfs(ctx context.Context) (StatfsInfo, error) {
	var total StatfsInfo
	for _, layer := range u.layers {
		s, err := layer.Statfs(ctx)
		if err != nil {
			continue
		}
		total.TotalBytes += s.TotalBytes
		total.FreeBytes += s.FreeBytes
		total.Files += s.Files
		total.FilesFree += s.FilesFree
		if s.BlockSize > total.BlockSize {
			total.BlockSize = s.BlockSize
		}
	}
	return total, nil
}

func (u *UnionMountSource) Close() error {
	u.lookupCache.Close()
	var firstErr error
	for _, layer := range u.layers {
		if err := layer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// invalidatePrefix drops every cached lookup under prefix, used when a
// lower-priority layer's Refresh (e.g. FolderMountSource) might change which
// layer should win for paths under it.
func (u *UnionMountSource) invalidatePrefix(prefix string) {
	// ristretto has no prefix-scan API; a full Clear is the honest answer
	// here rather than pretending to support partial invalidation.
	if strings.HasPrefix(prefix, "/") {
		u.lookupCache.Clear()
	}
}
