package mount

import (
	"context"
	"path"
	"strings"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// mapSource is a minimal in-memory MountSource test double, keyed by path,
// used to exercise UnionMountSource/AutoMountLayer without standing up a
// real archive.
type mapSource struct {
	entries map[string]model.FileEntry
	data    map[string][]byte
}

func newMapSource() *mapSource {
	return &mapSource{entries: map[string]model.FileEntry{"/": {Path: "/", Name: "/", Kind: model.KindDirectory}}, data: map[string][]byte{}}
}

func (m *mapSource) put(p string, content string) {
	m.entries[p] = model.FileEntry{Path: p, Name: path.Base(p), Kind: model.KindRegular, Size: int64(len(content)), Version: 1}
	m.data[p] = []byte(content)
}

func (m *mapSource) putNestedArchive(p string, content string) {
	m.put(p, content)
	e := m.entries[p]
	e.IsNestedArchive = true
	m.entries[p] = e
}

func (m *mapSource) Lookup(ctx context.Context, p string) (model.FileEntry, bool, error) {
	e, ok := m.entries[p]
	return e, ok, nil
}

func (m *mapSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	if _, ok := m.entries[dir]; !ok {
		return nil, ErrNotFound
	}
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []model.FileEntry
	for p, e := range m.entries {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mapSource) ReadAt(ctx context.Context, p string, buf []byte, off int64) (int, error) {
	data, ok := m.data[p]
	if !ok {
		return 0, ErrNotFound
	}
	if off >= int64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[off:])
	return n, nil
}

func (m *mapSource) Versions(ctx context.Context, p string) ([]model.FileEntry, error) {
	e, ok := m.entries[p]
	if !ok {
		return nil, ErrNotFound
	}
	return []model.FileEntry{e}, nil
}

func (m *mapSource) ExtendedAttrs(ctx context.Context, p string) (map[string][]byte, error) {
	return nil, nil
}

func (m *mapSource) Statfs(ctx context.Context) (StatfsInfo, error) { return StatfsInfo{}, nil }
func (m *mapSource) Close() error                                   { return nil }

var _ MountSource = (*mapSource)(nil)
