package mount

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/karrick/godirwalk"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// FolderMountSource binds a live host directory into the mounted tree
// read-only, walked with karrick/godirwalk exactly as the teacher's
// populateIndex walks a source folder when building an archive
// (pkg/archive/archive.go) — here the walk result backs live browsing
// instead of being serialized into an index.
type FolderMountSource struct {
	root string

	mu      sync.RWMutex
	entries map[string]model.FileEntry // path -> entry, refreshed by Refresh
	order   []string                   // sorted paths, for List's child scan
}

// NewFolderMountSource walks root once and returns a FolderMountSource
// serving its contents. Call Refresh to pick up changes made on disk after
// the mount started; ratarfs never watches the filesystem for changes.
func NewFolderMountSource(root string) (*FolderMountSource, error) {
	fs := &FolderMountSource{root: root}
	if err := fs.Refresh(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Refresh re-walks root and replaces the in-memory index wholesale.
func (f *FolderMountSource) Refresh() error {
	entries := map[string]model.FileEntry{
		"/": {Path: "/", Name: "/", Kind: model.KindDirectory, Mode: uint32(os.ModeDir | 0o755)},
	}

	err := godirwalk.Walk(f.root, &godirwalk.Options{
		Callback: func(osPath string, de *godirwalk.Dirent) error {
			rel := strings.TrimPrefix(osPath, f.root)
			rel = "/" + strings.TrimPrefix(rel, "/")
			rel = path.Clean(rel)
			if rel == "/." || rel == "." {
				return nil
			}

			var fi os.FileInfo
			var linkname string
			var statErr error
			if de.IsSymlink() {
				fi, statErr = os.Lstat(osPath)
				if statErr == nil {
					linkname, statErr = os.Readlink(osPath)
				}
			} else {
				fi, statErr = os.Stat(osPath)
			}
			if statErr != nil {
				return fmt.Errorf("folder: stat %s: %w", osPath, statErr)
			}

			entry := model.FileEntry{
				Path:     rel,
				Name:     path.Base(rel),
				Size:     fi.Size(),
				Mtime:    fi.ModTime(),
				Mode:     uint32(fi.Mode().Perm()),
				Linkname: linkname,
				Version:  1,
			}
			switch {
			case de.IsDir():
				entry.Kind = model.KindDirectory
			case de.IsSymlink():
				entry.Kind = model.KindSymlink
			default:
				entry.Kind = model.KindRegular
			}
			if st, ok := fi.Sys().(*syscall.Stat_t); ok {
				entry.Uid = st.Uid
				entry.Gid = st.Gid
			}

			entries[rel] = entry
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return fmt.Errorf("folder: walking %s: %w", f.root, err)
	}

	order := make([]string, 0, len(entries))
	for p := range entries {
		order = append(order, p)
	}
	sort.Strings(order)

	f.mu.Lock()
	f.entries, f.order = entries, order
	f.mu.Unlock()
	return nil
}

func (f *FolderMountSource) Lookup(ctx context.Context, p string) (model.FileEntry, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[path.Clean(p)]
	return e, ok, nil
}

func (f *FolderMountSource) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dir = path.Clean(dir)
	if _, ok := f.entries[dir]; !ok {
		return nil, ErrNotFound
	}
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}

	var children []model.FileEntry
	for _, p := range f.order {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue // grandchild, not a direct child
		}
		children = append(children, f.entries[p])
	}
	return children, nil
}

func (f *FolderMountSource) Versions(ctx context.Context, p string) ([]model.FileEntry, error) {
	e, ok, err := f.Lookup(ctx, p)
	if err != nil || !ok {
		return nil, err
	}
	return []model.FileEntry{e}, nil
}

func (f *FolderMountSource) ExtendedAttrs(ctx context.Context, p string) (map[string][]byte, error) {
	return nil, nil
}

// ReadAt opens the file fresh on every call (the teacher's populateIndex
// similarly re-opens each file by path rather than keeping handles around),
// relying on the host OS's page cache for repeated-read performance.
func (f *FolderMountSource) ReadAt(ctx context.Context, p string, buf []byte, off int64) (int, error) {
	e, ok, err := f.Lookup(ctx, p)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	if e.Kind != model.KindRegular {
		return 0, fmt.Errorf("folder: %s is not a regular file", p)
	}

	fh, err := os.Open(f.root + p)
	if err != nil {
		return 0, err
	}
	defer fh.Close()

	n, err := fh.ReadAt(buf, off)
	if err == io.EOF {
		return n, io.EOF
	}
	return n, err
}

func (f *FolderMountSource) Statfs(ctx context.Context) (StatfsInfo, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(f.root, &st); err != nil {
		return StatfsInfo{}, err
	}
	return StatfsInfo{
		BlockSize:  uint32(st.Bsize),
		TotalBytes: st.Blocks * uint64(st.Bsize),
		FreeBytes:  st.Bfree * uint64(st.Bsize),
		Files:      st.Files,
		FilesFree:  st.Ffree,
	}, nil
}

func (f *FolderMountSource) Close() error { return nil }
