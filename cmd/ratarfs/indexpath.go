package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ratarfs/ratarfs/pkg/config"
)

// resolveIndexPath picks the on-disk index location for archivePath, per
// pkg/config.Config.IndexPathOverride's doc comment: an explicit override
// wins outright, otherwise prefer "<archive>.index.sqlite" next to the
// archive and fall back to a per-user cache directory when that location
// isn't writable (read-only media, a shared archive owned by another user).
func resolveIndexPath(archivePath string, cfg *config.Config) string {
	if cfg.IndexPathOverride != "" {
		return cfg.IndexPathOverride
	}

	sibling := archivePath + ".index.sqlite"
	if isWritableDir(filepath.Dir(archivePath)) {
		return sibling
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return sibling
	}
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		abs = archivePath
	}
	escaped := strings.ReplaceAll(strings.TrimPrefix(filepath.ToSlash(abs), "/"), "/", "-")
	return filepath.Join(home, ".ratarfs", escaped+".index.sqlite")
}

func isWritableDir(dir string) bool {
	f, err := os.CreateTemp(dir, ".ratarfs-writetest-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
