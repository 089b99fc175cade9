package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ratarfs/ratarfs/pkg/model"
	"github.com/ratarfs/ratarfs/pkg/mount"
	"github.com/ratarfs/ratarfs/pkg/workerpool"
)

type extractOptions struct {
	archivePath string
	outputDir   string
}

var extractOpts extractOptions

var ExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract an archive's contents to a directory",
	RunE:  runExtract,
}

func init() {
	ExtractCmd.Flags().StringVarP(&extractOpts.archivePath, "input", "i", "", "archive file to extract")
	ExtractCmd.Flags().StringVarP(&extractOpts.outputDir, "output", "o", "", "directory to extract into")
	ExtractCmd.MarkFlagRequired("input")
	ExtractCmd.MarkFlagRequired("output")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	src, err := openMountSource(extractOpts.archivePath, cfg, false)
	if err != nil {
		return fmt.Errorf("ratarfs: %w", err)
	}
	defer src.Close()

	var dirs, links, files []model.FileEntry
	if err := walkTree(ctx, src, "/", &dirs, &links, &files); err != nil {
		return fmt.Errorf("ratarfs: walking archive: %w", err)
	}

	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(extractOpts.outputDir, d.Path), os.FileMode(d.Mode)|0o700); err != nil {
			return fmt.Errorf("ratarfs: creating directory %s: %w", d.Path, err)
		}
	}

	// Files decode in parallel (spec §5: "decoded in parallel... reassembled
	// in order"); here "in order" simply means every task's result lands at
	// the file it was read for, same as the teacher's populateIndex walking
	// one node at a time but with the decode step itself fanned out.
	pool := workerpool.New(cfg.EffectiveParallelism())
	tasks := make([]workerpool.Task, len(files))
	for i, f := range files {
		f := f
		tasks[i] = func(ctx context.Context) ([]byte, error) {
			return readEntireFile(ctx, src, f)
		}
	}
	contents, err := pool.RunOrdered(ctx, tasks)
	if err != nil {
		return fmt.Errorf("ratarfs: extracting files: %w", err)
	}

	for i, f := range files {
		dest := filepath.Join(extractOpts.outputDir, f.Path)
		if err := os.WriteFile(dest, contents[i], os.FileMode(f.Mode)|0o600); err != nil {
			return fmt.Errorf("ratarfs: writing %s: %w", dest, err)
		}
	}

	for _, l := range links {
		dest := filepath.Join(extractOpts.outputDir, l.Path)
		if err := os.Symlink(l.Linkname, dest); err != nil && !os.IsExist(err) {
			return fmt.Errorf("ratarfs: creating symlink %s: %w", dest, err)
		}
	}

	log.Info().
		Str("archive", extractOpts.archivePath).
		Str("output", extractOpts.outputDir).
		Int("files", len(files)).
		Int("dirs", len(dirs)).
		Msg("extraction complete")
	return nil
}

// walkTree lists dir and every descendant, bucketing entries by kind; regular
// files and hardlinks (resolved via ReadAt, which already follows them) go
// into files, symlinks into links, directories into dirs.
func walkTree(ctx context.Context, src mount.MountSource, dir string, dirs, links, files *[]model.FileEntry) error {
	children, err := src.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, c := range children {
		switch {
		case c.IsDir():
			*dirs = append(*dirs, c)
			if err := walkTree(ctx, src, c.Path, dirs, links, files); err != nil {
				return err
			}
		case c.IsSymlink():
			*links = append(*links, c)
		case c.IsHardlink():
			*files = append(*files, c)
		default:
			*files = append(*files, c)
		}
	}
	return nil
}

// readEntireFile reads until the source reports io.EOF rather than stopping
// at e.Size, since a hardlink's own Size is 0 while ReadAt serves its
// target's bytes.
func readEntireFile(ctx context.Context, src mount.MountSource, e model.FileEntry) ([]byte, error) {
	buf := make([]byte, 0, e.Size)
	chunk := make([]byte, 1<<20)
	var off int64
	for {
		n, err := src.ReadAt(ctx, e.Path, chunk, off)
		buf = append(buf, chunk[:n]...)
		off += int64(n)
		if err != nil {
			if err == io.EOF || n > 0 {
				break
			}
			return nil, fmt.Errorf("reading %s at %d: %w", e.Path, off, err)
		}
		if n == 0 {
			break
		}
	}
	return buf, nil
}
