package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"syscall"

	tar "github.com/vbatts/tar-split/archive/tar"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type createOptions struct {
	sourceDir  string
	outputPath string
}

var createOpts createOptions

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Package a directory into a TAR archive and index it",
	RunE:  runCreate,
}

func init() {
	CreateCmd.Flags().StringVarP(&createOpts.sourceDir, "input", "i", "", "directory to archive")
	CreateCmd.Flags().StringVarP(&createOpts.outputPath, "output", "o", "archive.tar", "output archive path (.tar, .tar.gz/.tgz for gzip)")
	CreateCmd.MarkFlagRequired("input")
}

// runCreate walks sourceDir with godirwalk, the same walker
// FolderMountSource.Refresh uses for live directory binding, and writes a
// TAR stream instead of staging in-memory FileEntry rows. It then indexes
// the archive it just wrote, so a freshly created archive is immediately
// mountable without a separate "ratarfs index" pass.
func runCreate(cmd *cobra.Command, args []string) error {
	out, err := os.Create(createOpts.outputPath)
	if err != nil {
		return fmt.Errorf("ratarfs: creating %s: %w", createOpts.outputPath, err)
	}

	var w io.Writer = out
	var gz *gzip.Writer
	if strings.HasSuffix(createOpts.outputPath, ".gz") || strings.HasSuffix(createOpts.outputPath, ".tgz") {
		gz = gzip.NewWriter(out)
		w = gz
	}

	tw := tar.NewWriter(w)

	count := 0
	walkErr := godirwalk.Walk(createOpts.sourceDir, &godirwalk.Options{
		Callback: func(osPath string, de *godirwalk.Dirent) error {
			rel := strings.TrimPrefix(osPath, createOpts.sourceDir)
			rel = strings.TrimPrefix(rel, string(os.PathSeparator))
			if rel == "" {
				return nil // the root directory itself isn't archived
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
				return fmt.Errorf("stat %s: %w", osPath, statErr)
			}

			hdr, err := tar.FileInfoHeader(fi, linkname)
			if err != nil {
				return fmt.Errorf("building header for %s: %w", osPath, err)
			}
			hdr.Name = path.Clean("/" + filepathToSlash(rel))
			if de.IsDir() {
				hdr.Name += "/"
			}
			if st, ok := fi.Sys().(*syscall.Stat_t); ok {
				hdr.Uid = int(st.Uid)
				hdr.Gid = int(st.Gid)
			}

			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("writing header for %s: %w", osPath, err)
			}
			if de.IsRegular() {
				f, err := os.Open(osPath)
				if err != nil {
					return fmt.Errorf("opening %s: %w", osPath, err)
				}
				_, err = io.Copy(tw, f)
				f.Close()
				if err != nil {
					return fmt.Errorf("copying %s: %w", osPath, err)
				}
			}
			count++
			return nil
		},
		Unsorted: true,
	})
	if walkErr != nil {
		tw.Close()
		out.Close()
		return fmt.Errorf("ratarfs: archiving %s: %w", createOpts.sourceDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("ratarfs: finishing tar stream: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			out.Close()
			return fmt.Errorf("ratarfs: finishing gzip stream: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("ratarfs: closing %s: %w", createOpts.outputPath, err)
	}

	idx, err := openOrBuildIndex(createOpts.outputPath, cfg, true)
	if err != nil {
		return fmt.Errorf("ratarfs: indexing new archive: %w", err)
	}
	idx.Close()

	log.Info().
		Str("source", createOpts.sourceDir).
		Str("archive", createOpts.outputPath).
		Int("entries", count).
		Msg("archive created and indexed")
	return nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, string(os.PathSeparator), "/")
}
