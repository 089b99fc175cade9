package main

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ratarfs/ratarfs/pkg/fuseadapter"
	"github.com/ratarfs/ratarfs/pkg/mount"
)

type mountOptions struct {
	archivePath string
	mountPoint  string
	overlayDir  string
	rebuild     bool
}

var mountOpts mountOptions

var MountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount an archive to a directory",
	RunE:  runMount,
}

func init() {
	MountCmd.Flags().StringVarP(&mountOpts.archivePath, "input", "i", "", "archive file to mount")
	MountCmd.Flags().StringVarP(&mountOpts.mountPoint, "mountpoint", "m", "", "directory to mount the archive on")
	MountCmd.Flags().StringVar(&mountOpts.overlayDir, "overlay", "", "host directory backing a writable overlay (spec §4.9); omit for a read-only mount")
	MountCmd.Flags().BoolVar(&mountOpts.rebuild, "rebuild-index", false, "rebuild the index even if a valid one already exists")
	MountCmd.MarkFlagRequired("input")
	MountCmd.MarkFlagRequired("mountpoint")
}

// forceUnmount clears any stale mount left behind by a prior crashed run,
// the same defensive step the teacher's runMount takes before mounting.
func forceUnmount(mountPoint string) {
	exec.Command("umount", "-f", mountPoint).Run()
}

func runMount(cmd *cobra.Command, args []string) error {
	forceUnmount(mountOpts.mountPoint)

	src, err := openMountSource(mountOpts.archivePath, cfg, mountOpts.rebuild)
	if err != nil {
		return fmt.Errorf("ratarfs: %w", err)
	}

	var overlay *mount.WriteOverlay
	if mountOpts.overlayDir != "" {
		state, err := loadOverlayState(mountOpts.overlayDir)
		if err != nil {
			src.Close()
			return fmt.Errorf("ratarfs: loading overlay state: %w", err)
		}
		overlay, err = mount.NewWriteOverlay(src, mountOpts.overlayDir, state)
		if err != nil {
			src.Close()
			return fmt.Errorf("ratarfs: opening write overlay: %w", err)
		}
		src = overlay
	}

	start, serverErrors, _, err := fuseadapter.Mount(src, mountOpts.mountPoint, cfg)
	if err != nil {
		src.Close()
		return fmt.Errorf("ratarfs: %w", err)
	}

	if err := start(); err != nil {
		return fmt.Errorf("ratarfs: starting FUSE server: %w", err)
	}

	log.Info().Str("mountpoint", mountOpts.mountPoint).Str("archive", mountOpts.archivePath).Msg("mounted, waiting for unmount")

	serveErr, ok := <-serverErrors

	if overlay != nil {
		if err := saveOverlayState(mountOpts.overlayDir, overlay.State()); err != nil {
			log.Error().Err(err).Msg("saving overlay state")
		}
	}

	if ok && serveErr != nil {
		return fmt.Errorf("ratarfs: %w", serveErr)
	}
	return nil
}
