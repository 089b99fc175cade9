package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ratarfs/ratarfs/pkg/mount"
)

type commitOptions struct {
	archivePath string
	overlayDir  string
	outputDir   string
}

var commitOpts commitOptions

var CommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Flatten a write overlay into append.lst/deletions.lst for an external archiver",
	RunE:  runCommit,
}

func init() {
	CommitCmd.Flags().StringVarP(&commitOpts.archivePath, "input", "i", "", "base archive the overlay was mounted against")
	CommitCmd.Flags().StringVar(&commitOpts.overlayDir, "overlay", "", "overlay directory used during the mount")
	CommitCmd.Flags().StringVarP(&commitOpts.outputDir, "output", "o", "", "directory to write append.lst/deletions.lst into")
	CommitCmd.MarkFlagRequired("input")
	CommitCmd.MarkFlagRequired("overlay")
	CommitCmd.MarkFlagRequired("output")
}

// runCommit rebuilds the same WriteOverlay a mount session would have held
// (base archive, same overlay directory, same deletions/renames) purely to
// reach its Commit method; it never re-mounts or serves FUSE requests.
func runCommit(cmd *cobra.Command, args []string) error {
	base, err := openMountSource(commitOpts.archivePath, cfg, false)
	if err != nil {
		return fmt.Errorf("ratarfs: %w", err)
	}
	defer base.Close()

	state, err := loadOverlayState(commitOpts.overlayDir)
	if err != nil {
		return fmt.Errorf("ratarfs: loading overlay state: %w", err)
	}

	overlay, err := mount.NewWriteOverlay(base, commitOpts.overlayDir, state)
	if err != nil {
		return fmt.Errorf("ratarfs: opening write overlay: %w", err)
	}

	if err := overlay.Commit(commitOpts.outputDir); err != nil {
		return fmt.Errorf("ratarfs: committing overlay: %w", err)
	}

	log.Info().
		Str("archive", commitOpts.archivePath).
		Str("overlay", commitOpts.overlayDir).
		Str("output", commitOpts.outputDir).
		Msg("overlay committed")
	return nil
}
