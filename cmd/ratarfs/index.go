package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type indexOptions struct {
	archivePath string
	force       bool
}

var indexOpts indexOptions

var IndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build (or rebuild) an archive's on-disk index without mounting it",
	RunE:  runIndex,
}

func init() {
	IndexCmd.Flags().StringVarP(&indexOpts.archivePath, "input", "i", "", "archive file to index")
	IndexCmd.Flags().BoolVarP(&indexOpts.force, "force", "f", false, "rebuild even if a valid index already exists")
	IndexCmd.MarkFlagRequired("input")
}

func runIndex(cmd *cobra.Command, args []string) error {
	idx, err := openOrBuildIndex(indexOpts.archivePath, cfg, indexOpts.force)
	if err != nil {
		return fmt.Errorf("ratarfs: %w", err)
	}
	defer idx.Close()

	meta, err := idx.Meta()
	if err != nil {
		return fmt.Errorf("ratarfs: reading index metadata: %w", err)
	}

	indexPath := resolveIndexPath(indexOpts.archivePath, cfg)
	log.Info().
		Str("archive", indexOpts.archivePath).
		Str("index", indexPath).
		Str("backend", meta.BackendName).
		Int64("size", meta.ArchiveSize).
		Msg("index ready")
	return nil
}
