package main

import (
	"github.com/spf13/pflag"

	"github.com/ratarfs/ratarfs/pkg/config"
)

func defaultConfig() *config.Config {
	return config.Default()
}

// bindConfigFlags registers the persistent flags every subcommand reads cfg
// through, the CLI-surface counterpart of pkg/config.Config's fields. Kept
// as a single binder (rather than letting each subcommand declare its own
// subset) so "ratarfs mount --recursion-depth 0" and "ratarfs index
// --recursion-depth 0" never drift out of sync with each other's flag name
// or default.
func bindConfigFlags(flags *pflag.FlagSet) {
	flags.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "worker pool size for parallel block decoding (0 = number of CPUs)")
	flags.BoolVar(&cfg.DiskIsRotational, "rotational", cfg.DiskIsRotational, "force parallelism to 1, for spinning disks")
	flags.Int64Var(&cfg.CheckpointSpacing, "checkpoint-spacing", cfg.CheckpointSpacing, "decompressed-byte checkpoint spacing stored in the index (the decompression back-ends checkpoint at their own boundaries and do not read it)")
	flags.BoolVar(&cfg.VerifyMtime, "verify-mtime", cfg.VerifyMtime, "require the archive's mtime to match the one recorded at index time")
	flags.BoolVar(&cfg.IgnoreZeros, "ignore-zeros", cfg.IgnoreZeros, "don't stop at a double-zero-block EOF marker (tar --concatenate streams)")
	flags.BoolVar(&cfg.GNUIncremental, "gnu-incremental", cfg.GNUIncremental, "parse GNU tar incremental-dump headers")
	flags.IntVar(&cfg.RecursionDepth, "recursion-depth", cfg.RecursionDepth, "max nested-archive mount depth (0 disables recursive mounting)")
	flags.BoolVar(&cfg.StripSuffix, "strip-suffix", cfg.StripSuffix, "present a nested archive's name with its suffix stripped, as a directory")
	flags.DurationVar(&cfg.UnionCacheTTL, "union-cache-ttl", cfg.UnionCacheTTL, "union mount path-resolution cache TTL (not read by the union mount)")
	flags.IntVar(&cfg.UnionCacheMaxDepth, "union-cache-max-depth", cfg.UnionCacheMaxDepth, "union mount path-resolution cache depth bound (not read by the union mount)")
	flags.DurationVar(&cfg.AttrTimeout, "attr-timeout", cfg.AttrTimeout, "FUSE attribute cache timeout")
	flags.DurationVar(&cfg.EntryTimeout, "entry-timeout", cfg.EntryTimeout, "FUSE directory entry cache timeout")
	flags.StringVar(&cfg.IndexPathOverride, "index-path", cfg.IndexPathOverride, "index file location (default: next to the archive, or ~/.ratarfs/ if unwritable)")
}
