// Command ratarfs indexes and mounts (optionally compressed) TAR archives
// for random-access, FUSE-backed browsing, without ever extracting them to
// disk. Grounded on the teacher's cmd/main.go: one cobra root command
// aggregating subcommands from sibling files in this package, the teacher's
// own pkg/commands split flattened into cmd/ratarfs since there is only one
// binary here, not the teacher's cmd/main.go + cmd/clipctl/main.go + cmd/fs/main.go
// split across three.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// cfg is the single Config value every subcommand builds its MountSource
// and FUSE adapter from, populated from the persistent flags bindConfigFlags
// registers in main() below and passed by reference into each constructor.
var cfg = defaultConfig()

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "ratarfs",
		Short: "Index, mount, and extract TAR archives without decompressing them to disk",
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	bindConfigFlags(rootCmd.PersistentFlags())

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	}

	rootCmd.AddCommand(IndexCmd)
	rootCmd.AddCommand(MountCmd)
	rootCmd.AddCommand(ExtractCmd)
	rootCmd.AddCommand(CreateCmd)
	rootCmd.AddCommand(CommitCmd)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		log.Info().Msg("interrupted, exiting")
		os.Exit(1)
	}()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
