package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/distfs/rfspeer/internal/config"
	"github.com/distfs/rfspeer/internal/logging"
)

// loadConfig builds a config.Config from the persistent --rfs-dir flag,
// the way the teacher's daemon resolves its config before doing
// anything else.
func loadConfig(cmd *cobra.Command) *config.Config {
	rfsDir, _ := cmd.Flags().GetString("rfs-dir")
	return config.Default().WithRFSDir(rfsDir)
}

// setupLogger installs a pretty-printing slog.Logger as the process
// default, mirroring the teacher's cmd/rabbit/main.go setupLogger.
func setupLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts := logging.DefaultOptions()
	if verbose {
		opts.SlogOpts.Level = slog.LevelDebug
	} else {
		opts.SlogOpts.Level = slog.LevelInfo
		opts.ShowSource = false
	}

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}
