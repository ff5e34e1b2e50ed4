package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rfspeer",
		Short: "A peer in a content-addressed file distribution network",
	}

	root.PersistentFlags().String("rfs-dir", "", "root directory for metafiles/files/file_parts (default: $HOME/.rfs)")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging with source locations")

	root.AddCommand(newServeCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newInfoCmd())

	return root
}
