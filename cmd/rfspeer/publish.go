package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/distfs/rfspeer/internal/manifest"
)

func newPublishCmd() *cobra.Command {
	var address string
	var pieceSize uint64

	cmd := &cobra.Command{
		Use:   "publish <path>",
		Short: "Build a manifest for a file, seed it in the local store, and write its .rfs manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger(cmd)
			cfg := loadConfig(cmd)
			if address != "" {
				cfg.Address = address
			}
			if pieceSize != 0 {
				cfg.PieceSize = pieceSize
			}

			if err := cfg.EnsureDirs(); err != nil {
				return err
			}

			path := args[0]
			m, err := manifest.Build(path, cfg.Address, cfg.PieceSize)
			if err != nil {
				return err
			}

			if err := copyIntoFilesDir(path, filepath.Join(cfg.FilesDir(), m.Name)); err != nil {
				return fmt.Errorf("seeding file body: %w", err)
			}
			if err := manifest.Save(m, cfg.MetafilesDir()); err != nil {
				return err
			}

			log.Info("published file",
				"file_id", m.ID,
				"name", m.Name,
				"size", humanize.Bytes(m.Length),
				"pieces", m.PieceCount(),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "this peer's advertised address, recorded in the manifest (default 127.0.0.1:8001)")
	cmd.Flags().Uint64Var(&pieceSize, "piece-size", 0, "piece size in bytes (default 16384)")
	return cmd
}

func copyIntoFilesDir(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
