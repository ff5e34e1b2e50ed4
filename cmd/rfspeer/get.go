package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/distfs/rfspeer/internal/session"
)

func newGetCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Ask a running local daemon to start downloading file-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(cmd)
			cfg := loadConfig(cmd)
			if address != "" {
				cfg.Address = address
			}

			sess, err := session.Connect(cfg.Address, cfg.DialTimeout, session.Options{
				MaxFrameSize: cfg.MaxFrameSize,
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,
			}, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.GetFile(args[0]); err != nil {
				return err
			}

			fmt.Printf("requested download of %s from %s\n", args[0], cfg.Address)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "address of a running local daemon (default 127.0.0.1:8001)")
	return cmd
}
