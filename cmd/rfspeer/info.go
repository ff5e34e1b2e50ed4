package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/distfs/rfspeer/internal/session"
)

func newInfoCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Connect to a peer, retrieve its file ids and known peers, and print its ping",
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

			if err := sess.RetrieveInfo(); err != nil {
				return err
			}

			info := sess.Info()
			fmt.Printf("peer:        %s\n", cfg.Address)
			fmt.Printf("ping:        %s\n", info.Ping)
			fmt.Printf("files (%d):\n", len(info.FileIDs))
			for _, id := range info.FileIDs {
				fmt.Printf("  - %s\n", id)
			}
			fmt.Printf("known peers (%d):\n", len(info.KnownPeers))
			for _, p := range info.KnownPeers {
				if p.Ping != nil {
					fmt.Printf("  - %s (ping %dus)\n", p.Address, *p.Ping)
				} else {
					fmt.Printf("  - %s (no ping yet)\n", p.Address)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "address of the peer to query (default 127.0.0.1:8001)")
	return cmd
}
