package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/distfs/rfspeer/internal/config"
	"github.com/distfs/rfspeer/internal/listener"
	"github.com/distfs/rfspeer/internal/liveness"
	"github.com/distfs/rfspeer/internal/manifest"
	"github.com/distfs/rfspeer/internal/scheduler"
	"github.com/distfs/rfspeer/internal/session"
	"github.com/distfs/rfspeer/internal/state"
	"github.com/distfs/rfspeer/internal/store"
)

func newServeCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived peer daemon: accept loop, liveness loop and on-demand downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger(cmd)
			cfg := loadConfig(cmd)
			if address != "" {
				cfg.Address = address
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "host:port to listen on (default 127.0.0.1:8001)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	st := store.New(cfg.FilesDir(), cfg.FilePartsDir(), log)
	manifests, err := manifest.LoadAll(cfg.MetafilesDir())
	if err != nil {
		return err
	}
	for _, m := range manifests {
		status, err := manifest.RefreshStatus(m, cfg.FilesDir(), manifest.NotDownloaded)
		if err != nil {
			log.Warn("failed to refresh status for manifest", "file_id", m.ID, "error", err)
			status = manifest.NotDownloaded
		}
		if err := st.AddFile(m, status); err != nil {
			log.Warn("failed to load manifest", "file_id", m.ID, "error", err)
		}
	}

	shared := state.New(st)
	for _, m := range manifests {
		for _, addr := range m.Peers {
			if addr != cfg.Address {
				shared.AddKnownPeer(addr)
			}
		}
	}

	sessionOpts := session.Options{
		MaxFrameSize: cfg.MaxFrameSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	sched := scheduler.New(shared, cfg.DialTimeout, sessionOpts, cfg.Address, nil, log)
	downloader := func(ctx context.Context, fileID string) {
		if err := sched.Download(ctx, fileID); err != nil {
			log.Error("download failed", "file_id", fileID, "error", err)
		}
	}

	lv := liveness.New(shared, cfg.SyncDelay, cfg.DialTimeout, sessionOpts, log)
	ln := listener.New(cfg.Address, shared, sessionOpts, downloader, log)

	log.Info("starting peer daemon", "address", cfg.Address, "rfs_dir", cfg.RFSDir, "files", len(manifests))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lv.Run(gctx) })
	g.Go(func() error { return ln.Run(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}
