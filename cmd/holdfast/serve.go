// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tidewaterhq/holdfast/services/vault/blob"
	"github.com/tidewaterhq/holdfast/services/vault/handlers"
	"github.com/tidewaterhq/holdfast/services/vault/keys"
	"github.com/tidewaterhq/holdfast/services/vault/lock"
	"github.com/tidewaterhq/holdfast/services/vault/queue"
	"github.com/tidewaterhq/holdfast/services/vault/routes"
	"github.com/tidewaterhq/holdfast/services/vault/snapshot"
	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), config, logger)
	},
}

func runServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	keys.CheckLockedMemory(logger)
	keyring := keys.NewKeyring(logger)
	if cfg.KeyFile != "" {
		provider := keys.NewFileProvider(cfg.KeyFile, keyring, logger)
		if err := provider.Start(ctx); err != nil {
			return fmt.Errorf("start key file provider: %w", err)
		}
	}

	manager := engine.NewManager("vault", filepath.Join(cfg.DataDir, "vault.db"), keyring, logger)
	defer manager.Close()

	writes := queue.New(logger)
	defer writes.Close()

	var snapStore snapshot.Store = snapshot.NewEngineStore(
		manager, writes, cfg.LegacySnapshotPath, logger)
	if cfg.MirrorSnapshotPath != "" {
		mirror := snapshot.NewFileStore(cfg.MirrorSnapshotPath, logger)
		snapStore = snapshot.NewMirrorStore(snapStore, mirror, logger)
	}
	blobStore := blob.NewStore(manager, writes, logger)

	gate := lock.NewGate(keyring, []*engine.Manager{manager}, logger)

	router := routes.New(routes.Deps{
		Security:    handlers.NewSecurityHandler(keyring, gate, logger),
		Records:     handlers.NewRecordsHandler(snapStore, logger),
		Attachments: handlers.NewAttachmentsHandler(blobStore, logger),
		Gate:        gate,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("vault service listening",
			slog.Int("port", cfg.Port),
			slog.String("data_dir", cfg.DataDir),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
