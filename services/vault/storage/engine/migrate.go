// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// migrateLocked converts a plaintext store directory into an encrypted
// one without data loss. Caller holds m.mu and has no session open.
//
// Description:
//
//	The routine reads every row out of the plaintext store, rebuilds a
//	brand-new encrypted store at a temporary path, and only then swaps
//	directories: the original is renamed to a timestamped backup, and
//	the encrypted directory is renamed into its place. The rename swap
//	is the single moment of truth; any failure before it leaves the
//	original untouched and usable, so migration can simply be retried.
//
//	Transient artifacts:
//	  <path>.enc.tmp.<ts>         the encrypted store being built
//	  <path>.unencrypted.bak.<ts> the plaintext original, kept after success
func (m *Manager) migrateLocked(ctx context.Context, key []byte) error {
	start := time.Now()
	opID := uuid.NewString()

	ctx, span := engineTracer.Start(ctx, "engine.Manager.Migrate",
		trace.WithAttributes(
			attribute.String("store", m.name),
			attribute.String("migration_id", opID),
		),
	)
	defer span.End()

	logger := m.logger.With(
		slog.String("operation", "migrate_to_encrypted"),
		slog.String("migration_id", opID),
	)
	logger.Info("starting plaintext-to-encrypted migration")

	fail := func(stage string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		migrationsTotal.WithLabelValues(m.name, "error").Inc()
		migrationDurationHistogram.WithLabelValues(m.name, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%s: %w", stage, err)
	}

	// Read every row out of the plaintext store in a throwaway session.
	rows, err := readAllRows(ctx, m.path, m.logger)
	if err != nil {
		return fail("read plaintext store", err)
	}

	ts := time.Now().UnixMilli()
	tmpPath := fmt.Sprintf("%s.enc.tmp.%d", m.path, ts)

	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			os.RemoveAll(tmpPath)
		}
	}()

	if err := buildEncryptedStore(ctx, tmpPath, key, rows, m.logger); err != nil {
		return fail("build encrypted store", err)
	}

	// The swap. Backup first, then install; if the install rename fails
	// the backup is moved back so the store never disappears.
	backupPath := fmt.Sprintf("%s.unencrypted.bak.%d", m.path, ts)
	if err := os.Rename(m.path, backupPath); err != nil {
		return fail("rename original to backup", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		if restoreErr := os.Rename(backupPath, m.path); restoreErr != nil {
			logger.Error("restore original store after failed install",
				slog.String("backup_path", backupPath),
				slog.String("error", restoreErr.Error()),
			)
		}
		return fail("install encrypted store", err)
	}
	cleanupTmp = false

	if err := writeManifest(m.path, true); err != nil {
		// The data swap already succeeded; a stale manifest only costs
		// one extra classification round on the next open.
		logger.Warn("write manifest after migration", slog.String("error", err.Error()))
	}

	duration := time.Since(start)
	migrationsTotal.WithLabelValues(m.name, "success").Inc()
	migrationDurationHistogram.WithLabelValues(m.name, "success").Observe(duration.Seconds())
	span.SetAttributes(
		attribute.Int("rows_migrated", len(rows)),
	)

	logger.Info("migration completed",
		slog.Int("rows_migrated", len(rows)),
		slog.Duration("duration", duration),
		slog.String("backup_path", backupPath),
	)
	return nil
}

type row struct {
	key   []byte
	value []byte
}

// readAllRows opens the store in plaintext and copies every row into
// memory. Stores the size of a personal vault fit comfortably; a
// streaming rebuild is not worth the crash-consistency complexity.
func readAllRows(ctx context.Context, path string, logger *slog.Logger) ([]row, error) {
	src, err := Open(Config{Path: path, SyncWrites: false, Logger: logger})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var rows []row
	err = src.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value for %q: %w", item.Key(), err)
			}
			rows = append(rows, row{key: item.KeyCopy(nil), value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// buildEncryptedStore creates a fresh encrypted store at path and
// inserts every row, syncing before close.
func buildEncryptedStore(ctx context.Context, path string, key []byte, rows []row, logger *slog.Logger) error {
	dst, err := Open(Config{
		Path:          path,
		SyncWrites:    true,
		EncryptionKey: key,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	wb := dst.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range rows {
		if err := wb.Set(r.key, r.value); err != nil {
			return fmt.Errorf("write row %q: %w", r.key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}

	return dst.Sync()
}
