// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine wraps BadgerDB as the vault's storage engine.
//
// Badger is an embedded, transactional key-value engine with native
// support for encrypting the whole store under a caller-supplied key,
// which is exactly the contract the vault needs. One badger directory
// backs one store; the snapshot store and the blob store each own an
// independent directory and an independent encryption session.
//
// The package has three layers:
//
//   - Open/DB: a thin factory over badger.Options with transaction
//     helpers and an slog adapter for badger's internal logging.
//   - Manager: the encryption session manager. It binds one open DB to
//     the key that was current when the DB was opened, reopens when the
//     key changes, classifies open failures into the vault's error
//     taxonomy, and runs the one-time plaintext-to-encrypted migration.
//   - Manifest: a small sibling JSON file recording whether the store
//     is encrypted at rest, so lock-state evaluation never has to
//     parse engine error strings.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// encryptedIndexCacheSize is the index cache badger requires whenever a
// data key is set. 64 MB is generous for stores in the single-digit GB
// range.
const encryptedIndexCacheSize = 64 << 20

// keyRotationInterval is how often badger rotates its internal data
// keys when encryption is enabled.
const keyRotationInterval = 10 * 24 * time.Hour

// Config holds configuration for one engine instance.
type Config struct {
	// Path is the badger directory. Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (tests only).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// EncryptionKey encrypts the store at rest. Must be 16, 24 or 32
	// bytes. Nil opens the store in plaintext.
	EncryptionKey []byte

	// Logger receives badger's internal logging. If nil, badger's
	// logging is disabled.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a badger instance with transaction helpers.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB
	path string
}

// Open creates and opens an engine instance.
//
// Description:
//
//	Opens badger at the configured path, creating the directory if it
//	does not exist. When EncryptionKey is set the store is encrypted
//	at rest; badger then requires a non-zero index cache.
//
// Outputs:
//   - *DB: The opened engine. Caller must Close() it.
//   - error: The raw badger error; callers that need the vault error
//     taxonomy go through Manager instead.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if len(cfg.EncryptionKey) > 0 {
		opts = opts.WithEncryptionKey(cfg.EncryptionKey)
		opts = opts.WithEncryptionKeyRotationDuration(keyRotationInterval)
		opts = opts.WithIndexCacheSize(encryptedIndexCacheSize)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store engine: %w", err)
	}

	return &DB{DB: db, path: cfg.Path}, nil
}

// Path returns the store directory, or empty string for in-memory stores.
func (d *DB) Path() string {
	return d.path
}

// WithTxn executes fn in a read-write transaction, committing on nil
// and discarding on error.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn executes fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}
