// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// KeyProvider supplies the encryption key currently in effect.
//
// Description:
//
//	Implementations return the active key bytes, or nil when data is
//	stored in plaintext. The Manager re-reads the key on every
//	acquisition rather than caching it, because the key can change
//	between requests (for example after a recovery-key unlock).
type KeyProvider interface {
	EncryptionKey() ([]byte, error)
}

// KeyProviderFunc adapts a function to the KeyProvider interface.
type KeyProviderFunc func() ([]byte, error)

// EncryptionKey implements KeyProvider.
func (f KeyProviderFunc) EncryptionKey() ([]byte, error) { return f() }

// session binds one open DB to the key it was opened with. A session
// is torn down and replaced, never mutated, when the key changes.
type session struct {
	db  *DB
	key []byte
}

// Manager owns the encryption session for one store directory.
//
// Description:
//
//	Manager implements the session algorithm: ask the KeyProvider for
//	the current key; reuse the open session if its bound key matches;
//	otherwise tear the session down and open a new one. An open
//	failure against a plaintext store with a key supplied triggers the
//	one-time migration before the open is retried. All other failures
//	are classified into the vault error taxonomy.
//
//	The mutex makes session swap and migration mutually exclusive:
//	two near-simultaneous first-writes with a new key serialize here,
//	and the loser of the race observes an already-encrypted store and
//	performs a plain open.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	name     string
	path     string
	provider KeyProvider
	logger   *slog.Logger

	mu      sync.Mutex
	session *session
	closed  bool
}

// NewManager creates a session manager for the store directory at path.
//
// Inputs:
//   - name: Store name for logs and metrics ("snapshot", "blob").
//   - path: Badger directory. The directory may not exist yet.
//   - provider: Source of the current encryption key. Must not be nil.
//   - logger: Optional; slog.Default() if nil.
func NewManager(name, path string, provider KeyProvider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:     name,
		path:     path,
		provider: provider,
		logger: logger.With(
			slog.String("component", "engine_session"),
			slog.String("store", name),
		),
	}
}

// Acquire returns a DB bound to the current encryption key.
//
// Description:
//
//	The returned DB is owned by the Manager and shared between
//	callers; do not Close it. It stays valid until the key changes or
//	the Manager is closed, so callers should re-Acquire per operation
//	rather than holding the handle.
//
// Outputs:
//   - *DB: Open engine for the current key.
//   - error: ErrMissingKey, ErrInvalidKey, ErrManagerClosed, or the
//     underlying engine error.
func (m *Manager) Acquire(ctx context.Context) (*DB, error) {
	key, err := m.provider.EncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("read encryption key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if m.session != nil {
		if bytes.Equal(m.session.key, key) {
			return m.session.db, nil
		}
		// Key changed: the session is replaced, never mutated.
		if err := m.session.db.Close(); err != nil {
			m.logger.Warn("close stale session", slog.String("error", err.Error()))
		}
		m.session = nil
		sessionReopensTotal.WithLabelValues(m.name).Inc()
	}

	db, err := m.openLocked(ctx, key)
	if err != nil {
		return nil, err
	}

	m.session = &session{db: db, key: append([]byte(nil), key...)}
	return db, nil
}

// openLocked opens the store for the given key, migrating a plaintext
// store first when necessary. Caller holds m.mu.
func (m *Manager) openLocked(ctx context.Context, key []byte) (*DB, error) {
	encrypted, err := m.encryptedAtRestLocked()
	if err != nil {
		return nil, err
	}
	keySupplied := len(key) > 0

	if encrypted && !keySupplied {
		// Don't let badger churn through the key registry just to tell
		// us what the manifest already knows.
		return nil, ErrMissingKey
	}

	if !encrypted && keySupplied && storeExists(m.path) {
		// The store exists but has never been migrated.
		if err := m.migrateLocked(ctx, key); err != nil {
			return nil, fmt.Errorf("migrate store to encrypted: %w", err)
		}
	}

	db, err := Open(Config{
		Path:          m.path,
		SyncWrites:    true,
		EncryptionKey: key,
		Logger:        m.logger,
	})
	if err != nil {
		return nil, classifyOpenError(err, keySupplied, encrypted)
	}

	// Record the at-rest state for stores created by this open.
	if err := writeManifest(m.path, keySupplied); err != nil {
		m.logger.Warn("write store manifest", slog.String("error", err.Error()))
	}

	m.logger.Info("session opened",
		slog.Bool("encrypted", keySupplied),
	)
	return db, nil
}

// EncryptedAtRest reports whether the store directory is encrypted.
func (m *Manager) EncryptedAtRest() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encryptedAtRestLocked()
}

func (m *Manager) encryptedAtRestLocked() (bool, error) {
	manifest, err := readManifest(m.path)
	if err != nil {
		return false, err
	}
	// No manifest means either a fresh store or a pre-manifest
	// plaintext store; both are unencrypted at rest.
	return manifest != nil && manifest.EncryptedAtRest, nil
}

// Path returns the store directory.
func (m *Manager) Path() string {
	return m.path
}

// Close tears down the open session, if any. Safe to call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.session != nil {
		err := m.session.db.Close()
		m.session = nil
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
	}
	return nil
}

// storeExists reports whether the store directory holds any engine
// files. An absent or empty directory is a fresh store with nothing to
// migrate.
func storeExists(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}
