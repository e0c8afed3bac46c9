// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidewaterhq/holdfast/services/vault/queue"
	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

// collectionPrefix namespaces snapshot rows inside the shared store so
// they never collide with other row families.
const collectionPrefix = "snap/"

// EngineStore persists each collection as one row in the encrypted
// storage engine. Saves replace the full row family in a single
// transaction, funneled through the write queue so concurrent callers
// never interleave.
//
// The store also performs one-time adoption: if the engine holds no
// snapshot rows but a legacy plaintext snapshot file exists, its
// contents are imported on first Load. Adoption is attempted at most
// once per process; a failed attempt logs and falls through to the
// empty snapshot rather than blocking reads.
type EngineStore struct {
	manager *engine.Manager
	writes  *queue.Queue
	logger  *slog.Logger

	// legacyPath is the plaintext snapshot file to adopt from, empty
	// to disable adoption.
	legacyPath string

	adoptMu   sync.Mutex
	adoptDone bool
}

// NewEngineStore returns a store backed by manager, serializing writes
// through writes. legacyPath may be empty.
func NewEngineStore(manager *engine.Manager, writes *queue.Queue, legacyPath string, logger *slog.Logger) *EngineStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineStore{
		manager:    manager,
		writes:     writes,
		legacyPath: legacyPath,
		logger:     logger.With(slog.String("component", "snapshot_engine_store")),
	}
}

// Load reads every collection row. A collection whose stored JSON does
// not parse is skipped with a warning so one corrupt row cannot take
// the whole vault down.
func (s *EngineStore) Load(ctx context.Context) (Snapshot, error) {
	ctx, span := snapshotTracer.Start(ctx, "snapshot.EngineStore.Load")
	defer span.End()

	s.adoptLegacy(ctx)

	db, err := s.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	snap := Snapshot{}
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(collectionPrefix):])
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read collection %q: %w", name, err)
			}

			var coll Collection
			if err := json.Unmarshal(raw, &coll); err != nil {
				corruptCollectionsTotal.WithLabelValues("engine").Inc()
				s.logger.Warn("skipping corrupt collection",
					slog.String("collection", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			snap[name] = coll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("collections", len(snap)))
	return snap, nil
}

// Save replaces the entire snapshot row family in one transaction,
// serialized through the write queue.
func (s *EngineStore) Save(ctx context.Context, snap Snapshot) error {
	ctx, span := snapshotTracer.Start(ctx, "snapshot.EngineStore.Save")
	defer span.End()

	start := time.Now()
	err := s.writes.Do(ctx, func() error {
		return s.saveLocked(ctx, snap)
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	saveDurationHistogram.WithLabelValues("engine", status).Observe(time.Since(start).Seconds())
	return err
}

func (s *EngineStore) saveLocked(ctx context.Context, snap Snapshot) error {
	db, err := s.manager.Acquire(ctx)
	if err != nil {
		return err
	}

	return db.WithTxn(ctx, func(txn *badger.Txn) error {
		// Drop collections that no longer exist before writing the
		// survivors, all inside the one transaction.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().Key()[len(collectionPrefix):])
			if _, ok := snap[name]; !ok {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete collection %q: %w", key, err)
			}
		}

		for name, coll := range snap {
			raw, err := json.Marshal(coll)
			if err != nil {
				return fmt.Errorf("marshal collection %q: %w", name, err)
			}
			if err := txn.Set([]byte(collectionPrefix+name), raw); err != nil {
				return fmt.Errorf("write collection %q: %w", name, err)
			}
		}
		return nil
	})
}

// adoptLegacy imports a plaintext snapshot file into an empty engine
// store, then renames the file aside so adoption never repeats across
// restarts. The done flag is set only on a definitive outcome; a
// locked or unavailable store leaves adoption pending for a later
// load.
func (s *EngineStore) adoptLegacy(ctx context.Context) {
	s.adoptMu.Lock()
	defer s.adoptMu.Unlock()

	if s.adoptDone || s.legacyPath == "" {
		return
	}
	if _, err := os.Stat(s.legacyPath); os.IsNotExist(err) {
		s.adoptDone = true
		return
	}

	empty, err := s.engineEmpty(ctx)
	if err != nil {
		s.logger.Warn("legacy adoption: inspect engine store", slog.String("error", err.Error()))
		return
	}
	if !empty {
		s.adoptDone = true
		s.logger.Info("legacy snapshot file present but engine store has data, skipping adoption",
			slog.String("legacy_path", s.legacyPath))
		return
	}

	legacy := NewFileStore(s.legacyPath, s.logger)
	snap, err := legacy.Load(ctx)
	if err != nil {
		s.logger.Warn("legacy adoption: read snapshot file", slog.String("error", err.Error()))
		return
	}

	// The import goes through the write queue like every other
	// persist so it cannot interleave with a concurrent Save.
	err = s.writes.Do(ctx, func() error {
		return s.saveLocked(ctx, snap)
	})
	if err != nil {
		s.logger.Warn("legacy adoption: import into engine", slog.String("error", err.Error()))
		return
	}

	imported := s.legacyPath + ".imported"
	if err := os.Rename(s.legacyPath, imported); err != nil {
		s.logger.Warn("legacy adoption: archive snapshot file", slog.String("error", err.Error()))
	}

	s.adoptDone = true
	s.logger.Info("adopted legacy snapshot file",
		slog.String("legacy_path", s.legacyPath),
		slog.Int("collections", len(snap)),
	)
}

func (s *EngineStore) engineEmpty(ctx context.Context) (bool, error) {
	db, err := s.manager.Acquire(ctx)
	if err != nil {
		return false, err
	}

	empty := true
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty, err
}
