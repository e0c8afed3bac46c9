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
	"path/filepath"
	"sync"
)

// FileStore persists the snapshot as a single JSON document on disk.
// This is the plaintext adapter; it retains the on-disk format older
// deployments used before the encrypted engine existed, which is also
// what the engine adapter imports during legacy adoption.
type FileStore struct {
	path   string
	logger *slog.Logger

	// Serializes writers so two Saves cannot interleave their
	// temp-file renames.
	mu sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path: path,
		logger: logger.With(
			slog.String("component", "snapshot_file_store"),
			slog.String("path", path),
		),
	}
}

// Load reads the snapshot file. A missing file yields an empty
// snapshot. A file that is not a JSON object at all is an error; a
// collection inside it that fails to parse is skipped with a warning
// so one damaged entry cannot take the rest of the data with it.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot file: %w", err)
	}

	snap := make(Snapshot, len(doc))
	for name, body := range doc {
		var coll Collection
		if err := json.Unmarshal(body, &coll); err != nil {
			s.logger.Warn("Skipping corrupt collection in snapshot file",
				slog.String("collection", name),
				slog.String("error", err.Error()))
			corruptCollectionsTotal.WithLabelValues("file").Inc()
			continue
		}
		if coll == nil {
			coll = Collection{}
		}
		snap[name] = coll
	}
	return snap, nil
}

// Save writes the snapshot atomically: marshal to a temp file in the
// same directory, fsync, then rename over the target.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	return nil
}
