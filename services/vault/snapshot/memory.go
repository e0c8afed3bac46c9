// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in process memory. Used for tests and
// for ephemeral vaults that should leave nothing on disk.
type MemoryStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: Snapshot{}}
}

// Load returns a deep copy of the held snapshot.
func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), nil
}

// Save replaces the held snapshot with a deep copy of snap.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	clone := snap.Clone()
	if clone == nil {
		clone = Snapshot{}
	}
	s.mu.Lock()
	s.snap = clone
	s.mu.Unlock()
	return nil
}
