// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot persists whole-state snapshots of the vault's record
// collections.
//
// A snapshot is schema-erased: collections map record ids to raw JSON,
// and this package never interprets record contents. Callers own the
// schema; persistence owns durability. Adapters share one contract
// (Store) so the service can swap between in-memory, plain-file, and
// encrypted-engine persistence, or mirror across two of them.
package snapshot

import (
	"context"
	"encoding/json"
)

// Collection maps record ids to their raw JSON documents.
type Collection map[string]json.RawMessage

// Snapshot maps collection names to their contents. The zero value of a
// missing collection is an absent map, not an empty one.
type Snapshot map[string]Collection

// Store is the persistence contract shared by every snapshot adapter.
//
// Thread Safety: implementations are safe for concurrent use; Save
// calls are applied atomically with respect to Load.
type Store interface {
	// Load returns the most recently saved snapshot, or an empty
	// snapshot when nothing has been saved yet.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the persisted state with snap in its entirety.
	Save(ctx context.Context, snap Snapshot) error
}

// Clone returns a deep copy. Raw JSON values are copied byte-for-byte
// so the clone shares no memory with the original.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for name, coll := range s {
		c := make(Collection, len(coll))
		for id, doc := range coll {
			c[id] = append(json.RawMessage(nil), doc...)
		}
		out[name] = c
	}
	return out
}
