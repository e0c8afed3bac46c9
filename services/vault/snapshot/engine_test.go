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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewaterhq/holdfast/services/vault/queue"
	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

func newTestEngineStore(t *testing.T, legacyPath string) (*EngineStore, *engine.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	manager := engine.NewManager("snaptest", filepath.Join(t.TempDir(), "store"),
		engine.KeyProviderFunc(func() ([]byte, error) { return nil, nil }), logger)
	t.Cleanup(func() { manager.Close() })

	writes := queue.New(logger)
	t.Cleanup(func() { writes.Close() })

	return NewEngineStore(manager, writes, legacyPath, logger), manager
}

// TestEngineStore_RoundTrip verifies collections survive a save/load
// cycle through the engine.
func TestEngineStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestEngineStore(t, "")

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
}

// TestEngineStore_SaveReplacesWholeSnapshot verifies collections absent
// from a later save are removed, not merged.
func TestEngineStore_SaveReplacesWholeSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestEngineStore(t, "")

	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	smaller := Snapshot{
		"contacts": Collection{"c9": json.RawMessage(`{"name":"Edsger"}`)},
	}
	require.NoError(t, s.Save(ctx, smaller))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, smaller, got)
	assert.NotContains(t, got, "notes")
}

// TestEngineStore_SkipsCorruptCollection verifies one unparseable row
// is dropped with the rest of the snapshot intact.
func TestEngineStore_SkipsCorruptCollection(t *testing.T) {
	ctx := context.Background()
	s, manager := newTestEngineStore(t, "")

	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	// Damage one collection row behind the store's back.
	db, err := manager.Acquire(ctx)
	require.NoError(t, err)
	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("snap/notes"), []byte("{not json"))
	})
	require.NoError(t, err)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, "contacts")
	assert.NotContains(t, got, "notes")
}

// TestEngineStore_AdoptsLegacyFile verifies a plaintext snapshot file
// is imported into an empty engine store on first load and archived so
// adoption never repeats.
func TestEngineStore_AdoptsLegacyFile(t *testing.T) {
	ctx := context.Background()
	legacyPath := filepath.Join(t.TempDir(), "snapshot.json")

	legacy := NewFileStore(legacyPath, nil)
	require.NoError(t, legacy.Save(ctx, sampleSnapshot()))

	s, _ := newTestEngineStore(t, legacyPath)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)

	_, err = os.Stat(legacyPath)
	assert.True(t, os.IsNotExist(err), "legacy file should be archived after adoption")
	_, err = os.Stat(legacyPath + ".imported")
	assert.NoError(t, err)
}

// TestEngineStore_AdoptionSkippedWhenEngineHasData verifies an existing
// engine snapshot wins over a stale legacy file.
func TestEngineStore_AdoptionSkippedWhenEngineHasData(t *testing.T) {
	ctx := context.Background()
	legacyPath := filepath.Join(t.TempDir(), "snapshot.json")

	stale := Snapshot{"old": Collection{"x": json.RawMessage(`{}`)}}
	require.NoError(t, NewFileStore(legacyPath, nil).Save(ctx, stale))

	s, _ := newTestEngineStore(t, legacyPath)

	// Engine data written before the first Load.
	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)

	// The stale file stays put for the operator to inspect.
	_, err = os.Stat(legacyPath)
	assert.NoError(t, err)
}

// TestEngineStore_ConcurrentSaves verifies parallel saves serialize
// cleanly: the persisted state must be exactly one of the written
// snapshots, never a blend of two.
func TestEngineStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestEngineStore(t, "")

	const writers = 8
	written := make([]Snapshot, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap := Snapshot{
				"counters": Collection{
					"value": json.RawMessage(`{"n":` + string(rune('0'+n)) + `}`),
				},
			}
			written[n] = snap
			assert.NoError(t, s.Save(ctx, snap))
		}(i)
	}
	wg.Wait()

	got, err := s.Load(ctx)
	require.NoError(t, err)

	matched := false
	for _, snap := range written {
		if assert.ObjectsAreEqual(snap, got) {
			matched = true
			break
		}
	}
	assert.True(t, matched, "loaded snapshot must equal one of the written snapshots, got %v", got)
}

// TestEngineStore_AdoptionSerializedWithSaves verifies the legacy
// import goes through the same write queue as regular saves, so the
// persisted state is always one whole snapshot from a single writer.
func TestEngineStore_AdoptionSerializedWithSaves(t *testing.T) {
	ctx := context.Background()
	legacyPath := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, NewFileStore(legacyPath, nil).Save(ctx, sampleSnapshot()))

	s, _ := newTestEngineStore(t, legacyPath)

	const writers = 4
	candidates := []Snapshot{sampleSnapshot()}
	written := make([]Snapshot, writers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// First Load runs the adoption import.
		_, err := s.Load(ctx)
		assert.NoError(t, err)
	}()
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap := Snapshot{
				"counters": Collection{
					"value": json.RawMessage(`{"n":` + string(rune('0'+n)) + `}`),
				},
			}
			written[n] = snap
			assert.NoError(t, s.Save(ctx, snap))
		}(i)
	}
	wg.Wait()
	candidates = append(candidates, written...)

	got, err := s.Load(ctx)
	require.NoError(t, err)

	matched := false
	for _, snap := range candidates {
		if assert.ObjectsAreEqual(snap, got) {
			matched = true
			break
		}
	}
	assert.True(t, matched, "loaded snapshot must equal one writer's snapshot, got %v", got)
}
