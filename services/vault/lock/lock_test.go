// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

type testKeys struct {
	mu  sync.Mutex
	key []byte
}

func (k *testKeys) Loaded() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key != nil
}

func (k *testKeys) EncryptionKey() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return bytes.Clone(k.key), nil
}

func (k *testKeys) set(key []byte) {
	k.mu.Lock()
	k.key = key
	k.mu.Unlock()
}

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func newTestGate(t *testing.T) (*Gate, *testKeys, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	path := filepath.Join(t.TempDir(), "store")
	keys := &testKeys{}
	m := engine.NewManager("locktest", path, keys, logger)
	t.Cleanup(func() { m.Close() })

	return NewGate(keys, []*engine.Manager{m}, logger), keys, path
}

// TestGate_PlaintextUnlocked verifies a keyless plaintext vault is
// usable and reports itself unencrypted.
func TestGate_PlaintextUnlocked(t *testing.T) {
	gate, _, _ := newTestGate(t)

	state, status := gate.Evaluate(context.Background())
	assert.Equal(t, UnlockedPlaintext, state)
	assert.False(t, status.Locked)
	assert.False(t, status.EncryptedAtRest)
	assert.False(t, status.KeyLoaded)
	assert.Empty(t, status.LockReason)
}

// TestGate_EncryptedWithKeyUnlocked verifies the happy encrypted path.
func TestGate_EncryptedWithKeyUnlocked(t *testing.T) {
	gate, keys, _ := newTestGate(t)
	keys.set(testKey(0xAA))

	state, status := gate.Evaluate(context.Background())
	assert.Equal(t, Unlocked, state)
	assert.False(t, status.Locked)
	assert.True(t, status.EncryptedAtRest)
	assert.True(t, status.KeyLoaded)
}

// TestGate_MissingKeyLocks verifies an encrypted store with the key
// gone reports locked_missing_key, and that clearing a key locks a
// previously unlocked gate on the very next evaluation.
func TestGate_MissingKeyLocks(t *testing.T) {
	gate, keys, _ := newTestGate(t)
	keys.set(testKey(0xAA))

	state, _ := gate.Evaluate(context.Background())
	require.Equal(t, Unlocked, state)

	keys.set(nil)
	state, status := gate.Evaluate(context.Background())
	assert.Equal(t, LockedMissingKey, state)
	assert.True(t, status.Locked)
	assert.True(t, status.EncryptedAtRest)
	assert.False(t, status.KeyLoaded)
	assert.Equal(t, "locked_missing_key", status.LockReason)
}

// TestGate_InvalidKeyLocks verifies the wrong key reports
// locked_invalid_key with key_loaded still true.
func TestGate_InvalidKeyLocks(t *testing.T) {
	gate, keys, _ := newTestGate(t)
	keys.set(testKey(0xAA))

	state, _ := gate.Evaluate(context.Background())
	require.Equal(t, Unlocked, state)

	keys.set(testKey(0xBB))
	state, status := gate.Evaluate(context.Background())
	assert.Equal(t, LockedInvalidKey, state)
	assert.True(t, status.Locked)
	assert.True(t, status.KeyLoaded)
	assert.Equal(t, "locked_invalid_key", status.LockReason)
}

// TestGate_RecoversAfterKeyRestored verifies the gate unlocks again
// once the right key returns, with no reset call needed.
func TestGate_RecoversAfterKeyRestored(t *testing.T) {
	gate, keys, _ := newTestGate(t)
	keys.set(testKey(0xAA))

	state, _ := gate.Evaluate(context.Background())
	require.Equal(t, Unlocked, state)

	keys.set(testKey(0xBB))
	state, _ = gate.Evaluate(context.Background())
	require.Equal(t, LockedInvalidKey, state)

	keys.set(testKey(0xAA))
	state, status := gate.Evaluate(context.Background())
	assert.Equal(t, Unlocked, state)
	assert.False(t, status.Locked)
}

// TestState_Locked pins down which states deny access.
func TestState_Locked(t *testing.T) {
	assert.False(t, UnlockedPlaintext.Locked())
	assert.False(t, Unlocked.Locked())
	assert.True(t, LockedMissingKey.Locked())
	assert.True(t, LockedInvalidKey.Locked())
	assert.True(t, LockedUnavailable.Locked())
}
