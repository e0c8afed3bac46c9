// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewaterhq/holdfast/services/vault/queue"
	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

// swappableProvider lets a test flip the encryption key mid-flight.
type swappableProvider struct {
	mu  sync.Mutex
	key []byte
}

func (p *swappableProvider) EncryptionKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.key), nil
}

func (p *swappableProvider) set(key []byte) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *swappableProvider, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dir := t.TempDir()
	provider := &swappableProvider{}
	manager := engine.NewManager("blobtest", filepath.Join(dir, "store"), provider, logger)
	t.Cleanup(func() { manager.Close() })

	writes := queue.New(logger)
	t.Cleanup(func() { writes.Close() })

	return NewStore(manager, writes, logger), provider, dir
}

// TestComputeHash verifies fingerprint determinism and format.
func TestComputeHash(t *testing.T) {
	id := ComputeHash([]byte("hello"))
	assert.Len(t, id, 64)
	assert.Equal(t, id, ComputeHash([]byte("hello")))
	assert.NotEqual(t, id, ComputeHash([]byte("hello!")))
}

// TestValidID pins down the accepted id shapes.
func TestValidID(t *testing.T) {
	assert.True(t, ValidID("blob-1"))
	assert.True(t, ValidID(ComputeHash(nil)))
	assert.True(t, ValidID("report_2026.pdf"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("has space"))
	assert.False(t, ValidID("path/separator"))
	assert.False(t, ValidID(strings.Repeat("a", 129)))
}

// TestStore_PutGetRoundTrip verifies contents come back identical.
func TestStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := []byte("attachment payload")
	require.NoError(t, s.Put(ctx, "blob-1", data))

	got, err := s.Get(ctx, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// TestStore_Overwrite verifies a repeated Put under the same id
// replaces the contents with no versioning.
func TestStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, "doc", []byte("first")))
	require.NoError(t, s.Put(ctx, "doc", []byte("second")))

	got, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

// TestStore_GetMissing verifies absent ids surface ErrNotFound.
func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	_, err := s.Get(ctx, "never-stored")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestStore_InvalidID verifies malformed ids are rejected before any
// store access.
func TestStore_InvalidID(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	assert.True(t, errors.Is(s.Put(ctx, "bad id", nil), ErrInvalidID))

	_, err := s.Get(ctx, "bad id")
	assert.True(t, errors.Is(err, ErrInvalidID))

	_, err = s.Has(ctx, "bad id")
	assert.True(t, errors.Is(err, ErrInvalidID))

	_, err = s.Delete(ctx, "bad id")
	assert.True(t, errors.Is(err, ErrInvalidID))
}

// TestStore_DeleteReportsRemoval verifies delete returns true only when
// a row was actually removed, and never errors for an absent id.
func TestStore_DeleteReportsRemoval(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	removed, err := s.Delete(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.Put(ctx, "ephemeral", []byte("bytes")))

	removed, err = s.Delete(ctx, "ephemeral")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.Get(ctx, "ephemeral")
	assert.True(t, errors.Is(err, ErrNotFound))

	removed, err = s.Delete(ctx, "ephemeral")
	require.NoError(t, err)
	assert.False(t, removed)
}

// TestStore_Has verifies existence probing.
func TestStore_Has(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	exists, err := s.Has(ctx, "blob-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Put(ctx, "blob-1", []byte("x")))
	exists, err = s.Has(ctx, "blob-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

// TestStore_SurvivesEncryptionMigration verifies the end-to-end upgrade
// scenario: 1 KB of random bytes stored with no key configured, then a
// 32-byte key introduced; the next store access migrates the store to
// encrypted at rest, the blob retrieves byte-identical, and a plaintext
// backup directory exists alongside the store.
func TestStore_SurvivesEncryptionMigration(t *testing.T) {
	ctx := context.Background()
	s, provider, dir := newTestStore(t)

	data := make([]byte, 1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "blob-1", data))

	got, err := s.Get(ctx, "blob-1")
	require.NoError(t, err)
	require.Equal(t, data, got)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	provider.set(key)

	got, err = s.Get(ctx, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "store.unencrypted.bak.") {
			found = true
		}
	}
	assert.True(t, found, "plaintext backup directory missing after migration")
}

// TestStore_ConcurrentPuts verifies parallel writers all land and all
// blobs are retrievable afterwards.
func TestStore_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("blob-%d", i)
			assert.NoError(t, s.Put(ctx, id, []byte{byte(i), 0xBE, 0xEF}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got, err := s.Get(ctx, fmt.Sprintf("blob-%d", i))
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), 0xBE, 0xEF}, got)
	}
}
