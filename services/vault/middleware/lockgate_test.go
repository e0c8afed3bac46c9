// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewaterhq/holdfast/services/vault/lock"
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

func newTestRouter(t *testing.T) (*gin.Engine, *testKeys) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	keys := &testKeys{}
	m := engine.NewManager("mwtest", filepath.Join(t.TempDir(), "store"), keys, logger)
	t.Cleanup(func() { m.Close() })
	gate := lock.NewGate(keys, []*engine.Manager{m}, logger)

	r := gin.New()
	r.Use(RequireUnlocked(gate, logger))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/health", ok)
	r.GET("/v1/security/status", ok)
	r.POST("/v1/security/unlock", ok)
	r.GET("/v1/records/contacts", ok)
	return r, keys
}

// TestRequireUnlocked_PassesWhenPlaintext verifies a keyless plaintext
// vault serves data routes normally.
func TestRequireUnlocked_PassesWhenPlaintext(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records/contacts", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestRequireUnlocked_RefusesDataRoutesWhileLocked verifies a locked
// vault answers 423 with the DB_LOCKED code and a status payload.
func TestRequireUnlocked_RefusesDataRoutesWhileLocked(t *testing.T) {
	r, keys := newTestRouter(t)

	// First request with a key encrypts the store; dropping the key
	// afterwards locks it.
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0xAA
	}
	keys.set(key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records/contacts", nil))
	require.Equal(t, http.StatusOK, w.Code)

	keys.set(nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records/contacts", nil))
	require.Equal(t, http.StatusLocked, w.Code)

	var resp LockedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeDBLocked, resp.Code)
	assert.True(t, resp.Status.Locked)
	assert.True(t, resp.Status.EncryptedAtRest)
	assert.False(t, resp.Status.KeyLoaded)
}

// TestRequireUnlocked_AllowListWorksWhileLocked verifies health and
// security routes stay reachable on a locked vault.
func TestRequireUnlocked_AllowListWorksWhileLocked(t *testing.T) {
	r, keys := newTestRouter(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = 0xAA
	}
	keys.set(key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records/contacts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	keys.set(nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodGet, "/v1/security/status", nil),
		httptest.NewRequest(http.MethodPost, "/v1/security/unlock", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "path %s should bypass the gate", req.URL.Path)
	}
}
