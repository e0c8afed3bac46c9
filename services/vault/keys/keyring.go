// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package keys holds the vault encryption key in guarded memory and
// hands it to the storage engine on demand.
//
// Key material never lives in a plain Go byte slice longer than the
// moment of use: at rest inside the process it is sealed in a memguard
// enclave, which keeps it encrypted in memory and out of swap. The
// keyring is deliberately ignorant of whether a key is correct; the
// engine discovers that when it opens the store.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBadKeyFormat indicates key material that is not 32, 48, or 64
	// hexadecimal characters.
	ErrBadKeyFormat = errors.New("key must be 32, 48, or 64 hex characters")

	// ErrNoKey indicates an operation that needs a loaded key found none.
	ErrNoKey = errors.New("no encryption key loaded")
)

// DecodeKey parses hex-encoded key material into raw AES key bytes.
//
// Inputs:
//   - material: 32, 48, or 64 hex characters (AES-128/192/256).
//
// Outputs:
//   - The decoded 16, 24, or 32 byte key, or ErrBadKeyFormat.
func DecodeKey(material string) ([]byte, error) {
	switch len(material) {
	case 32, 48, 64:
	default:
		return nil, fmt.Errorf("%w: got %d characters", ErrBadKeyFormat, len(material))
	}
	key, err := hex.DecodeString(material)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrBadKeyFormat)
	}
	return key, nil
}

// -----------------------------------------------------------------------------
// Keyring
// -----------------------------------------------------------------------------

// Keyring is the process-wide holder of the vault encryption key.
//
// Thread Safety: all methods are safe for concurrent use.
type Keyring struct {
	logger *slog.Logger

	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewKeyring returns an empty keyring.
func NewKeyring(logger *slog.Logger) *Keyring {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyring{
		logger: logger.With(slog.String("component", "keyring")),
	}
}

// Load decodes hex key material and seals it into guarded memory,
// replacing any previously loaded key. The decoded plaintext copy is
// wiped before Load returns.
func (k *Keyring) Load(material string) error {
	raw, err := DecodeKey(material)
	if err != nil {
		return err
	}

	// NewEnclave wipes raw for us.
	enclave := memguard.NewEnclave(raw)

	k.mu.Lock()
	k.enclave = enclave
	k.mu.Unlock()

	k.logger.Info("encryption key loaded", slog.Int("key_bytes", len(raw)))
	return nil
}

// Clear drops the loaded key. Subsequent EncryptionKey calls return nil
// until a new key is loaded.
func (k *Keyring) Clear() {
	k.mu.Lock()
	had := k.enclave != nil
	k.enclave = nil
	k.mu.Unlock()

	if had {
		k.logger.Info("encryption key cleared")
	}
}

// Loaded reports whether a key is currently held.
func (k *Keyring) Loaded() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.enclave != nil
}

// EncryptionKey satisfies the storage engine's KeyProvider. It returns
// a fresh copy of the key bytes, or (nil, nil) when no key is loaded.
// Callers own the returned slice; the guarded original stays sealed.
func (k *Keyring) EncryptionKey() ([]byte, error) {
	k.mu.RLock()
	enclave := k.enclave
	k.mu.RUnlock()

	if enclave == nil {
		return nil, nil
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	key := make([]byte, buf.Size())
	copy(key, buf.Bytes())
	return key, nil
}
