// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manifest records a store's at-rest encryption state.
//
// Description:
//
//	Stored as a sibling of the store directory ("<path>.manifest.json")
//	so it survives the migration directory swap and can be read without
//	opening the engine. Timestamps are Unix milliseconds UTC.
//
// Thread Safety: Immutable after creation; access is guarded by the
// owning Manager's mutex.
type Manifest struct {
	// EncryptedAtRest reports whether the store directory is encrypted.
	EncryptedAtRest bool `json:"encrypted_at_rest"`

	// CreatedAt is when the manifest was first written.
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is when the manifest last changed.
	UpdatedAt int64 `json:"updated_at"`
}

// manifestPath returns the manifest location for a store directory.
func manifestPath(storePath string) string {
	return storePath + ".manifest.json"
}

// readManifest loads the manifest for a store directory.
//
// Outputs:
//   - *Manifest: nil if no manifest exists (pre-manifest plaintext
//     store, or a store that has never been created).
//   - error: Non-nil on read or parse failure.
func readManifest(storePath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath(storePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// writeManifest persists the at-rest state atomically (temp file then
// rename), preserving CreatedAt across updates.
func writeManifest(storePath string, encryptedAtRest bool) error {
	now := time.Now().UnixMilli()
	m := Manifest{EncryptedAtRest: encryptedAtRest, CreatedAt: now, UpdatedAt: now}
	if prev, err := readManifest(storePath); err == nil && prev != nil {
		m.CreatedAt = prev.CreatedAt
	}

	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	path := manifestPath(storePath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
