// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrMissingKey indicates the store is encrypted at rest and no
	// encryption key is currently available. Recoverable: a valid
	// recovery key unlocks the store without a restart.
	ErrMissingKey = errors.New("store is encrypted and no encryption key is loaded")

	// ErrInvalidKey indicates the store is encrypted at rest and the
	// supplied key does not decrypt it.
	ErrInvalidKey = errors.New("store is encrypted and the supplied key is invalid")

	// ErrStoreNotEncrypted indicates a key was supplied for a store
	// that is still plaintext on disk. This is the migration trigger:
	// the store exists but predates encryption.
	ErrStoreNotEncrypted = errors.New("encryption key supplied but store is not encrypted")

	// ErrManagerClosed is returned by Manager operations after Close.
	ErrManagerClosed = errors.New("session manager is closed")
)

// classifyOpenError maps an engine open failure onto the vault's error
// taxonomy.
//
// Description:
//
//	Badger reports every key disagreement as ErrEncryptionKeyMismatch,
//	whether the store is plaintext, the key is wrong, or the key is
//	absent. Combining that structured sentinel with the manifest's
//	at-rest flag disambiguates the three cases without any error
//	string matching. All other errors pass through unchanged.
func classifyOpenError(err error, keySupplied, encryptedAtRest bool) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrEncryptionKeyMismatch) {
		return err
	}
	switch {
	case keySupplied && !encryptedAtRest:
		return fmt.Errorf("%w: %s", ErrStoreNotEncrypted, err)
	case !keySupplied:
		return fmt.Errorf("%w: %s", ErrMissingKey, err)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
}
