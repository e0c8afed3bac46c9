// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock decides whether the vault is usable right now.
//
// Lock state is never cached: it is a pure function of what is on disk
// (encrypted at rest or not) and what the keyring holds (no key, the
// right key, the wrong key), recomputed on every evaluation. That keeps
// the gate honest across key file edits, unlock calls, and migrations
// without any invalidation plumbing.
package lock

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

// -----------------------------------------------------------------------------
// States
// -----------------------------------------------------------------------------

// State is the vault's access condition.
type State int

const (
	// UnlockedPlaintext: no encryption configured, the store opens freely.
	UnlockedPlaintext State = iota
	// Unlocked: encrypted at rest and the loaded key opens it.
	Unlocked
	// LockedMissingKey: encrypted at rest with no key loaded.
	LockedMissingKey
	// LockedInvalidKey: encrypted at rest and the loaded key is wrong.
	LockedInvalidKey
	// LockedUnavailable: the store could not be opened for reasons
	// unrelated to encryption.
	LockedUnavailable
)

func (s State) String() string {
	switch s {
	case UnlockedPlaintext:
		return "unlocked_plaintext"
	case Unlocked:
		return "unlocked"
	case LockedMissingKey:
		return "locked_missing_key"
	case LockedInvalidKey:
		return "locked_invalid_key"
	case LockedUnavailable:
		return "locked_unavailable"
	default:
		return "unknown"
	}
}

// Locked reports whether the state denies data access.
func (s State) Locked() bool {
	switch s {
	case LockedMissingKey, LockedInvalidKey, LockedUnavailable:
		return true
	}
	return false
}

// Status is the wire-friendly lock report served to clients.
type Status struct {
	Locked          bool   `json:"locked"`
	EncryptedAtRest bool   `json:"encrypted_at_rest"`
	KeyLoaded       bool   `json:"key_loaded"`
	LockReason      string `json:"lock_reason,omitempty"`
}

// -----------------------------------------------------------------------------
// Gate
// -----------------------------------------------------------------------------

// KeySource reports whether key material is currently held. Satisfied
// by the keyring.
type KeySource interface {
	Loaded() bool
}

// Gate evaluates lock state over a set of session managers. A vault
// with multiple stores is locked if any one of them is.
type Gate struct {
	keys     KeySource
	managers []*engine.Manager
	logger   *slog.Logger
}

// NewGate returns a gate over keys and managers.
func NewGate(keys KeySource, managers []*engine.Manager, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		keys:     keys,
		managers: managers,
		logger:   logger.With(slog.String("component", "lock_gate")),
	}
}

// Evaluate probes every managed store with the current key and returns
// the combined state. Each call does real work; nothing is memoized.
func (g *Gate) Evaluate(ctx context.Context) (State, Status) {
	keyLoaded := g.keys.Loaded()
	encrypted := false
	state := UnlockedPlaintext

	for _, m := range g.managers {
		_, acquireErr := m.Acquire(ctx)

		// Read at-rest state after the probe: the probe itself may
		// have encrypted a fresh store or migrated a plaintext one.
		enc, err := m.EncryptedAtRest()
		if err != nil {
			g.logger.Warn("read store manifest", slog.String("error", err.Error()))
		}
		encrypted = encrypted || enc

		if acquireErr != nil {
			state = maxState(state, classify(acquireErr))
			continue
		}
		if enc {
			state = maxState(state, Unlocked)
		}
	}

	status := Status{
		Locked:          state.Locked(),
		EncryptedAtRest: encrypted,
		KeyLoaded:       keyLoaded,
	}
	if status.Locked {
		status.LockReason = state.String()
	}
	return state, status
}

func classify(err error) State {
	switch {
	case errors.Is(err, engine.ErrMissingKey):
		return LockedMissingKey
	case errors.Is(err, engine.ErrInvalidKey):
		return LockedInvalidKey
	default:
		return LockedUnavailable
	}
}

// maxState keeps the most severe observation. Severity follows the
// declaration order of the State constants.
func maxState(a, b State) State {
	if b > a {
		return b
	}
	return a
}
