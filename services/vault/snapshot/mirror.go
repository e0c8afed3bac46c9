// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"log/slog"
)

// MirrorStore writes every save to a primary and a secondary store and
// reads from the primary. The secondary is best-effort: a mirror
// failure is logged but never fails the save, so a broken export target
// cannot block the vault. Typical use is an encrypted engine primary
// with a plaintext file secondary for user-inspectable exports.
type MirrorStore struct {
	primary   Store
	secondary Store
	logger    *slog.Logger
}

// NewMirrorStore returns a mirror over primary and secondary.
func NewMirrorStore(primary, secondary Store, logger *slog.Logger) *MirrorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorStore{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "snapshot_mirror_store")),
	}
}

// Load reads from the primary only. The mirror is a write-through copy,
// not a fallback source of truth.
func (s *MirrorStore) Load(ctx context.Context) (Snapshot, error) {
	return s.primary.Load(ctx)
}

// Save writes to the primary, then mirrors to the secondary.
func (s *MirrorStore) Save(ctx context.Context, snap Snapshot) error {
	if err := s.primary.Save(ctx, snap); err != nil {
		return err
	}
	if err := s.secondary.Save(ctx, snap); err != nil {
		s.logger.Warn("mirror save failed", slog.String("error", err.Error()))
	}
	return nil
}
