// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package blob stores binary attachments in the encrypted engine under
// caller-chosen ids. Callers that want content addressing use
// ComputeHash as the id, which makes writes idempotent and lets them
// verify integrity on the way out; the store itself treats ids as
// opaque.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidewaterhq/holdfast/services/vault/queue"
	"github.com/tidewaterhq/holdfast/services/vault/storage/engine"
)

// -----------------------------------------------------------------------------
// Errors and identifiers
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates no blob exists under the requested id.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidID indicates an id outside the accepted charset or length.
	ErrInvalidID = errors.New("invalid blob id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// keyPrefix namespaces blob rows inside the shared store.
const keyPrefix = "blob/"

// ComputeHash returns a deterministic content fingerprint for data:
// lowercase hex SHA-256, 64 characters. Intended as the id for callers
// that want content addressing and dedup.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidID reports whether id is acceptable to the store.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store persists blobs in the encrypted storage engine, one row per
// blob, with writes serialized through the shared write queue. Reads
// skip the queue but still go through session acquisition, so a key
// change between calls reopens the session.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	manager *engine.Manager
	writes  *queue.Queue
	logger  *slog.Logger
}

// NewStore returns a blob store over manager.
func NewStore(manager *engine.Manager, writes *queue.Queue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		manager: manager,
		writes:  writes,
		logger:  logger.With(slog.String("component", "blob_store")),
	}
}

// Put stores data under id, overwriting any previous contents. Repeat
// stores of the same id are plain overwrites; there is no versioning.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	ctx, span := blobTracer.Start(ctx, "blob.Store.Put",
		trace.WithAttributes(
			attribute.String("blob_id", id),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	start := time.Now()
	err := s.writes.Do(ctx, func() error {
		db, err := s.manager.Acquire(ctx)
		if err != nil {
			return err
		}
		return db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Set([]byte(keyPrefix+id), data)
		})
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	opDurationHistogram.WithLabelValues("put", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("store blob: %w", err)
	}

	blobBytesWritten.Add(float64(len(data)))
	return nil
}

// Get returns the blob stored under id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	ctx, span := blobTracer.Start(ctx, "blob.Store.Get",
		trace.WithAttributes(attribute.String("blob_id", id)),
	)
	defer span.End()

	db, err := s.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("retrieve blob: %w", err)
	}
	return data, nil
}

// Has reports whether a blob exists under id without reading its
// contents.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	db, err := s.manager.Acquire(ctx)
	if err != nil {
		return false, err
	}

	exists := false
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("probe blob: %w", err)
	}
	return exists, nil
}

// Delete removes the blob under id and reports whether a row was
// actually removed. Deleting an absent id returns (false, nil), never
// an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if !ValidID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	ctx, span := blobTracer.Start(ctx, "blob.Store.Delete",
		trace.WithAttributes(attribute.String("blob_id", id)),
	)
	defer span.End()

	removed := false
	start := time.Now()
	err := s.writes.Do(ctx, func() error {
		db, err := s.manager.Acquire(ctx)
		if err != nil {
			return err
		}
		return db.WithTxn(ctx, func(txn *badger.Txn) error {
			key := []byte(keyPrefix + id)
			_, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed = true
			return nil
		})
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	opDurationHistogram.WithLabelValues("delete", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("delete blob: %w", err)
	}
	return removed, nil
}
