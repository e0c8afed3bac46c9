// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/tidewaterhq/holdfast/services/vault/snapshot"
)

// maxRecordBytes caps a single record document.
const maxRecordBytes = 1 << 20

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// RecordsHandler serves CRUD over snapshot collections. Records are
// opaque JSON documents; the handler enforces well-formedness and
// nothing else about their shape.
//
// Writes are read-modify-write over the whole snapshot, serialized by
// a handler-level mutex so concurrent updates cannot lose each other.
type RecordsHandler struct {
	store  snapshot.Store
	logger *slog.Logger

	mu sync.Mutex
}

// NewRecordsHandler wires the records routes over store.
func NewRecordsHandler(store snapshot.Store, logger *slog.Logger) *RecordsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordsHandler{
		store:  store,
		logger: logger.With(slog.String("component", "records_handler")),
	}
}

// ListCollections returns the collection names present in the vault.
//
// GET /v1/records
func (h *RecordsHandler) ListCollections(c *gin.Context) {
	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, gin.H{"collections": names})
}

// ListRecords returns every record in a collection. An absent
// collection lists as empty rather than 404, matching the snapshot
// model where empty and missing are the same state.
//
// GET /v1/records/:collection
func (h *RecordsHandler) ListRecords(c *gin.Context) {
	name := c.Param("collection")
	if !namePattern.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection name"})
		return
	}

	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}

	coll := snap[name]
	if coll == nil {
		coll = snapshot.Collection{}
	}
	c.JSON(http.StatusOK, gin.H{"records": coll})
}

// PutCollection replaces a collection wholesale with the posted map of
// record ids to documents. An empty map removes the collection.
//
// PUT /v1/records/:collection
func (h *RecordsHandler) PutCollection(c *gin.Context) {
	name := c.Param("collection")
	if !namePattern.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection name"})
		return
	}

	var coll snapshot.Collection
	if err := c.ShouldBindJSON(&coll); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a map of record ids to JSON documents"})
		return
	}
	for id := range coll {
		if !namePattern.MatchString(id) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id: " + id})
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}

	if len(coll) == 0 {
		delete(snap, name)
	} else {
		snap[name] = coll
	}

	if err := h.store.Save(c.Request.Context(), snap); err != nil {
		h.fail(c, "save snapshot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": name, "records": len(coll)})
}

// GetRecord returns one record document.
//
// GET /v1/records/:collection/:id
func (h *RecordsHandler) GetRecord(c *gin.Context) {
	name, id := c.Param("collection"), c.Param("id")
	if !namePattern.MatchString(name) || !namePattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection or record id"})
		return
	}

	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}

	doc, ok := snap[name][id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// PutRecord creates or replaces a record document.
//
// PUT /v1/records/:collection/:id
func (h *RecordsHandler) PutRecord(c *gin.Context) {
	name, id := c.Param("collection"), c.Param("id")
	if !namePattern.MatchString(name) || !namePattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection or record id"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRecordBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read request body"})
		return
	}
	if len(body) > maxRecordBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "record too large"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "record must be valid JSON"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}

	created := true
	coll := snap[name]
	if coll == nil {
		coll = snapshot.Collection{}
		snap[name] = coll
	} else if _, ok := coll[id]; ok {
		created = false
	}
	coll[id] = json.RawMessage(body)

	if err := h.store.Save(c.Request.Context(), snap); err != nil {
		h.fail(c, "save snapshot", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"collection": name, "id": id})
}

// DeleteRecord removes a record; removing the last record removes its
// collection.
//
// DELETE /v1/records/:collection/:id
func (h *RecordsHandler) DeleteRecord(c *gin.Context) {
	name, id := c.Param("collection"), c.Param("id")
	if !namePattern.MatchString(name) || !namePattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection or record id"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}

	coll, ok := snap[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	if _, ok := coll[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	delete(coll, id)
	if len(coll) == 0 {
		delete(snap, name)
	}

	if err := h.store.Save(c.Request.Context(), snap); err != nil {
		h.fail(c, "save snapshot", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RecordsHandler) fail(c *gin.Context, op string, err error) {
	h.logger.Error(op, slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
}
