// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tidewaterhq/holdfast/services/vault/blob"
)

// maxAttachmentBytes caps one attachment upload.
const maxAttachmentBytes = 64 << 20

// AttachmentsHandler serves binary attachments out of the blob store.
// Attachment ids are content hashes, so uploads are idempotent and
// clients can verify downloads against the id.
type AttachmentsHandler struct {
	blobs  *blob.Store
	logger *slog.Logger
}

// NewAttachmentsHandler wires the attachments routes over blobs.
func NewAttachmentsHandler(blobs *blob.Store, logger *slog.Logger) *AttachmentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentsHandler{
		blobs:  blobs,
		logger: logger.With(slog.String("component", "attachments_handler")),
	}
}

// Upload stores the raw request body and returns its content address.
//
// POST /v1/attachments
func (h *AttachmentsHandler) Upload(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAttachmentBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read request body"})
		return
	}
	if len(data) > maxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty attachment"})
		return
	}

	// Attachments are content-addressed: the id is the hash of the
	// bytes, so re-uploading the same file is a harmless overwrite.
	id := blob.ComputeHash(data)
	if err := h.blobs.Put(c.Request.Context(), id, data); err != nil {
		h.logger.Error("store attachment", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "size": len(data)})
}

// Download streams an attachment back.
//
// GET /v1/attachments/:id
func (h *AttachmentsHandler) Download(c *gin.Context) {
	id := c.Param("id")
	data, err := h.blobs.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, blob.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, blob.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	case err != nil:
		h.logger.Error("retrieve attachment", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Exists answers HEAD probes without reading blob contents.
//
// HEAD /v1/attachments/:id
func (h *AttachmentsHandler) Exists(c *gin.Context) {
	id := c.Param("id")
	exists, err := h.blobs.Has(c.Request.Context(), id)
	switch {
	case errors.Is(err, blob.ErrInvalidID):
		c.Status(http.StatusBadRequest)
		return
	case err != nil:
		c.Status(http.StatusInternalServerError)
		return
	case !exists:
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

// Remove deletes an attachment. Deletion is idempotent at the HTTP
// level: removing an absent id still answers 204.
//
// DELETE /v1/attachments/:id
func (h *AttachmentsHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	removed, err := h.blobs.Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, blob.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("delete attachment", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	if !removed {
		h.logger.Debug("delete of absent attachment", slog.String("attachment_id", id))
	}
	c.Status(http.StatusNoContent)
}
