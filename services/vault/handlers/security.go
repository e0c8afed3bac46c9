// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the vault's HTTP surface.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tidewaterhq/holdfast/services/vault/keys"
	"github.com/tidewaterhq/holdfast/services/vault/lock"
)

// unlockRequest carries key material for unlock and setup. The key is
// hex; it is never logged.
type unlockRequest struct {
	Key string `json:"key" binding:"required"`
}

// SecurityHandler serves lock status and key lifecycle routes.
//
// Unlock attempts are rate limited so the endpoint cannot be used to
// brute-force key material; the limiter spans all clients because a
// personal vault has exactly one legitimate key holder.
type SecurityHandler struct {
	keyring *keys.Keyring
	gate    *lock.Gate
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSecurityHandler wires the security routes. The limiter allows one
// unlock attempt per second with a small burst.
func NewSecurityHandler(keyring *keys.Keyring, gate *lock.Gate, logger *slog.Logger) *SecurityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityHandler{
		keyring: keyring,
		gate:    gate,
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		logger:  logger.With(slog.String("component", "security_handler")),
	}
}

// Status reports the current lock state.
//
// GET /v1/security/status
func (h *SecurityHandler) Status(c *gin.Context) {
	_, status := h.gate.Evaluate(c.Request.Context())
	c.JSON(http.StatusOK, status)
}

// Unlock loads key material and verifies it opens the store.
//
// POST /v1/security/unlock
//
// Responses:
//   - 200 with the new status when the key opens the vault
//   - 400 when the key is missing or malformed
//   - 401 when the key does not open the store; the bad key is dropped
//   - 429 when attempts come too fast
func (h *SecurityHandler) Unlock(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many unlock attempts"})
		return
	}

	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if err := h.keyring.Load(req.Key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, status := h.gate.Evaluate(c.Request.Context())
	if state == lock.LockedInvalidKey {
		// Do not retain a key that provably does not open the store.
		h.keyring.Clear()
		h.logger.Warn("unlock rejected, key does not open store")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "key does not open the vault"})
		return
	}
	if state.Locked() {
		c.JSON(http.StatusConflict, gin.H{"error": "vault still locked", "status": status})
		return
	}

	h.logger.Info("vault unlocked")
	c.JSON(http.StatusOK, status)
}

// Setup introduces encryption on a vault for the first time. Loading
// the key makes the next store access migrate plaintext data to
// encrypted at rest.
//
// POST /v1/security/setup
//
// Responses:
//   - 200 with the new status once the store is encrypted and open
//   - 400 when the key is missing or malformed
//   - 409 when the vault is already encrypted
func (h *SecurityHandler) Setup(c *gin.Context) {
	_, current := h.gate.Evaluate(c.Request.Context())
	if current.EncryptedAtRest {
		c.JSON(http.StatusConflict, gin.H{"error": "vault is already encrypted"})
		return
	}

	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if err := h.keyring.Load(req.Key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Evaluating the gate forces the store open under the new key,
	// which performs the plaintext-to-encrypted migration.
	state, status := h.gate.Evaluate(c.Request.Context())
	if state.Locked() {
		h.keyring.Clear()
		h.logger.Error("setup failed to encrypt store", slog.String("state", state.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encryption setup failed", "status": status})
		return
	}

	h.logger.Info("vault encryption enabled")
	c.JSON(http.StatusOK, status)
}
