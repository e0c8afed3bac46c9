// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware holds the HTTP request filters shared by the vault
// routes.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tidewaterhq/holdfast/services/vault/lock"
)

// LockedResponse is the body returned for requests refused while the
// vault is locked. Clients key off Code, not the HTTP status text.
type LockedResponse struct {
	Code   string      `json:"code"`
	Error  string      `json:"error"`
	Status lock.Status `json:"status"`
}

// CodeDBLocked is the machine-readable refusal code.
const CodeDBLocked = "DB_LOCKED"

// alwaysAllowed are path prefixes that must work while locked, or the
// vault could never report its state or be unlocked at all.
var alwaysAllowed = []string{
	"/health",
	"/metrics",
	"/v1/security/status",
	"/v1/security/unlock",
	"/v1/security/setup",
}

// RequireUnlocked refuses data-plane requests with 423 Locked while the
// gate reports a locked vault. State is evaluated per request, so an
// unlock takes effect on the very next call.
func RequireUnlocked(gate *lock.Gate, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "lock_middleware"))

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range alwaysAllowed {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		state, status := gate.Evaluate(c.Request.Context())
		if !state.Locked() {
			c.Next()
			return
		}

		logger.Info("refused locked-vault request",
			slog.String("path", path),
			slog.String("state", state.String()),
		)
		c.AbortWithStatusJSON(http.StatusLocked, LockedResponse{
			Code:   CodeDBLocked,
			Error:  "vault is locked: " + status.LockReason,
			Status: status,
		})
	}
}
