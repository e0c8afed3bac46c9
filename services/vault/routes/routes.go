// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes assembles the vault's HTTP router.
package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewaterhq/holdfast/services/vault/handlers"
	"github.com/tidewaterhq/holdfast/services/vault/lock"
	"github.com/tidewaterhq/holdfast/services/vault/middleware"
)

// Deps carries everything the router needs. All fields are required.
type Deps struct {
	Security    *handlers.SecurityHandler
	Records     *handlers.RecordsHandler
	Attachments *handlers.AttachmentsHandler
	Gate        *lock.Gate
	Logger      *slog.Logger
}

// New builds the router: health and metrics outside the lock gate,
// everything else behind it.
func New(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(middleware.RequireUnlocked(d.Gate, logger))

	r.GET("/health", func(c *gin.Context) {
		_, status := d.Gate.Evaluate(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "ok", "vault": status})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		sec := v1.Group("/security")
		sec.GET("/status", d.Security.Status)
		sec.POST("/unlock", d.Security.Unlock)
		sec.POST("/setup", d.Security.Setup)

		rec := v1.Group("/records")
		rec.GET("", d.Records.ListCollections)
		rec.GET("/:collection", d.Records.ListRecords)
		rec.PUT("/:collection", d.Records.PutCollection)
		rec.GET("/:collection/:id", d.Records.GetRecord)
		rec.PUT("/:collection/:id", d.Records.PutRecord)
		rec.DELETE("/:collection/:id", d.Records.DeleteRecord)

		att := v1.Group("/attachments")
		att.POST("", d.Attachments.Upload)
		att.GET("/:id", d.Attachments.Download)
		att.HEAD("/:id", d.Attachments.Exists)
		att.DELETE("/:id", d.Attachments.Remove)
	}

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Metrics scrapes are too chatty to log.
		if c.Request.URL.Path == "/metrics" {
			return
		}
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
