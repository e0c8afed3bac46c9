// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Holdfast components.
//
// The package is a thin layer over the standard library slog package:
//
//   - Default: stderr output, text format when stderr is a terminal,
//     JSON otherwise (daemon/container deployments).
//   - Optional: an additional JSON log file with automatic directory
//     creation, named {service}_{date}.log.
//
// Component loggers are derived the usual way:
//
//	logger, closer := logging.New(logging.Config{Service: "vault"})
//	defer closer.Close()
//	blobLogger := logger.With(slog.String("component", "blob_store"))
//
// This package does NOT redact sensitive data. Callers must never log
// key material; log presence only ("key_present", key != "").
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
)

// Config configures logger construction. The zero value produces an
// Info-level logger writing to stderr.
type Config struct {
	// Level is the minimum level. Default: slog.LevelInfo.
	Level slog.Leveler

	// Service is attached to every record as the "service" attribute.
	Service string

	// LogDir, when set, enables an additional JSON log file named
	// {service}_{YYYY-MM-DD}.log under this directory. The directory
	// is created with 0750 permissions if absent.
	LogDir string

	// JSON forces JSON output on stderr. When false, the format is
	// chosen by terminal detection: text on a tty, JSON otherwise.
	JSON bool

	// Quiet disables stderr output. Only useful together with LogDir.
	Quiet bool
}

// New builds a *slog.Logger from the config.
//
// Outputs:
//   - *slog.Logger: ready for use.
//   - io.Closer: releases the log file if one was opened. Always
//     non-nil and safe to call.
func New(cfg Config) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON || !isatty.IsTerminal(os.Stderr.Fd()) {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	closer := io.Closer(nopCloser{})
	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			// File logs are always JSON for machine processing.
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
			closer = file
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	return slog.New(handler), closer
}

// Default returns an Info-level stderr logger for the "holdfast" service.
func Default() *slog.Logger {
	logger, _ := New(Config{Service: "holdfast"})
	return logger
}

func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	if service == "" {
		service = "holdfast"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// multiHandler fans out records to several slog handlers, enabling
// simultaneous text output on stderr and JSON output to a file.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
