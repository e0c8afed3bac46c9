// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package keys

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileProvider feeds a keyring from a key file on disk and keeps it in
// sync when the file changes. This is the headless-deployment path: an
// operator drops a hex key into a file (or a secrets mount updates it)
// and the vault unlocks without an API call.
//
// Thread Safety: Start launches a single watcher goroutine; the keyring
// handles concurrent access to the key itself.
type FileProvider struct {
	path    string
	keyring *Keyring
	logger  *slog.Logger
}

// NewFileProvider returns a provider for the key file at path. The file
// is not read until Start is called.
func NewFileProvider(path string, keyring *Keyring, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{
		path:    path,
		keyring: keyring,
		logger: logger.With(
			slog.String("component", "key_file_provider"),
			slog.String("key_file", path),
		),
	}
}

// Start loads the key file if it exists and watches its directory for
// changes until ctx is cancelled. A missing file at startup is not an
// error; the vault simply starts locked and unlocks when the file
// appears.
func (p *FileProvider) Start(ctx context.Context) error {
	if err := p.load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create key file watcher: %w", err)
	}

	// Watch the directory, not the file: editors and secret mounts
	// replace the file by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch key file directory: %w", err)
	}

	go p.run(ctx, watcher)
	return nil
}

func (p *FileProvider) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				if err := p.load(); err != nil {
					p.logger.Error("reload key file", slog.String("error", err.Error()))
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				p.logger.Warn("key file removed, clearing key")
				p.keyring.Clear()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("key file watcher", slog.String("error", err.Error()))
		}
	}
}

// load reads the key file into the keyring. Absent file means no key.
func (p *FileProvider) load() error {
	raw, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		p.logger.Info("key file not present, starting locked")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}

	material := strings.TrimSpace(string(raw))
	if err := p.keyring.Load(material); err != nil {
		return fmt.Errorf("key file contents: %w", err)
	}
	p.logger.Info("key loaded from file")
	return nil
}
