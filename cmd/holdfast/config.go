// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from YAML and then
// overridden by HOLDFAST_* environment variables so containerized
// deployments need no config file edits.
type Config struct {
	// DataDir holds the encrypted stores, manifests, and backups.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Port is the HTTP listen port.
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// KeyFile optionally points at a hex key file watched for changes.
	// Empty means keys arrive only through the unlock API.
	KeyFile string `yaml:"key_file"`

	// MirrorSnapshotPath optionally enables a plaintext JSON mirror of
	// every snapshot save, for user-inspectable exports.
	MirrorSnapshotPath string `yaml:"mirror_snapshot_path"`

	// LegacySnapshotPath is a pre-engine snapshot.json adopted into
	// the engine on first load.
	LegacySnapshotPath string `yaml:"legacy_snapshot_path"`

	// LogDir enables JSON file logging when set.
	LogDir string `yaml:"log_dir"`

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

func defaultConfig() Config {
	return Config{
		DataDir: "./data",
		Port:    7420,
	}
}

// loadConfig reads path if it exists, applies environment overrides,
// and validates the result. A missing file is fine; defaults plus
// environment cover the common single-binary case.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOLDFAST_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HOLDFAST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("HOLDFAST_KEY_FILE"); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv("HOLDFAST_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("HOLDFAST_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
}
