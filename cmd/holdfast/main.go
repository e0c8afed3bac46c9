// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Holdfast is an encrypted personal data vault: snapshot-oriented
// record storage plus content-addressed attachments, encrypted at rest
// behind a lock gate.
package main

import (
	"io"
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tidewaterhq/holdfast/pkg/logging"
)

var (
	config     Config
	logger     *slog.Logger
	logCloser  io.Closer
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "holdfast",
	Short: "Encrypted personal data vault",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
	if logCloser != nil {
		logCloser.Close()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		config = cfg

		logger, logCloser = logging.New(logging.Config{
			Service: "holdfast",
			LogDir:  cfg.LogDir,
		})
		slog.SetDefault(logger)
		return nil
	}

	rootCmd.AddCommand(serveCmd)
}
