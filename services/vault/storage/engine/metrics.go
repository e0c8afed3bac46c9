// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	migrationDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "holdfast_store_migration_duration_seconds",
		Help:    "Time to migrate a plaintext store to encrypted",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"store", "status"})

	migrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holdfast_store_migrations_total",
		Help: "Total plaintext-to-encrypted migration attempts by status",
	}, []string{"store", "status"})

	sessionReopensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holdfast_store_session_reopens_total",
		Help: "Times an encryption session was torn down and reopened for a key change",
	}, []string{"store"})
)

var engineTracer = otel.Tracer("vault.engine")
