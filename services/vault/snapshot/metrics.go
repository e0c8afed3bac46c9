// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	saveDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holdfast_snapshot_save_duration_seconds",
			Help:    "Time to persist a full snapshot.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter", "status"},
	)

	corruptCollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdfast_snapshot_corrupt_collections_total",
			Help: "Collections skipped during load because their stored JSON did not parse.",
		},
		[]string{"adapter"},
	)
)

var snapshotTracer = otel.Tracer("vault.snapshot")
