// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	opDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holdfast_blob_op_duration_seconds",
			Help:    "Duration of blob store write operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)

	blobBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "holdfast_blob_bytes_written_total",
			Help: "Total blob payload bytes accepted.",
		},
	)
)

var blobTracer = otel.Tracer("vault.blob")
