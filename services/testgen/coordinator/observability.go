// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for coordinated operations.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// operationsTotal counts completed operations.
	//
	// Labels:
	//   - kind: "generate" or "run"
	//   - status: "success", "error", or "panic"
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "coordinator",
			Name:      "operations_total",
			Help:      "Total number of completed generate and run operations.",
		},
		[]string{"kind", "status"},
	)

	// operationDuration measures end-to-end operation time, including the
	// generate sub-flow inside a run.
	//
	// Labels:
	//   - kind: "generate" or "run"
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rora",
			Subsystem: "coordinator",
			Name:      "operation_duration_seconds",
			Help:      "Duration of generate and run operations in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// rejectionsTotal counts requests rejected because the target function
	// was already mid-operation.
	//
	// Labels:
	//   - kind: "generate" or "run"
	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "coordinator",
			Name:      "rejections_total",
			Help:      "Total requests rejected due to an in-progress operation.",
		},
		[]string{"kind"},
	)

	// queueDepth tracks the number of requests waiting for the slot.
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rora",
			Subsystem: "coordinator",
			Name:      "queue_depth",
			Help:      "Number of requests waiting in the FIFO queue.",
		},
	)
)
