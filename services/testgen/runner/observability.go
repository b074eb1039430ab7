// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for pytest invocations.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// runDuration measures wall time of pytest subprocesses.
	//
	// Labels:
	//   - status: "success", "error", or "timeout"
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rora",
			Subsystem: "runner",
			Name:      "pytest_duration_seconds",
			Help:      "Duration of pytest subprocess invocations in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	// runsTotal counts pytest invocations.
	//
	// Labels:
	//   - status: "success", "error", or "timeout"
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "runner",
			Name:      "pytest_runs_total",
			Help:      "Total number of pytest subprocess invocations.",
		},
		[]string{"status"},
	)
)

// recordRunMetrics records one pytest invocation.
func recordRunMetrics(duration time.Duration, status string) {
	runDuration.WithLabelValues(status).Observe(duration.Seconds())
	runsTotal.WithLabelValues(status).Inc()
}
