// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pyast

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for parsing.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// parseDuration measures full-file parse and extraction time.
	//
	// Labels:
	//   - status: "success" or "error"
	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rora",
			Subsystem: "pyast",
			Name:      "parse_duration_seconds",
			Help:      "Duration of Python source parses in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)

	// parsesTotal counts parse attempts.
	//
	// Labels:
	//   - status: "success" or "error"
	parsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "pyast",
			Name:      "parses_total",
			Help:      "Total number of Python source parses.",
		},
		[]string{"status"},
	)
)

// recordParseMetrics records one parse attempt.
func recordParseMetrics(duration time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	parseDuration.WithLabelValues(status).Observe(duration.Seconds())
	parsesTotal.WithLabelValues(status).Inc()
}
