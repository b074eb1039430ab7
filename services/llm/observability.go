// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for model calls.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// modelCallDuration measures the duration of model API calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "googleai"
	//   - status: "success" or "error"
	modelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rora",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of model API calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	// modelCallsTotal counts model API calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "googleai"
	//   - status: "success" or "error"
	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of model API calls.",
		},
		[]string{"provider", "status"},
	)

	// modelErrorsTotal counts model errors by type.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "googleai"
	//   - error_type: "timeout", "auth", "rate_limit", "server", "empty_response", "unknown"
	modelErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total model errors by type.",
		},
		[]string{"provider", "error_type"},
	)
)

// classifyError maps an error to a label-safe error type string. Message
// inspection keeps raw error text out of label values.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := err.(*EmptyResponseError); ok {
		return "empty_response"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "server error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordModelCall records metrics for one completed model call.
func recordModelCall(provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		modelErrorsTotal.WithLabelValues(provider, classifyError(err)).Inc()
	}
	modelCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	modelCallsTotal.WithLabelValues(provider, status).Inc()
}
