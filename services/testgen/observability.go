// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testgen

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rora",
			Subsystem: "service",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end duration of the generate and run pipelines.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pipeline", "status"},
	)

	pipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "service",
			Name:      "pipelines_total",
			Help:      "Pipeline completions by outcome.",
		},
		[]string{"pipeline", "status"},
	)

	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rora",
			Subsystem: "service",
			Name:      "event_subscribers",
			Help:      "Connected state-event subscribers.",
		},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rora",
			Subsystem: "service",
			Name:      "events_dropped_total",
			Help:      "State events dropped because a subscriber was too slow.",
		},
	)
)

func recordPipeline(pipeline string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pipelineDuration.WithLabelValues(pipeline, status).Observe(duration.Seconds())
	pipelinesTotal.WithLabelValues(pipeline, status).Inc()
}
