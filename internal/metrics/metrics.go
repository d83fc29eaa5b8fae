// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package metrics registers the Prometheus instruments exposed at
// /metrics: request latency and throughput, marker mutation counts,
// thumbnail cache efficiency, and purge indicator gauges.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markerforge_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markerforge_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markerforge_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	// Marker mutation metrics
	MarkerMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markerforge_marker_mutations_total",
			Help: "Total marker mutations by operation and outcome",
		},
		[]string{"operation", "outcome"}, // operation: add|edit|delete|bulk_shift|bulk_add|bulk_delete|restore
	)

	// Host database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markerforge_db_query_duration_seconds",
			Help:    "Host database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBSuspended = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markerforge_db_suspended",
			Help: "1 while the host database connection is auto-suspended",
		},
	)

	// Thumbnail cache metrics
	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markerforge_thumbnail_cache_hits_total",
			Help: "Total thumbnail cache hits",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markerforge_thumbnail_cache_misses_total",
			Help: "Total thumbnail cache misses",
		},
	)

	// Purge indicator
	PurgedMarkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markerforge_purged_markers",
			Help: "Markers the backup log expects to exist but the host no longer has",
		},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markerforge_active_sessions",
			Help: "Current number of live sessions",
		},
	)
)

// RecordAPIRequest records one completed request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordMutation records a marker mutation outcome.
func RecordMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	MarkerMutationsTotal.WithLabelValues(operation, outcome).Inc()
}
