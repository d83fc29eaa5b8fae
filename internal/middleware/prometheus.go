// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/markerforge/internal/metrics"
)

// PrometheusMetrics records request counts, latency, and in-flight
// gauge per endpoint.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		start := time.Now()
		wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		metrics.RecordAPIRequest(r.Method, endpointLabel(r.URL.Path),
			strconv.Itoa(wrapper.statusCode), time.Since(start))
	})
}

// endpointLabel collapses parameterized paths so thumbnail and icon
// requests do not explode label cardinality.
func endpointLabel(path string) string {
	switch {
	case len(path) > 3 && path[:3] == "/t/":
		return "/t/"
	case len(path) > 3 && path[:3] == "/i/":
		return "/i/"
	default:
		return path
	}
}

// statusResponseWriter captures the status code for metrics.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
