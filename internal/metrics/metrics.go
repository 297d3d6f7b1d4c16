// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package metrics provides Prometheus instrumentation for the service:
// API latency and throughput, database query performance, canvas cache
// rebuilds and rate-limit rejections. Metrics are exposed at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Rate Limiter Metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected with a cooldown",
		},
		[]string{"route"},
	)

	RateLimitBackendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_backend_errors_total",
			Help: "Total number of cache backend failures during quota accounting",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of database query errors",
		},
		[]string{"operation"},
	)

	// Canvas Cache Metrics
	CacheRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvas_cache_rebuilds_total",
			Help: "Total number of full canvas cache rebuilds performed by this worker",
		},
	)

	CacheRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canvas_cache_rebuild_duration_seconds",
			Help:    "Duration of full canvas cache rebuilds in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	CacheLockSteals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvas_cache_lock_steals_total",
			Help: "Total number of deadlocked sync locks reclaimed by this worker",
		},
	)

	PixelsPlaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvas_pixels_placed_total",
			Help: "Total number of pixels written to the canvas by this worker",
		},
	)
)

// RecordAPIRequest records the outcome of one API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordDBQuery records one database query's duration and error outcome.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordCacheRebuild records a completed full canvas rebuild.
func RecordCacheRebuild(duration time.Duration) {
	CacheRebuilds.Inc()
	CacheRebuildDuration.Observe(duration.Seconds())
}
