// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - API endpoint latency and throughput
// - Dataset cache and flusher state
// - Geocode queue depth and wait times
// - Batched writer queues, backoff and fallback spills
// - Per-day log store inserts and dedup
// - Tracker pulls and external pushes

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
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, // Optimized for API latency
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Dataset Engine Metrics
	DatasetCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataset_cache_entries",
			Help: "Current number of datasets held in the in-memory cache",
		},
	)

	DatasetDirtyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataset_dirty_entries",
			Help: "Current number of datasets awaiting a backing-store flush",
		},
	)

	DatasetCreationLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataset_creation_locks",
			Help: "Current number of held address creation locks",
		},
	)

	DatasetConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_conflicts_total",
			Help: "Total number of rejected dataset creations",
		},
		[]string{"reason"}, // "own", "other", "lock"
	)

	DatasetFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_flushes_total",
			Help: "Total number of dataset flush operations against the backing store",
		},
		[]string{"kind", "result"}, // kind: "append", "update"; result: "success", "failure"
	)

	// Geocode Queue Metrics
	GeocodeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geocode_queue_depth",
			Help: "Current number of queued geocode requests",
		},
	)

	GeocodeWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geocode_wait_duration_seconds",
			Help:    "Time a geocode request spends queued before execution",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	GeocodeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_results_total",
			Help: "Total number of geocode executions by outcome",
		},
		[]string{"outcome"}, // "validated", "street_retry", "fallback", "error"
	)

	// Batched Writer Metrics
	WriterQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "writer_queue_depth",
			Help: "Current number of entries per export queue",
		},
		[]string{"queue"},
	)

	WriterBackoffSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "writer_backoff_seconds",
			Help: "Current writer backoff delay in seconds (0 when not backing off)",
		},
	)

	WriterFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_flushes_total",
			Help: "Total number of writer queue flushes",
		},
		[]string{"result"}, // "success", "quota", "failure"
	)

	WriterEntriesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_entries_written_total",
			Help: "Total number of entries written to the backing store",
		},
	)

	WriterFallbackSpills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_fallback_spills_total",
			Help: "Total number of entries spilled to the local fallback file",
		},
	)

	WriterJournalPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "writer_journal_pending_entries",
			Help: "Current number of unconfirmed entries in the write journal",
		},
	)

	// Per-Day Log Store Metrics
	DaylogInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daylog_inserts_total",
			Help: "Total number of per-day store insert attempts",
		},
		[]string{"result"}, // "inserted", "duplicate", "error"
	)

	DaylogOpenHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daylog_open_handles",
			Help: "Current number of open per-day store handles",
		},
	)

	DaylogCorruptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daylog_corruptions_total",
			Help: "Total number of quarantined per-day store files",
		},
	)

	RetentionRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_removals_total",
			Help: "Total number of expired items removed by the nightly sweep",
		},
		[]string{"kind"}, // "day_store", "aggregate"
	)

	// Tracking Metrics
	TrackerPulls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_pulls_total",
			Help: "Total number of tracker provider poll cycles",
		},
		[]string{"result"}, // "success", "failure"
	)

	TrackerPointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_points_ingested_total",
			Help: "Total number of location points ingested",
		},
		[]string{"source"}, // "native", "external_app", "followmee"
	)

	TrackerPointsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_points_deduplicated_total",
			Help: "Total number of pulled points skipped as already seen",
		},
	)

	// Cache Metrics (General)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "customers", "daylog_read", "users"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordDaylogInsert records one per-day store insert attempt
func RecordDaylogInsert(inserted bool, err error) {
	switch {
	case err != nil:
		DaylogInserts.WithLabelValues("error").Inc()
	case inserted:
		DaylogInserts.WithLabelValues("inserted").Inc()
	default:
		DaylogInserts.WithLabelValues("duplicate").Inc()
	}
}
