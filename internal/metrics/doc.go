// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package instruments the coordination server with the Prometheus client
library, exposing metrics for monitoring request latency, pipeline health and
backing-store pressure.

# Overview

The package provides metrics for:
  - API endpoint latency and throughput
  - Dataset cache, dirty entries and creation locks
  - Geocode queue depth and wait times
  - Batched writer queues, backoff and fallback spills
  - Per-day location store inserts, dedup and corruption quarantines
  - Tracker provider pulls and point ingestion by source
  - Circuit breaker state transitions
  - Cache hit/miss rates

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8080/metrics

# Available Metrics

HTTP Metrics:
  - api_requests_total: Total API requests (counter)
    Labels: method, endpoint, status_code
  - api_request_duration_seconds: Request latency (histogram)
    Labels: method, endpoint
    Buckets: .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
  - api_active_requests: Active requests (gauge)
  - api_rate_limit_hits_total: Rate limit rejections (counter)
    Labels: endpoint

Dataset Engine Metrics:
  - dataset_cache_entries: Datasets held in memory (gauge)
  - dataset_dirty_entries: Datasets awaiting a backing-store flush (gauge)
  - dataset_creation_locks: Held address creation locks (gauge)
  - dataset_conflicts_total: Rejected dataset creations (counter)
    Labels: reason (own, other, lock)
  - dataset_flushes_total: Flush operations against the backing store (counter)
    Labels: kind (append, update), result (success, failure)

Geocode Queue Metrics:
  - geocode_queue_depth: Queued geocode requests (gauge)
  - geocode_wait_duration_seconds: Time queued before execution (histogram)
  - geocode_results_total: Geocode executions by outcome (counter)
    Labels: outcome (validated, street_retry, fallback, error)

Batched Writer Metrics:
  - writer_queue_depth: Entries per export queue (gauge)
    Labels: queue
  - writer_backoff_seconds: Current backoff delay, 0 when healthy (gauge)
  - writer_flushes_total: Queue flushes (counter)
    Labels: result (success, quota, failure)
  - writer_entries_written_total: Entries written to the backing store (counter)
  - writer_fallback_spills_total: Entries spilled to the local fallback file (counter)
  - writer_journal_pending_entries: Unconfirmed journal entries (gauge)

Per-Day Log Store Metrics:
  - daylog_inserts_total: Insert attempts (counter)
    Labels: result (inserted, duplicate, error)
  - daylog_open_handles: Open per-day store handles (gauge)
  - daylog_corruptions_total: Quarantined store files (counter)
  - retention_removals_total: Items removed by the nightly sweep (counter)
    Labels: kind (day_store, aggregate)

Tracking Metrics:
  - tracker_pulls_total: Provider poll cycles (counter)
    Labels: result (success, failure)
  - tracker_points_ingested_total: Location points ingested (counter)
    Labels: source (native, external_app, followmee)
  - tracker_points_deduplicated_total: Pulled points skipped as seen (counter)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total: Requests through the breaker (counter)
    Labels: name, result (success, failure, rejected)
  - circuit_breaker_consecutive_failures: Consecutive failures (gauge)
    Labels: name
  - circuit_breaker_state_transitions_total: State transitions (counter)
    Labels: name, from_state, to_state

# Usage Example

Recording HTTP metrics from middleware:

	start := time.Now()
	next.ServeHTTP(rw, r)
	metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(rw.Status()), time.Since(start))

Recording per-day store inserts:

	inserted, err := store.Insert(ctx, point)
	metrics.RecordDaylogInsert(inserted, err)

# Prometheus Configuration

Example prometheus.yml configuration:

	scrape_configs:
	  - job_name: 'ostiarius'
	    static_configs:
	      - targets: ['localhost:8080']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

Example PromQL queries:

	# HTTP request rate
	rate(api_requests_total[5m])

	# HTTP p95 latency
	histogram_quantile(0.95, rate(api_request_duration_seconds_bucket[5m]))

	# Writer stuck in backoff
	writer_backoff_seconds > 0

	# Duplicate ratio of pulled tracker points
	rate(tracker_points_deduplicated_total[15m])
	/
	rate(tracker_points_ingested_total{source="followmee"}[15m])

# Cardinality

Endpoint labels use the route pattern, never the raw URL path, so path
parameters (dates, dataset IDs) do not fan out into new series. Error detail
stays in logs; counters only carry coarse result classes.

# Thread Safety

All metric recording functions are safe for concurrent use. The Prometheus
client library handles synchronization internally.
*/
package metrics
