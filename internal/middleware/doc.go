// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package middleware provides HTTP middleware shared by all API route groups.

Key Components:

  - RequestID: UUID request tracking, X-Request-ID passthrough from proxies
  - RequestLogger: one structured log line per completed request
  - PrometheusMetrics: request counter and latency histogram with route-pattern labels

Middleware Stack:

The router applies the stack outermost first:

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PrometheusMetrics)

Usage Example - Request ID:

	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := middleware.GetRequestID(r.Context())
	    logging.Ctx(r.Context()).Info().Msg("Processing request")
	}

Thread Safety:

All middleware components are stateless per request and safe for concurrent
use. Request IDs travel by context.Context; metrics use the prometheus
client's atomic collectors.

See Also:

  - internal/auth: Identity middleware applied per route group
  - internal/api: Router wiring
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
