// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package api provides the HTTP surface of the coordination server using the
Chi router.

# Overview

All endpoints live under /api/v1 and speak the models.APIResponse envelope.
Handlers hold no domain logic: they decode and validate the request, call
into the dataset engine, the tracking ingest path, or the historical
overlay, and translate domain errors into envelope error codes. User-facing
error messages are German; codes and log lines are English.

# Route groups

	/api/v1/datasets/...    JWT, rate-limited, Prometheus-instrumented
	/api/v1/tracking/...    JWT (external push: X-Api-Key instead)
	/api/v1/monitoring/...  JWT, operator snapshots
	/api/v1/health, /ready  public, liveness and startup-load state
	/metrics                public, Prometheus text format

Authentication middleware comes from internal/auth; the api package only
reads the username it placed in the request context.

# Error mapping

	dataset.ValidationError  400 INVALID_ADDRESS (German missingFields)
	dataset.ConflictError    409 ADDRESS_CONFLICT (full conflict payload)
	dataset.ErrLockHeld      409 LOCK_HELD
	dataset.ErrForbidden     403 FORBIDDEN
	dataset.ErrNotFound      404 NOT_FOUND
	dataset.ErrNotReady      503 NOT_READY
	validator failures       400 VALIDATION_ERROR

# Usage

	handler := api.NewHandler(api.Deps{Engine: engine, ...})
	authLog := api.NewAuthLog(w, "auth")
	router := api.NewRouter(handler, verifier, authLog, cfg)
	http.ListenAndServe(cfg.Server.Address(), router.Setup())
*/
package api
