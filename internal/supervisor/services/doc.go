// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package services provides suture.Service wrappers for Ostiarius components.

This package adapts the application's long-running components to the suture
v4 supervision model. Most components already expose a blocking, context-
aware loop; the wrappers add stable service names for the supervisor log,
failure prefixes for restart diagnostics, and the two startup dependencies
the tree cannot express on its own.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Service identification via fmt.Stringer
  - Error prefixing so restarts name their source
  - Ready gating on the tracking bus where publishing precedes subscription
  - One-shot journal recovery ahead of the writer's flush loop

# Available Services

Data layer:
  - DatasetFlushService: dataset dirty-set flush loop
  - LockJanitorService: stale creation-lock sweep
  - WriterService: journal recovery plus the batched writer flush loop
  - RetentionService: nightly removal of expired day stores and roll-ups

Tracking layer:
  - BusService: in-process tracking event bus router
  - GeocodeService: serialized geocoding worker
  - ExternalBufferService: buffered external-push sweep
  - TrackerPollService: external GPS provider poller (gates on the bus)
  - ReconcilerService: post-midnight worksheet reconciliation

API layer:
  - HTTPServerService: HTTP listener with graceful drain (gates on the bus)

# Startup Ordering

Suture starts every service of a layer concurrently, so ordering between
services is expressed with ready channels rather than sequencing. Messages
published to the in-process bus before its router runs are dropped; the HTTP
server, the tracker poller and the external buffer sweep therefore take
bus.Running() and wait for it before accepting or producing work. All other
services have no cross-service dependency at startup.

# Restart Semantics

A wrapper returns ctx.Err() after cancellation, which suture treats as
shutdown. Any other error counts as a failure: the supervisor logs it with
the service name prefix and restarts the service with backoff. Wrappers do
not retry internally; retry policy lives in one place, the supervisor.

# Usage

	tree.AddDataService(services.NewDatasetFlushService(engine))
	tree.AddDataService(services.NewLockJanitorService(engine))
	tree.AddDataService(services.NewWriterService(w))
	tree.AddDataService(services.NewRetentionService(days, aggregate, cfg.RetentionDays))

	tree.AddTrackingService(services.NewBusService(bus))
	tree.AddTrackingService(services.NewGeocodeService(queue))
	tree.AddTrackingService(services.NewExternalBufferService(external, bus.Running()))
	tree.AddTrackingService(services.NewTrackerPollService(poller, bus.Running()))
	tree.AddTrackingService(services.NewReconcilerService(reconciler))

	tree.AddAPIService(services.NewHTTPServerService(server, bus.Running(), cfg.Server.ShutdownTimeout))
*/
package services
