// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package supervisor provides process supervision for Ostiarius using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services in the application. It provides
Erlang/OTP-style supervision with automatic restart, failure isolation, and
graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure
isolation:

	RootSupervisor ("ostiarius")
	├── DataSupervisor ("data-layer")
	│   ├── DatasetFlushService
	│   ├── LockJanitorService
	│   ├── WriterService
	│   └── RetentionService
	├── TrackingSupervisor ("tracking-layer")
	│   ├── BusService
	│   ├── GeocodeService
	│   ├── ExternalBufferService
	│   ├── TrackerPollService
	│   └── ReconcilerService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

This hierarchy ensures that:
  - A crashed tracker poller doesn't affect dataset persistence
  - A stuck worksheet flush doesn't impact location ingest
  - Each layer can restart independently

Two services gate on the tracking bus: the HTTP server and the tracker
poller wait for the bus router to subscribe its handlers before accepting
work, because messages published to the in-process bus before it runs are
dropped.

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - Exponential backoff prevents restart storms
  - Configurable failure thresholds and decay rates

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Flush loops drain their queues on the way out
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Service starts, stops, failures, and restarts are logged
  - Event hooks via the sutureslog adapter
  - logging.NewSlogHandler bridges the events into zerolog

# Usage Example

Basic setup in main.go:

	logger := slog.New(logging.NewSlogHandler())
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}

	tree.AddDataService(services.NewDatasetFlushService(engine))
	tree.AddTrackingService(services.NewBusService(bus))
	tree.AddAPIService(services.NewHTTPServerService(server, bus.Running(), cfg.Server.ShutdownTimeout))

	if err := tree.Serve(ctx); err != nil {
		return err
	}

Background operation:

	errCh := tree.ServeBackground(ctx)
	// ... wait for signals ...
	if err := <-errCh; err != nil {
		logging.Error().Err(err).Msg("Supervisor stopped")
	}

# Configuration

The TreeConfig controls restart behavior:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,              // Failures before backoff
	    FailureDecay:     30.0,             // Seconds for failures to decay
	    FailureBackoff:   15 * time.Second, // Backoff duration
	    ShutdownTimeout:  10 * time.Second, // Per-service shutdown timeout
	}

Default values match suture's production-ready defaults.

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return ctx.Err() after cancellation: shutdown, no restart
  - Return any other error: crash, restarted with backoff

# What Is NOT Supervised

The embedded stores are not supervised. DuckDB and the per-day SQLite
stores are libraries, not processes; a crash there takes the process down
anyway. The export journal is opened once at startup and closed by main.

# Debugging Shutdown Issues

If services don't stop within the timeout:

	report, _ := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    logging.Warn().Str("service", svc.Name).Msg("Service did not stop")
	}

Common causes are goroutines ignoring context cancellation and blocked
network I/O without deadlines.

# See Also

  - internal/supervisor/services: Service wrappers
  - github.com/thejerf/suture/v4: Underlying library
*/
package supervisor
