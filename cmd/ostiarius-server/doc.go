// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package main is the entry point for the Ostiarius server application.

Ostiarius is the coordination server for door-to-door field acquisition
teams. It owns the address datasets the field app edits, serializes every
write to a tabular backing store, keeps per-day GPS and action stores, and
maintains the daily aggregates the monitoring views read.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("ostiarius")
	├── DataSupervisor ("data-layer")
	│   ├── DatasetFlushService (dirty-set flusher)
	│   ├── LockJanitorService (stale creation locks)
	│   ├── WriterService (journal recovery + batched export writer)
	│   └── RetentionService (nightly expiry sweep)
	├── TrackingSupervisor ("tracking-layer")
	│   ├── BusService (in-process Watermill router)
	│   ├── GeocodeService (serialized geocoding worker)
	│   ├── TrackerPollService (GPS provider pull)
	│   ├── ReconcilerService (post-midnight worksheet moves)
	│   └── ExternalBufferService (buffered external pushes, optional)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (chi REST API)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and an optional YAML file
 2. Logging: zerolog with JSON or console output
 3. Backing store: remote sheets-style JSON bridge, or embedded DuckDB in local mode
 4. Export journal: BadgerDB write-ahead journal for unconfirmed worksheet rows
 5. Per-day stores: one SQLite file per calendar day under the data root
 6. Domain components: batched writer, user and customer caches, geocode queue,
    dataset engine
 7. Tracking pipeline: Watermill GoChannel bus, ingest, daily aggregates,
    export feeder
 8. API: JWT verifier, auth trail, chi router
 9. Startup scan: dataset worksheet load (fatal on failure) plus cache warmup
 10. Supervisor tree: all services started under Suture v4

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority
wins):

  - Environment variables (OSTIARIUS_*)
  - Config file (config.yaml, or the path in OSTIARIUS_CONFIG)
  - Built-in defaults

The backing store selects the operating mode:

  - remote: OSTIARIUS_BACKING_STORE_KIND=remote with
    OSTIARIUS_BACKING_STORE_BASE_URL and OSTIARIUS_BACKING_STORE_CREDENTIALS
  - local: OSTIARIUS_BACKING_STORE_KIND=local, an embedded DuckDB file under
    OSTIARIUS_DATA_ROOT (development and single-box deployments)

Secrets may be stored encrypted with the "enc:" prefix and are decrypted at
load time using OSTIARIUS_ENCRYPTION_KEY.

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

  - Stops accepting new connections and drains in-flight requests
  - Stops the background loops through supervisor context cancellation
  - Flushes the export writer and closes the journal, day stores and the
    backing store

# Example Usage

Local mode for development:

	export OSTIARIUS_BACKING_STORE_KIND=local
	export OSTIARIUS_DATA_ROOT=./data
	export OSTIARIUS_JWT_SECRET=$(openssl rand -base64 32)
	./ostiarius-server

Production with the remote bridge and GPS tracking:

	export OSTIARIUS_BACKING_STORE_KIND=remote
	export OSTIARIUS_BACKING_STORE_BASE_URL=https://bridge.example.com
	export OSTIARIUS_BACKING_STORE_CREDENTIALS=your-credential
	export OSTIARIUS_JWT_SECRET=your-shared-secret
	export OSTIARIUS_TRACKER_API_KEY=your-provider-key
	export OSTIARIUS_TRACKER_USERNAME=your-provider-account
	export OSTIARIUS_GEOCODE_BASE_URL=https://nominatim.example.com
	./ostiarius-server
*/
package main
