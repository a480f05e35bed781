// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata" // Berlin day boundaries must work without a host zone database

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/ostiarius/internal/alert"
	"github.com/tomtom215/ostiarius/internal/api"
	"github.com/tomtom215/ostiarius/internal/auth"
	"github.com/tomtom215/ostiarius/internal/config"
	"github.com/tomtom215/ostiarius/internal/customers"
	"github.com/tomtom215/ostiarius/internal/dataset"
	"github.com/tomtom215/ostiarius/internal/daylog"
	"github.com/tomtom215/ostiarius/internal/geocode"
	"github.com/tomtom215/ostiarius/internal/history"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/supervisor"
	"github.com/tomtom215/ostiarius/internal/supervisor/services"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/tracking"
	"github.com/tomtom215/ostiarius/internal/users"
	"github.com/tomtom215/ostiarius/internal/wal"
	"github.com/tomtom215/ostiarius/internal/writer"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Ostiarius with supervisor tree")
	logging.Info().
		Str("backing_store", cfg.BackingStore.Kind).
		Str("data_root", cfg.DataRoot).
		Int("retention_days", cfg.RetentionDays).
		Int("edit_window_days", cfg.EditWindowDays).
		Msg("Configuration loaded")

	store := openBackingStore(cfg)
	defer func() {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing backing store")
			}
		}
	}()

	alerts := alert.New(cfg.Alert.WebhookURL)

	journal, err := wal.Open(filepath.Join(cfg.DataRoot, "journal"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open export journal")
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing export journal")
		}
	}()

	days, err := daylog.NewManager(cfg.DataRoot, alerts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize per-day stores")
	}
	defer func() {
		if err := days.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing per-day stores")
		}
	}()

	w := writer.New(store, journal, alerts, writer.Config{
		FlushInterval:  cfg.Flush.WriterInterval(),
		Spacing:        cfg.Flush.Spacing(),
		InitialBackoff: cfg.RateLimit.InitialBackoff(),
		MaxBackoff:     cfg.RateLimit.MaxBackoff(),
		FallbackPath:   filepath.Join(cfg.DataRoot, "export-fallback.ndjson"),
	})

	directory := users.New(store, users.DefaultWorksheet)
	custCache := customers.New(store, customers.DefaultWorksheet)

	var providers []geocode.Provider
	if cfg.Geocode.BaseURL != "" {
		providers = append(providers, geocode.NewNominatimClient(cfg.Geocode.BaseURL, cfg.Geocode.APIKey))
		logging.Info().Str("base_url", cfg.Geocode.BaseURL).Msg("Geocode provider configured")
	} else {
		logging.Info().Msg("No geocode provider configured, coordinates synthesized from addresses")
	}
	queue := geocode.NewQueue(providers, cfg.Geocode.MinInterval())

	engine := dataset.New(store, queue, custCache, dataset.Config{
		Worksheet:       cfg.BackingStore.DatasetWorksheet,
		EditWindow:      time.Duration(cfg.EditWindowDays) * 24 * time.Hour,
		FlushInterval:   cfg.Flush.DatasetInterval(),
		LockTTL:         cfg.Locks.Timeout(),
		JanitorEvery:    cfg.Locks.JanitorEvery(),
		CategoryChanges: w,
	})

	// Tracking pipeline: every ingest persists to the per-day store first,
	// then fans out over the bus to the aggregate and export consumers.
	bus, err := tracking.NewBus(logging.NewWatermillAdapter())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create tracking bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing tracking bus")
		}
	}()

	ingestor := tracking.NewIngestor(days, bus)
	aggregator := tracking.NewAggregator()
	tracking.Wire(bus, aggregator, tracking.NewExportFeeder(w))

	var external *tracking.External
	if cfg.ExternalPush.APIKey != "" {
		external = tracking.NewExternal(directory, ingestor, store, tracking.ExternalConfig{})
		logging.Info().Msg("External tracker push enabled")
	} else {
		logging.Info().Msg("External tracker push disabled (no API key configured)")
	}

	provider := tracking.NewFollowMeeClient(cfg.Tracker.BaseURL, cfg.Tracker.APIKey, cfg.Tracker.Username)
	poller := tracking.NewPoller(provider, directory, ingestor, cfg.Tracker.PollInterval(), cfg.Tracker.Lookback())
	reconciler := tracking.NewReconciler(store, directory, days, w)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT verifier")
	}

	handler := api.NewHandler(api.Deps{
		Engine:    engine,
		Geocoder:  queue,
		Writer:    w,
		Days:      days,
		Aggregate: aggregator,
		Ingest:    ingestor,
		External:  external,
		Directory: directory,
		Overlay:   history.New(engine, custCache),
		Config:    cfg,
	})
	router := api.NewRouter(handler, verifier, api.NewAuthLog(w, cfg.BackingStore.AuthWorksheet), cfg)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup worksheet scan. The dataset cache must be complete before the
	// server answers requests; the directory and customer caches warm
	// opportunistically and retry on their TTLs if the first read fails.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Load(gctx)
	})
	g.Go(func() error {
		if _, err := directory.Users(gctx); err != nil {
			logging.Warn().Err(err).Msg("User directory warmup failed, will retry on demand")
		}
		return nil
	})
	g.Go(func() error {
		if _, err := custCache.Customers(gctx); err != nil {
			logging.Warn().Err(err).Msg("Customer cache warmup failed, will retry on demand")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to load dataset worksheet")
	}

	// Create structured logger for supervisor using our slog adapter
	slogLogger := logging.NewSlogLogger()

	treeCfg := supervisor.DefaultTreeConfig()
	if cfg.Server.ShutdownTimeout > 0 {
		treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	tree, err := supervisor.NewSupervisorTree(slogLogger, treeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Data layer services
	tree.AddDataService(services.NewDatasetFlushService(engine))
	tree.AddDataService(services.NewLockJanitorService(engine))
	tree.AddDataService(services.NewWriterService(w))
	tree.AddDataService(services.NewRetentionService(days, aggregator, cfg.RetentionDays))

	// Tracking layer services. Publishers gate on the bus running so no
	// event is dropped before the router subscribes its consumers.
	tree.AddTrackingService(services.NewBusService(bus))
	tree.AddTrackingService(services.NewGeocodeService(queue))
	tree.AddTrackingService(services.NewTrackerPollService(poller, bus.Running()))
	tree.AddTrackingService(services.NewReconcilerService(reconciler))
	if external != nil {
		tree.AddTrackingService(services.NewExternalBufferService(external, bus.Running()))
	}

	// API layer services
	tree.AddAPIService(services.NewHTTPServerService(server, bus.Running(), cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

// openBackingStore creates the tabular store selected by backingStore.kind.
// The remote bridge needs no local state; the local store is an embedded
// DuckDB file under the data root.
func openBackingStore(cfg *config.Config) tabular.Store {
	switch cfg.BackingStore.Kind {
	case "local":
		path := filepath.Join(cfg.DataRoot, "backing.duckdb")
		store, err := tabular.NewLocalStore(path)
		if err != nil {
			logging.Fatal().Err(err).Str("path", path).Msg("Failed to open local backing store")
		}
		logging.Info().Str("path", path).Msg("Local backing store opened")
		return store
	case "remote":
		logging.Info().Str("base_url", cfg.BackingStore.BaseURL).Msg("Remote backing store configured")
		return tabular.NewRemoteStore(cfg.BackingStore.BaseURL, cfg.BackingStore.Credentials)
	default:
		logging.Fatal().Str("kind", cfg.BackingStore.Kind).Msg("Unknown backing store kind")
		return nil
	}
}
