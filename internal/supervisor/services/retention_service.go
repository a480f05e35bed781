// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package services

import (
	"context"
	"time"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
)

// The sweep trails the midnight reconciliation pass.
const retentionSweepDelay = 15 * time.Minute

// StoreCleaner matches daylog.Manager's retention cleanup.
type StoreCleaner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int, error)
}

// AggregatePruner matches tracking.Aggregator's roll-up pruning.
type AggregatePruner interface {
	Prune(before string) int
}

// RetentionService removes expired per-day stores and daily roll-ups as a
// supervised service. It sweeps once at startup, then once per night after
// local midnight. A retention of zero or less parks the service; nothing is
// ever removed.
//
// Example usage:
//
//	svc := services.NewRetentionService(days, aggregate, cfg.RetentionDays)
//	tree.AddDataService(svc)
type RetentionService struct {
	stores        StoreCleaner
	aggregates    AggregatePruner
	retentionDays int
	name          string
}

// NewRetentionService creates a new retention service.
func NewRetentionService(stores StoreCleaner, aggregates AggregatePruner, retentionDays int) *RetentionService {
	return &RetentionService{
		stores:        stores,
		aggregates:    aggregates,
		retentionDays: retentionDays,
		name:          "retention-sweep",
	}
}

// Serve implements suture.Service.
func (s *RetentionService) Serve(ctx context.Context) error {
	if s.retentionDays <= 0 {
		logging.Info().Msg("Retention disabled, sweep idle")
		<-ctx.Done()
		return ctx.Err()
	}

	s.sweep(ctx)

	for {
		next := daykey.NextMidnight(time.Now()).Add(retentionSweepDelay)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.sweep(ctx)
	}
}

// sweep runs one retention pass. Store removal and aggregate pruning use the
// same cutoff: a day exactly at the retention boundary survives, anything
// strictly older goes.
func (s *RetentionService) sweep(ctx context.Context) {
	removed, err := s.stores.CleanupOlderThan(ctx, s.retentionDays)
	if err != nil {
		logging.Error().Err(err).Msg("Retention sweep failed for day stores")
	}
	if removed > 0 {
		metrics.RetentionRemovals.WithLabelValues("day_store").Add(float64(removed))
	}

	cutoff := daykey.FromTime(time.Now().AddDate(0, 0, -s.retentionDays))
	pruned := s.aggregates.Prune(cutoff)
	if pruned > 0 {
		metrics.RetentionRemovals.WithLabelValues("aggregate").Add(float64(pruned))
	}

	if removed > 0 || pruned > 0 {
		logging.Info().
			Int("stores", removed).
			Int("aggregates", pruned).
			Str("cutoff", cutoff).
			Msg("Retention sweep removed expired data")
	}
}

// String implements fmt.Stringer for logging.
func (s *RetentionService) String() string {
	return s.name
}
