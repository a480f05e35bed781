// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/daylog"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/users"
	"github.com/tomtom215/ostiarius/internal/writer"
)

// Reconciler folds unassigned tracker worksheets back into user data once
// their userName label resolves. It runs at startup and at every Berlin
// midnight.
//
// Historical rows go straight into the per-day stores; the store's
// uniqueness constraint makes a re-run after a partial failure harmless.
// Today's rows go to the user's log worksheet through the batched writer,
// which is suspended while the reconciler does its own store writes.
type Reconciler struct {
	store     tabular.Store
	directory *users.Directory
	days      *daylog.Manager
	writer    *writer.Writer
}

// NewReconciler creates a reconciler.
func NewReconciler(store tabular.Store, directory *users.Directory, days *daylog.Manager, w *writer.Writer) *Reconciler {
	return &Reconciler{store: store, directory: directory, days: days, writer: w}
}

// Serve runs one pass immediately and then one after every local midnight,
// until ctx is cancelled.
func (r *Reconciler) Serve(ctx context.Context) error {
	if err := r.Reconcile(ctx); err != nil {
		logging.Error().Err(err).Msg("Startup reconciliation failed")
	}

	for {
		timer := time.NewTimer(time.Until(daykey.NextMidnight(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := r.Reconcile(ctx); err != nil {
			logging.Error().Err(err).Msg("Midnight reconciliation failed")
		}
	}
}

// Reconcile runs one pass over all unassigned worksheets. Worksheets whose
// label still has no user, or whose move fails, stay for the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	names, err := r.store.Worksheets(ctx)
	if err != nil {
		return fmt.Errorf("list worksheets: %w", err)
	}

	var unassigned []string
	for _, name := range names {
		if strings.HasPrefix(name, UnassignedPrefix) {
			unassigned = append(unassigned, name)
		}
	}
	if len(unassigned) == 0 {
		return nil
	}
	sort.Strings(unassigned)

	r.writer.SetSuspended(true)
	defer r.writer.SetSuspended(false)

	moved := 0
	for _, worksheet := range unassigned {
		if err := r.reconcileWorksheet(ctx, worksheet); err != nil {
			logging.Error().Err(err).Str("worksheet", worksheet).Msg("Worksheet reconciliation failed, keeping it for the next pass")
			continue
		}
		moved++
	}
	logging.Info().Int("worksheets", len(unassigned)).Int("moved", moved).Msg("Unassigned tracker data reconciled")
	return nil
}

func (r *Reconciler) reconcileWorksheet(ctx context.Context, worksheet string) error {
	label := strings.TrimPrefix(worksheet, UnassignedPrefix)
	user, known, err := r.directory.ByUsername(ctx, label)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", label, err)
	}
	if !known {
		logging.Debug().Str("userName", label).Msg("Label still unmapped, worksheet stays")
		return nil
	}

	rows, err := r.store.Rows(ctx, worksheet)
	if err != nil {
		return fmt.Errorf("read %q: %w", worksheet, err)
	}

	byDay := make(map[string][]models.LocationPoint)
	malformed := 0
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		point, err := parseTrackRow(row)
		if err != nil {
			logging.Warn().Err(err).Str("worksheet", worksheet).Int("row", i).Msg("Unparseable tracker row skipped")
			malformed++
			continue
		}
		if point.Source == "" {
			point.Source = models.SourceExternalApp
		}
		date := daykey.FromMillis(point.TimestampMs)
		byDay[date] = append(byDay[date], point)
	}

	dates := make([]string, 0, len(byDay))
	for date := range byDay {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	today := daykey.FromTime(time.Now())
	inserted, exported := 0, 0
	for _, date := range dates {
		points := byDay[date]
		if date == today {
			for _, p := range points {
				r.writer.Enqueue(ctx, writer.UserQueue(user.Username), writer.Entry{
					Worksheet: LogWorksheet(user.Username),
					Headers:   trackingHeaders,
					Row:       trackRow(p),
				})
			}
			exported += len(points)
			continue
		}

		entries := make([]models.LogEntry, 0, len(points))
		for _, p := range points {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode point: %w", err)
			}
			entries = append(entries, models.LogEntry{
				UserID:      user.ID,
				Username:    user.Username,
				TimestampMs: p.TimestampMs,
				LogType:     models.LogTypeGPS,
				Data:        data,
			})
		}
		n, err := r.days.InsertBatch(ctx, date, entries)
		inserted += n
		if err != nil {
			return fmt.Errorf("write %s: %w", date, err)
		}
	}

	if err := r.store.DeleteWorksheet(ctx, worksheet); err != nil {
		return fmt.Errorf("delete %q: %w", worksheet, err)
	}

	logging.Info().
		Str("worksheet", worksheet).
		Str("username", user.Username).
		Int("historical", inserted).
		Int("today", exported).
		Int("malformed", malformed).
		Msg("Unassigned worksheet folded into user data")
	return nil
}
