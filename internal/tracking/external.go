// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/users"
)

// Buffer limits for unresolved userName labels.
const (
	defaultBufferMaxAge = time.Minute
	defaultBufferSweep  = 5 * time.Second
	maxBufferedPerName  = 5000
)

// PushResult reports what Push did with one external batch.
type PushResult struct {
	Username string `json:"username,omitempty"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Buffered bool   `json:"buffered"`
}

// External receives bulk location pushes from the external mobile tracker.
//
// Points failing the GPS sanity check are rejected. The userName label is
// resolved through the user directory; points of known users are ingested
// with source external_app, unknown labels collect in a short-lived buffer
// and land in a per-userName holding worksheet that the reconciler empties
// once the label is mapped.
type External struct {
	directory *users.Directory
	ingest    LocationIngestor
	store     tabular.Store

	maxAge     time.Duration
	sweepEvery time.Duration

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

type pendingBatch struct {
	points  []models.LocationPoint
	firstAt time.Time
}

// ExternalConfig carries the buffer tuning. Zero values take defaults.
type ExternalConfig struct {
	BufferMaxAge time.Duration
	SweepEvery   time.Duration
}

// NewExternal creates the external push receiver.
func NewExternal(directory *users.Directory, ingest LocationIngestor, store tabular.Store, cfg ExternalConfig) *External {
	if cfg.BufferMaxAge <= 0 {
		cfg.BufferMaxAge = defaultBufferMaxAge
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = defaultBufferSweep
	}
	return &External{
		directory:  directory,
		ingest:     ingest,
		store:      store,
		maxAge:     cfg.BufferMaxAge,
		sweepEvery: cfg.SweepEvery,
		pending:    make(map[string]*pendingBatch),
	}
}

// Push handles one external batch. A directory failure buffers the batch
// instead of dropping it; the reconciler resolves the label later.
func (e *External) Push(ctx context.Context, userName string, points []models.LocationPoint) (PushResult, error) {
	userName = strings.TrimSpace(userName)
	result := PushResult{}

	valid := make([]models.LocationPoint, 0, len(points))
	for _, p := range points {
		if !p.Valid() {
			result.Rejected++
			continue
		}
		valid = append(valid, p)
	}
	result.Accepted = len(valid)
	if result.Rejected > 0 {
		logging.Debug().Str("userName", userName).Int("rejected", result.Rejected).Msg("GPS-not-ready points rejected")
	}
	if len(valid) == 0 {
		return result, nil
	}

	user, known, err := e.directory.ByUsername(ctx, userName)
	if err != nil {
		logging.Warn().Err(err).Str("userName", userName).Msg("User directory unavailable, buffering external push")
		known = false
	}
	if !known {
		e.buffer(userName, valid)
		result.Buffered = true
		return result, nil
	}

	result.Username = user.Username
	if _, err := e.ingest.IngestLocations(ctx, user, valid, models.SourceExternalApp); err != nil {
		return result, err
	}
	return result, nil
}

// Serve sweeps the buffer until ctx is cancelled, then force-flushes what
// is left.
func (e *External) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.flush(flushCtx, true)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			e.flush(ctx, false)
		}
	}
}

// BufferedCount returns how many points are waiting across all labels.
func (e *External) BufferedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, b := range e.pending {
		total += len(b.points)
	}
	return total
}

func (e *External) buffer(userName string, points []models.LocationPoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.pending[userName]
	if !ok {
		b = &pendingBatch{firstAt: time.Now()}
		e.pending[userName] = b
	}
	b.points = append(b.points, points...)
	if over := len(b.points) - maxBufferedPerName; over > 0 {
		logging.Warn().Str("userName", userName).Int("dropped", over).Msg("Unassigned buffer full, dropping oldest points")
		b.points = b.points[over:]
	}
}

// flush writes batches older than maxAge (all batches when force is set) to
// their holding worksheets. A failed write keeps the batch buffered for the
// next sweep.
//
// Labels that become known between buffering and flush still go to the
// holding worksheet; the reconciler folds them in at the next boundary. One
// code path keeps the sheet the single place unresolved data can be.
func (e *External) flush(ctx context.Context, force bool) {
	e.mu.Lock()
	due := make(map[string][]models.LocationPoint)
	for name, b := range e.pending {
		if force || time.Since(b.firstAt) >= e.maxAge {
			due[name] = b.points
			delete(e.pending, name)
		}
	}
	e.mu.Unlock()

	names := make([]string, 0, len(due))
	for name := range due {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		points := due[name]
		if err := e.writeUnassigned(ctx, name, points); err != nil {
			logging.Warn().Err(err).Str("userName", name).Int("points", len(points)).Msg("Holding worksheet write failed, keeping points buffered")
			e.requeue(name, points)
		}
	}
}

// requeue puts failed points back at the front of the label's buffer.
func (e *External) requeue(name string, points []models.LocationPoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.pending[name]
	if !ok {
		b = &pendingBatch{firstAt: time.Now()}
		e.pending[name] = b
	}
	b.points = append(append([]models.LocationPoint(nil), points...), b.points...)
}

func (e *External) writeUnassigned(ctx context.Context, name string, points []models.LocationPoint) error {
	worksheet := UnassignedWorksheet(name)
	if err := e.store.EnsureWorksheet(ctx, worksheet, trackingHeaders); err != nil {
		return err
	}

	rows := make([][]string, 0, len(points))
	for _, p := range points {
		p.Source = models.SourceExternalApp
		rows = append(rows, trackRow(p))
	}
	if err := e.store.AppendBatch(ctx, worksheet, rows); err != nil {
		return err
	}
	logging.Info().Str("userName", name).Int("points", len(points)).Msg("Unresolved tracker points parked in holding worksheet")
	return nil
}
