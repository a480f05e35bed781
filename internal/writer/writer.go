// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package writer batches row appends to the backing store.
//
// Entries are grouped into named queues (one per field user, plus the auth
// and category-change queues) and flushed on a fixed interval, sequentially
// across queues with spacing between writes to stay under the provider's
// quota. Quota rejections back off exponentially and retain the batch; other
// write errors spill the batch to a local NDJSON fallback file and raise an
// operator alert. Every entry is journaled on enqueue and confirmed once it
// reaches the store or the fallback file.
package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/alert"
	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
	"github.com/tomtom215/ostiarius/internal/wal"
)

// Fixed queue names. Per-user queues come from UserQueue.
const (
	QueueAuth           = "auth"
	QueueCategoryChange = "category-change"
)

// UserQueue returns the queue name for a field user's export rows.
func UserQueue(username string) string {
	return "user:" + username
}

// Defaults for Config fields left zero.
const (
	defaultFlushInterval  = 30 * time.Second
	defaultSpacing        = time.Second
	defaultInitialBackoff = 30 * time.Second
	defaultMaxBackoff     = 240 * time.Second
	defaultFallbackName   = "export-fallback.ndjson"

	finalFlushTimeout = 30 * time.Second
)

// Entry is one queued row append. Headers, when set, create the worksheet on
// demand before the first append.
type Entry struct {
	Worksheet string   `json:"worksheet"`
	Headers   []string `json:"headers,omitempty"`
	Row       []string `json:"row"`

	journalID string
}

// Config carries the writer tunables. Zero values select defaults.
type Config struct {
	FlushInterval  time.Duration
	Spacing        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FallbackPath   string
}

// Writer is the batched backing-store writer. Run Serve as a supervised
// service.
type Writer struct {
	store   tabular.Store
	journal *wal.Journal
	alerts  *alert.Notifier
	cfg     Config

	mu             sync.Mutex
	queues         map[string][]Entry
	order          []string
	suspended      bool
	currentBackoff time.Duration
	backoffUntil   time.Time
	lastFlushAt    *time.Time
	fallbackCount  int64

	fileMu sync.Mutex
}

// New creates a writer. journal may be nil to disable durability journaling.
func New(store tabular.Store, journal *wal.Journal, alerts *alert.Notifier, cfg Config) *Writer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = defaultSpacing
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = defaultFallbackName
	}
	if alerts == nil {
		alerts = alert.New("")
	}

	return &Writer{
		store:   store,
		journal: journal,
		alerts:  alerts,
		cfg:     cfg,
		queues:  make(map[string][]Entry),
	}
}

// Enqueue adds an entry to the named queue. The entry is journaled first;
// a journal failure is logged and the entry is still queued, trading crash
// durability for availability on a broken local disk.
func (w *Writer) Enqueue(ctx context.Context, queue string, entry Entry) {
	if w.journal != nil {
		id, err := w.journal.Write(ctx, queue, entry)
		if err != nil {
			logging.Warn().Err(err).Str("queue", queue).Msg("Journal write failed, enqueueing without crash protection")
		} else {
			entry.journalID = id
		}
	}
	w.add(queue, entry)
}

// categoryHeaders is the column layout of the category-change worksheet.
var categoryHeaders = []string{"date", "time", "username", "dataset", "address", "resident", "from", "to"}

const categoryWorksheet = "category-changes"

// RecordCategoryChange enqueues one export row for a resident moving
// between categories. It implements the dataset engine's sink.
func (w *Writer) RecordCategoryChange(ctx context.Context, change models.CategoryChange) {
	local := change.ChangedAt.In(daykey.Location())
	w.Enqueue(ctx, QueueCategoryChange, Entry{
		Worksheet: categoryWorksheet,
		Headers:   categoryHeaders,
		Row: []string{
			local.Format(daykey.Layout),
			local.Format("15:04:05"),
			change.ChangedBy,
			change.DatasetID,
			change.Address,
			change.Resident,
			change.From,
			change.To,
		},
	})
}

// Recover loads unconfirmed journal entries back into their queues. Call
// once at startup, before Serve.
func (w *Writer) Recover(ctx context.Context) error {
	if w.journal == nil {
		return nil
	}
	pending, err := w.journal.Pending(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	recovered := 0
	for _, je := range pending {
		var entry Entry
		if err := je.UnmarshalPayload(&entry); err != nil {
			logging.Warn().Err(err).Str("entry_id", je.ID).Msg("Journaled entry unreadable, skipping")
			continue
		}
		entry.journalID = je.ID
		w.add(je.Queue, entry)
		recovered++
	}
	if recovered > 0 {
		logging.Info().Int("entries", recovered).Msg("Recovered journaled export entries")
	}
	return nil
}

// SetSuspended pauses or resumes flushing. The reconciler suspends the
// writer while it rewrites worksheets of its own.
func (w *Writer) SetSuspended(suspended bool) {
	w.mu.Lock()
	changed := w.suspended != suspended
	w.suspended = suspended
	w.mu.Unlock()

	if changed {
		logging.Info().Bool("suspended", suspended).Msg("Batched writer suspension changed")
	}
}

// Status returns the monitoring snapshot of the writer.
func (w *Writer) Status() models.WriterStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := models.WriterStatus{
		QueueCount:      len(w.queues),
		Suspended:       w.suspended,
		FallbackEntries: w.fallbackCount,
	}
	for _, entries := range w.queues {
		st.QueuedEntries += len(entries)
	}
	if time.Now().Before(w.backoffUntil) {
		st.CurrentBackoffMs = w.currentBackoff.Milliseconds()
	}
	if w.lastFlushAt != nil {
		at := *w.lastFlushAt
		st.LastFlushAt = &at
	}
	return st
}

// Serve flushes on the configured interval until ctx is cancelled, then
// attempts one final flush so a clean shutdown drains the queues.
func (w *Writer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			w.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush writes all queues to the backing store, sequentially with spacing.
// It returns early when suspended, inside a backoff window, or on the first
// quota rejection.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	if w.suspended || time.Now().Before(w.backoffUntil) {
		w.mu.Unlock()
		return
	}
	names := append([]string(nil), w.order...)
	w.mu.Unlock()

	first := true
	for _, name := range names {
		for {
			run := w.nextRun(name)
			if len(run) == 0 {
				break
			}

			if !first {
				select {
				case <-time.After(w.cfg.Spacing):
				case <-ctx.Done():
					return
				}
			}
			first = false

			err := w.writeRun(ctx, run)
			switch {
			case err == nil:
				w.completeRun(ctx, name, run)
				metrics.WriterFlushes.WithLabelValues("success").Inc()
				metrics.WriterEntriesWritten.Add(float64(len(run)))
				w.resetBackoff()
			case tabular.IsQuota(err):
				metrics.WriterFlushes.WithLabelValues("quota").Inc()
				w.enterBackoff()
				w.stampFlush()
				return
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				// Shutdown mid-flush: the journal still holds the run.
				return
			default:
				metrics.WriterFlushes.WithLabelValues("failure").Inc()
				w.spillRun(ctx, name, run, err)
			}
		}
	}
	w.stampFlush()
}

func (w *Writer) add(queue string, entry Entry) {
	w.mu.Lock()
	if _, ok := w.queues[queue]; !ok {
		w.order = append(w.order, queue)
	}
	w.queues[queue] = append(w.queues[queue], entry)
	depth := len(w.queues[queue])
	w.mu.Unlock()

	metrics.WriterQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// nextRun returns a copy of the longest same-worksheet prefix of the queue.
// Runs complete independently, so a failure in a later run never duplicates
// rows an earlier run already appended.
func (w *Writer) nextRun(queue string) []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries := w.queues[queue]
	if len(entries) == 0 {
		return nil
	}
	end := 1
	for end < len(entries) && entries[end].Worksheet == entries[0].Worksheet {
		end++
	}
	run := make([]Entry, end)
	copy(run, entries[:end])
	return run
}

func (w *Writer) writeRun(ctx context.Context, run []Entry) error {
	if run[0].Headers != nil {
		if err := w.store.EnsureWorksheet(ctx, run[0].Worksheet, run[0].Headers); err != nil {
			return err
		}
	}
	rows := make([][]string, len(run))
	for i, entry := range run {
		rows[i] = entry.Row
	}
	return w.store.AppendBatch(ctx, run[0].Worksheet, rows)
}

// completeRun pops the run off the queue head and confirms its journal
// entries. Enqueue only appends, so popping by count is safe.
func (w *Writer) completeRun(ctx context.Context, queue string, run []Entry) {
	w.mu.Lock()
	w.queues[queue] = w.queues[queue][len(run):]
	depth := len(w.queues[queue])
	w.mu.Unlock()

	metrics.WriterQueueDepth.WithLabelValues(queue).Set(float64(depth))
	w.confirm(ctx, run)
}

// spillRun writes the run to the NDJSON fallback file, alerts the operator
// and removes the run from the queue. If the fallback write itself fails the
// run stays queued for the next cycle.
func (w *Writer) spillRun(ctx context.Context, queue string, run []Entry, cause error) {
	logging.Error().Err(cause).Str("queue", queue).Int("entries", len(run)).Msg("Backing-store write failed, spilling to fallback file")

	if err := w.appendFallback(queue, run, cause); err != nil {
		logging.Error().Err(err).Str("queue", queue).Msg("Fallback spill failed, keeping entries queued")
		w.alerts.Alert(ctx, "export fallback unwritable", map[string]string{
			"queue": queue,
			"error": err.Error(),
		})
		return
	}

	w.mu.Lock()
	w.queues[queue] = w.queues[queue][len(run):]
	depth := len(w.queues[queue])
	w.fallbackCount += int64(len(run))
	w.mu.Unlock()

	metrics.WriterQueueDepth.WithLabelValues(queue).Set(float64(depth))
	metrics.WriterFallbackSpills.Add(float64(len(run)))
	w.confirm(ctx, run)

	w.alerts.Alert(ctx, "export entries spilled to fallback", map[string]string{
		"queue":   queue,
		"entries": fmt.Sprintf("%d", len(run)),
		"error":   cause.Error(),
	})
}

// fallbackLine is one NDJSON record in the fallback file.
type fallbackLine struct {
	Queue     string    `json:"queue"`
	Worksheet string    `json:"worksheet"`
	Row       []string  `json:"row"`
	Error     string    `json:"error"`
	SpilledAt time.Time `json:"spilledAt"`
}

func (w *Writer) appendFallback(queue string, run []Entry, cause error) error {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()

	if dir := filepath.Dir(w.cfg.FallbackPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create fallback dir: %w", err)
		}
	}
	f, err := os.OpenFile(w.cfg.FallbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open fallback file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	now := time.Now().UTC()
	for _, entry := range run {
		line, err := json.Marshal(fallbackLine{
			Queue:     queue,
			Worksheet: entry.Worksheet,
			Row:       entry.Row,
			Error:     cause.Error(),
			SpilledAt: now,
		})
		if err != nil {
			return fmt.Errorf("encode fallback line: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write fallback line: %w", err)
		}
	}
	return f.Sync()
}

func (w *Writer) confirm(ctx context.Context, run []Entry) {
	if w.journal == nil {
		return
	}
	for _, entry := range run {
		if entry.journalID == "" {
			continue
		}
		if err := w.journal.Confirm(ctx, entry.journalID); err != nil {
			logging.Warn().Err(err).Str("entry_id", entry.journalID).Msg("Journal confirm failed")
		}
	}
}

func (w *Writer) enterBackoff() {
	w.mu.Lock()
	if w.currentBackoff == 0 {
		w.currentBackoff = w.cfg.InitialBackoff
	} else {
		w.currentBackoff *= 2
		if w.currentBackoff > w.cfg.MaxBackoff {
			w.currentBackoff = w.cfg.MaxBackoff
		}
	}
	w.backoffUntil = time.Now().Add(w.currentBackoff)
	backoff := w.currentBackoff
	w.mu.Unlock()

	metrics.WriterBackoffSeconds.Set(backoff.Seconds())
	logging.Warn().Dur("backoff", backoff).Msg("Backing store quota exceeded, retaining batch and backing off")
}

func (w *Writer) resetBackoff() {
	w.mu.Lock()
	changed := w.currentBackoff != 0
	w.currentBackoff = 0
	w.backoffUntil = time.Time{}
	w.mu.Unlock()

	if changed {
		metrics.WriterBackoffSeconds.Set(0)
		logging.Info().Msg("Backing store writes recovered, backoff cleared")
	}
}

func (w *Writer) stampFlush() {
	w.mu.Lock()
	now := time.Now()
	w.lastFlushAt = &now
	w.mu.Unlock()
}
