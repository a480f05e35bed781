// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package daylog implements the per-day log stores: one SQLite file per
// Berlin calendar day holding GPS points, session markers, actions and
// device events.
//
// Layout on disk is <dataRoot>/user-logs/logs-YYYY-MM-DD.db. Every file is
// self-contained, which makes retention a file deletion and corruption a
// single-day quarantine rather than a store-wide incident.
package daylog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/tomtom215/ostiarius/internal/cache"
	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
)

const (
	filePrefix = "logs-"
	fileSuffix = ".db"

	// writeDSNOptions tunes the write handles: WAL keeps readers unblocked
	// during inserts, NORMAL sync is durable enough for re-pullable tracking
	// data, and the busy timeout absorbs checkpoint contention.
	writeDSNOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

	// readDSNOptions opens historical files read-only so a stray read can
	// never create or mutate a store file.
	readDSNOptions = "?mode=ro&_busy_timeout=5000"

	// readCacheTTL bounds how long a read-only handle for an old date stays
	// open without being used.
	readCacheTTL = time.Hour

	// recentReadDays is the age up to which reads share the write handle
	// instead of the read-only cache.
	recentReadDays = 7
)

// ErrInvalidDate is returned for date keys not of the form YYYY-MM-DD.
var ErrInvalidDate = errors.New("daylog: invalid date key")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		log_type TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		UNIQUE(user_id, timestamp_ms, log_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_log_user_ts ON log(user_id, timestamp_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_log_type ON log(log_type)`,
}

// Alerter delivers operator alerts. Implemented by alert.Notifier.
type Alerter interface {
	Alert(ctx context.Context, subject string, fields map[string]string)
}

// Manager coordinates access to the per-day stores.
//
// Write handles are opened lazily, one per date, and stay open until Close;
// the reconciler writes historical days, so non-today write handles are
// normal. Reads for dates older than recentReadDays go through a read-only
// handle cached for one hour and closed on eviction.
type Manager struct {
	dir     string
	alerter Alerter

	mu     sync.Mutex
	writes map[string]*sql.DB

	readCache *cache.Cache
}

// NewManager creates the store directory if needed and returns a Manager.
// alerter may be nil; corruption is then log-only.
func NewManager(dataRoot string, alerter Alerter) (*Manager, error) {
	dir := filepath.Join(dataRoot, "user-logs")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log store directory %s: %w", dir, err)
	}

	m := &Manager{
		dir:     dir,
		alerter: alerter,
		writes:  make(map[string]*sql.DB),
	}
	m.readCache = cache.NewWithEviction(readCacheTTL, func(key string, value interface{}) {
		if db, ok := value.(*sql.DB); ok {
			if err := db.Close(); err != nil {
				logging.Warn().Err(err).Str("date", key).Msg("Failed to close read handle")
			}
			metrics.DaylogOpenHandles.Dec()
		}
	})
	return m, nil
}

// Path returns the store file path for a date key.
func (m *Manager) Path(date string) string {
	return filepath.Join(m.dir, filePrefix+date+fileSuffix)
}

// Insert writes one entry into the store of the given date, creating the
// store on first write. Returns whether the row was actually inserted
// (false means the (user, timestamp, type) triple already existed).
func (m *Manager) Insert(ctx context.Context, date string, entry models.LogEntry) (bool, error) {
	if !daykey.IsValid(date) {
		return false, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	db, err := m.writeHandleRecovering(ctx, date)
	if err != nil {
		return false, err
	}

	inserted, err := insertOne(ctx, db, entry)
	if err != nil {
		if m.quarantineIfCorrupt(ctx, date, err) {
			metrics.RecordDaylogInsert(false, err)
			return false, nil
		}
		metrics.RecordDaylogInsert(false, err)
		return false, fmt.Errorf("insert into %s: %w", date, err)
	}
	metrics.RecordDaylogInsert(inserted, nil)
	return inserted, nil
}

// InsertBatch writes entries in a single transaction and returns how many
// rows were actually inserted (duplicates are ignored silently).
func (m *Manager) InsertBatch(ctx context.Context, date string, entries []models.LogEntry) (int, error) {
	if !daykey.IsValid(date) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	db, err := m.writeHandleRecovering(ctx, date)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch for %s: %w", date, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO log (user_id, username, timestamp_ms, log_type, data, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	inserted := 0
	now := time.Now().UnixMilli()
	for _, entry := range entries {
		createdAt := entry.CreatedAtMs
		if createdAt == 0 {
			createdAt = now
		}
		res, err := stmt.ExecContext(ctx,
			entry.UserID, entry.Username, entry.TimestampMs, entry.LogType, string(entry.Data), createdAt)
		if err != nil {
			if m.quarantineIfCorrupt(ctx, date, err) {
				return inserted, nil
			}
			return inserted, fmt.Errorf("batch insert into %s: %w", date, err)
		}
		affected, _ := res.RowsAffected()
		if affected > 0 {
			inserted++
			metrics.RecordDaylogInsert(true, nil)
		} else {
			metrics.RecordDaylogInsert(false, nil)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch for %s: %w", date, err)
	}
	return inserted, nil
}

// EntriesByUser returns all entries of one user for the date, ordered by
// event time. Missing or quarantined stores yield an empty result.
func (m *Manager) EntriesByUser(ctx context.Context, date, userID string) ([]models.LogEntry, error) {
	if !daykey.IsValid(date) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	db, exists, err := m.readHandle(date)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, username, timestamp_ms, log_type, data, created_at_ms
		 FROM log WHERE user_id = ? ORDER BY timestamp_ms`, userID)
	if err != nil {
		if m.quarantineIfCorrupt(ctx, date, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query %s for user %s: %w", date, userID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var data string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.TimestampMs, &e.LogType, &data, &e.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Data = []byte(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UserIDs returns the distinct user IDs present in the store of the date.
func (m *Manager) UserIDs(ctx context.Context, date string) ([]string, error) {
	if !daykey.IsValid(date) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	db, exists, err := m.readHandle(date)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT user_id FROM log ORDER BY user_id`)
	if err != nil {
		if m.quarantineIfCorrupt(ctx, date, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user ids for %s: %w", date, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Checkpoint runs a truncating WAL checkpoint on the date's store, folding
// the -wal sidecar back into the main file. Called before retention cleanup
// and on shutdown.
func (m *Manager) Checkpoint(ctx context.Context, date string) error {
	m.mu.Lock()
	db, open := m.writes[date]
	m.mu.Unlock()
	if !open {
		return nil
	}
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint %s: %w", date, err)
	}
	return nil
}

// Stats reports file-level statistics for the date's store.
func (m *Manager) Stats(ctx context.Context, date string) (models.DayStoreStats, error) {
	stats := models.DayStoreStats{Date: date}
	if !daykey.IsValid(date) {
		return stats, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	info, err := os.Stat(m.Path(date))
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("stat %s: %w", date, err)
	}
	stats.Exists = true
	stats.SizeBytes = info.Size()

	db, exists, err := m.readHandle(date)
	if err != nil || !exists {
		return stats, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT user_id) FROM log`).
		Scan(&stats.RowCount, &stats.UserCount); err != nil {
		if m.quarantineIfCorrupt(ctx, date, err) {
			return models.DayStoreStats{Date: date}, nil
		}
		return stats, fmt.Errorf("count rows for %s: %w", date, err)
	}
	return stats, nil
}

// Dates lists the date keys of all store files on disk, oldest first.
func (m *Manager) Dates() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}
	var dates []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if daykey.IsValid(date) {
			dates = append(dates, date)
		}
	}
	return dates, nil
}

// CleanupOlderThan removes store files older than the retention window,
// including their -wal and -shm siblings. Returns the number of store files
// removed.
func (m *Manager) CleanupOlderThan(ctx context.Context, retentionDays int) (int, error) {
	dates, err := m.Dates()
	if err != nil {
		return 0, err
	}

	removed := 0
	now := time.Now()
	for _, date := range dates {
		age, err := daykey.AgeDays(date, now)
		if err != nil || age <= retentionDays {
			continue
		}
		if err := m.removeStore(ctx, date); err != nil {
			logging.Warn().Err(err).Str("date", date).Msg("Retention cleanup failed for store")
			continue
		}
		removed++
		logging.Info().Str("date", date).Int("age_days", age).Msg("Removed expired log store")
	}
	return removed, nil
}

// Close checkpoints and closes all open handles.
func (m *Manager) Close() error {
	m.readCache.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for date, db := range m.writes {
		if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
			logging.Warn().Err(err).Str("date", date).Msg("Checkpoint on close failed")
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store %s: %w", date, err)
		}
		metrics.DaylogOpenHandles.Dec()
		delete(m.writes, date)
	}
	return firstErr
}

// writeHandleRecovering opens the write handle, quarantining a corrupt file
// and retrying once on a fresh one so a poisoned day cannot block ingest.
func (m *Manager) writeHandleRecovering(ctx context.Context, date string) (*sql.DB, error) {
	db, err := m.writeHandle(date)
	if err != nil && m.quarantineIfCorrupt(ctx, date, err) {
		return m.writeHandle(date)
	}
	return db, err
}

// writeHandle returns the write handle for the date, opening it (and the
// schema) on first use.
func (m *Manager) writeHandle(date string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.writes[date]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite3", m.Path(date)+writeDSNOptions)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", date, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize store %s: %w", date, err)
		}
	}

	m.writes[date] = db
	metrics.DaylogOpenHandles.Inc()
	return db, nil
}

// readHandle returns a handle suitable for reading the date's store. The
// second return is false when no store file exists.
func (m *Manager) readHandle(date string) (*sql.DB, bool, error) {
	m.mu.Lock()
	if db, ok := m.writes[date]; ok {
		m.mu.Unlock()
		return db, true, nil
	}
	m.mu.Unlock()

	if _, err := os.Stat(m.Path(date)); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat store %s: %w", date, err)
	}

	age, err := daykey.AgeDays(date, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if age <= recentReadDays {
		db, err := m.writeHandle(date)
		return db, err == nil, err
	}

	if cached, ok := m.readCache.Get(date); ok {
		metrics.CacheHits.WithLabelValues("daylog_read").Inc()
		return cached.(*sql.DB), true, nil
	}
	metrics.CacheMisses.WithLabelValues("daylog_read").Inc()

	db, err := sql.Open("sqlite3", "file:"+m.Path(date)+readDSNOptions)
	if err != nil {
		return nil, false, fmt.Errorf("open read handle %s: %w", date, err)
	}
	db.SetMaxOpenConns(1)
	m.readCache.Set(date, db)
	metrics.DaylogOpenHandles.Inc()
	return db, true, nil
}

// quarantineIfCorrupt inspects err for SQLite corruption and, when found,
// deletes the affected store file, alerts the operator and reports true.
// Callers then treat the operation as hitting an empty store.
func (m *Manager) quarantineIfCorrupt(ctx context.Context, date string, err error) bool {
	if !isCorrupt(err) {
		return false
	}

	logging.Error().Err(err).Str("date", date).Msg("Per-day store corrupted, quarantining file")
	metrics.DaylogCorruptions.Inc()

	if removeErr := m.removeStore(ctx, date); removeErr != nil {
		logging.Error().Err(removeErr).Str("date", date).Msg("Failed to remove corrupted store")
	}
	if m.alerter != nil {
		m.alerter.Alert(ctx, "per-day store corrupted", map[string]string{
			"date":  date,
			"error": err.Error(),
		})
	}
	return true
}

// removeStore closes any open handles for the date and deletes the store
// file with its WAL siblings.
func (m *Manager) removeStore(_ context.Context, date string) error {
	m.mu.Lock()
	if db, ok := m.writes[date]; ok {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Str("date", date).Msg("Failed to close write handle before removal")
		}
		delete(m.writes, date)
		metrics.DaylogOpenHandles.Dec()
	}
	m.mu.Unlock()

	m.readCache.Delete(date)

	path := m.Path(date)
	var firstErr error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return firstErr
}

func insertOne(ctx context.Context, db *sql.DB, entry models.LogEntry) (bool, error) {
	createdAt := entry.CreatedAtMs
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO log (user_id, username, timestamp_ms, log_type, data, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Username, entry.TimestampMs, entry.LogType, string(entry.Data), createdAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// isCorrupt classifies SQLite corruption: the typed SQLITE_CORRUPT /
// SQLITE_NOTADB codes plus the "malformed" message form older drivers
// surface.
func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database")
}
