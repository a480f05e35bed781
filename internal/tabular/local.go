// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/logging"
)

// LocalStore is an embedded DuckDB implementation of Store for development
// and single-box deployments without the remote bridge. Worksheets live in
// two tables: a name registry and a (worksheet, row_index) -> cells table
// with cells JSON-encoded.
//
// Appends serialize on a mutex because the next row index is derived from
// the current row count; this store is single-process by construction.
type LocalStore struct {
	conn *sql.DB
	mu   sync.Mutex
}

// NewLocalStore opens (or creates) the DuckDB file at path and initializes
// the schema.
func NewLocalStore(path string) (*LocalStore, error) {
	// Ensure parent directory exists for the database file.
	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}

	connStr := path + "?access_mode=read_write&autoinstall_known_extensions=false&autoload_known_extensions=false"
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	s := &LocalStore{conn: conn}
	if err := s.initialize(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Failed to close local store after init error")
		}
		return nil, fmt.Errorf("failed to initialize local store: %w", err)
	}
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS worksheets (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS worksheet_rows (
			worksheet TEXT NOT NULL,
			row_index BIGINT NOT NULL,
			cells TEXT NOT NULL,
			PRIMARY KEY (worksheet, row_index)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying DuckDB connection.
func (s *LocalStore) Close() error {
	return s.conn.Close()
}

// Worksheets lists all worksheet names in creation order.
func (s *LocalStore) Worksheets(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM worksheets ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list worksheets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan worksheet name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// EnsureWorksheet registers the worksheet and writes the header row when the
// worksheet did not exist yet.
func (s *LocalStore) EnsureWorksheet(ctx context.Context, name string, headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure %q: %w", name, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO worksheets (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("register worksheet %q: %w", name, err)
	}
	if len(headers) > 0 {
		cells, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("encode headers: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO worksheet_rows (worksheet, row_index, cells) VALUES (?, 0, ?)`,
			name, string(cells)); err != nil {
			return fmt.Errorf("write header row %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// DeleteWorksheet removes the worksheet and its rows.
func (s *LocalStore) DeleteWorksheet(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("delete %q: %w", name, ErrWorksheetNotFound)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %q: %w", name, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM worksheet_rows WHERE worksheet = ?`, name); err != nil {
		return fmt.Errorf("delete rows %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM worksheets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deregister worksheet %q: %w", name, err)
	}
	return tx.Commit()
}

// Rows returns all rows in index order, header included.
func (s *LocalStore) Rows(ctx context.Context, worksheet string) ([][]string, error) {
	exists, err := s.exists(ctx, worksheet)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("rows %q: %w", worksheet, ErrWorksheetNotFound)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT cells FROM worksheet_rows WHERE worksheet = ? ORDER BY row_index`, worksheet)
	if err != nil {
		return nil, fmt.Errorf("query rows %q: %w", worksheet, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out [][]string
	for rows.Next() {
		var cells string
		if err := rows.Scan(&cells); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var decoded []string
		if err := json.Unmarshal([]byte(cells), &decoded); err != nil {
			return nil, fmt.Errorf("decode row cells: %w", err)
		}
		out = append(out, decoded)
	}
	return out, rows.Err()
}

// Append adds one row at the end of the worksheet, creating it if needed.
func (s *LocalStore) Append(ctx context.Context, worksheet string, row []string) error {
	return s.AppendBatch(ctx, worksheet, [][]string{row})
}

// AppendBatch adds rows at the end in one transaction, creating the
// worksheet if needed.
func (s *LocalStore) AppendBatch(ctx context.Context, worksheet string, batch [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(ctx, worksheet)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append %q: %w", worksheet, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if !exists {
		if _, err := tx.ExecContext(ctx, `INSERT INTO worksheets (name) VALUES (?)`, worksheet); err != nil {
			return fmt.Errorf("register worksheet %q: %w", worksheet, err)
		}
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_index) + 1, 0) FROM worksheet_rows WHERE worksheet = ?`,
		worksheet).Scan(&next); err != nil {
		return fmt.Errorf("next index %q: %w", worksheet, err)
	}

	for i, row := range batch {
		cells, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO worksheet_rows (worksheet, row_index, cells) VALUES (?, ?, ?)`,
			worksheet, next+int64(i), string(cells)); err != nil {
			return fmt.Errorf("append row %q: %w", worksheet, err)
		}
	}
	return tx.Commit()
}

// UpdateRow replaces the row at the given index.
func (s *LocalStore) UpdateRow(ctx context.Context, worksheet string, index int, row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(ctx, worksheet)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("update %q: %w", worksheet, ErrWorksheetNotFound)
	}

	cells, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE worksheet_rows SET cells = ? WHERE worksheet = ? AND row_index = ?`,
		string(cells), worksheet, index)
	if err != nil {
		return fmt.Errorf("update row %q[%d]: %w", worksheet, index, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row %q[%d]: %w", worksheet, index, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %q row %d: %w", worksheet, index, ErrRowOutOfRange)
	}
	return nil
}

func (s *LocalStore) exists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM worksheets WHERE name = ?`, name).Scan(&count); err != nil {
		return false, fmt.Errorf("check worksheet %q: %w", name, err)
	}
	return count > 0, nil
}
