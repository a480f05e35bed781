// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package wal journals batched-writer entries to BadgerDB before they reach
// the backing store.
//
// Every enqueued export entry is written here first and confirmed once it
// has been flushed to the backing store or spilled to the fallback file. On
// startup, unconfirmed entries are recovered into their queues, so a crash
// between enqueue and flush loses nothing.
package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
)

var (
	ErrClosed        = errors.New("journal is closed")
	ErrEmptyEntryID  = errors.New("entry id is empty")
	ErrEntryNotFound = errors.New("journal entry not found")
)

const pendingPrefix = "pending:"

// Entry is one journaled export entry. Queue names the batched-writer queue
// the entry belongs to; Payload is the queue's serialized entry.
type Entry struct {
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Journal is a BadgerDB-backed write journal. Confirmed entries are deleted
// immediately; only unconfirmed work survives a restart.
type Journal struct {
	db *badger.DB

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the journal at path. SyncWrites is on: an
// acknowledged Write has reached disk.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal at %q: %w", path, err)
	}

	j := &Journal{db: db}
	logging.Info().Str("path", path).Msg("Write journal opened")
	return j, nil
}

// Write persists one entry for the named queue and returns its id.
func (j *Journal) Write(_ context.Context, queue string, payload any) (string, error) {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return "", ErrClosed
	}
	j.mu.RUnlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	// Nanosecond-prefixed ids keep badger's key order equal to write order,
	// so recovery replays entries in the order they were enqueued.
	entry := Entry{
		ID:        fmt.Sprintf("%020d-%s", time.Now().UnixNano(), uuid.NewString()[:8]),
		Queue:     queue,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	key := []byte(pendingPrefix + entry.ID)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("journal write: %w", err)
	}

	j.totalWrites.Add(1)
	metrics.WriterJournalPending.Set(float64(j.pendingCount()))
	return entry.ID, nil
}

// Confirm deletes the entry; its payload has reached the backing store or
// the fallback file and no longer needs crash protection.
func (j *Journal) Confirm(_ context.Context, entryID string) error {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	j.mu.RUnlock()

	if entryID == "" {
		return ErrEmptyEntryID
	}

	key := []byte(pendingPrefix + entryID)
	err := j.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}

	j.totalConfirms.Add(1)
	metrics.WriterJournalPending.Set(float64(j.pendingCount()))
	return nil
}

// Pending returns all unconfirmed entries in write order.
func (j *Journal) Pending(ctx context.Context) ([]*Entry, error) {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return nil, ErrClosed
	}
	j.mu.RUnlock()

	var entries []*Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Journal entry unreadable, skipping")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// PendingCount returns the number of unconfirmed entries.
func (j *Journal) PendingCount() int {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return 0
	}
	j.mu.RUnlock()
	return j.pendingCount()
}

func (j *Journal) pendingCount() int {
	count := 0
	_ = j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Close shuts the journal down. Further calls fail with ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	return j.db.Close()
}
