// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package dataset

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
)

// lockTable holds the in-flight creation locks, keyed by
// "<normalizedAddress>:<username>". A lock guards one creation attempt; a
// holder that disappears is presumed dead once the TTL passed and its lock
// may be stolen.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]time.Time
	ttl   time.Duration
}

func newLockTable(ttl time.Duration) *lockTable {
	return &lockTable{
		locks: make(map[string]time.Time),
		ttl:   ttl,
	}
}

// acquire takes the lock for key. It fails only when a live lock (younger
// than the TTL) exists; stale locks are overwritten.
func (t *lockTable) acquire(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if acquiredAt, ok := t.locks[key]; ok && now.Sub(acquiredAt) < t.ttl {
		return false
	}
	t.locks[key] = now
	metrics.DatasetCreationLocks.Set(float64(len(t.locks)))
	return true
}

// release drops the lock for key.
func (t *lockTable) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, key)
	metrics.DatasetCreationLocks.Set(float64(len(t.locks)))
}

// sweep evicts locks older than the TTL and returns how many were evicted.
func (t *lockTable) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for key, acquiredAt := range t.locks {
		if now.Sub(acquiredAt) >= t.ttl {
			delete(t.locks, key)
			evicted++
		}
	}
	metrics.DatasetCreationLocks.Set(float64(len(t.locks)))
	return evicted
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// JanitorLoop sweeps stale creation locks until ctx is cancelled. Locks are
// normally released inline at the end of a creation; the janitor only
// catches holders that died mid-flight.
func (e *Engine) JanitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.janitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if evicted := e.locks.sweep(time.Now()); evicted > 0 {
				logging.Warn().Int("evicted", evicted).Msg("Evicted stale creation locks")
			}
		}
	}
}
