// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package cache

import (
	"sync"
	"time"
)

// Entry represents a cached item with expiration
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Cache provides a thread-safe in-memory cache with TTL support and an
// optional eviction callback.
//
// The callback fires for every entry leaving the cache (TTL expiry, Delete,
// Clear, Stop), which lets callers hold closeable resources such as read-only
// store handles: the per-day log store caches *sql.DB read handles for one
// hour and closes them on eviction.
//
// A background janitor removes expired entries once a minute so eviction
// callbacks fire near their deadline even for keys that are never read
// again. Stop terminates the janitor and evicts everything.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	onEvict func(key string, value interface{})
	stop    chan struct{}
	stopped sync.Once
	stats   Stats
}

// Stats tracks cache performance metrics
type Stats struct {
	mu          sync.RWMutex
	Hits        int64
	Misses      int64
	Evictions   int64
	TotalKeys   int64
	LastCleanup time.Time
}

// New creates a cache with the given default TTL and starts the janitor.
func New(ttl time.Duration) *Cache {
	return NewWithEviction(ttl, nil)
}

// NewWithEviction creates a cache whose onEvict callback is invoked for every
// entry removed from the cache. The callback runs outside the cache lock and
// must not call back into the cache.
func NewWithEviction(ttl time.Duration, onEvict func(key string, value interface{})) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		onEvict: onEvict,
		stop:    make(chan struct{}),
		stats: Stats{
			LastCleanup: time.Now(),
		},
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value by key. Expired entries are removed (and their
// eviction callback fired) on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry in the meantime.
		current, still := c.entries[key]
		if still && time.Now().After(current.ExpiresAt) {
			delete(c.entries, key)
		} else {
			still = false
		}
		c.mu.Unlock()

		if still {
			c.evicted(key, current.Data)
			c.recordEviction()
		}
		c.recordMiss()
		return nil, false
	}

	c.recordHit()
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL. Replacing an existing entry
// fires the eviction callback for the old value.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	old, replaced := c.entries[key]
	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}
	total := int64(len(c.entries))
	c.mu.Unlock()

	if replaced {
		c.evicted(key, old.Data)
	}

	c.stats.mu.Lock()
	c.stats.TotalKeys = total
	c.stats.mu.Unlock()
}

// Delete removes a cache entry. No-op for missing keys.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	old, existed := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if existed {
		c.evicted(key, old.Data)
		c.recordEviction()
	}
}

// Clear removes all entries, firing the eviction callback for each.
func (c *Cache) Clear() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	for key, entry := range old {
		c.evicted(key, entry.Data)
	}

	c.stats.mu.Lock()
	c.stats.Evictions += int64(len(old))
	c.stats.TotalKeys = 0
	c.stats.mu.Unlock()
}

// Stop terminates the janitor and evicts all entries. The cache must not be
// used afterwards.
func (c *Cache) Stop() {
	c.stopped.Do(func() {
		close(c.stop)
	})
	c.Clear()
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetStats returns a snapshot of current cache performance statistics.
func (c *Cache) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return Stats{
		Hits:        c.stats.Hits,
		Misses:      c.stats.Misses,
		Evictions:   c.stats.Evictions,
		TotalKeys:   c.stats.TotalKeys,
		LastCleanup: c.stats.LastCleanup,
	}
}

// HitRate returns the cache hit rate as a percentage
func (c *Cache) HitRate() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(stats.Hits) / float64(total) * 100.0
}

// cleanupLoop periodically removes expired entries until Stop is called.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	now := time.Now()

	c.mu.Lock()
	var expired []struct {
		key   string
		value interface{}
	}
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired = append(expired, struct {
				key   string
				value interface{}
			}{key, entry.Data})
			delete(c.entries, key)
		}
	}
	total := int64(len(c.entries))
	c.mu.Unlock()

	for _, e := range expired {
		c.evicted(e.key, e.value)
	}

	c.stats.mu.Lock()
	c.stats.Evictions += int64(len(expired))
	c.stats.TotalKeys = total
	c.stats.LastCleanup = now
	c.stats.mu.Unlock()
}

func (c *Cache) evicted(key string, value interface{}) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}

// recordHit increments the hit counter
func (c *Cache) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

// recordMiss increments the miss counter
func (c *Cache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

// recordEviction increments the eviction counter
func (c *Cache) recordEviction() {
	c.stats.mu.Lock()
	c.stats.Evictions++
	c.stats.mu.Unlock()
}
