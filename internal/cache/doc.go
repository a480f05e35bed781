// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package cache provides thread-safe in-memory caching with TTL support and a
prefix tree for street-name autocomplete.

# TTL Cache

Cache is a simple key-value store with per-entry expiration and an optional
eviction callback:
  - Thread-safe concurrent access (sync.RWMutex)
  - Time-to-live (TTL) expiration per entry, lazy on Get plus a background
    janitor sweep once a minute
  - Eviction callback fired for every entry leaving the cache, so callers
    can release resources held by cached values
  - Hit/miss/eviction statistics

The per-day location store is the main consumer: it caches read-only store
handles for one hour and closes each handle from the eviction callback. The
user directory and customer caches deliberately do not use it; they keep a
stale copy to serve through backing-store outages, which a TTL cache would
throw away.

Basic caching:

	c := cache.New(5 * time.Minute)
	c.Set("streets", list)

	if value, ok := c.Get("streets"); ok {
	    list := value.([]string)
	}

Caching closeable resources:

	c := cache.NewWithEviction(time.Hour, func(key string, value interface{}) {
	    value.(*sql.DB).Close()
	})
	defer c.Stop()

Stop terminates the janitor and evicts everything; a cache holding closeable
values must be stopped on shutdown or the handles leak.

# Street-Name Trie

Trie is a prefix tree keyed by normalized street forms (lowercased, umlauts
folded) that stores display forms as values, so a lookup for "hauptstr"
surfaces "Hauptstraße". Re-inserting a key increments its count; lookups rank
by count so streets with many datasets come first. The dataset engine feeds
the trie at startup load and on every created dataset, and serves the street
autocomplete endpoint from it:

	streets := cache.NewTrie()
	streets.InsertKeyed("hauptstrasse", "Hauptstraße")

	for _, r := range streets.Autocomplete("hauptstr") {
	    fmt.Println(r.Value, r.Count)
	}

Entries are never removed from the trie: datasets are never deleted, and a
street once seen stays suggestible until restart.
*/
package cache
