// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package cache

import (
	"sort"
	"strings"
	"sync"
)

// TrieNode represents a node in the Trie.
type TrieNode struct {
	children map[rune]*TrieNode
	isEnd    bool   // Marks end of a complete entry
	value    string // The display form stored at this node (if isEnd is true)
	count    int    // Number of times this key has been inserted (for ranking)
}

// Trie implements a thread-safe prefix tree used for street-name
// autocomplete. Keys are the normalized street forms (lowercased, umlauts
// folded), values the display forms shown to clients; lookups therefore
// match "hauptstr" against "Hauptstraße".
//
// Results are ranked by insertion count, so streets with many datasets
// surface first. Entries are never removed: datasets are never deleted, and
// a street once seen stays suggestible.
type Trie struct {
	mu             sync.RWMutex
	root           *TrieNode
	size           int // Number of complete entries
	maxSuggestions int
}

// TrieResult represents a match from the Trie.
type TrieResult struct {
	Value string // The display form
	Count int    // Number of times this key was inserted
}

// NewTrie creates a new Trie returning at most 10 suggestions per lookup.
func NewTrie() *Trie {
	return &Trie{
		root:           newTrieNode(),
		maxSuggestions: 10,
	}
}

func newTrieNode() *TrieNode {
	return &TrieNode{
		children: make(map[rune]*TrieNode),
	}
}

// Insert adds an entry whose key is the lowercased value.
// Returns true if this is a new entry, false if the count was incremented.
func (t *Trie) Insert(value string) bool {
	return t.InsertKeyed(strings.ToLower(value), value)
}

// InsertKeyed adds an entry under an explicit lookup key, storing value as
// the display form. Re-inserting an existing key increments its count and
// refreshes the display form.
func (t *Trie) InsertKeyed(key, value string) bool {
	if key == "" || value == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, ch := range strings.ToLower(key) {
		if node.children[ch] == nil {
			node.children[ch] = newTrieNode()
		}
		node = node.children[ch]
	}

	isNew := !node.isEnd

	node.isEnd = true
	node.value = value
	node.count++

	if isNew {
		t.size++
	}

	return isNew
}

// Autocomplete returns entries whose key starts with the given prefix,
// sorted by count (descending) then display form, capped at the suggestion
// limit.
func (t *Trie) Autocomplete(prefix string) []TrieResult {
	return t.AutocompleteWithLimit(prefix, t.maxSuggestions)
}

// AutocompleteWithLimit is Autocomplete with an explicit result cap.
func (t *Trie) AutocompleteWithLimit(prefix string, limit int) []TrieResult {
	if limit <= 0 {
		limit = t.maxSuggestions
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	for _, ch := range strings.ToLower(prefix) {
		if node.children[ch] == nil {
			return nil // No matches
		}
		node = node.children[ch]
	}

	var results []TrieResult
	collectEntries(node, &results)

	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Value < results[j].Value
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results
}

// collectEntries recursively collects all complete entries below a node.
func collectEntries(node *TrieNode, results *[]TrieResult) {
	if node == nil {
		return
	}

	if node.isEnd {
		*results = append(*results, TrieResult{
			Value: node.value,
			Count: node.count,
		})
	}

	for _, child := range node.children {
		collectEntries(child, results)
	}
}

// Size returns the number of complete entries in the Trie.
func (t *Trie) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Clear removes all entries.
func (t *Trie) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.root = newTrieNode()
	t.size = 0
}
