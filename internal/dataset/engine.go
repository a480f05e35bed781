// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package dataset is the authoritative engine for per-address resident
// records.
//
// All reads are served from the in-process cache; the backing store is
// written asynchronously by the flusher and read exactly once at startup.
// A request never falls through to the backing store: a cache miss is an
// empty result. Creation is guarded per (address, user) by short-lived
// locks, and every address is protected by the edit window - one editable
// dataset per normalized address at a time.
package dataset

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/ostiarius/internal/address"
	"github.com/tomtom215/ostiarius/internal/cache"
	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/housenumber"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/tabular"
)

// Defaults for Config fields left zero.
const (
	DefaultWorksheet     = "datasets"
	defaultEditWindow    = 30 * 24 * time.Hour
	defaultFlushInterval = 60 * time.Second
	defaultLockTTL       = 30 * time.Second
	defaultJanitorEvery  = 5 * time.Second
)

var postalPattern = regexp.MustCompile(`^\d{5}$`)

// Normalizer resolves raw addresses into canonical normalized form. The
// geocode queue implements it.
type Normalizer interface {
	Normalize(ctx context.Context, addr models.Address) (*models.NormalizedAddress, error)
}

// CustomerSource answers which master-list customers live at an address.
// The customer cache implements it.
type CustomerSource interface {
	AtAddress(ctx context.Context, addr models.Address) ([]models.Customer, error)
}

// CategoryChangeSink receives resident category transitions for export. The
// batched writer implements it.
type CategoryChangeSink interface {
	RecordCategoryChange(ctx context.Context, change models.CategoryChange)
}

// Config carries the tunables of the engine. Zero values select defaults.
type Config struct {
	Worksheet     string
	EditWindow    time.Duration
	FlushInterval time.Duration
	LockTTL       time.Duration
	JanitorEvery  time.Duration

	// CategoryChanges receives resident category transitions on edits.
	// nil disables recording.
	CategoryChanges CategoryChangeSink
}

// Engine owns the dataset cache, the creation locks and the dirty set.
type Engine struct {
	store      tabular.Store
	worksheet  string
	normalizer Normalizer
	customers  CustomerSource
	changes    CategoryChangeSink

	editWindow    time.Duration
	flushInterval time.Duration
	janitorEvery  time.Duration

	locks   *lockTable
	streets *cache.Trie

	idMu     sync.Mutex
	idLastMs int64

	mu       sync.RWMutex
	byID     map[string]*models.AddressDataset
	byAddr   map[string][]string // street|postal key -> dataset ids
	byStreet map[string][]string // street key -> dataset ids
	rowIndex map[string]int      // dataset id -> worksheet row index
	versions map[string]uint64   // bumped on every mutation
	dirty    map[string]struct{}
	nextRow  int
	loaded   bool

	lastFlushAt  *time.Time
	lastLoadedAt *time.Time
}

// New creates a dataset engine. Call Load before serving traffic and run
// FlushLoop and JanitorLoop as supervised services.
func New(store tabular.Store, normalizer Normalizer, customers CustomerSource, cfg Config) *Engine {
	if cfg.Worksheet == "" {
		cfg.Worksheet = DefaultWorksheet
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = defaultEditWindow
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.JanitorEvery <= 0 {
		cfg.JanitorEvery = defaultJanitorEvery
	}

	return &Engine{
		store:         store,
		worksheet:     cfg.Worksheet,
		normalizer:    normalizer,
		customers:     customers,
		changes:       cfg.CategoryChanges,
		editWindow:    cfg.EditWindow,
		flushInterval: cfg.FlushInterval,
		janitorEvery:  cfg.JanitorEvery,
		locks:         newLockTable(cfg.LockTTL),
		streets:       cache.NewTrie(),
		byID:          make(map[string]*models.AddressDataset),
		byAddr:        make(map[string][]string),
		byStreet:      make(map[string][]string),
		rowIndex:      make(map[string]int),
		versions:      make(map[string]uint64),
		dirty:         make(map[string]struct{}),
	}
}

// Create validates, normalizes and stores a new dataset for the given user.
// The returned dataset carries CanEdit=true and the normalized address. The
// backing-store write happens on the flusher's schedule, never inline.
func (e *Engine) Create(ctx context.Context, username string, addr models.Address, residents []models.Resident, raw json.RawMessage) (*models.AddressDataset, error) {
	if !e.isLoaded() {
		return nil, ErrNotReady
	}
	if verr := validateAddress(addr); verr != nil {
		return nil, verr
	}

	norm, err := e.normalizer.Normalize(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("address normalization failed: %w", err)
	}

	now := time.Now()

	// Fast conflict check before taking the lock; rechecked under the
	// cache lock before insert.
	if conflict := e.findConflict(norm, username, now); conflict != nil {
		return nil, conflict
	}

	lockKey := norm.Formatted + ":" + username
	if !e.locks.acquire(lockKey, now) {
		metrics.DatasetConflicts.WithLabelValues("lock").Inc()
		return nil, ErrLockHeld
	}
	defer e.locks.release(lockKey)

	ds := &models.AddressDataset{
		ID:                e.newID(now),
		NormalizedAddress: norm.Formatted,
		Street:            norm.Street,
		HouseNumber:       norm.HouseNumber,
		PostalCode:        norm.PostalCode,
		City:              norm.City,
		Latitude:          norm.Latitude,
		Longitude:         norm.Longitude,
		Validated:         norm.Validated,
		CreatedBy:         username,
		CreatedAt:         now,
		RawResidentData:   raw,
		EditableResidents: copyResidents(residents),
	}

	e.mu.Lock()
	if conflict := e.findConflictLocked(norm, username, now); conflict != nil {
		e.mu.Unlock()
		return nil, conflict
	}
	e.insertLocked(ds, -1)
	e.markDirtyLocked(ds.ID)
	cached := len(e.byID)
	e.mu.Unlock()

	metrics.DatasetCacheSize.Set(float64(cached))
	logging.Info().Str("dataset_id", ds.ID).Str("address", ds.NormalizedAddress).Str("user", username).Bool("validated", ds.Validated).Msg("Dataset created")

	return e.decorate(ctx, ds, username, now), nil
}

// ByAddress returns the cached datasets at the given street and postal code
// whose house-number groups overlap the queried expression, newest first.
// IsNonExactMatch marks results whose stored group differs textually from
// the query.
func (e *Engine) ByAddress(ctx context.Context, username string, addr models.Address, limit int) []*models.AddressDataset {
	if !e.isLoaded() {
		return nil
	}

	now := time.Now()
	queryNumber := strings.TrimSpace(addr.HouseNumber)

	e.mu.RLock()
	ids := e.byAddr[addrKey(addr.Street, addr.PostalCode)]
	matches := make([]*models.AddressDataset, 0, len(ids))
	for _, id := range ids {
		ds := e.byID[id]
		if queryNumber != "" && !housenumber.Matches(ds.HouseNumber, queryNumber) {
			continue
		}
		matches = append(matches, ds)
	}
	e.mu.RUnlock()

	sortByCreatedAtDesc(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]*models.AddressDataset, len(matches))
	for i, ds := range matches {
		out[i] = e.decorate(ctx, ds, username, now)
		if queryNumber != "" && strings.TrimSpace(ds.HouseNumber) != queryNumber {
			out[i].IsNonExactMatch = true
		}
	}
	return out
}

// Lookup is ByAddress with prior normalization: the query runs through the
// normalizer first so variant spellings land on the canonical street. The
// boolean reports whether a creation at this address would currently clear
// the edit window, letting clients offer "new dataset" only when a create
// would succeed. Normalization failures degrade to matching the raw fields.
func (e *Engine) Lookup(ctx context.Context, username string, addr models.Address, limit int) ([]*models.AddressDataset, bool) {
	if !e.isLoaded() {
		return nil, false
	}

	lookup := addr
	if norm, err := e.normalizer.Normalize(ctx, addr); err != nil {
		logging.Warn().Err(err).Str("street", addr.Street).Msg("Lookup normalization failed, matching raw address")
	} else {
		lookup = models.Address{
			Street:      norm.Street,
			HouseNumber: norm.HouseNumber,
			PostalCode:  norm.PostalCode,
			City:        norm.City,
		}
	}
	results := e.ByAddress(ctx, username, lookup, limit)

	now := time.Now()
	e.mu.RLock()
	blocked := e.windowBlockedLocked(lookup.Street, lookup.PostalCode, lookup.HouseNumber, now)
	e.mu.RUnlock()

	return results, blocked == nil
}

// SearchLocal is ByAddress without prior normalization, used by clients that
// already hold exact fields. It requires a five-digit postal code and a
// non-empty house number; anything else returns empty rather than guessing.
func (e *Engine) SearchLocal(ctx context.Context, username string, addr models.Address, limit int) []*models.AddressDataset {
	if !postalPattern.MatchString(strings.TrimSpace(addr.PostalCode)) {
		return nil
	}
	if strings.TrimSpace(addr.HouseNumber) == "" {
		return nil
	}
	return e.ByAddress(ctx, username, addr, limit)
}

// ByID returns one dataset with derived fields for the given user.
func (e *Engine) ByID(ctx context.Context, username, id string) (*models.AddressDataset, error) {
	e.mu.RLock()
	ds, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e.decorate(ctx, ds, username, time.Now()), nil
}

// UpdateResident upserts or deletes a single resident. A nil resident
// deletes the entry at index; an index at or past the end appends. Only the
// creator may mutate, and only within the edit window.
func (e *Engine) UpdateResident(ctx context.Context, username, id string, index int, resident *models.Resident) (*models.AddressDataset, error) {
	now := time.Now()
	var change *models.CategoryChange

	e.mu.Lock()
	ds, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	if !ds.EditableBy(username, now, e.editWindow) {
		e.mu.Unlock()
		return nil, ErrForbidden
	}

	if resident == nil {
		if index < 0 || index >= len(ds.EditableResidents) {
			e.mu.Unlock()
			return nil, ErrInvalidIndex
		}
		ds.EditableResidents = append(ds.EditableResidents[:index], ds.EditableResidents[index+1:]...)
	} else {
		r := *resident
		r.ApplyStatusRule()
		if index < 0 {
			e.mu.Unlock()
			return nil, ErrInvalidIndex
		}
		if index >= len(ds.EditableResidents) {
			ds.EditableResidents = append(ds.EditableResidents, r)
		} else {
			change = categoryTransition(ds, ds.EditableResidents[index], r, username, now)
			ds.EditableResidents[index] = r
		}
	}
	e.markDirtyLocked(id)
	e.mu.Unlock()

	if change != nil {
		e.recordCategoryChange(ctx, *change)
	}
	return e.decorate(ctx, ds, username, now), nil
}

// BulkUpdateResidents replaces the whole editable resident list atomically.
func (e *Engine) BulkUpdateResidents(ctx context.Context, username, id string, residents []models.Resident) (*models.AddressDataset, error) {
	now := time.Now()

	e.mu.Lock()
	ds, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	if !ds.EditableBy(username, now, e.editWindow) {
		e.mu.Unlock()
		return nil, ErrForbidden
	}
	previous := ds.EditableResidents
	ds.EditableResidents = copyResidents(residents)
	changes := categoryTransitions(ds, previous, ds.EditableResidents, username, now)
	e.markDirtyLocked(id)
	e.mu.Unlock()

	for _, change := range changes {
		e.recordCategoryChange(ctx, change)
	}
	return e.decorate(ctx, ds, username, now), nil
}

// UserDatasetsByDate returns the datasets a user created on the given
// Berlin calendar day, newest first.
func (e *Engine) UserDatasetsByDate(ctx context.Context, username, date string) []*models.AddressDataset {
	if !e.isLoaded() {
		return nil
	}
	now := time.Now()

	e.mu.RLock()
	var matches []*models.AddressDataset
	for _, ds := range e.byID {
		if ds.CreatedBy != username {
			continue
		}
		if daykey.FromTime(ds.CreatedAt) != date {
			continue
		}
		matches = append(matches, ds)
	}
	e.mu.RUnlock()

	sortByCreatedAtDesc(matches)
	out := make([]*models.AddressDataset, len(matches))
	for i, ds := range matches {
		out[i] = e.decorate(ctx, ds, username, now)
	}
	return out
}

// StreetDatasets returns the most recent dataset per house-number group on
// the given street, newest first.
func (e *Engine) StreetDatasets(ctx context.Context, username, street string) []*models.AddressDataset {
	if !e.isLoaded() {
		return nil
	}
	now := time.Now()

	e.mu.RLock()
	newest := make(map[string]*models.AddressDataset)
	for _, id := range e.byStreet[address.NormalizeStreet(street)] {
		ds := e.byID[id]
		group := strings.TrimSpace(strings.ToLower(ds.HouseNumber))
		if current, ok := newest[group]; !ok || ds.CreatedAt.After(current.CreatedAt) {
			newest[group] = ds
		}
	}
	matches := make([]*models.AddressDataset, 0, len(newest))
	for _, ds := range newest {
		matches = append(matches, ds)
	}
	e.mu.RUnlock()

	sortByCreatedAtDesc(matches)
	out := make([]*models.AddressDataset, len(matches))
	for i, ds := range matches {
		out[i] = e.decorate(ctx, ds, username, now)
	}
	return out
}

// SuggestStreets returns up to limit street names starting with the given
// prefix, most-used first. Prefixes match across umlaut spellings.
func (e *Engine) SuggestStreets(prefix string, limit int) []string {
	results := e.streets.AutocompleteWithLimit(address.FoldUmlauts(prefix), limit)
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out
}

// Status returns the monitoring snapshot of the engine.
func (e *Engine) Status() models.DatasetEngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := models.DatasetEngineStatus{
		Loaded:      e.loaded,
		CachedCount: len(e.byID),
		DirtyCount:  len(e.dirty),
		ActiveLocks: e.locks.size(),
	}
	if e.lastFlushAt != nil {
		at := *e.lastFlushAt
		st.LastFlushAt = &at
	}
	if e.lastLoadedAt != nil {
		at := *e.lastLoadedAt
		st.LastLoadedAt = &at
	}
	return st
}

// findConflict checks the edit window for the normalized address without
// holding the write lock.
func (e *Engine) findConflict(norm *models.NormalizedAddress, username string, now time.Time) *ConflictError {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.findConflictLocked(norm, username, now)
}

// windowBlockedLocked returns the dataset blocking a creation at the given
// street, postal code and house-number group, or nil when the window is
// clear. A blocker is any dataset whose group overlaps the queried one and
// whose creation lies within the edit window (two-sided, absorbing
// future-skewed rows). Caller holds e.mu.
func (e *Engine) windowBlockedLocked(street, postal, number string, now time.Time) *models.AddressDataset {
	for _, id := range e.byAddr[addrKey(street, postal)] {
		ds := e.byID[id]
		if !housenumber.Matches(ds.HouseNumber, number) {
			continue
		}
		diff := now.Sub(ds.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= e.editWindow {
			return ds
		}
	}
	return nil
}

// findConflictLocked returns the conflict for a creation at the normalized
// address, or nil.
func (e *Engine) findConflictLocked(norm *models.NormalizedAddress, username string, now time.Time) *ConflictError {
	ds := e.windowBlockedLocked(norm.Street, norm.PostalCode, norm.HouseNumber, now)
	if ds == nil {
		return nil
	}

	diff := now.Sub(ds.CreatedAt)
	if diff < 0 {
		diff = -diff
	}
	daysSince := int(diff.Hours() / 24)
	daysUntil := int(e.editWindow.Hours()/24) - daysSince
	if daysUntil < 0 {
		daysUntil = 0
	}

	conflict := models.DatasetConflict{
		Error:               "ADDRESS_CONFLICT",
		ExistingCreator:     ds.CreatedBy,
		IsOwnDataset:        ds.CreatedBy == username,
		DaysSinceCreation:   daysSince,
		DaysUntilNewAllowed: daysUntil,
	}
	if conflict.IsOwnDataset {
		conflict.Message = "Sie haben für diese Adresse bereits einen Datensatz angelegt"
		conflict.ExistingDataset = ds.Clone()
		metrics.DatasetConflicts.WithLabelValues("own").Inc()
	} else {
		conflict.Message = fmt.Sprintf("Für diese Adresse existiert bereits ein Datensatz von %s", ds.CreatedBy)
		metrics.DatasetConflicts.WithLabelValues("other").Inc()
	}
	return &ConflictError{Conflict: conflict}
}

// insertLocked adds a dataset to the cache and all indexes. rowIdx >= 0
// records an existing worksheet row; -1 marks a dataset not yet persisted.
// Caller holds e.mu.
func (e *Engine) insertLocked(ds *models.AddressDataset, rowIdx int) {
	e.byID[ds.ID] = ds

	ak := addrKey(ds.Street, ds.PostalCode)
	e.byAddr[ak] = append(e.byAddr[ak], ds.ID)
	sk := address.NormalizeStreet(ds.Street)
	e.byStreet[sk] = append(e.byStreet[sk], ds.ID)
	if rowIdx >= 0 {
		e.rowIndex[ds.ID] = rowIdx
	}

	e.streets.InsertKeyed(address.FoldUmlauts(ds.Street), ds.Street)
}

// markDirtyLocked bumps the version and marks the dataset for the next
// flush. Caller holds e.mu.
func (e *Engine) markDirtyLocked(id string) {
	e.versions[id]++
	e.dirty[id] = struct{}{}
	metrics.DatasetDirtyEntries.Set(float64(len(e.dirty)))
}

// decorate clones a dataset and stamps the derived per-request fields:
// CanEdit for the requesting user and the FixedCustomers mirror from the
// master list. Mirror failures degrade to an un-mirrored dataset.
func (e *Engine) decorate(ctx context.Context, ds *models.AddressDataset, username string, now time.Time) *models.AddressDataset {
	out := ds.Clone()
	out.CanEdit = out.EditableBy(username, now, e.editWindow)

	if e.customers == nil {
		return out
	}
	matches, err := e.customers.AtAddress(ctx, models.Address{
		Street:      out.Street,
		HouseNumber: out.HouseNumber,
		PostalCode:  out.PostalCode,
		City:        out.City,
	})
	if err != nil {
		logging.Warn().Err(err).Str("dataset_id", out.ID).Msg("Customer mirror unavailable for dataset read")
		return out
	}
	for _, customer := range matches {
		if !customer.IsExisting {
			continue
		}
		out.FixedCustomers = append(out.FixedCustomers, models.Resident{
			Name:     customer.Name,
			Category: models.CategoryExistingCustomer,
			IsFixed:  true,
		})
	}
	return out
}

// recordCategoryChange hands a transition to the configured sink. Called
// outside e.mu; the sink may block on its queue.
func (e *Engine) recordCategoryChange(ctx context.Context, change models.CategoryChange) {
	if e.changes == nil {
		return
	}
	e.changes.RecordCategoryChange(ctx, change)
	logging.Debug().Str("dataset_id", change.DatasetID).Str("resident", change.Resident).Str("from", change.From).Str("to", change.To).Msg("Resident category change recorded")
}

func (e *Engine) isLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// validateAddress checks completeness and house-number format. Messages are
// user-facing German.
func validateAddress(addr models.Address) *ValidationError {
	var missing []string
	if strings.TrimSpace(addr.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(addr.HouseNumber) == "" {
		missing = append(missing, "houseNumber")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		missing = append(missing, "postalCode")
	}
	if len(missing) > 0 {
		return &ValidationError{
			Message:       "Adresse unvollständig: " + strings.Join(missing, ", "),
			MissingFields: missing,
		}
	}

	if !housenumber.IsValid(addr.HouseNumber) {
		return &ValidationError{
			Message: fmt.Sprintf("Ungültige Hausnummer: %q", addr.HouseNumber),
		}
	}
	return nil
}

// addrKey is the lookup key for "same street and postal code".
func addrKey(street, postal string) string {
	return address.NormalizeStreet(street) + "|" + address.NormalizePostal(postal)
}

// newID builds a sortable dataset id from the creation time and a random
// suffix. Two ids issued within the same millisecond get strictly
// increasing prefixes, so id order is creation order.
func (e *Engine) newID(now time.Time) string {
	ms := now.UnixMilli()
	e.idMu.Lock()
	if ms <= e.idLastMs {
		ms = e.idLastMs + 1
	}
	e.idLastMs = ms
	e.idMu.Unlock()
	return fmt.Sprintf("%d-%s", ms, uuid.NewString()[:8])
}

func copyResidents(residents []models.Resident) []models.Resident {
	out := make([]models.Resident, len(residents))
	copy(out, residents)
	for i := range out {
		out[i].ApplyStatusRule()
	}
	return out
}

// categoryTransition reports an in-place edit that moves a resident to
// another category, or nil. Renames do not count; the entry must keep its
// name for the transition to be attributable to one person.
func categoryTransition(ds *models.AddressDataset, prev, next models.Resident, username string, now time.Time) *models.CategoryChange {
	if !strings.EqualFold(strings.TrimSpace(prev.Name), strings.TrimSpace(next.Name)) {
		return nil
	}
	if prev.Category == next.Category {
		return nil
	}
	return &models.CategoryChange{
		DatasetID: ds.ID,
		Address:   ds.NormalizedAddress,
		Resident:  strings.TrimSpace(next.Name),
		From:      prev.Category,
		To:        next.Category,
		ChangedBy: username,
		ChangedAt: now,
	}
}

// categoryTransitions diffs a bulk replacement by resident name. The first
// occurrence wins on duplicate names; unnamed entries are skipped.
func categoryTransitions(ds *models.AddressDataset, previous, current []models.Resident, username string, now time.Time) []models.CategoryChange {
	if len(previous) == 0 || len(current) == 0 {
		return nil
	}
	prevCategory := make(map[string]string, len(previous))
	for _, r := range previous {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" {
			continue
		}
		if _, ok := prevCategory[key]; !ok {
			prevCategory[key] = r.Category
		}
	}

	var changes []models.CategoryChange
	seen := make(map[string]struct{}, len(current))
	for _, r := range current {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		from, ok := prevCategory[key]
		if !ok || from == r.Category {
			continue
		}
		changes = append(changes, models.CategoryChange{
			DatasetID: ds.ID,
			Address:   ds.NormalizedAddress,
			Resident:  strings.TrimSpace(r.Name),
			From:      from,
			To:        r.Category,
			ChangedBy: username,
			ChangedAt: now,
		})
	}
	return changes
}

func sortByCreatedAtDesc(datasets []*models.AddressDataset) {
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].CreatedAt.After(datasets[j].CreatedAt)
	})
}
