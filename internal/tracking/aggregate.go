// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/models"
)

// ActionStatusChange is the action name counted as a resident status change.
const ActionStatusChange = "status_change"

const earthRadiusMeters = 6371000.0

// Aggregator maintains the in-memory per-user daily roll-ups. It consumes
// the bus topics and never touches storage; a restart starts the day's
// counters from zero while the per-day stores keep the full data.
type Aggregator struct {
	mu   sync.RWMutex
	days map[string]*dayState
}

// dayState is one (user, date) roll-up plus the walk state the distance
// accumulation needs.
type dayState struct {
	agg       models.DailyAggregate
	lastTs    int64
	lastLat   float64
	lastLon   float64
	addresses map[string]struct{}
}

// NewAggregator creates an empty aggregate store.
func NewAggregator() *Aggregator {
	return &Aggregator{days: make(map[string]*dayState)}
}

// RecordPoints folds GPS samples into the (user, date) roll-up. Samples are
// applied in timestamp order; a sample older than the newest one already
// applied still counts but never contributes distance, so late batches
// cannot inflate the walked distance.
func (a *Aggregator) RecordPoints(userID, username, date string, points []models.LocationPoint) {
	if len(points) == 0 {
		return
	}
	ordered := append([]models.LocationPoint(nil), points...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TimestampMs < ordered[j].TimestampMs })

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(userID, username, date)
	for _, p := range ordered {
		st.agg.GPSPoints++
		st.touch(p.TimestampMs)
		if p.TimestampMs > st.lastTs {
			if st.lastTs != 0 {
				st.agg.DistanceMeters += haversine(st.lastLat, st.lastLon, p.Latitude, p.Longitude)
			}
			st.lastTs = p.TimestampMs
			st.lastLat = p.Latitude
			st.lastLon = p.Longitude
		}
	}
}

// RecordActions folds activity events into the (user, date) roll-up.
func (a *Aggregator) RecordActions(userID, username, date string, events []models.ActionEvent) {
	if len(events) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(userID, username, date)
	for _, ev := range events {
		st.agg.Actions++
		if ev.Action == ActionStatusChange {
			st.agg.StatusChanges++
		}
		if addr := strings.ToLower(strings.TrimSpace(ev.Address)); addr != "" {
			st.addresses[addr] = struct{}{}
		}
		st.touch(ev.TimestampMs)
	}
	st.agg.UniqueAddresses = len(st.addresses)
}

// Snapshot returns a copy of one (user, date) roll-up.
func (a *Aggregator) Snapshot(userID, date string) (models.DailyAggregate, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.days[userID+"|"+date]
	if !ok {
		return models.DailyAggregate{}, false
	}
	return st.agg, true
}

// ForDate returns all roll-ups of one day, ordered by username.
func (a *Aggregator) ForDate(date string) []models.DailyAggregate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []models.DailyAggregate
	for _, st := range a.days {
		if st.agg.Date == date {
			out = append(out, st.agg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Prune drops roll-ups of days before the given key and returns how many
// were removed. Day keys sort lexically.
func (a *Aggregator) Prune(before string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for key, st := range a.days {
		if st.agg.Date < before {
			delete(a.days, key)
			removed++
		}
	}
	return removed
}

// HandlePoints is the bus handler for TopicPoints.
func (a *Aggregator) HandlePoints(msg *message.Message) error {
	var event PointsEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Malformed points event, not aggregating")
		return nil
	}
	a.RecordPoints(event.UserID, event.Username, event.Date, event.Points)
	return nil
}

// HandleActions is the bus handler for TopicActions.
func (a *Aggregator) HandleActions(msg *message.Message) error {
	var event ActionsEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Malformed actions event, not aggregating")
		return nil
	}
	a.RecordActions(event.UserID, event.Username, event.Date, event.Events)
	return nil
}

// state returns the (user, date) entry, creating it on first touch. Caller
// holds the write lock.
func (a *Aggregator) state(userID, username, date string) *dayState {
	key := userID + "|" + date
	st, ok := a.days[key]
	if !ok {
		st = &dayState{
			agg: models.DailyAggregate{
				UserID:   userID,
				Username: username,
				Date:     date,
			},
			addresses: make(map[string]struct{}),
		}
		a.days[key] = st
	}
	return st
}

// touch widens the first/last seen window.
func (s *dayState) touch(ts int64) {
	if ts <= 0 {
		return
	}
	if s.agg.FirstSeenMs == 0 || ts < s.agg.FirstSeenMs {
		s.agg.FirstSeenMs = ts
	}
	if ts > s.agg.LastSeenMs {
		s.agg.LastSeenMs = ts
	}
}

// haversine returns the great-circle distance between two WGS84 coordinates
// in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1*rad)*math.Cos(lat2*rad)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
