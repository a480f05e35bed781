// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

// Package tracking ingests GPS samples and activity events from the three
// producer paths (in-app live push, external tracker push, provider pull)
// into the per-day log stores, and runs the reconciler that folds unassigned
// tracker worksheets back into user data.
//
// The per-day store write is authoritative. After it succeeds, the ingestor
// publishes the batch on an in-process bus; the daily aggregate and the
// backing-store export feeder consume it independently and degrade to
// warnings on failure.
package tracking

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/daylog"
	"github.com/tomtom215/ostiarius/internal/logging"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/models"
	"github.com/tomtom215/ostiarius/internal/writer"
)

// Bus topics.
const (
	TopicPoints  = "tracking.points"
	TopicActions = "tracking.actions"
)

// PointsEvent is published after GPS samples of one user and one Berlin day
// were written to the per-day store.
type PointsEvent struct {
	UserID   string                 `json:"userId"`
	Username string                 `json:"username"`
	Date     string                 `json:"date"`
	Source   string                 `json:"source"`
	Points   []models.LocationPoint `json:"points"`
}

// ActionsEvent is the activity counterpart of PointsEvent.
type ActionsEvent struct {
	UserID   string               `json:"userId"`
	Username string               `json:"username"`
	Date     string               `json:"date"`
	Events   []models.ActionEvent `json:"events"`
}

// EventPublisher is the bus surface the ingestor needs. Implemented by Bus.
type EventPublisher interface {
	Publish(topic string, msg *message.Message) error
}

// LocationIngestor is the ingest surface the external receiver and the
// provider poller depend on. Implemented by Ingestor.
type LocationIngestor interface {
	IngestLocations(ctx context.Context, user models.User, points []models.LocationPoint, source string) (int, error)
}

// Ingestor writes tracking data to the per-day stores and announces
// successful writes on the bus.
type Ingestor struct {
	days *daylog.Manager
	bus  EventPublisher
}

// NewIngestor creates an ingestor. bus may be nil; ingestion then skips the
// aggregate and export fan-out.
func NewIngestor(days *daylog.Manager, bus EventPublisher) *Ingestor {
	return &Ingestor{days: days, bus: bus}
}

// IngestLocations writes GPS samples for one user, splitting the batch by
// Berlin calendar day. Returns how many rows the stores actually inserted
// (duplicate (user, timestamp, type) triples are ignored).
//
// Samples without a positive timestamp cannot be assigned to a day and are
// dropped, as are no-fix sentinels near (0, 0).
func (in *Ingestor) IngestLocations(ctx context.Context, user models.User, points []models.LocationPoint, source string) (int, error) {
	byDay := make(map[string][]models.LocationPoint)
	dropped := 0
	for _, p := range points {
		if p.TimestampMs <= 0 || !p.Valid() {
			dropped++
			continue
		}
		if p.Source == "" {
			p.Source = source
		}
		date := daykey.FromMillis(p.TimestampMs)
		byDay[date] = append(byDay[date], p)
	}
	if dropped > 0 {
		logging.Warn().Str("username", user.Username).Int("dropped", dropped).Msg("Location points without timestamp or GPS fix dropped")
	}

	total := 0
	for date, group := range byDay {
		entries := make([]models.LogEntry, 0, len(group))
		now := time.Now().UnixMilli()
		for _, p := range group {
			data, err := json.Marshal(p)
			if err != nil {
				return total, err
			}
			entries = append(entries, models.LogEntry{
				UserID:      user.ID,
				Username:    user.Username,
				TimestampMs: p.TimestampMs,
				LogType:     models.LogTypeGPS,
				Data:        data,
				CreatedAtMs: now,
			})
		}

		inserted, err := in.days.InsertBatch(ctx, date, entries)
		total += inserted
		if err != nil {
			return total, err
		}
		metrics.TrackerPointsIngested.WithLabelValues(source).Add(float64(inserted))
		if inserted == 0 {
			continue
		}

		// Duplicates the store ignored still reach the consumers; the
		// roll-up is advisory, the store is authoritative.
		in.publish(TopicPoints, PointsEvent{
			UserID:   user.ID,
			Username: user.Username,
			Date:     date,
			Source:   source,
			Points:   group,
		}, map[string]string{"username": user.Username, "date": date, "source": source})
	}
	return total, nil
}

// IngestActions writes activity events for one user, split by Berlin day.
func (in *Ingestor) IngestActions(ctx context.Context, user models.User, events []models.ActionEvent) (int, error) {
	byDay := make(map[string][]models.ActionEvent)
	for _, ev := range events {
		if ev.TimestampMs <= 0 {
			logging.Warn().Str("username", user.Username).Str("action", ev.Action).Msg("Action event without timestamp dropped")
			continue
		}
		date := daykey.FromMillis(ev.TimestampMs)
		byDay[date] = append(byDay[date], ev)
	}

	total := 0
	for date, group := range byDay {
		entries := make([]models.LogEntry, 0, len(group))
		now := time.Now().UnixMilli()
		for _, ev := range group {
			data, err := json.Marshal(ev)
			if err != nil {
				return total, err
			}
			entries = append(entries, models.LogEntry{
				UserID:      user.ID,
				Username:    user.Username,
				TimestampMs: ev.TimestampMs,
				LogType:     models.LogTypeAction,
				Data:        data,
				CreatedAtMs: now,
			})
		}

		inserted, err := in.days.InsertBatch(ctx, date, entries)
		total += inserted
		if err != nil {
			return total, err
		}
		if inserted == 0 {
			continue
		}

		in.publish(TopicActions, ActionsEvent{
			UserID:   user.ID,
			Username: user.Username,
			Date:     date,
			Events:   group,
		}, map[string]string{"username": user.Username, "date": date})
	}
	return total, nil
}

func (in *Ingestor) publish(topic string, event interface{}, metadata map[string]string) {
	if in.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("Tracking event marshal failed")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	if err := in.bus.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("Tracking event publish failed")
	}
}

// ExportFeeder mirrors provider-pulled points into the per-user log
// worksheet through the batched writer. Points from the in-app and external
// push paths already live in the backing store of their producers and are
// not mirrored.
type ExportFeeder struct {
	writer *writer.Writer
}

// NewExportFeeder creates the export consumer.
func NewExportFeeder(w *writer.Writer) *ExportFeeder {
	return &ExportFeeder{writer: w}
}

// HandlePoints is the bus handler feeding the export queue.
func (f *ExportFeeder) HandlePoints(msg *message.Message) error {
	var event PointsEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Malformed points event, not exporting")
		return nil
	}
	if event.Source != models.SourceFollowMee {
		return nil
	}

	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, p := range event.Points {
		f.writer.Enqueue(ctx, writer.UserQueue(event.Username), writer.Entry{
			Worksheet: LogWorksheet(event.Username),
			Headers:   trackingHeaders,
			Row:       trackRow(p),
		})
	}
	return nil
}

// Wire registers the standard consumers on the bus: the daily aggregate on
// both topics and the export feeder on the points topic.
func Wire(bus *Bus, agg *Aggregator, feeder *ExportFeeder) {
	bus.AddConsumerHandler("daily-aggregate-points", TopicPoints, agg.HandlePoints)
	bus.AddConsumerHandler("daily-aggregate-actions", TopicActions, agg.HandleActions)
	bus.AddConsumerHandler("export-feeder", TopicPoints, feeder.HandlePoints)
}
