// Package eventstore is the append-only event log keyed by (aggregateId,
// seq), with strict per-aggregate ordering and replay support. Grounded on
// the storage package's gorm wrapping idiom (itself grounded on
// transaction_recorder.go), generalized from a flat transaction log to a
// per-aggregate sequenced event stream.
package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Store is the gorm-backed append-only event log.
type Store struct {
	db *gorm.DB

	// seqMu serializes append-time sequence assignment per aggregate; the
	// unique (aggregateId, seq) index is the durable backstop.
	seqMu sync.Mutex
}

// New constructs a Store over an already-migrated database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append assigns the next sequence number for event.AggregateID and persists
// the event atomically. Returns the assigned event with Seq and ID populated.
func (s *Store) Append(ctx context.Context, event types.Event) (types.Event, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var nextSeq uint64
	err := s.db.WithContext(ctx).Model(&storage.EventRecord{}).
		Where("aggregate_id = ?", event.AggregateID).
		Select("COALESCE(MAX(seq), 0) + 1").
		Scan(&nextSeq).Error
	if err != nil {
		return types.Event{}, fmt.Errorf("computing next seq for aggregate %s: %w", event.AggregateID, err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Seq = nextSeq

	record := storage.EventRecord{
		AggregateID: event.AggregateID,
		Seq:         event.Seq,
		Type:        event.Type,
		Payload:     event.Payload,
		TraceID:     event.TraceID,
		Version:     versionOrDefault(event.Version),
		Timestamp:   event.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return types.Event{}, fmt.Errorf("appending event for aggregate %s: %w", event.AggregateID, err)
	}

	event.ID = record.ID
	event.Version = record.Version
	return event, nil
}

func versionOrDefault(v int) int {
	if v == 0 {
		return 1
	}
	return v
}

// Replay streams events for aggregateID in order starting at fromSeq (inclusive).
func (s *Store) Replay(ctx context.Context, aggregateID string, fromSeq uint64) ([]types.Event, error) {
	var records []storage.EventRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND seq >= ?", aggregateID, fromSeq).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("replaying aggregate %s from seq %d: %w", aggregateID, fromSeq, err)
	}
	return toEvents(records), nil
}

// ReplayAll streams every event across all aggregates in (aggregateId, seq)
// order, for a full rebuildReadModels run.
func (s *Store) ReplayAll(ctx context.Context, fromID uint64) ([]types.Event, error) {
	var records []storage.EventRecord
	err := s.db.WithContext(ctx).
		Where("id >= ?", fromID).
		Order("aggregate_id ASC, seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("replaying full log from id %d: %w", fromID, err)
	}
	return toEvents(records), nil
}

func toEvents(records []storage.EventRecord) []types.Event {
	events := make([]types.Event, len(records))
	for i, r := range records {
		events[i] = types.Event{
			ID:          r.ID,
			Type:        r.Type,
			AggregateID: r.AggregateID,
			Seq:         r.Seq,
			Payload:     r.Payload,
			TraceID:     r.TraceID,
			Version:     r.Version,
			Timestamp:   r.Timestamp,
		}
	}
	return events
}

// ReadModelRebuilder consumes replayed events to rebuild an in-memory
// projection. Implemented by the Brain orchestrator's aggregate types.
type ReadModelRebuilder interface {
	Reset()
	Apply(event types.Event) error
}

// RebuildReadModels optionally resets the rebuilder then replays the entire
// log into it from seq 0. Intended to be driven by the out-of-hot-path
// rebuild CLI entry point.
func (s *Store) RebuildReadModels(ctx context.Context, rebuilder ReadModelRebuilder, reset bool) error {
	if reset {
		rebuilder.Reset()
	}
	events, err := s.ReplayAll(ctx, 0)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := rebuilder.Apply(event); err != nil {
			return fmt.Errorf("applying event id=%d aggregate=%s seq=%d: %w", event.ID, event.AggregateID, event.Seq, err)
		}
	}
	return nil
}
