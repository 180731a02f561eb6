// Package snapshot persists periodic and promotion-triggered captures of
// Brain state for crash recovery, and replays the event log forward from
// the latest snapshot on startup. Grounded on the storage package's gorm
// wrapping idiom and scheduled via robfig/cron, the same scheduling
// dependency C7 uses for its sweep.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/eventstore"
	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
	"github.com/brainhouse/capital-brain/pkg/utils"
)

// StateProvider supplies the current in-memory state to snapshot.
type StateProvider interface {
	CurrentSnapshot() (types.PositionSnapshot, uint64)
}

// Manager owns periodic and event-triggered snapshotting plus startup recovery.
type Manager struct {
	cfg      config.SnapshotConfig
	logger   *zap.Logger
	db       *gorm.DB
	events   *eventstore.Store
	provider StateProvider

	cron *cron.Cron
}

// New constructs a snapshot Manager.
func New(logger *zap.Logger, cfg config.SnapshotConfig, db *gorm.DB, events *eventstore.Store, provider StateProvider) *Manager {
	return &Manager{cfg: cfg, logger: logger, db: db, events: events, provider: provider, cron: cron.New()}
}

// Start begins the interval-based snapshot schedule.
func (m *Manager) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %ds", m.cfg.IntervalSeconds)
	_, err := m.cron.AddFunc(spec, func() {
		if err := m.Snapshot(ctx); err != nil && m.logger != nil {
			m.logger.Error("interval snapshot failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling snapshot interval: %w", err)
	}
	m.cron.Start()
	return nil
}

// Stop halts the snapshot schedule.
func (m *Manager) Stop() {
	m.cron.Stop()
}

// Snapshot persists a single versioned capture of the current state.
func (m *Manager) Snapshot(ctx context.Context) error {
	state, causedBySeq := m.provider.CurrentSnapshot()
	state.CausedByEventSeq = causedBySeq
	return m.persist(ctx, state)
}

// OnLeadershipPromotion persists a snapshot immediately upon becoming leader.
func (m *Manager) OnLeadershipPromotion(ctx context.Context) error {
	return m.Snapshot(ctx)
}

func (m *Manager) persist(ctx context.Context, state types.PositionSnapshot) error {
	positionsJSON, err := json.Marshal(state.Positions)
	if err != nil {
		return fmt.Errorf("marshalling positions: %w", err)
	}
	allocationJSON, err := json.Marshal(state.Allocation)
	if err != nil {
		return fmt.Errorf("marshalling allocation: %w", err)
	}
	breakerJSON, err := json.Marshal(state.CircuitBreaker)
	if err != nil {
		return fmt.Errorf("marshalling circuit breaker state: %w", err)
	}
	performanceJSON, err := json.Marshal(state.PerformanceRings)
	if err != nil {
		return fmt.Errorf("marshalling performance rings: %w", err)
	}

	record := storage.PositionSnapshotRecord{
		SnapshotID:         state.SnapshotID,
		Timestamp:          state.Timestamp,
		PositionsJSON:      positionsJSON,
		AllocationJSON:     allocationJSON,
		CircuitBreakerJSON: breakerJSON,
		PerformanceJSON:    performanceJSON,
		HighWatermark:      state.HighWatermark.String(),
		CausedByEventSeq:   state.CausedByEventSeq,
	}

	if record.SnapshotID == "" {
		record.SnapshotID = utils.GenerateID("snap")
	}

	if err := m.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("snapshot persisted", zap.String("snapshotId", record.SnapshotID), zap.Uint64("causedByEventSeq", record.CausedByEventSeq))
	}
	return nil
}

// RecoveredState is the result of startup recovery: the latest snapshot (or
// defaults, if the store is empty) plus the events to replay forward.
type RecoveredState struct {
	Snapshot types.PositionSnapshot
	Replay   []types.Event
}

// Recover loads the latest snapshot, if any, and returns it along with the
// events that occurred after it so the caller can replay them forward. If no
// snapshot exists, returns the documented empty-store defaults and the full event log.
func (m *Manager) Recover(ctx context.Context) (RecoveredState, error) {
	var record storage.PositionSnapshotRecord
	err := m.db.WithContext(ctx).Order("timestamp DESC").First(&record).Error

	switch {
	case err == gorm.ErrRecordNotFound:
		events, err := m.events.ReplayAll(ctx, 0)
		if err != nil {
			return RecoveredState{}, err
		}
		return RecoveredState{
			Snapshot: defaultSnapshot(),
			Replay:   events,
		}, nil
	case err != nil:
		return RecoveredState{}, fmt.Errorf("loading latest snapshot: %w", err)
	}

	snap, err := fromRecord(record)
	if err != nil {
		return RecoveredState{}, err
	}

	events, err := m.events.ReplayAll(ctx, snap.CausedByEventSeq+1)
	if err != nil {
		return RecoveredState{}, err
	}
	return RecoveredState{Snapshot: snap, Replay: events}, nil
}

func defaultSnapshot() types.PositionSnapshot {
	return types.PositionSnapshot{
		Allocation: types.AllocationVector{
			W1: decimal.NewFromInt(1),
			W2: decimal.Zero,
			W3: decimal.Zero,
		},
		HighWatermark: decimal.Zero,
	}
}

func fromRecord(r storage.PositionSnapshotRecord) (types.PositionSnapshot, error) {
	var positions []types.Position
	if err := json.Unmarshal(r.PositionsJSON, &positions); err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("unmarshalling positions: %w", err)
	}
	var allocation types.AllocationVector
	if err := json.Unmarshal(r.AllocationJSON, &allocation); err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("unmarshalling allocation: %w", err)
	}
	var breaker types.CircuitBreakerState
	if err := json.Unmarshal(r.CircuitBreakerJSON, &breaker); err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("unmarshalling circuit breaker state: %w", err)
	}
	var performance []types.PhasePerformance
	if err := json.Unmarshal(r.PerformanceJSON, &performance); err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("unmarshalling performance rings: %w", err)
	}
	highWatermark, err := decimal.NewFromString(r.HighWatermark)
	if err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("parsing high watermark: %w", err)
	}

	return types.PositionSnapshot{
		SnapshotID:       r.SnapshotID,
		Timestamp:        r.Timestamp,
		Allocation:       allocation,
		HighWatermark:    highWatermark,
		Positions:        positions,
		CircuitBreaker:   breaker,
		PerformanceRings: performance,
		CausedByEventSeq: r.CausedByEventSeq,
	}, nil
}
