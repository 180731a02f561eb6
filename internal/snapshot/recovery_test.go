package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/eventstore"
	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.PositionSnapshotRecord{}, &storage.EventRecord{}))
	return db
}

type fixedProvider struct {
	snap types.PositionSnapshot
	seq  uint64
}

func (f fixedProvider) CurrentSnapshot() (types.PositionSnapshot, uint64) { return f.snap, f.seq }

func TestRecoverWithNoSnapshotReturnsDefaultsAndFullLog(t *testing.T) {
	db := testDB(t)
	es := eventstore.New(db)
	ctx := context.Background()
	_, err := es.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "position.opened"})
	require.NoError(t, err)

	m := New(nil, config.Default().Snapshot, db, es, fixedProvider{})
	recovered, err := m.Recover(ctx)
	require.NoError(t, err)

	assert.True(t, recovered.Snapshot.Allocation.W1.Equal(decimal.NewFromInt(1)))
	assert.True(t, recovered.Snapshot.HighWatermark.IsZero())
	assert.Len(t, recovered.Replay, 1)
}

func TestSnapshotThenRecoverReplaysOnlyNewerEvents(t *testing.T) {
	db := testDB(t)
	es := eventstore.New(db)
	ctx := context.Background()

	e1, err := es.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "position.opened"})
	require.NoError(t, err)

	provider := fixedProvider{
		snap: types.PositionSnapshot{
			SnapshotID:    "snap-1",
			Timestamp:     time.Now(),
			Allocation:    types.AllocationVector{W1: decimal.NewFromFloat(0.5), W2: decimal.NewFromFloat(0.5)},
			HighWatermark: decimal.NewFromInt(5000),
			Positions:     []types.Position{{Symbol: "BTC"}},
		},
		seq: e1.Seq,
	}

	m := New(nil, config.Default().Snapshot, db, es, provider)
	require.NoError(t, m.Snapshot(ctx))

	_, err = es.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "position.updated"})
	require.NoError(t, err)

	recovered, err := m.Recover(ctx)
	require.NoError(t, err)

	assert.Equal(t, "snap-1", recovered.Snapshot.SnapshotID)
	assert.True(t, recovered.Snapshot.HighWatermark.Equal(decimal.NewFromInt(5000)))
	require.Len(t, recovered.Replay, 1, "only the event after the snapshot's causedByEventSeq replays")
	assert.Equal(t, "position.updated", recovered.Replay[0].Type)
}
