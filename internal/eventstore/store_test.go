package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.EventRecord{}))
	return db
}

func TestAppendAssignsMonotonicSeqPerAggregate(t *testing.T) {
	s := New(testDB(t))
	ctx := context.Background()

	e1, err := s.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "position.opened"})
	require.NoError(t, err)
	e2, err := s.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "position.updated"})
	require.NoError(t, err)
	e3, err := s.Append(ctx, types.Event{AggregateID: "positions:ETH", Type: "position.opened"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, uint64(1), e3.Seq, "seq is scoped per aggregate")
}

func TestReplayReturnsEventsInOrderFromSeq(t *testing.T) {
	s := New(testDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "tick"})
		require.NoError(t, err)
	}

	events, err := s.Replay(ctx, "positions:BTC", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Seq)
	assert.Equal(t, uint64(3), events[1].Seq)
}

type recordingRebuilder struct {
	resetCalled bool
	applied     []types.Event
}

func (r *recordingRebuilder) Reset() { r.resetCalled = true; r.applied = nil }
func (r *recordingRebuilder) Apply(event types.Event) error {
	r.applied = append(r.applied, event)
	return nil
}

func TestRebuildReadModelsReplaysFromZero(t *testing.T) {
	s := New(testDB(t))
	ctx := context.Background()

	_, err := s.Append(ctx, types.Event{AggregateID: "positions:BTC", Type: "position.opened"})
	require.NoError(t, err)
	_, err = s.Append(ctx, types.Event{AggregateID: "positions:ETH", Type: "position.opened"})
	require.NoError(t, err)

	rebuilder := &recordingRebuilder{}
	require.NoError(t, s.RebuildReadModels(ctx, rebuilder, true))

	assert.True(t, rebuilder.resetCalled)
	assert.Len(t, rebuilder.applied, 2)
}
