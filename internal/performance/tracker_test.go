package performance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestModifierNeutralBelowMinTradeCount(t *testing.T) {
	cfg := config.Default().Performance
	tr, err := New(zap.NewNop(), cfg, testDB(t))
	require.NoError(t, err)

	require.NoError(t, tr.Record(types.TradeOutcome{PhaseID: types.PhaseP1, PnL: decimal.NewFromInt(-100), At: time.Now()}))
	assert.True(t, tr.Modifier(types.PhaseP1).Equal(decimal.NewFromInt(1)))
}

func TestModifierMalusAppliesBelowThreshold(t *testing.T) {
	cfg := config.Default().Performance
	cfg.MinTradeCount = 1
	tr, err := New(zap.NewNop(), cfg, testDB(t))
	require.NoError(t, err)

	require.NoError(t, tr.Record(types.TradeOutcome{PhaseID: types.PhaseP1, PnL: decimal.NewFromInt(-5), At: time.Now()}))
	m := tr.Modifier(types.PhaseP1)
	assert.True(t, m.LessThan(decimal.NewFromInt(1)))
	assert.True(t, m.GreaterThanOrEqual(decimal.NewFromFloat(0.5)))
}

func TestModifierBonusCappedAt1Point2(t *testing.T) {
	cfg := config.Default().Performance
	cfg.MinTradeCount = 1
	cfg.BonusThreshold = decimal.NewFromFloat(1.0)
	tr, err := New(zap.NewNop(), cfg, testDB(t))
	require.NoError(t, err)

	require.NoError(t, tr.Record(types.TradeOutcome{PhaseID: types.PhaseP2, PnL: decimal.NewFromInt(50), At: time.Now()}))
	m := tr.Modifier(types.PhaseP2)
	assert.True(t, m.Equal(decimal.NewFromFloat(1.2)))
}

func TestRecordPersistsAndReloads(t *testing.T) {
	db := testDB(t)
	cfg := config.Default().Performance
	cfg.MinTradeCount = 1

	tr1, err := New(zap.NewNop(), cfg, db)
	require.NoError(t, err)
	require.NoError(t, tr1.Record(types.TradeOutcome{PhaseID: types.PhaseP3, PnL: decimal.NewFromInt(10), At: time.Now()}))

	tr2, err := New(zap.NewNop(), cfg, db)
	require.NoError(t, err)
	snap := tr2.Snapshot(types.PhaseP3)
	assert.Equal(t, 1, snap.TradeCount)
}
