package brain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func TestApplyFillOpensNewPosition(t *testing.T) {
	pm := NewPositionManager()
	pm.ApplyFill(execution.Fill{
		SignalID: "s1", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy,
		Size: decimal.NewFromInt(2), Price: decimal.NewFromInt(50000), At: time.Now(),
	}, "binance")

	positions := pm.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, types.PositionSideLong, positions[0].Side)
	assert.True(t, positions[0].Size.Equal(decimal.NewFromInt(2)))
}

func TestApplyFillNetsOppositeSideToClose(t *testing.T) {
	pm := NewPositionManager()
	pm.ApplyFill(execution.Fill{
		SignalID: "s1", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy,
		Size: decimal.NewFromInt(2), Price: decimal.NewFromInt(50000), At: time.Now(),
	}, "binance")
	pm.ApplyFill(execution.Fill{
		SignalID: "s2", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideSell,
		Size: decimal.NewFromInt(2), Price: decimal.NewFromInt(51000), At: time.Now(),
	}, "binance")

	assert.Empty(t, pm.Positions())
}

func TestApplyFillFlipsSideOnOvershoot(t *testing.T) {
	pm := NewPositionManager()
	pm.ApplyFill(execution.Fill{
		SignalID: "s1", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy,
		Size: decimal.NewFromInt(2), Price: decimal.NewFromInt(50000), At: time.Now(),
	}, "binance")
	pm.ApplyFill(execution.Fill{
		SignalID: "s2", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideSell,
		Size: decimal.NewFromInt(5), Price: decimal.NewFromInt(51000), At: time.Now(),
	}, "binance")

	positions := pm.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, types.PositionSideShort, positions[0].Side)
	assert.True(t, positions[0].Size.Equal(decimal.NewFromInt(3)))
}

func TestPositionsForVenueFiltersByExchange(t *testing.T) {
	pm := NewPositionManager()
	pm.ApplyFill(execution.Fill{
		SignalID: "s1", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), At: time.Now(),
	}, "binance")
	pm.ApplyFill(execution.Fill{
		SignalID: "s2", PhaseID: types.PhaseP1, Symbol: "ETH", Side: types.OrderSideBuy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), At: time.Now(),
	}, "okx")

	assert.Len(t, pm.PositionsForVenue("binance"), 1)
	assert.Len(t, pm.PositionsForVenue("okx"), 1)
	assert.Len(t, pm.AllPositions(), 2)
}

func TestSymbolReturnsTracksMarkPriceMoves(t *testing.T) {
	pm := NewPositionManager()
	pm.RecordMarkPrice("BTC", decimal.NewFromInt(100))
	pm.RecordMarkPrice("BTC", decimal.NewFromInt(110))
	pm.RecordMarkPrice("BTC", decimal.NewFromInt(99))

	returns := pm.SymbolReturns()["BTC"]
	require.Len(t, returns, 2)
	assert.True(t, returns[0].Equal(decimal.NewFromFloat(0.1)))
}

func TestRestoreReplacesBookFromSnapshot(t *testing.T) {
	pm := NewPositionManager()
	pm.ApplyFill(execution.Fill{
		SignalID: "stale", PhaseID: types.PhaseP1, Symbol: "ETH", Side: types.OrderSideBuy,
		Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(10), At: time.Now(),
	}, "binance")

	pm.Restore([]types.Position{
		{Symbol: "BTC", Side: types.PositionSideLong, Size: decimal.NewFromInt(5), PhaseID: types.PhaseP2, Exchange: "binance"},
	})

	positions := pm.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].Symbol)
}
