package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func testAllocation() types.AllocationVector {
	return types.AllocationVector{
		W1:          decimal.NewFromInt(1),
		MaxLeverage: decimal.NewFromInt(5),
	}
}

func TestEvaluateApprovesWithinCaps(t *testing.T) {
	g := New(config.Default().Risk)
	signal := types.IntentSignal{PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy}

	result := g.Evaluate(signal, decimal.NewFromInt(500), nil, testAllocation(), types.DefconNormal, decimal.NewFromInt(1000))
	assert.True(t, result.Approved)
	assert.True(t, result.AuthorizedBaseSize.Equal(decimal.NewFromInt(500)))
}

func TestEvaluateRejectsLeverageCap(t *testing.T) {
	g := New(config.Default().Risk)
	signal := types.IntentSignal{PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy}

	// equity=1000, w1=1, maxLeverage=5 -> cap=5000; request 6000 notional exceeds it.
	result := g.Evaluate(signal, decimal.NewFromInt(6000), nil, testAllocation(), types.DefconNormal, decimal.NewFromInt(1000))
	assert.False(t, result.Approved)
	assert.Equal(t, "leverage_cap", result.Reason)
}

func TestEvaluateRejectsStopTooTight(t *testing.T) {
	cfg := config.Default().Risk
	g := New(cfg)
	g.UpdateMetrics(Metrics{
		CorrelationBySymbol: map[string]decimal.Decimal{},
		ATRBySymbol:         map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100)},
	})

	signal := types.IntentSignal{
		PhaseID:    types.PhaseP1,
		Symbol:     "BTC",
		Side:       types.OrderSideBuy,
		EntryPrice: decimal.NewFromInt(50000),
		StopPrice:  decimal.NewFromInt(49990), // distance 10 < ATR(100)*multiplier(1.0)
	}

	result := g.Evaluate(signal, decimal.NewFromInt(100), nil, testAllocation(), types.DefconNormal, decimal.NewFromInt(1000000))
	assert.False(t, result.Approved)
	assert.Equal(t, "stop_too_tight", result.Reason)
}

func TestEvaluateShrinksOnCorrelationPenalty(t *testing.T) {
	cfg := config.Default().Risk
	g := New(cfg)
	g.UpdateMetrics(Metrics{
		CorrelationBySymbol: map[string]decimal.Decimal{"BTC": decimal.NewFromFloat(0.9)},
	})

	signal := types.IntentSignal{PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy}
	result := g.Evaluate(signal, decimal.NewFromInt(100), nil, testAllocation(), types.DefconNormal, decimal.NewFromInt(1000000))

	assert.True(t, result.Approved)
	assert.True(t, result.AuthorizedBaseSize.LessThan(decimal.NewFromInt(100)))
}

func TestEvaluateRejectsNetDeltaCap(t *testing.T) {
	cfg := config.Default().Risk
	cfg.NetDeltaCapPerSymbol = decimal.NewFromInt(50)
	g := New(cfg)

	signal := types.IntentSignal{PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy}
	result := g.Evaluate(signal, decimal.NewFromInt(100), nil, testAllocation(), types.DefconNormal, decimal.NewFromInt(1000000))
	assert.False(t, result.Approved)
	assert.Equal(t, "net_delta_cap", result.Reason)
}
