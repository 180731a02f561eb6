package brain

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/allocation"
	"github.com/brainhouse/capital-brain/internal/breaker"
	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/eventstore"
	"github.com/brainhouse/capital-brain/internal/events"
	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/internal/governance"
	"github.com/brainhouse/capital-brain/internal/inference"
	"github.com/brainhouse/capital-brain/internal/performance"
	"github.com/brainhouse/capital-brain/internal/risk"
	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *execution.PaperExecution, *execution.LoggingNotifier) {
	t.Helper()
	return testOrchestratorWithEquity(t, decimal.NewFromInt(10000))
}

func testOrchestratorWithEquity(t *testing.T, equity decimal.Decimal) (*Orchestrator, *execution.PaperExecution, *execution.LoggingNotifier) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.CircuitBreakerStateRecord{}, &storage.EventRecord{}))

	cfg := config.Default()
	circuitBreaker, err := breaker.New(nil, cfg.Breaker, db, nil, "test-instance", equity)
	require.NoError(t, err)

	perfTracker, err := performance.New(nil, cfg.Performance, nil)
	require.NoError(t, err)

	exec := execution.NewPaperExecution()
	notifier := execution.NewLoggingNotifier()

	o := NewOrchestrator(Collaborators{
		Config:      cfg.Brain,
		Allocation:  allocation.New(cfg.Allocation),
		Performance: perfTracker,
		Inference:   inference.New(cfg.Inference),
		Governor:    governance.New(nil, governance.DefaultThresholds()),
		Guardian:    risk.New(cfg.Risk),
		Circuit:     circuitBreaker,
		Positions:   NewPositionManager(),
		Events:      eventstore.New(db),
		Bus:         events.NewEventBus(nil, events.DefaultEventBusConfig()),
		Exec:        exec,
		Notifier:    notifier,
		Equity:      NewEquityTracker(equity),
	})
	return o, exec, notifier
}

func sampleSignal(id string) types.IntentSignal {
	return types.IntentSignal{
		SignalID: id, PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy,
		RequestedSize: decimal.NewFromInt(100), Timestamp: time.Now(), Exchange: "binance",
		SignalType: types.SignalTypeTrade, ReceivedAt: time.Now(),
	}
}

func TestProcessApprovesWithinLimits(t *testing.T) {
	o, _, _ := testOrchestratorWithEquity(t, decimal.NewFromInt(1000))
	decision, err := o.Process(context.Background(), sampleSignal("sig-1"))
	require.NoError(t, err)
	assert.True(t, decision.Intent.Approved)
	assert.True(t, decision.Intent.AuthorizedSize.IsPositive())
}

func TestProcessIsIdempotentBySignalID(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	signal := sampleSignal("sig-dup")

	first, err := o.Process(context.Background(), signal)
	require.NoError(t, err)
	second, err := o.Process(context.Background(), signal)
	require.NoError(t, err)

	assert.Equal(t, first.TraceID, second.TraceID)
}

func TestProcessVetoesWhenCircuitBreakerTripped(t *testing.T) {
	o, _, notifier := testOrchestrator(t)
	now := time.Now()
	o.circuit.Observe(decimal.NewFromInt(8000), true, now) // 20% drawdown trips

	decision, err := o.Process(context.Background(), sampleSignal("sig-2"))
	require.NoError(t, err)
	assert.False(t, decision.Intent.Approved)
	assert.Contains(t, decision.Intent.DecisionReason, "circuit_breaker")
	assert.Len(t, notifier.Vetoes(), 1)
}

func TestApprovalRateTracksOutcomes(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	_, err := o.Process(context.Background(), sampleSignal("sig-3"))
	require.NoError(t, err)

	rate := o.ApprovalRate(types.PhaseP1)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestProcessClampsOversizedSignalAndRecordsReason(t *testing.T) {
	o, _, _ := testOrchestratorWithEquity(t, decimal.NewFromInt(1000))
	signal := sampleSignal("sig-oversize")
	signal.RequestedSize = decimal.NewFromInt(2000)

	decision, err := o.Process(context.Background(), signal)
	require.NoError(t, err)
	assert.True(t, decision.Intent.Approved)
	assert.True(t, decision.Intent.AuthorizedSize.LessThanOrEqual(decimal.NewFromInt(1000)))
	assert.Contains(t, decision.Intent.DecisionReason, "clamped")
}

func TestProcessBatchNetsSameSymbolSignals(t *testing.T) {
	o, _, _ := testOrchestratorWithEquity(t, decimal.NewFromInt(1000))

	buy := types.IntentSignal{
		SignalID: "sig-buy", PhaseID: types.PhaseP1, Symbol: "BTC", Side: types.OrderSideBuy,
		RequestedSize: decimal.NewFromInt(100), Timestamp: time.Now(), Exchange: "binance",
		SignalType: types.SignalTypeTrade, ReceivedAt: time.Now(),
	}
	sell := types.IntentSignal{
		SignalID: "sig-sell", PhaseID: types.PhaseP2, Symbol: "BTC", Side: types.OrderSideSell,
		RequestedSize: decimal.NewFromInt(60), Timestamp: time.Now(), Exchange: "binance",
		SignalType: types.SignalTypeTrade, ReceivedAt: time.Now(),
	}

	decisions, err := o.ProcessBatch(context.Background(), []types.IntentSignal{buy, sell})
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	decision := decisions[0]
	assert.True(t, decision.Intent.Approved)
	assert.Equal(t, types.OrderSideBuy, decision.Signal.Side)
	assert.True(t, decision.Intent.AuthorizedSize.Equal(decimal.NewFromInt(40)))
	assert.ElementsMatch(t, []string{"sig-buy", "sig-sell"}, decision.AccountedSignalIDs)
}

func TestProcessBatchRecordsNeutralOnZeroNet(t *testing.T) {
	o, _, _ := testOrchestrator(t)

	buy := sampleSignal("sig-neutral-buy")
	buy.Side = types.OrderSideBuy
	buy.RequestedSize = decimal.NewFromInt(50)
	sell := sampleSignal("sig-neutral-sell")
	sell.Side = types.OrderSideSell
	sell.RequestedSize = decimal.NewFromInt(50)

	decisions, err := o.ProcessBatch(context.Background(), []types.IntentSignal{buy, sell})
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	decision := decisions[0]
	assert.False(t, decision.Intent.Approved)
	assert.Equal(t, "neutral_netted", decision.Intent.DecisionReason)
	assert.ElementsMatch(t, []string{"sig-neutral-buy", "sig-neutral-sell"}, decision.AccountedSignalIDs)
}
