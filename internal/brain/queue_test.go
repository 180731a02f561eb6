package brain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainhouse/capital-brain/pkg/types"
)

func queuedIntent(id string, symbol string, phase types.PhaseID) types.IntentSignal {
	return types.IntentSignal{
		SignalID: id, PhaseID: phase, Symbol: symbol, Side: types.OrderSideBuy,
		RequestedSize: decimal.NewFromInt(1),
	}
}

func TestPopSymbolBatchGroupsBySymbolOnly(t *testing.T) {
	q := NewPriorityQueue(10)
	q.Push(queuedIntent("btc-1", "BTC", types.PhaseP1))
	q.Push(queuedIntent("eth-1", "ETH", types.PhaseP1))
	q.Push(queuedIntent("btc-2", "BTC", types.PhaseP2))

	batch, ok := q.PopSymbolBatch()
	require.True(t, ok)
	require.Len(t, batch, 2)
	for _, s := range batch {
		assert.Equal(t, "BTC", s.Symbol)
	}
	assert.Equal(t, 1, q.Len())
}

func TestPopSymbolBatchOrdersByPriority(t *testing.T) {
	q := NewPriorityQueue(10)
	q.Push(queuedIntent("p1", "BTC", types.PhaseP1))
	q.Push(queuedIntent("p2", "BTC", types.PhaseP2))

	batch, ok := q.PopSymbolBatch()
	require.True(t, ok)
	require.Len(t, batch, 2)
	assert.Equal(t, "p2", batch[0].SignalID)
	assert.Equal(t, "p1", batch[1].SignalID)
}

func TestPopSymbolBatchEmptyQueue(t *testing.T) {
	q := NewPriorityQueue(10)
	_, ok := q.PopSymbolBatch()
	assert.False(t, ok)
}
