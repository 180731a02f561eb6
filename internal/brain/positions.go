package brain

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// PositionManager is the Brain's single in-memory book of open positions,
// exclusively mutated by the orchestrator on fill confirmations.
type PositionManager struct {
	mu        sync.RWMutex
	positions map[string]types.Position // keyed by exchange+symbol+phase

	// priceHistory holds recent mark-price returns per symbol, for the risk
	// updater's correlation/beta computation. lastPrice tracks the raw mark
	// each return was derived from.
	priceHistory  map[string][]decimal.Decimal
	lastPrice     map[string]decimal.Decimal
	marketHistory []decimal.Decimal
	maxHistory    int
}

// NewPositionManager constructs an empty PositionManager.
func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions:    make(map[string]types.Position),
		priceHistory: make(map[string][]decimal.Decimal),
		lastPrice:    make(map[string]decimal.Decimal),
		maxHistory:   200,
	}
}

func positionKey(exchange, symbol string, phase types.PhaseID) string {
	return exchange + ":" + symbol + ":" + string(phase)
}

// Positions returns a snapshot slice of all open positions.
func (pm *PositionManager) Positions() []types.Position {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]types.Position, 0, len(pm.positions))
	for _, p := range pm.positions {
		out = append(out, p)
	}
	return out
}

// PositionsForVenue returns positions scoped to a single exchange.
func (pm *PositionManager) PositionsForVenue(venue string) []types.Position {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var out []types.Position
	for _, p := range pm.positions {
		if p.Exchange == venue {
			out = append(out, p)
		}
	}
	return out
}

// AllPositions is an alias for Positions satisfying the reconciliation PositionSource contract.
func (pm *PositionManager) AllPositions() []types.Position {
	return pm.Positions()
}

// Restore replaces the in-memory book with a recovered snapshot's positions,
// keyed by their recorded exchange/symbol/phase. Used once at startup,
// before the Brain admits any new signals.
func (pm *PositionManager) Restore(positions []types.Position) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.positions = make(map[string]types.Position, len(positions))
	for _, p := range positions {
		pm.positions[positionKey(p.Exchange, p.Symbol, p.PhaseID)] = p
	}
}

// ApplyFill updates (or opens/closes) a position from a fill confirmation.
func (pm *PositionManager) ApplyFill(fill execution.Fill, exchange string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	phase := fill.PhaseID
	key := positionKey(exchange, fill.Symbol, phase)
	existing, ok := pm.positions[key]
	signedDelta := decimal.NewFromInt(fill.Side.Sign()).Mul(fill.Size)

	if !ok {
		side := types.PositionSideLong
		if fill.Side == types.OrderSideSell {
			side = types.PositionSideShort
		}
		pm.positions[key] = types.Position{
			Symbol: fill.Symbol, Side: side, Size: fill.Size, EntryPrice: fill.Price,
			PhaseID: phase, Exchange: exchange, OpenedAt: fill.At, UpdatedAt: fill.At,
		}
		return
	}

	newSignedSize := existing.SignedSize().Add(signedDelta)
	if newSignedSize.Abs().LessThanOrEqual(types.SizeEpsilon) {
		delete(pm.positions, key)
		return
	}

	if newSignedSize.IsNegative() {
		existing.Side = types.PositionSideShort
	} else {
		existing.Side = types.PositionSideLong
	}
	existing.Size = newSignedSize.Abs()
	existing.UpdatedAt = fill.At
	pm.positions[key] = existing
}

// RecordMarkPrice appends a return observation for symbol derived from the
// given price relative to the previous mark, bounding history to maxHistory.
func (pm *PositionManager) RecordMarkPrice(symbol string, price decimal.Decimal) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	prev, ok := pm.lastPrice[symbol]
	pm.lastPrice[symbol] = price
	if !ok || prev.IsZero() {
		return
	}

	history := append(pm.priceHistory[symbol], price.Sub(prev).Div(prev))
	if len(history) > pm.maxHistory {
		history = history[len(history)-pm.maxHistory:]
	}
	pm.priceHistory[symbol] = history
}

// SymbolReturns returns the recorded per-symbol return series.
func (pm *PositionManager) SymbolReturns() map[string][]decimal.Decimal {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make(map[string][]decimal.Decimal, len(pm.priceHistory))
	for symbol, history := range pm.priceHistory {
		cp := make([]decimal.Decimal, len(history))
		copy(cp, history)
		out[symbol] = cp
	}
	return out
}

// MarketReturns returns the recorded reference-market return series.
func (pm *PositionManager) MarketReturns() []decimal.Decimal {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	cp := make([]decimal.Decimal, len(pm.marketHistory))
	copy(cp, pm.marketHistory)
	return cp
}

// PortfolioReturns approximates the book's aggregate return series as the
// equal-weighted mean of tracked symbol returns at each observation index.
func (pm *PositionManager) PortfolioReturns() []decimal.Decimal {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	minLen := -1
	for _, history := range pm.priceHistory {
		if minLen == -1 || len(history) < minLen {
			minLen = len(history)
		}
	}
	if minLen <= 0 {
		return nil
	}

	out := make([]decimal.Decimal, minLen)
	for i := 0; i < minLen; i++ {
		sum := decimal.Zero
		for _, history := range pm.priceHistory {
			sum = sum.Add(history[len(history)-minLen+i])
		}
		out[i] = sum.Div(decimal.NewFromInt(int64(len(pm.priceHistory))))
	}
	return out
}

// ATRBySymbol is a placeholder zero-value table; true ATR requires OHLC
// history the Brain does not retain, and is expected to be supplied by the
// Execution collaborator in a fuller build-out.
func (pm *PositionManager) ATRBySymbol() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{}
}
