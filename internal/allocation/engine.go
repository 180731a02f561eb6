// Package allocation maps current equity to the three-phase capital weight
// vector and per-tier leverage cap. Pure function of equity and static
// config, no I/O.
package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Engine computes allocation vectors from equity and static transition config.
type Engine struct {
	cfg config.AllocationConfig
}

// New constructs an allocation engine from config.
func New(cfg config.AllocationConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Allocate maps equity to {w1,w2,w3, tier, maxLeverage}.
//
// Below startP2, w1=1. Between startP2 and fullP2, w2 ramps linearly from 0
// to its full share while w1 falls. Above startP3, w3 ramps in symmetrically.
// Weights always sum to exactly 1 via a final normalization step that
// assigns the rounding residual to w1.
func (e *Engine) Allocate(equity decimal.Decimal) types.AllocationVector {
	if equity.IsNegative() {
		return e.degraded()
	}

	w1, w2, w3 := e.weights(equity)

	// Normalize: distribute rounding residual into w1 so the sum is exact.
	sum := w1.Add(w2).Add(w3)
	residual := decimal.NewFromInt(1).Sub(sum)
	w1 = w1.Add(residual)

	return types.AllocationVector{
		W1:          w1,
		W2:          w2,
		W3:          w3,
		Tier:        e.tier(equity),
		MaxLeverage: e.leverageCap(equity),
	}
}

func (e *Engine) weights(equity decimal.Decimal) (w1, w2, w3 decimal.Decimal) {
	startP2 := e.cfg.StartP2
	fullP2 := e.cfg.FullP2
	startP3 := e.cfg.StartP3

	switch {
	case equity.LessThanOrEqual(startP2):
		return decimal.NewFromInt(1), decimal.Zero, decimal.Zero
	case equity.LessThan(fullP2):
		frac := rampFraction(equity, startP2, fullP2)
		w2 := frac
		w1 := decimal.NewFromInt(1).Sub(w2)
		return w1, w2, decimal.Zero
	case equity.LessThan(startP3):
		return decimal.Zero, decimal.NewFromInt(1), decimal.Zero
	default:
		// Above startP3, w3 ramps in symmetrically; use one full startP2->fullP2
		// span above startP3 as the ramp window, matching P2's ramp shape.
		rampSpan := fullP2.Sub(startP2)
		rampEnd := startP3.Add(rampSpan)
		if equity.GreaterThanOrEqual(rampEnd) {
			return decimal.Zero, decimal.Zero, decimal.NewFromInt(1)
		}
		frac := rampFraction(equity, startP3, rampEnd)
		w3 := frac
		w2 := decimal.NewFromInt(1).Sub(w3)
		return decimal.Zero, w2, w3
	}
}

func rampFraction(equity, start, end decimal.Decimal) decimal.Decimal {
	span := end.Sub(start)
	if span.IsZero() {
		return decimal.NewFromInt(1)
	}
	frac := equity.Sub(start).Div(span)
	if frac.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if frac.IsNegative() {
		return decimal.Zero
	}
	return frac
}

func (e *Engine) tier(equity decimal.Decimal) types.EquityTier {
	switch {
	case equity.LessThan(decimal.NewFromInt(1000)):
		return types.TierMicro
	case equity.LessThan(decimal.NewFromInt(10000)):
		return types.TierSmall
	case equity.LessThan(decimal.NewFromInt(100000)):
		return types.TierMedium
	case equity.LessThan(decimal.NewFromInt(1000000)):
		return types.TierLarge
	default:
		return types.TierInstitutional
	}
}

func (e *Engine) leverageCap(equity decimal.Decimal) decimal.Decimal {
	tier := e.tier(equity)
	if cap, ok := e.cfg.LeverageCaps[tier]; ok {
		return cap
	}
	return decimal.NewFromInt(1)
}

// degraded returns the equity=0 allocation with the degraded flag set, for
// invalid (negative or non-finite) equity inputs.
func (e *Engine) degraded() types.AllocationVector {
	return types.AllocationVector{
		W1:          decimal.NewFromInt(1),
		W2:          decimal.Zero,
		W3:          decimal.Zero,
		Tier:        types.TierMicro,
		MaxLeverage: e.leverageCap(decimal.Zero),
		Degraded:    true,
	}
}
