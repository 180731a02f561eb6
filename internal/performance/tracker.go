// Package performance maintains a rolling per-phase P&L window and derives
// the multiplicative modifier applied to authorized size, write-through
// persisted to a bounded per-phase trade-outcome window.
package performance

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Tracker maintains bounded per-phase trade-outcome rings and the derived modifier.
type Tracker struct {
	mu     sync.RWMutex
	cfg    config.PerformanceConfig
	logger *zap.Logger
	db     *gorm.DB

	rings map[types.PhaseID][]types.TradeOutcome
}

// tradeOutcomeRow is the write-through persistence row mirroring the in-memory ring.
type tradeOutcomeRow struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	PhaseID string `gorm:"index;not null"`
	Symbol  string
	Side    string
	PnL     string    `gorm:"not null"`
	At      time.Time `gorm:"index;not null"`
}

func (tradeOutcomeRow) TableName() string { return "phase_trade_outcomes" }

// New constructs a performance tracker. If db is non-nil, new outcomes are
// mirrored into it and the ring is reloaded from it on startup.
func New(logger *zap.Logger, cfg config.PerformanceConfig, db *gorm.DB) (*Tracker, error) {
	t := &Tracker{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rings:  make(map[types.PhaseID][]types.TradeOutcome),
	}

	if db != nil {
		if err := db.AutoMigrate(&tradeOutcomeRow{}); err != nil {
			return nil, err
		}
		if err := t.reload(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Tracker) reload() error {
	var rows []tradeOutcomeRow
	if err := t.db.Order("at ASC").Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		pnl, err := decimal.NewFromString(row.PnL)
		if err != nil {
			continue
		}
		phase := types.PhaseID(row.PhaseID)
		outcome := types.TradeOutcome{
			PhaseID: phase,
			Symbol:  row.Symbol,
			Side:    types.OrderSide(row.Side),
			PnL:     pnl,
			At:      row.At,
		}
		t.rings[phase] = appendBounded(t.rings[phase], outcome, t.cfg.WindowDays)
	}

	return nil
}

// Record records a closed trade's P&L for a phase, updating the rolling window
// and mirroring the write to the database (write-through).
func (t *Tracker) Record(outcome types.TradeOutcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rings[outcome.PhaseID] = appendBounded(t.rings[outcome.PhaseID], outcome, t.cfg.WindowDays)

	if t.db != nil {
		row := tradeOutcomeRow{
			PhaseID: string(outcome.PhaseID),
			Symbol:  outcome.Symbol,
			Side:    string(outcome.Side),
			PnL:     outcome.PnL.String(),
			At:      outcome.At,
		}
		if err := t.db.Create(&row).Error; err != nil {
			return err
		}
	}

	return nil
}

// appendBounded keeps only trade outcomes within the trailing windowDays
// window, bounding the ring regardless of trade frequency.
func appendBounded(ring []types.TradeOutcome, outcome types.TradeOutcome, windowDays int) []types.TradeOutcome {
	ring = append(ring, outcome)
	cutoff := outcome.At.AddDate(0, 0, -windowDays)
	trimmed := ring[:0]
	for _, o := range ring {
		if o.At.After(cutoff) {
			trimmed = append(trimmed, o)
		}
	}
	return trimmed
}

// Modifier computes the phase's current multiplicative modifier in [0.5, 1.2].
//
// If tradeCount < minTradeCount, the modifier is neutral (1.0) — too little
// evidence to adjust size either way.
func (t *Tracker) Modifier(phase types.PhaseID) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ring := t.rings[phase]
	if len(ring) < t.cfg.MinTradeCount {
		return decimal.NewFromInt(1)
	}

	mean := meanPnL(ring)

	switch {
	case mean.LessThanOrEqual(t.cfg.MalusThreshold):
		m := decimal.NewFromInt(1).Add(mean.Mul(t.cfg.MalusMultiplier))
		return decimalMax(decimal.NewFromFloat(0.5), m)
	case mean.GreaterThanOrEqual(t.cfg.BonusThreshold):
		return decimalMin(decimal.NewFromFloat(1.2), t.cfg.BonusMultiplier)
	default:
		return decimal.NewFromInt(1)
	}
}

// Snapshot returns the current PhasePerformance view for a phase.
func (t *Tracker) Snapshot(phase types.PhaseID) types.PhasePerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ring := t.rings[phase]
	return types.PhasePerformance{
		PhaseID:    phase,
		Modifier:   t.Modifier(phase),
		TradeCount: len(ring),
		WindowPnL:  sumPnL(ring),
		UpdatedAt:  time.Now(),
	}
}

func meanPnL(ring []types.TradeOutcome) decimal.Decimal {
	if len(ring) == 0 {
		return decimal.Zero
	}
	return sumPnL(ring).Div(decimal.NewFromInt(int64(len(ring))))
}

func sumPnL(ring []types.TradeOutcome) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range ring {
		sum = sum.Add(o.PnL)
	}
	return sum
}

func decimalMax(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
