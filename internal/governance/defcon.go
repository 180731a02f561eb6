// Package governance implements the global DEFCON health state machine:
// monotone promotion on threshold crossing, demotion only after a hysteresis
// period of sustained recovery, in the same spirit as a regime detector's
// minimum-duration guard and a kill-switch's cooldown, generalized into a
// governance-level health gauge.
package governance

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/internal/metrics"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// HealthSignals are the rolling inputs that drive DEFCON promotion/demotion.
type HealthSignals struct {
	ErrorRate              decimal.Decimal
	ReconciliationConfidence decimal.Decimal
	RecentDrawdown         decimal.Decimal
}

// Thresholds configures the health-signal bands that trigger each DEFCON level.
type Thresholds struct {
	ElevatedDrawdown decimal.Decimal
	HighDrawdown     decimal.Decimal
	CriticalDrawdown decimal.Decimal
	LowConfidence    decimal.Decimal
	HysteresisPeriod time.Duration
}

// DefaultThresholds returns conservative default governance thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ElevatedDrawdown: decimal.NewFromFloat(0.05),
		HighDrawdown:     decimal.NewFromFloat(0.10),
		CriticalDrawdown: decimal.NewFromFloat(0.18),
		LowConfidence:    decimal.NewFromFloat(0.5),
		HysteresisPeriod: 5 * time.Minute,
	}
}

// Governor owns the single global DEFCON level.
type Governor struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	thresholds Thresholds

	level           types.DefconLevel
	recoveringSince *time.Time
	recoveringLevel types.DefconLevel

	overrideLevel   *types.DefconLevel
	overrideUntil   time.Time
}

// New constructs a Governor starting at DefconNormal.
func New(logger *zap.Logger, thresholds Thresholds) *Governor {
	return &Governor{
		logger:     logger,
		thresholds: thresholds,
		level:      types.DefconNormal,
	}
}

// Level returns the currently effective DEFCON level, honoring any active
// manual override.
func (g *Governor) Level() types.DefconLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.effectiveLevel()
}

func (g *Governor) effectiveLevel() types.DefconLevel {
	if g.overrideLevel != nil && time.Now().Before(g.overrideUntil) {
		return *g.overrideLevel
	}
	return g.level
}

// Update recomputes the DEFCON level from the latest health signals.
//
// Promotion is immediate on threshold crossing. Demotion requires the
// recovered level to hold for the full hysteresis period.
func (g *Governor) Update(signals HealthSignals, now time.Time) types.DefconLevel {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := g.targetLevel(signals)

	switch {
	case target > g.level:
		// Promotion is immediate; any in-progress recovery is invalidated.
		g.level = target
		g.recoveringSince = nil
		if g.logger != nil {
			g.logger.Warn("defcon promoted", zap.String("level", target.String()))
		}
	case target < g.level:
		if g.recoveringSince == nil || g.recoveringLevel != target {
			g.recoveringSince = &now
			g.recoveringLevel = target
		} else if now.Sub(*g.recoveringSince) >= g.thresholds.HysteresisPeriod {
			g.level = target
			g.recoveringSince = nil
			if g.logger != nil {
				g.logger.Info("defcon demoted", zap.String("level", target.String()))
			}
		}
	default:
		g.recoveringSince = nil
	}

	effective := g.effectiveLevel()
	metrics.DefconLevel.Set(float64(effective))
	return effective
}

func (g *Governor) targetLevel(signals HealthSignals) types.DefconLevel {
	dd := signals.RecentDrawdown
	switch {
	case dd.GreaterThanOrEqual(g.thresholds.CriticalDrawdown):
		return types.DefconCritical
	case dd.GreaterThanOrEqual(g.thresholds.HighDrawdown):
		return types.DefconHigh
	case dd.GreaterThanOrEqual(g.thresholds.ElevatedDrawdown):
		return types.DefconElevated
	case signals.ReconciliationConfidence.LessThan(g.thresholds.LowConfidence):
		return types.DefconElevated
	default:
		return types.DefconNormal
	}
}

// Override pins the DEFCON level for the given TTL, overriding computed
// promotions/demotions until it expires. The override is held in memory only;
// it is not recorded in the event log.
func (g *Governor) Override(level types.DefconLevel, ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrideLevel = &level
	g.overrideUntil = time.Now().Add(ttl)
}

// ClearOverride cancels any active manual override.
func (g *Governor) ClearOverride() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrideLevel = nil
}
