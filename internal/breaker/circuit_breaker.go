// Package breaker implements the daily-drawdown / min-equity /
// consecutive-loss circuit breaker as an explicit CLOSED/TRIPPED/COOLDOWN
// state machine, persisted to its KV-backed store instead of bare in-memory
// flags.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/metrics"
	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Notifier is the best-effort notification collaborator invoked on TRIPPED/RESET.
type Notifier interface {
	NotifyBreakerTripped(reason string)
	NotifyBreakerReset()
}

// Breaker owns the circuit breaker state machine for this instance.
type Breaker struct {
	mu         sync.Mutex
	instanceID string
	cfg        config.BreakerConfig
	logger     *zap.Logger
	db         *gorm.DB
	notifier   Notifier

	state types.CircuitBreakerState
}

// New loads (or initializes) the breaker state for instanceID from the database.
func New(logger *zap.Logger, cfg config.BreakerConfig, db *gorm.DB, notifier Notifier, instanceID string, initialEquity decimal.Decimal) (*Breaker, error) {
	b := &Breaker{
		instanceID: instanceID,
		cfg:        cfg,
		logger:     logger,
		db:         db,
		notifier:   notifier,
	}

	if db != nil {
		var row storage.CircuitBreakerStateRecord
		err := db.First(&row, "instance_id = ?", instanceID).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			b.state = types.CircuitBreakerState{
				InstanceID:       instanceID,
				State:            types.BreakerClosed,
				DailyStartEquity: initialEquity,
				EquityLevel:      initialEquity,
			}
			if err := b.persist(); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("loading circuit breaker state: %w", err)
		default:
			b.state = fromRecord(row)
		}
	} else {
		b.state = types.CircuitBreakerState{
			InstanceID:       instanceID,
			State:            types.BreakerClosed,
			DailyStartEquity: initialEquity,
			EquityLevel:      initialEquity,
		}
	}

	return b, nil
}

// State returns a copy of the current breaker state.
func (b *Breaker) State() types.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CheckSignal evaluates whether a signal can proceed given the current
// breaker state, transitioning COOLDOWN -> CLOSED automatically when the
// cooldown has elapsed. Returns the rejection reason, empty if permitted.
func (b *Breaker) CheckSignal(now time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.State == types.BreakerCooldown {
		if b.state.CooldownUntil != nil && now.After(*b.state.CooldownUntil) {
			b.transitionTo(types.BreakerClosed, "")
		}
	}

	if b.state.State == types.BreakerTripped || b.state.State == types.BreakerCooldown {
		return fmt.Sprintf("circuit_breaker:%s", b.state.LastTripReason)
	}
	return ""
}

// Observe updates the rolling equity/loss tracking and trips the breaker if
// any condition fires. Call on every decision outcome.
func (b *Breaker) Observe(currentEquity decimal.Decimal, tradeWasLoss bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.EquityLevel = currentEquity

	if tradeWasLoss {
		b.state.ConsecutiveLosses++
		b.state.LossTimestamps = append(b.state.LossTimestamps, now)
	} else {
		b.state.ConsecutiveLosses = 0
		b.state.LossTimestamps = nil
	}
	b.trimLossWindow(now)

	if b.state.State != types.BreakerClosed {
		b.persist()
		return
	}

	if reason := b.tripReason(now); reason != "" {
		b.trip(reason, now)
	}

	b.persist()
}

func (b *Breaker) trimLossWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.ConsecutiveLossWindow)
	kept := b.state.LossTimestamps[:0]
	for _, ts := range b.state.LossTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.state.ConsecutiveLosses = len(kept)
	b.state.LossTimestamps = kept
}

func (b *Breaker) tripReason(now time.Time) string {
	if b.state.DailyStartEquity.IsPositive() {
		drawdown := b.state.DailyStartEquity.Sub(b.state.EquityLevel).Div(b.state.DailyStartEquity)
		if drawdown.GreaterThanOrEqual(b.cfg.MaxDailyDrawdown) {
			return "daily_drawdown"
		}
	}
	if b.state.EquityLevel.LessThanOrEqual(b.cfg.MinEquity) {
		return "min_equity"
	}
	if b.state.ConsecutiveLosses >= b.cfg.ConsecutiveLossLimit {
		return "consecutive_losses"
	}
	return ""
}

func (b *Breaker) trip(reason string, now time.Time) {
	b.transitionTo(types.BreakerTripped, reason)
	trippedAt := now
	b.state.TrippedAt = &trippedAt

	if b.logger != nil {
		b.logger.Error("circuit breaker tripped", zap.String("reason", reason))
	}
	if b.notifier != nil {
		b.notifier.NotifyBreakerTripped(reason)
	}
}

// Reset is the operator-initiated reset, valid from TRIPPED or COOLDOWN.
func (b *Breaker) Reset(operatorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(types.BreakerClosed, "")
	b.state.ConsecutiveLosses = 0
	b.state.LossTimestamps = nil
	b.persist()

	if b.logger != nil {
		b.logger.Info("circuit breaker reset", zap.String("operatorId", operatorID))
	}
	if b.notifier != nil {
		b.notifier.NotifyBreakerReset()
	}
}

// BeginCooldown transitions TRIPPED -> COOLDOWN once the trip condition has
// cleared, starting the cooldownMinutes timer. The caller is responsible for
// confirming the tripping condition cleared before calling this.
func (b *Breaker) BeginCooldown(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.State != types.BreakerTripped {
		return
	}
	until := now.Add(time.Duration(b.cfg.CooldownMinutes) * time.Minute)
	b.state.CooldownUntil = &until
	b.transitionTo(types.BreakerCooldown, b.state.LastTripReason)
	b.persist()
}

// ResetDailyStats resets the daily drawdown baseline at the start of a new trading day.
func (b *Breaker) ResetDailyStats(currentEquity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.DailyStartEquity = currentEquity
	b.state.EquityLevel = currentEquity
	b.persist()
}

func (b *Breaker) transitionTo(state types.BreakerState, reason string) {
	b.state.State = state
	if reason != "" {
		b.state.LastTripReason = reason
	}
	if state == types.BreakerClosed {
		b.state.TrippedAt = nil
		b.state.CooldownUntil = nil
	}
	metrics.ObserveBreakerState(state)
}

func (b *Breaker) persist() error {
	if b.db == nil {
		return nil
	}
	record := toRecord(b.state)
	return b.db.Save(&record).Error
}

func toRecord(s types.CircuitBreakerState) storage.CircuitBreakerStateRecord {
	return storage.CircuitBreakerStateRecord{
		InstanceID:        s.InstanceID,
		State:             string(s.State),
		DailyStartEquity:  s.DailyStartEquity.String(),
		EquityLevel:       s.EquityLevel.String(),
		ConsecutiveLosses: s.ConsecutiveLosses,
		TrippedAt:         s.TrippedAt,
		CooldownUntil:     s.CooldownUntil,
		LastTripReason:    s.LastTripReason,
	}
}

func fromRecord(r storage.CircuitBreakerStateRecord) types.CircuitBreakerState {
	dailyStart, _ := decimal.NewFromString(r.DailyStartEquity)
	equity, _ := decimal.NewFromString(r.EquityLevel)
	return types.CircuitBreakerState{
		InstanceID:        r.InstanceID,
		State:             types.BreakerState(r.State),
		DailyStartEquity:  dailyStart,
		EquityLevel:       equity,
		ConsecutiveLosses: r.ConsecutiveLosses,
		TrippedAt:         r.TrippedAt,
		CooldownUntil:     r.CooldownUntil,
		LastTripReason:    r.LastTripReason,
	}
}
