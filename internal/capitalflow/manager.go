// Package capitalflow sweeps surplus futures-wallet balance to spot on a
// cron-like schedule once the high-watermark trigger is crossed, retrying
// failed transfers with exponential backoff, driven by robfig/cron.
package capitalflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/pkg/utils"
)

// Manager runs the scheduled futures-to-spot sweep for a single venue.
type Manager struct {
	mu            sync.Mutex
	cfg           config.CapitalFlowConfig
	logger        *zap.Logger
	exec          execution.Execution
	venue         string
	highWatermark decimal.Decimal

	cron     *cron.Cron
	entryID  cron.EntryID
	sweepSeq int
}

// New constructs a Manager seeded with the persisted high-watermark.
func New(logger *zap.Logger, cfg config.CapitalFlowConfig, exec execution.Execution, venue string, initialHighWatermark decimal.Decimal) *Manager {
	return &Manager{
		cfg:           cfg,
		logger:        logger,
		exec:          exec,
		venue:         venue,
		highWatermark: initialHighWatermark,
		cron:          cron.New(),
	}
}

// HighWatermark returns the current monotone high-watermark.
func (m *Manager) HighWatermark() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWatermark
}

// Start begins the cron schedule, invoking Sweep on each tick.
func (m *Manager) Start(ctx context.Context) error {
	id, err := m.cron.AddFunc(m.cfg.SweepSchedule, func() {
		if err := m.Sweep(ctx); err != nil && m.logger != nil {
			m.logger.Error("capital flow sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling capital flow sweep %q: %w", m.cfg.SweepSchedule, err)
	}
	m.entryID = id
	m.cron.Start()
	return nil
}

// Stop halts the cron schedule, waiting for any in-flight sweep to finish.
func (m *Manager) Stop() {
	m.cron.Stop()
}

// Sweep runs a single sweep attempt: if the futures wallet has crossed
// highWatermark·sweepThreshold, transfers the surplus above reserveLimit to
// spot, retrying with exponential backoff up to maxRetries. Idempotent by
// sweep run id.
func (m *Manager) Sweep(ctx context.Context) error {
	m.mu.Lock()
	runSeq := m.sweepSeq
	m.sweepSeq++
	watermark := m.highWatermark
	m.mu.Unlock()

	balances, err := m.exec.FetchWalletBalances(ctx, m.venue)
	if err != nil {
		return fmt.Errorf("fetching wallet balances: %w", err)
	}

	trigger := watermark.Mul(m.cfg.SweepThreshold)
	if balances.Futures.LessThan(trigger) {
		return nil
	}

	surplus := balances.Futures.Sub(m.cfg.ReserveLimit)
	if !surplus.IsPositive() {
		return nil
	}

	sweepRunID := fmt.Sprintf("%s-%d", m.venue, runSeq)

	retryCfg := utils.RetryConfig{
		MaxAttempts:  m.cfg.MaxRetries,
		InitialDelay: m.cfg.RetryBaseDelay,
		MaxDelay:     m.cfg.RetryBaseDelay * 16,
		Multiplier:   2.0,
	}

	_, err = utils.Retry(retryCfg, func() (struct{}, error) {
		return struct{}{}, m.exec.TransferFuturesToSpot(ctx, m.venue, surplus, sweepRunID)
	})
	if err != nil {
		return fmt.Errorf("transferring surplus after retries: %w", err)
	}

	m.mu.Lock()
	if balances.Futures.GreaterThan(m.highWatermark) {
		m.highWatermark = balances.Futures
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("capital flow swept",
			zap.String("venue", m.venue),
			zap.String("amount", surplus.String()),
			zap.String("sweepRunId", sweepRunID))
	}
	return nil
}
