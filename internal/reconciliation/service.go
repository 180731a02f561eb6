// Package reconciliation runs periodic Brain-vs-Exchange and Brain-vs-DB
// drift checks, classifies mismatches, and maintains a decaying/recovering
// TruthConfidence score per scope, over an interval-ticker loop.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/internal/metrics"
	"github.com/brainhouse/capital-brain/internal/storage"
	"github.com/brainhouse/capital-brain/pkg/types"
	"github.com/brainhouse/capital-brain/pkg/utils"
)

const (
	confidenceDecayOnMismatch = 0.2
	confidenceRecoverOnMatch  = 0.01
)

// PositionSource supplies the Brain's in-memory view of positions for a venue,
// or the full book for the DATABASE scope.
type PositionSource interface {
	PositionsForVenue(venue string) []types.Position
	AllPositions() []types.Position
}

// SignalEnqueuer accepts a RECONCILIATION-type IntentSignal back into the
// normal admission pipeline, so auto-resolution never bypasses Risk/Breaker.
type SignalEnqueuer interface {
	Enqueue(ctx context.Context, signal types.IntentSignal) error
}

// Service runs scheduled reconciliation across configured venues plus the
// reserved DATABASE scope.
type Service struct {
	cfg      config.ReconciliationConfig
	logger   *zap.Logger
	db       *gorm.DB
	exec     execution.Execution
	source   PositionSource
	enqueuer SignalEnqueuer

	ticker *time.Ticker
	stopCh chan struct{}
}

// New constructs a reconciliation Service.
func New(logger *zap.Logger, cfg config.ReconciliationConfig, db *gorm.DB, exec execution.Execution, source PositionSource, enqueuer SignalEnqueuer) *Service {
	return &Service{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		exec:     exec,
		source:   source,
		enqueuer: enqueuer,
	}
}

// Start begins the interval loop in the background. Stop via Stop.
func (s *Service) Start(ctx context.Context) {
	s.ticker = time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	s.stopCh = make(chan struct{})

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if err := s.RunAll(ctx); err != nil && s.logger != nil {
					s.logger.Error("reconciliation run failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the interval loop.
func (s *Service) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.stopCh != nil {
		close(s.stopCh)
	}
}

// RunAll runs one reconciliation pass across every configured venue plus DATABASE.
func (s *Service) RunAll(ctx context.Context) error {
	for _, venue := range s.cfg.Exchanges {
		if _, err := s.runVenue(ctx, venue); err != nil {
			return err
		}
	}
	if _, err := s.runDatabase(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Service) runVenue(ctx context.Context, venue string) (types.ReconciliationReport, error) {
	runID := utils.GenerateRunID()
	startedAt := time.Now()

	exchangePositions, err := s.exec.FetchExchangePositions(ctx, venue)
	if err != nil {
		return s.finishWithError(ctx, runID, venue, startedAt, err)
	}
	brainPositions := s.source.PositionsForVenue(venue)

	drifts := classify(runID, venue, brainPositions, exchangePositions)
	report := s.finish(ctx, runID, venue, startedAt, drifts)

	for _, drift := range drifts {
		if drift.Type == types.DriftGhostPosition && s.cfg.AutoResolve {
			s.enqueueGhostClose(ctx, venue, drift)
		}
	}

	s.updateConfidence(ctx, venue, len(drifts) == 0)
	return report, nil
}

func (s *Service) runDatabase(ctx context.Context) (types.ReconciliationReport, error) {
	runID := utils.GenerateRunID()
	startedAt := time.Now()

	// The DATABASE scope compares the in-memory book against its own
	// persisted projection: a brain-state-loss drift indicates the database
	// failed to durably record a position the in-memory book still holds.
	var persistedCount int64
	if err := s.db.WithContext(ctx).Model(&storage.PositionSnapshotRecord{}).Count(&persistedCount).Error; err != nil {
		return s.finishWithError(ctx, runID, types.DatabaseScope, startedAt, err)
	}

	var drifts []types.ReconciliationDrift
	if persistedCount == 0 && len(s.source.AllPositions()) > 0 {
		drifts = append(drifts, types.ReconciliationDrift{
			DriftID:  utils.GenerateID("drift"),
			RunID:    runID,
			Scope:    types.DatabaseScope,
			Type:     types.DriftBrainStateLoss,
			Severity: "critical",
			Details:  "brain holds open positions but no snapshot has ever been persisted",
		})
	}

	report := s.finish(ctx, runID, types.DatabaseScope, startedAt, drifts)
	s.updateConfidence(ctx, types.DatabaseScope, len(drifts) == 0)
	return report, nil
}

func classify(runID, venue string, brainPositions []types.Position, exchangePositions []execution.ExecutionPosition) []types.ReconciliationDrift {
	brainBySymbolSide := make(map[string]types.Position)
	for _, p := range brainPositions {
		brainBySymbolSide[key(p.Symbol, p.Side)] = p
	}
	exchangeBySymbolSide := make(map[string]execution.ExecutionPosition)
	for _, p := range exchangePositions {
		exchangeBySymbolSide[key(p.Symbol, p.Side)] = p
	}

	var drifts []types.ReconciliationDrift

	for k, bp := range brainBySymbolSide {
		ep, ok := exchangeBySymbolSide[k]
		if !ok {
			if bp.Size.Abs().GreaterThan(types.SizeEpsilon) {
				drifts = append(drifts, types.ReconciliationDrift{
					DriftID: utils.GenerateID("drift"), RunID: runID, Scope: venue,
					Type: types.DriftGhostPosition, Severity: "high", Symbol: bp.Symbol, Delta: bp.Size,
					Details: fmt.Sprintf("brain holds %s %s but exchange reports no position", bp.Symbol, bp.Side),
				})
			}
			continue
		}
		delta := bp.Size.Sub(ep.Size).Abs()
		if delta.GreaterThan(types.SizeEpsilon) {
			drifts = append(drifts, types.ReconciliationDrift{
				DriftID: utils.GenerateID("drift"), RunID: runID, Scope: venue,
				Type: types.DriftSizeMismatch, Severity: "medium", Symbol: bp.Symbol, Delta: delta,
				Details: fmt.Sprintf("brain size %s vs exchange size %s", bp.Size, ep.Size),
			})
		}
	}

	for k, ep := range exchangeBySymbolSide {
		if _, ok := brainBySymbolSide[k]; !ok {
			drifts = append(drifts, types.ReconciliationDrift{
				DriftID: utils.GenerateID("drift"), RunID: runID, Scope: venue,
				Type: types.DriftUntrackedPosition, Severity: "high", Symbol: ep.Symbol, Delta: ep.Size,
				Details: fmt.Sprintf("exchange holds %s %s but brain has no record", ep.Symbol, ep.Side),
			})
		}
	}

	return drifts
}

func key(symbol string, side types.PositionSide) string {
	return symbol + ":" + string(side)
}

func (s *Service) enqueueGhostClose(ctx context.Context, venue string, drift types.ReconciliationDrift) {
	side := types.OrderSideSell
	if drift.Delta.IsNegative() {
		side = types.OrderSideBuy
	}
	signal := types.IntentSignal{
		SignalID:      utils.GenerateIntentID(),
		PhaseID:       types.PhaseP1,
		Symbol:        drift.Symbol,
		Side:          side,
		RequestedSize: drift.Delta.Abs(),
		Timestamp:     time.Now(),
		Exchange:      venue,
		SignalType:    types.SignalTypeReconciliation,
		PositionMode:  types.PositionModeOneWay,
		ReceivedAt:    time.Now(),
	}
	if err := s.enqueuer.Enqueue(ctx, signal); err != nil && s.logger != nil {
		s.logger.Error("failed to enqueue ghost-position close", zap.Error(err), zap.String("symbol", drift.Symbol))
	}
}

func (s *Service) finish(ctx context.Context, runID, scope string, startedAt time.Time, drifts []types.ReconciliationDrift) types.ReconciliationReport {
	status := types.ReconciliationMatch
	if len(drifts) > 0 {
		status = types.ReconciliationMismatch
	}
	report := types.ReconciliationReport{
		RunID: runID, Scope: scope, Status: status, Mismatches: drifts,
		StartedAt: startedAt, FinishedAt: time.Now(),
	}
	s.persist(ctx, report, true)
	return report
}

func (s *Service) finishWithError(ctx context.Context, runID, scope string, startedAt time.Time, cause error) (types.ReconciliationReport, error) {
	report := types.ReconciliationReport{
		RunID: runID, Scope: scope, Status: types.ReconciliationError,
		StartedAt: startedAt, FinishedAt: time.Now(),
	}
	s.persist(ctx, report, false)
	return report, fmt.Errorf("reconciling scope %s: %w", scope, cause)
}

func (s *Service) persist(ctx context.Context, report types.ReconciliationReport, success bool) {
	statsJSON, _ := json.Marshal(report.Mismatches)
	run := storage.ReconciliationRunRecord{
		RunID: report.RunID, Scope: report.Scope, StartedAt: report.StartedAt,
		FinishedAt: report.FinishedAt, Success: success, StatsJSON: statsJSON,
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil && s.logger != nil {
		s.logger.Error("persisting reconciliation run", zap.Error(err))
	}

	for _, drift := range report.Mismatches {
		detailsJSON, _ := json.Marshal(drift.Details)
		record := storage.ReconciliationDriftRecord{
			DriftID: drift.DriftID, RunID: drift.RunID, Scope: drift.Scope,
			Type: string(drift.Type), Severity: drift.Severity, Symbol: drift.Symbol,
			Delta: drift.Delta.String(), DetailsJSON: detailsJSON,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil && s.logger != nil {
			s.logger.Error("persisting reconciliation drift", zap.Error(err))
		}
	}
}

func (s *Service) updateConfidence(ctx context.Context, scope string, clean bool) {
	var row storage.TruthConfidenceRecord
	err := s.db.WithContext(ctx).First(&row, "scope = ?", scope).Error

	var score decimal.Decimal
	var reasons []string
	switch {
	case err == gorm.ErrRecordNotFound:
		score = decimal.NewFromInt(1)
	case err != nil:
		if s.logger != nil {
			s.logger.Error("loading truth confidence", zap.Error(err))
		}
		return
	default:
		score, _ = decimal.NewFromString(row.Score)
		_ = json.Unmarshal(row.ReasonsJSON, &reasons)
	}

	if clean {
		score = utils.MinDecimal(decimal.NewFromInt(1), score.Add(decimal.NewFromFloat(confidenceRecoverOnMatch)))
		reasons = nil
	} else {
		score = utils.MaxDecimal(decimal.Zero, score.Sub(decimal.NewFromFloat(confidenceDecayOnMismatch)))
		reasons = append(reasons, "reconciliation_mismatch")
	}

	confidence := types.TruthConfidence{Scope: scope, Score: score, Reasons: reasons, LastUpdateTs: time.Now()}
	confidence.DeriveState()

	reasonsJSON, _ := json.Marshal(confidence.Reasons)
	record := storage.TruthConfidenceRecord{
		Scope: scope, Score: confidence.Score.String(), State: string(confidence.State),
		ReasonsJSON: reasonsJSON, LastUpdateTs: confidence.LastUpdateTs,
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil && s.logger != nil {
		s.logger.Error("persisting truth confidence", zap.Error(err))
	}
	confidenceFloat, _ := confidence.Score.Float64()
	metrics.ReconciliationConfidence.WithLabelValues(scope).Set(confidenceFloat)
}
