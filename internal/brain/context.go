package brain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brainhouse/capital-brain/internal/allocation"
	"github.com/brainhouse/capital-brain/internal/breaker"
	"github.com/brainhouse/capital-brain/internal/capitalflow"
	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/eventstore"
	"github.com/brainhouse/capital-brain/internal/events"
	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/internal/governance"
	"github.com/brainhouse/capital-brain/internal/inference"
	"github.com/brainhouse/capital-brain/internal/leader"
	"github.com/brainhouse/capital-brain/internal/performance"
	"github.com/brainhouse/capital-brain/internal/reconciliation"
	"github.com/brainhouse/capital-brain/internal/risk"
	"github.com/brainhouse/capital-brain/internal/snapshot"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// EquityTracker is a simple concurrency-safe holder for the Brain's current
// account equity, seeded at construction and changed only through Set.
type EquityTracker struct {
	mu     sync.RWMutex
	equity decimal.Decimal
}

// NewEquityTracker constructs a tracker seeded at initialEquity.
func NewEquityTracker(initialEquity decimal.Decimal) *EquityTracker {
	return &EquityTracker{equity: initialEquity}
}

// Equity satisfies EquitySource.
func (e *EquityTracker) Equity() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity
}

// Set updates the tracked equity.
func (e *EquityTracker) Set(equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity = equity
}

// CurrentSnapshot satisfies snapshot.StateProvider, packaging the
// orchestrator's live state for periodic persistence.
type snapshotSource struct {
	ctx *Context
}

func (s snapshotSource) CurrentSnapshot() (types.PositionSnapshot, uint64) {
	return s.ctx.buildSnapshot()
}

// Context owns every collaborator the Brain's twelve components need and
// wires them together as a single ownership graph, constructed once at
// process startup rather than reached for via package-level globals.
type Context struct {
	Logger *zap.Logger
	Config config.BrainConfig
	DB     *gorm.DB

	Allocation     *allocation.Engine
	Performance    *performance.Tracker
	Inference      *inference.Engine
	Governor       *governance.Governor
	Guardian       *risk.Guardian
	Updater        *risk.Updater
	Circuit        *breaker.Breaker
	CapitalFlow    *capitalflow.Manager
	Events         *eventstore.Store
	Bus            *events.EventBus
	Snapshot       *snapshot.Manager
	Reconciliation *reconciliation.Service
	Elector        *leader.Elector

	Positions *PositionManager
	Equity    *EquityTracker
	Orchestrator *Orchestrator

	Exec     execution.Execution
	Notifier execution.PhaseNotifier
}

// NewContext constructs and wires every Brain component from config and the
// execution-layer boundary collaborators. instanceID identifies this
// process for circuit-breaker state and leader-election lease ownership.
func NewContext(
	logger *zap.Logger,
	cfg config.BrainConfig,
	db *gorm.DB,
	exec execution.Execution,
	notifier execution.PhaseNotifier,
	initialEquity decimal.Decimal,
	instanceID string,
) (*Context, error) {
	positions := NewPositionManager()
	equity := NewEquityTracker(initialEquity)

	perfTracker, err := performance.New(logger, cfg.Performance, db)
	if err != nil {
		return nil, err
	}

	circuitBreaker, err := breaker.New(logger, cfg.Breaker, db, nil, instanceID, initialEquity)
	if err != nil {
		return nil, err
	}

	allocEngine := allocation.New(cfg.Allocation)
	inferenceEngine := inference.New(cfg.Inference)
	governor := governance.New(logger, governance.DefaultThresholds())
	guardian := risk.New(cfg.Risk)
	updater := risk.NewUpdater(logger, cfg.Risk, guardian, positions)

	store := eventstore.New(db)
	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())

	flowManager := capitalflow.New(logger, cfg.CapitalFlow, exec, "primary", decimal.Zero)

	orchestrator := NewOrchestrator(Collaborators{
		Logger:      logger,
		Config:      cfg.Brain,
		Allocation:  allocEngine,
		Performance: perfTracker,
		Inference:   inferenceEngine,
		Governor:    governor,
		Guardian:    guardian,
		Circuit:     circuitBreaker,
		Positions:   positions,
		Events:      store,
		Bus:         bus,
		Exec:        exec,
		Notifier:    notifier,
		Equity:      equity,
	})

	ctx := &Context{
		Logger: logger, Config: cfg, DB: db,
		Allocation: allocEngine, Performance: perfTracker, Inference: inferenceEngine,
		Governor: governor, Guardian: guardian, Updater: updater, Circuit: circuitBreaker,
		CapitalFlow: flowManager, Events: store, Bus: bus,
		Positions: positions, Equity: equity, Orchestrator: orchestrator,
		Exec: exec, Notifier: notifier,
	}

	ctx.Snapshot = snapshot.New(logger, cfg.Snapshot, db, store, snapshotSource{ctx: ctx})
	ctx.Reconciliation = reconciliation.New(logger, cfg.Reconciliation, db, exec, positions, orchestrator)

	if exec != nil {
		exec.OnFillConfirmation(func(fill execution.Fill) {
			positions.ApplyFill(fill, "primary")
		})
	}

	return ctx, nil
}

func (c *Context) buildSnapshot() (types.PositionSnapshot, uint64) {
	return types.PositionSnapshot{
		Timestamp:      time.Now(),
		Allocation:     c.Allocation.Allocate(c.Equity.Equity()),
		HighWatermark:  c.CapitalFlow.HighWatermark(),
		Positions:      c.Positions.Positions(),
		CircuitBreaker: c.Circuit.State(),
	}, 0
}
