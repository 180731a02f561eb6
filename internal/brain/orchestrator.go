// Package brain implements the Brain Orchestrator: the single coordinator
// that admits inbound IntentSignals through the circuit-breaker gate first
// and then the allocation, performance, inference, governance, and risk
// gates in sequence, and produces authorized (or vetoed) decisions, per signal rather than on a
// periodic strategy tick.
package brain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/internal/allocation"
	"github.com/brainhouse/capital-brain/internal/breaker"
	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/eventstore"
	"github.com/brainhouse/capital-brain/internal/events"
	"github.com/brainhouse/capital-brain/internal/execution"
	"github.com/brainhouse/capital-brain/internal/governance"
	"github.com/brainhouse/capital-brain/internal/inference"
	"github.com/brainhouse/capital-brain/internal/metrics"
	"github.com/brainhouse/capital-brain/internal/performance"
	"github.com/brainhouse/capital-brain/internal/risk"
	"github.com/brainhouse/capital-brain/pkg/types"
	"github.com/brainhouse/capital-brain/pkg/utils"
)

// EquitySource supplies the current account equity used by the allocation
// and risk gates.
type EquitySource interface {
	Equity() decimal.Decimal
}

// decisionCacheEntry caches a decision for the idempotency window.
type decisionCacheEntry struct {
	decision types.BrainDecision
	expires  time.Time
}

// Orchestrator is the Brain's single-writer admission-control coordinator.
//
// A signal flows through: dedup -> priority queue -> symbol netting ->
// circuit breaker gate (C6) -> allocation (C1) -> performance modifier (C2) ->
// inference scalar (C3) -> DEFCON (C4) -> risk gate (C5) -> authorize.
type Orchestrator struct {
	mu sync.Mutex

	logger *zap.Logger
	cfg    config.BrainOrchestratorConfig

	allocation  *allocation.Engine
	performance *performance.Tracker
	inference   *inference.Engine
	governor    *governance.Governor
	guardian    *risk.Guardian
	circuit     *breaker.Breaker
	positions   *PositionManager
	events      *eventstore.Store
	bus         *events.EventBus
	exec        execution.Execution
	notifier    execution.PhaseNotifier
	equity      EquitySource

	queue *PriorityQueue

	decisionCache map[string]decisionCacheEntry
	approvals     map[types.PhaseID]types.ApprovalStats
}

// Collaborators bundles the Orchestrator's constructor dependencies.
type Collaborators struct {
	Logger      *zap.Logger
	Config      config.BrainOrchestratorConfig
	Allocation  *allocation.Engine
	Performance *performance.Tracker
	Inference   *inference.Engine
	Governor    *governance.Governor
	Guardian    *risk.Guardian
	Circuit     *breaker.Breaker
	Positions   *PositionManager
	Events      *eventstore.Store
	Bus         *events.EventBus
	Exec        execution.Execution
	Notifier    execution.PhaseNotifier
	Equity      EquitySource
}

// NewOrchestrator wires the Brain's admission-control pipeline from its collaborators.
func NewOrchestrator(c Collaborators) *Orchestrator {
	return &Orchestrator{
		logger:        c.Logger,
		cfg:           c.Config,
		allocation:    c.Allocation,
		performance:   c.Performance,
		inference:     c.Inference,
		governor:      c.Governor,
		guardian:      c.Guardian,
		circuit:       c.Circuit,
		positions:     c.Positions,
		events:        c.Events,
		bus:           c.Bus,
		exec:          c.Exec,
		notifier:      c.Notifier,
		equity:        c.Equity,
		queue:         NewPriorityQueue(c.Config.MaxQueueSize),
		decisionCache: make(map[string]decisionCacheEntry),
		approvals:     make(map[types.PhaseID]types.ApprovalStats),
	}
}

// Enqueue admits a signal into the priority queue, satisfying the
// reconciliation SignalEnqueuer contract for ghost-position auto-closes.
func (o *Orchestrator) Enqueue(ctx context.Context, signal types.IntentSignal) error {
	if err := signal.Valid(); err != nil {
		return err
	}
	if dropped, didDrop := o.queue.Push(signal); didDrop {
		if o.logger != nil {
			o.logger.Warn("queue overflow, dropped lowest-priority signal", zap.String("droppedSignalId", dropped))
		}
	}
	metrics.QueueDepth.Set(float64(o.queue.Len()))
	return nil
}

// DrainOne pops and processes the single highest-priority pending signal, if any.
func (o *Orchestrator) DrainOne(ctx context.Context) (types.BrainDecision, bool, error) {
	signal, ok := o.queue.Pop()
	if !ok {
		return types.BrainDecision{}, false, nil
	}
	metrics.QueueDepth.Set(float64(o.queue.Len()))
	decision, err := o.Process(ctx, signal)
	return decision, true, err
}

// DrainBatch pops the highest-priority pending signal together with every
// other queued signal sharing its symbol, and nets them before authorizing
// (spec step 3). Signals on other symbols are left queued.
func (o *Orchestrator) DrainBatch(ctx context.Context) ([]types.BrainDecision, bool, error) {
	batch, ok := o.queue.PopSymbolBatch()
	if !ok {
		return nil, false, nil
	}
	metrics.QueueDepth.Set(float64(o.queue.Len()))
	decisions, err := o.ProcessBatch(ctx, batch)
	return decisions, true, err
}

// Process runs a single signal through the full admission pipeline. It is
// safe to call directly (bypassing the queue) for tests and synchronous callers.
func (o *Orchestrator) Process(ctx context.Context, signal types.IntentSignal) (types.BrainDecision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cached, ok := o.cachedDecision(signal.SignalID); ok {
		return cached, nil
	}
	return o.processLocked(ctx, signal, signal.RequestedSize, []string{signal.SignalID}, []types.PhaseID{signal.PhaseID}), nil
}

// ProcessBatch groups signals by symbol and nets same-symbol signals before
// authorizing: net = Σ(side==BUY ? +size : -size); side = sign(net). A zero
// net produces one vetoed "neutral_netted" decision (nothing is executed)
// that records every original signalId as accounted; a nonzero net produces one decision authorizing the net side
// and size, with every original signalId recorded as accounted. Signals
// already covered by a cached decision (dedup) are returned as-is and
// excluded from the netting math.
func (o *Orchestrator) ProcessBatch(ctx context.Context, signals []types.IntentSignal) ([]types.BrainDecision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	groups := make(map[string][]types.IntentSignal)
	var order []string
	for _, s := range signals {
		if _, ok := groups[s.Symbol]; !ok {
			order = append(order, s.Symbol)
		}
		groups[s.Symbol] = append(groups[s.Symbol], s)
	}

	decisions := make([]types.BrainDecision, 0, len(signals))
	for _, symbol := range order {
		fresh := make([]types.IntentSignal, 0, len(groups[symbol]))
		for _, s := range groups[symbol] {
			if cached, ok := o.cachedDecision(s.SignalID); ok {
				decisions = append(decisions, cached)
				continue
			}
			fresh = append(fresh, s)
		}
		if len(fresh) == 0 {
			continue
		}
		if len(fresh) == 1 {
			decisions = append(decisions, o.processLocked(ctx, fresh[0], fresh[0].RequestedSize, []string{fresh[0].SignalID}, []types.PhaseID{fresh[0].PhaseID}))
			continue
		}

		net := decimal.Zero
		ids := make([]string, 0, len(fresh))
		var phases []types.PhaseID
		seenPhase := make(map[types.PhaseID]bool)
		for _, s := range fresh {
			net = net.Add(decimal.NewFromInt(s.Side.Sign()).Mul(s.RequestedSize))
			ids = append(ids, s.SignalID)
			if !seenPhase[s.PhaseID] {
				seenPhase[s.PhaseID] = true
				phases = append(phases, s.PhaseID)
			}
		}

		representative := fresh[0]
		representative.RequestedSize = net.Abs()
		representative.Side = types.OrderSideBuy
		if net.IsNegative() {
			representative.Side = types.OrderSideSell
		}

		decisions = append(decisions, o.processLocked(ctx, representative, net.Abs(), ids, phases))
	}

	return decisions, nil
}

// processLocked runs the query-chain/gate/authorize pipeline for a signal
// whose size has already been netted, crediting every phase in
// accountedPhases and caching the resulting decision under every id in
// accountedIDs. Callers must hold o.mu.
func (o *Orchestrator) processLocked(ctx context.Context, signal types.IntentSignal, nettedSize decimal.Decimal, accountedIDs []string, accountedPhases []types.PhaseID) types.BrainDecision {
	now := time.Now()
	equity := o.equity.Equity()
	alloc := o.allocation.Allocate(equity)
	defcon := o.governor.Level()

	if reason := o.circuit.CheckSignal(now); reason != "" {
		return o.veto(ctx, signal, alloc, defcon, equity, reason, accountedIDs, accountedPhases)
	}

	if nettedSize.IsZero() {
		return o.veto(ctx, signal, alloc, defcon, equity, "neutral_netted", accountedIDs, accountedPhases)
	}

	positions := o.positions.Positions()
	modifier := o.performance.Modifier(signal.PhaseID)
	outcomeRatio, _ := nettedSize.Div(equity.Abs().Add(decimal.NewFromInt(1))).Float64()
	inferenceScalar := o.inference.Scalar(signal.PhaseID, outcomeRatio)

	phaseWeight := alloc.WeightFor(signal.PhaseID)
	maxPhaseNotional := equity.Mul(phaseWeight)
	candidateSize := nettedSize.Mul(modifier).Mul(inferenceScalar)
	clamped := false
	if candidateSize.GreaterThan(maxPhaseNotional) {
		candidateSize = maxPhaseNotional
		clamped = true
	}

	result := o.guardian.Evaluate(signal, candidateSize, positions, alloc, defcon, equity)
	if !result.Approved {
		o.recordRiskVeto(signal, result.Reason)
		return o.veto(ctx, signal, alloc, defcon, equity, result.Reason, accountedIDs, accountedPhases)
	}

	reason := "approved"
	if clamped {
		reason = "approved:clamped"
	}

	intent := types.AuthorizedIntent{
		SignalID:        signal.SignalID,
		PhaseID:         signal.PhaseID,
		Approved:        true,
		AuthorizedSize:  result.AuthorizedBaseSize,
		Allocation:      alloc,
		AppliedModifier: modifier.Mul(inferenceScalar),
		DecisionReason:  reason,
		At:              now,
	}

	if o.exec != nil {
		if _, err := o.exec.ForwardSignal(ctx, intent); err != nil && o.logger != nil {
			o.logger.Error("forward signal failed", zap.String("signalId", signal.SignalID), zap.Error(err))
		}
	}

	decision := types.BrainDecision{
		Signal:             signal,
		Intent:             intent,
		Allocation:         alloc,
		Modifier:           intent.AppliedModifier,
		Equity:             equity,
		TraceID:            utils.GenerateTraceID(),
		AccountedSignalIDs: accountedIDs,
		RiskSnapshot: types.RiskSnapshot{
			Correlation: result.Metrics.Correlation,
			Beta:        result.Metrics.Beta,
			Defcon:      defcon,
		},
	}

	for _, phase := range accountedPhases {
		o.recordApproval(phase, true)
	}
	o.cacheAll(accountedIDs, decision)
	o.emit(ctx, decision)
	return decision
}

func (o *Orchestrator) veto(ctx context.Context, signal types.IntentSignal, alloc types.AllocationVector, defcon types.DefconLevel, equity decimal.Decimal, reason string, accountedIDs []string, accountedPhases []types.PhaseID) types.BrainDecision {
	for _, phase := range accountedPhases {
		o.recordApproval(phase, false)
	}

	decision := types.BrainDecision{
		Signal: signal,
		Intent: types.AuthorizedIntent{
			SignalID:       signal.SignalID,
			PhaseID:        signal.PhaseID,
			Approved:       false,
			DecisionReason: reason,
			At:             time.Now(),
		},
		Allocation:         alloc,
		Equity:             equity,
		TraceID:            utils.GenerateTraceID(),
		AccountedSignalIDs: accountedIDs,
		RiskSnapshot: types.RiskSnapshot{
			Defcon: defcon,
		},
	}

	o.cacheAll(accountedIDs, decision)
	o.emit(ctx, decision)

	if o.notifier != nil {
		if err := o.notifier.NotifyVeto(ctx, signal.PhaseID, signal.SignalID, reason); err != nil && o.logger != nil {
			o.logger.Warn("veto notification failed", zap.String("signalId", signal.SignalID), zap.Error(err))
		}
	}
	return decision
}

func (o *Orchestrator) recordRiskVeto(signal types.IntentSignal, reason string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewRiskAlertEvent(signal.Symbol, signal.SignalID, reason))
}

func (o *Orchestrator) emit(ctx context.Context, decision types.BrainDecision) {
	if o.events != nil {
		payload, _ := json.Marshal(decision)
		_, err := o.events.Append(ctx, types.Event{
			Type:        "brain_decision",
			AggregateID: decision.Signal.Symbol,
			Payload:     payload,
			TraceID:     decision.TraceID,
		})
		if err != nil && o.logger != nil {
			o.logger.Error("append decision event failed", zap.Error(err))
		}
	}
	if o.bus != nil {
		o.bus.Publish(events.NewDecisionEvent(decision))
	}
}

func (o *Orchestrator) cachedDecision(signalID string) (types.BrainDecision, bool) {
	entry, ok := o.decisionCache[signalID]
	if !ok || time.Now().After(entry.expires) {
		return types.BrainDecision{}, false
	}
	return entry.decision, true
}

func (o *Orchestrator) cacheDecision(signalID string, decision types.BrainDecision) {
	ttl := o.cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	o.decisionCache[signalID] = decisionCacheEntry{decision: decision, expires: time.Now().Add(ttl)}

	// opportunistic sweep so the cache does not grow unbounded between signals.
	now := time.Now()
	for id, entry := range o.decisionCache {
		if now.After(entry.expires) {
			delete(o.decisionCache, id)
		}
	}
}

// cacheAll caches decision under every accounted signal id, so idempotent
// replay of any original signal in a netted batch returns the shared decision.
func (o *Orchestrator) cacheAll(signalIDs []string, decision types.BrainDecision) {
	for _, id := range signalIDs {
		o.cacheDecision(id, decision)
	}
}

func (o *Orchestrator) recordApproval(phase types.PhaseID, approved bool) {
	stats := o.approvals[phase]
	stats.Total++
	if approved {
		stats.Approved++
	}
	o.approvals[phase] = stats
	metrics.ObserveDecision(phase, approved)
}

// ApprovalRate returns the phase's running approval rate (1.0 absent evidence).
func (o *Orchestrator) ApprovalRate(phase types.PhaseID) decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.approvals[phase].Rate()
}

// ApprovalRates returns the running approval rate for every phase seen so far.
func (o *Orchestrator) ApprovalRates() map[types.PhaseID]decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[types.PhaseID]decimal.Decimal, len(o.approvals))
	for phase, stats := range o.approvals {
		out[phase] = stats.Rate()
	}
	return out
}

// QueueDepth returns the number of signals currently pending admission.
func (o *Orchestrator) QueueDepth() int {
	return o.queue.Len()
}
