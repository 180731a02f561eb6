package brain

import (
	"encoding/json"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/brainhouse/capital-brain/pkg/types"
)

// DecisionRebuilder replays brain_decision events from the event store into
// an in-memory approval-rate and recent-decision projection, satisfying
// eventstore.ReadModelRebuilder. Run out of the hot path by the rebuild CLI,
// never by the live orchestrator.
type DecisionRebuilder struct {
	mu        sync.Mutex
	approvals map[types.PhaseID]types.ApprovalStats
	ring      []types.BrainDecision
	maxRing   int
}

// NewDecisionRebuilder constructs an empty rebuilder bounded to maxRing
// recent decisions.
func NewDecisionRebuilder(maxRing int) *DecisionRebuilder {
	if maxRing <= 0 {
		maxRing = 50
	}
	return &DecisionRebuilder{
		approvals: make(map[types.PhaseID]types.ApprovalStats),
		maxRing:   maxRing,
	}
}

// Reset discards all accumulated state, for a from-scratch rebuild.
func (r *DecisionRebuilder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = make(map[types.PhaseID]types.ApprovalStats)
	r.ring = nil
}

// Apply folds a single replayed event into the projection. Events of any
// type other than brain_decision are ignored.
func (r *DecisionRebuilder) Apply(event types.Event) error {
	if event.Type != "brain_decision" {
		return nil
	}

	var decision types.BrainDecision
	if err := json.Unmarshal(event.Payload, &decision); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.approvals[decision.Signal.PhaseID]
	stats.Total++
	if decision.Intent.Approved {
		stats.Approved++
	}
	r.approvals[decision.Signal.PhaseID] = stats

	r.ring = append(r.ring, decision)
	if len(r.ring) > r.maxRing {
		r.ring = r.ring[len(r.ring)-r.maxRing:]
	}
	return nil
}

// ApprovalRates returns the rebuilt per-phase approval rate.
func (r *DecisionRebuilder) ApprovalRates() map[types.PhaseID]decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[types.PhaseID]decimal.Decimal, len(r.approvals))
	for phase, stats := range r.approvals {
		out[phase] = stats.Rate()
	}
	return out
}

// RecentDecisions returns the rebuilt decision ring, oldest first.
func (r *DecisionRebuilder) RecentDecisions() []types.BrainDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.BrainDecision, len(r.ring))
	copy(out, r.ring)
	return out
}
