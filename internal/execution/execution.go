// Package execution declares the Brain's boundary collaborators: the
// exchange-facing Execution adapter and the phase notifier, plus a
// paper-trading double used in tests and local development. Exchange
// quirks, order routing, and fills are explicitly out of scope here —
// this package only defines and exercises the contract.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brainhouse/capital-brain/pkg/types"
)

// ExecutionPosition is a venue-reported open position, as seen from outside the Brain.
type ExecutionPosition struct {
	Symbol string
	Side   types.PositionSide
	Size   decimal.Decimal
}

// Fill is a single fill confirmation pushed back from the execution layer.
type Fill struct {
	SignalID string
	PhaseID  types.PhaseID
	Symbol   string
	Side     types.OrderSide
	Size     decimal.Decimal
	Price    decimal.Decimal
	At       time.Time
}

// Ack is the execution layer's acknowledgement of a forwarded intent.
type Ack struct {
	Accepted bool
	OrderID  string
}

// WalletBalances reports a venue's futures/spot wallet levels for C7.
type WalletBalances struct {
	Futures decimal.Decimal
	Spot    decimal.Decimal
}

// Execution is the outbound boundary to order routing and wallet operations.
type Execution interface {
	ForwardSignal(ctx context.Context, intent types.AuthorizedIntent) (Ack, error)
	FetchExchangePositions(ctx context.Context, venue string) ([]ExecutionPosition, error)
	OnFillConfirmation(callback func(Fill))
	FetchWalletBalances(ctx context.Context, venue string) (WalletBalances, error)
	TransferFuturesToSpot(ctx context.Context, venue string, amount decimal.Decimal, sweepRunID string) error
}

// PhaseNotifier delivers best-effort veto notifications back to upstream phases.
type PhaseNotifier interface {
	NotifyVeto(ctx context.Context, phaseID types.PhaseID, signalID string, reason string) error
}

// PaperExecution is an in-memory Execution double for tests and local runs.
type PaperExecution struct {
	mu          sync.Mutex
	positions   map[string][]ExecutionPosition
	wallets     map[string]WalletBalances
	fillCb      func(Fill)
	seenSweeps  map[string]bool
}

// NewPaperExecution constructs a PaperExecution with empty state.
func NewPaperExecution() *PaperExecution {
	return &PaperExecution{
		positions:  make(map[string][]ExecutionPosition),
		wallets:    make(map[string]WalletBalances),
		seenSweeps: make(map[string]bool),
	}
}

// SeedPositions installs the venue's reported positions for FetchExchangePositions.
func (p *PaperExecution) SeedPositions(venue string, positions []ExecutionPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[venue] = positions
}

// SeedWallet installs the venue's wallet balances for FetchWalletBalances.
func (p *PaperExecution) SeedWallet(venue string, balances WalletBalances) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallets[venue] = balances
}

// ForwardSignal always accepts, recording nothing beyond an Ack.
func (p *PaperExecution) ForwardSignal(_ context.Context, intent types.AuthorizedIntent) (Ack, error) {
	return Ack{Accepted: true, OrderID: "paper-" + intent.SignalID}, nil
}

// FetchExchangePositions returns the seeded positions for venue.
func (p *PaperExecution) FetchExchangePositions(_ context.Context, venue string) ([]ExecutionPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[venue], nil
}

// OnFillConfirmation registers the fill callback.
func (p *PaperExecution) OnFillConfirmation(callback func(Fill)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillCb = callback
}

// PushFill invokes the registered fill callback, if any, simulating an inbound fill.
func (p *PaperExecution) PushFill(f Fill) {
	p.mu.Lock()
	cb := p.fillCb
	p.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

// FetchWalletBalances returns the seeded balances for venue.
func (p *PaperExecution) FetchWalletBalances(_ context.Context, venue string) (WalletBalances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wallets[venue], nil
}

// TransferFuturesToSpot moves amount from futures to spot, idempotent by sweepRunID.
func (p *PaperExecution) TransferFuturesToSpot(_ context.Context, venue string, amount decimal.Decimal, sweepRunID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seenSweeps[sweepRunID] {
		return nil
	}
	p.seenSweeps[sweepRunID] = true

	balances := p.wallets[venue]
	balances.Futures = balances.Futures.Sub(amount)
	balances.Spot = balances.Spot.Add(amount)
	p.wallets[venue] = balances
	return nil
}

// LoggingNotifier is a PhaseNotifier that records vetoes for assertions/inspection.
type LoggingNotifier struct {
	mu     sync.Mutex
	vetoes []VetoRecord
}

// VetoRecord is a single recorded veto notification.
type VetoRecord struct {
	PhaseID  types.PhaseID
	SignalID string
	Reason   string
}

// NewLoggingNotifier constructs an empty LoggingNotifier.
func NewLoggingNotifier() *LoggingNotifier {
	return &LoggingNotifier{}
}

// NotifyVeto records the veto. Best-effort: never returns an error.
func (n *LoggingNotifier) NotifyVeto(_ context.Context, phaseID types.PhaseID, signalID string, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vetoes = append(n.vetoes, VetoRecord{PhaseID: phaseID, SignalID: signalID, Reason: reason})
	return nil
}

// Vetoes returns a copy of the recorded veto notifications.
func (n *LoggingNotifier) Vetoes() []VetoRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]VetoRecord, len(n.vetoes))
	copy(out, n.vetoes)
	return out
}
