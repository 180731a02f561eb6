// Package risk implements the ordered per-signal risk gate: leverage cap,
// net delta, correlation, portfolio beta, and stop distance checks that run
// in sequence with first-failure short-circuit, reporting a
// DecisionContext/DecisionResult-shaped verdict per signal.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Metrics is the correlation/beta snapshot consumed by the guardian; it is
// maintained by background tasks on fixed intervals (§5) and read here as a
// copy-on-read snapshot.
type Metrics struct {
	// CorrelationBySymbol is the rolling average abs-correlation of each
	// symbol with the existing book.
	CorrelationBySymbol map[string]decimal.Decimal
	// PortfolioBeta is the book's current beta to the reference market.
	PortfolioBeta decimal.Decimal
	// ATRBySymbol is the average true range used for stop-distance checks.
	ATRBySymbol map[string]decimal.Decimal
}

// Result is the outcome of evaluating a single signal through the gate chain.
type Result struct {
	Approved           bool
	AuthorizedBaseSize decimal.Decimal
	Reason             string
	Metrics            RiskSnapshot
}

// RiskSnapshot captures the values the gate chain observed, for audit.
type RiskSnapshot struct {
	Correlation decimal.Decimal
	Beta        decimal.Decimal
}

// Guardian evaluates IntentSignals against the configured risk checks.
type Guardian struct {
	mu      sync.RWMutex
	cfg     config.RiskConfig
	metrics Metrics
}

// New constructs a risk guardian from config.
func New(cfg config.RiskConfig) *Guardian {
	return &Guardian{
		cfg: cfg,
		metrics: Metrics{
			CorrelationBySymbol: make(map[string]decimal.Decimal),
			ATRBySymbol:         make(map[string]decimal.Decimal),
		},
	}
}

// UpdateMetrics replaces the correlation/beta snapshot consumed by the
// correlation and beta checks. Called by the background updater tasks.
func (g *Guardian) UpdateMetrics(m Metrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = m
}

// Evaluate runs the ordered risk checks for a candidate signal and size.
//
// Checks run in order; the first failure short-circuits with a named reason.
// Correlation and beta checks shrink size instead of rejecting.
func (g *Guardian) Evaluate(
	signal types.IntentSignal,
	candidateSize decimal.Decimal,
	positions []types.Position,
	allocation types.AllocationVector,
	defcon types.DefconLevel,
	equity decimal.Decimal,
) Result {
	g.mu.RLock()
	metrics := g.metrics
	g.mu.RUnlock()

	size := candidateSize

	// 1. Leverage cap.
	phaseNotional := notionalForPhase(positions, signal.PhaseID).Add(size)
	phaseWeight := allocation.WeightFor(signal.PhaseID)
	cap := equity.Mul(phaseWeight).Mul(allocation.MaxLeverage).Mul(defcon.LeverageMultiplier())
	if phaseNotional.GreaterThan(cap) {
		return Result{Approved: false, Reason: "leverage_cap"}
	}

	// 2. Net delta.
	netAcrossPhases := netSignedSize(positions, signal.Symbol)
	candidateSigned := decimal.NewFromInt(signal.Side.Sign()).Mul(size)
	projectedNet := netAcrossPhases.Add(candidateSigned).Abs()
	if projectedNet.GreaterThan(g.cfg.NetDeltaCapPerSymbol) {
		return Result{Approved: false, Reason: "net_delta_cap"}
	}

	riskSnap := RiskSnapshot{}

	// 3. Correlation cap — penalty, not a reject.
	if corr, ok := metrics.CorrelationBySymbol[signal.Symbol]; ok {
		riskSnap.Correlation = corr
		if corr.Abs().GreaterThan(g.cfg.MaxCorrelation) {
			size = size.Mul(g.cfg.CorrelationPenalty)
		}
	}

	// 4. Portfolio beta — shrink to band edge, not a reject.
	riskSnap.Beta = metrics.PortfolioBeta
	if metrics.PortfolioBeta.Abs().GreaterThan(g.cfg.MaxPortfolioBeta) && !metrics.PortfolioBeta.IsZero() {
		bandEdge := g.cfg.MaxPortfolioBeta.Div(metrics.PortfolioBeta.Abs())
		size = size.Mul(bandEdge)
	}

	// 5. Stop distance.
	if !signal.StopPrice.IsZero() && !signal.EntryPrice.IsZero() {
		atr, ok := metrics.ATRBySymbol[signal.Symbol]
		if ok && !atr.IsZero() {
			distance := signal.EntryPrice.Sub(signal.StopPrice).Abs()
			minDistance := g.cfg.MinStopDistanceMultiplier.Mul(atr)
			if distance.LessThan(minDistance) {
				return Result{Approved: false, Reason: "stop_too_tight"}
			}
		}
	}

	return Result{
		Approved:           true,
		AuthorizedBaseSize: size,
		Metrics:            riskSnap,
	}
}

func notionalForPhase(positions []types.Position, phase types.PhaseID) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.PhaseID == phase {
			total = total.Add(p.Size.Mul(p.EntryPrice))
		}
	}
	return total
}

func netSignedSize(positions []types.Position, symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.Symbol == symbol {
			total = total.Add(p.SignedSize())
		}
	}
	return total
}

