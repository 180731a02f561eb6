package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/internal/workers"
	"github.com/brainhouse/capital-brain/pkg/utils"
)

// ReturnsSource supplies the rolling return series the updater needs to
// compute correlation and portfolio beta. Backed by the position manager's
// mark-price history in production; a fake in tests.
type ReturnsSource interface {
	SymbolReturns() map[string][]decimal.Decimal
	MarketReturns() []decimal.Decimal
	PortfolioReturns() []decimal.Decimal
	ATRBySymbol() map[string]decimal.Decimal
}

// Updater periodically recomputes the Guardian's correlation/beta snapshot
// on a dedicated background task pool, decoupling the computation from the
// per-signal hot path.
type Updater struct {
	guardian *Guardian
	source   ReturnsSource
	logger   *zap.Logger
	pool     *workers.Pool
	cfg      config.RiskConfig

	stopCh chan struct{}
}

// NewUpdater constructs a background metrics updater for guardian.
func NewUpdater(logger *zap.Logger, cfg config.RiskConfig, guardian *Guardian, source ReturnsSource) *Updater {
	poolCfg := workers.DefaultPoolConfig("risk-metrics")
	poolCfg.NumWorkers = 2
	poolCfg.QueueSize = 16

	return &Updater{
		guardian: guardian,
		source:   source,
		logger:   logger,
		pool:     workers.NewPool(logger, poolCfg),
		cfg:      cfg,
	}
}

// Start begins the correlation/beta refresh schedule. A single ticker runs at
// the shorter of the two configured intervals, and both are refreshed
// together on each tick.
func (u *Updater) Start() {
	u.pool.Start()
	u.stopCh = make(chan struct{})

	interval := u.cfg.CorrelationUpdateInterval
	if u.cfg.BetaUpdateInterval < interval {
		interval = u.cfg.BetaUpdateInterval
	}
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				u.submitRefresh()
			case <-u.stopCh:
				return
			}
		}
	}()
}

// Stop halts the refresh schedule and the underlying pool.
func (u *Updater) Stop() {
	if u.stopCh != nil {
		close(u.stopCh)
	}
	u.pool.Stop()
}

func (u *Updater) submitRefresh() {
	_ = u.pool.Submit(workers.TaskFunc(func() error {
		u.Refresh()
		return nil
	}))
}

// Refresh recomputes correlation and beta synchronously, for direct use in tests.
func (u *Updater) Refresh() {
	symbolReturns := u.source.SymbolReturns()
	marketReturns := u.source.MarketReturns()
	portfolioReturns := u.source.PortfolioReturns()
	atr := u.source.ATRBySymbol()

	correlation := make(map[string]decimal.Decimal, len(symbolReturns))
	for symbol, returns := range symbolReturns {
		if len(returns) != len(portfolioReturns) || len(returns) < 2 {
			continue
		}
		correlation[symbol] = utils.CalculateCorrelation(returns, portfolioReturns)
	}

	var beta decimal.Decimal
	if len(portfolioReturns) == len(marketReturns) && len(marketReturns) >= 2 {
		beta = portfolioBeta(portfolioReturns, marketReturns)
	}

	u.guardian.UpdateMetrics(Metrics{
		CorrelationBySymbol: correlation,
		PortfolioBeta:       beta,
		ATRBySymbol:         atr,
	})

	if u.logger != nil {
		u.logger.Debug("risk metrics refreshed", zap.Int("symbols", len(correlation)))
	}
}

// portfolioBeta is cov(portfolio, market) / var(market).
func portfolioBeta(portfolioReturns, marketReturns []decimal.Decimal) decimal.Decimal {
	marketMean := utils.CalculateMean(marketReturns)
	portfolioMean := utils.CalculateMean(portfolioReturns)

	covariance := decimal.Zero
	variance := decimal.Zero
	for i := range marketReturns {
		dm := marketReturns[i].Sub(marketMean)
		dp := portfolioReturns[i].Sub(portfolioMean)
		covariance = covariance.Add(dm.Mul(dp))
		variance = variance.Add(dm.Mul(dm))
	}
	if variance.IsZero() {
		return decimal.Zero
	}
	return covariance.Div(variance)
}
