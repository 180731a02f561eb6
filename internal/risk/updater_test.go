package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/brainhouse/capital-brain/internal/config"
)

type fakeReturnsSource struct {
	symbol    map[string][]decimal.Decimal
	market    []decimal.Decimal
	portfolio []decimal.Decimal
	atr       map[string]decimal.Decimal
}

func (f fakeReturnsSource) SymbolReturns() map[string][]decimal.Decimal { return f.symbol }
func (f fakeReturnsSource) MarketReturns() []decimal.Decimal            { return f.market }
func (f fakeReturnsSource) PortfolioReturns() []decimal.Decimal         { return f.portfolio }
func (f fakeReturnsSource) ATRBySymbol() map[string]decimal.Decimal     { return f.atr }

func decimals(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestRefreshPopulatesPerfectCorrelation(t *testing.T) {
	g := New(config.Default().Risk)
	source := fakeReturnsSource{
		symbol:    map[string][]decimal.Decimal{"BTC": decimals(0.01, 0.02, -0.01, 0.03)},
		portfolio: decimals(0.01, 0.02, -0.01, 0.03),
	}

	u := NewUpdater(nil, config.Default().Risk, g, source)
	u.Refresh()

	corr := g.metrics.CorrelationBySymbol["BTC"]
	assert.True(t, corr.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.NewFromFloat(1e-6)))
}

func TestRefreshComputesBetaGreaterThanOneForAmplifiedMoves(t *testing.T) {
	g := New(config.Default().Risk)
	source := fakeReturnsSource{
		market:    decimals(0.01, -0.01, 0.02, -0.02),
		portfolio: decimals(0.02, -0.02, 0.04, -0.04),
	}

	u := NewUpdater(nil, config.Default().Risk, g, source)
	u.Refresh()

	assert.True(t, g.metrics.PortfolioBeta.Equal(decimal.NewFromInt(2)))
}

func TestRefreshSkipsMismatchedLengthSeries(t *testing.T) {
	g := New(config.Default().Risk)
	source := fakeReturnsSource{
		symbol:    map[string][]decimal.Decimal{"BTC": decimals(0.01, 0.02)},
		portfolio: decimals(0.01, 0.02, 0.03),
	}

	u := NewUpdater(nil, config.Default().Risk, g, source)
	u.Refresh()

	_, ok := g.metrics.CorrelationBySymbol["BTC"]
	assert.False(t, ok)
}
