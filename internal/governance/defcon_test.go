package governance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/pkg/types"
)

func TestDefconPromotesImmediately(t *testing.T) {
	g := New(zap.NewNop(), DefaultThresholds())
	now := time.Now()

	level := g.Update(HealthSignals{RecentDrawdown: decimal.NewFromFloat(0.20)}, now)
	assert.Equal(t, types.DefconCritical, level)
	assert.False(t, types.DefconCritical.CanOpenNewPosition())
}

func TestDefconDemotesOnlyAfterHysteresis(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.HysteresisPeriod = time.Minute
	g := New(zap.NewNop(), thresholds)
	now := time.Now()

	healthy := HealthSignals{RecentDrawdown: decimal.Zero, ReconciliationConfidence: decimal.NewFromInt(1)}

	g.Update(HealthSignals{RecentDrawdown: decimal.NewFromFloat(0.20), ReconciliationConfidence: decimal.NewFromInt(1)}, now)
	assert.Equal(t, types.DefconCritical, g.Level())

	level := g.Update(healthy, now.Add(10*time.Second))
	assert.Equal(t, types.DefconCritical, level, "should not demote before hysteresis elapses")

	level = g.Update(healthy, now.Add(2*time.Minute))
	assert.Equal(t, types.DefconNormal, level)
}

func TestDefconOverridePins(t *testing.T) {
	g := New(zap.NewNop(), DefaultThresholds())
	g.Override(types.DefconHigh, time.Minute)
	assert.Equal(t, types.DefconHigh, g.Level())

	g.ClearOverride()
	assert.Equal(t, types.DefconNormal, g.Level())
}

func TestLeverageMultiplierByLevel(t *testing.T) {
	assert.True(t, types.DefconElevated.LeverageMultiplier().Equal(decimal.NewFromFloat(0.75)))
	assert.True(t, types.DefconHigh.LeverageMultiplier().Equal(decimal.NewFromFloat(0.5)))
}
