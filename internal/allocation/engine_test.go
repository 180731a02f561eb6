package allocation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func testEngine() *Engine {
	return New(config.Default().Allocation)
}

func assertWeightsSumToOne(t *testing.T, a types.AllocationVector) {
	t.Helper()
	sum := a.W1.Add(a.W2).Add(a.W3)
	diff := sum.Sub(decimal.NewFromInt(1)).Abs()
	assert.True(t, diff.LessThan(types.WeightEpsilon), "weights %s+%s+%s=%s should sum to 1", a.W1, a.W2, a.W3, sum)
	assert.False(t, a.W1.IsNegative())
	assert.False(t, a.W2.IsNegative())
	assert.False(t, a.W3.IsNegative())
}

// S1: below-tier-2 allocation.
func TestAllocateBelowStartP2(t *testing.T) {
	e := testEngine()
	a := e.Allocate(decimal.NewFromInt(1000))
	assertWeightsSumToOne(t, a)
	assert.True(t, a.W1.Equal(decimal.NewFromInt(1)))
	assert.True(t, a.W2.IsZero())
	assert.True(t, a.W3.IsZero())
}

// S3: ramp midpoint between startP2=1500 and fullP2=5000.
func TestAllocateRampMidpoint(t *testing.T) {
	e := testEngine()
	a := e.Allocate(decimal.NewFromInt(3250))
	assertWeightsSumToOne(t, a)
	assert.InDelta(t, 0.5, a.W1.InexactFloat64(), 0.01)
	assert.InDelta(t, 0.5, a.W2.InexactFloat64(), 0.01)
	assert.True(t, a.W3.IsZero())
}

func TestAllocateFullyP2(t *testing.T) {
	e := testEngine()
	a := e.Allocate(decimal.NewFromInt(10000))
	assertWeightsSumToOne(t, a)
	assert.True(t, a.W1.IsZero())
	assert.True(t, a.W2.Equal(decimal.NewFromInt(1)))
}

func TestAllocateAboveStartP3Ramps(t *testing.T) {
	e := testEngine()
	a := e.Allocate(decimal.NewFromInt(20000))
	assertWeightsSumToOne(t, a)
	assert.True(t, a.W3.IsZero())

	far := e.Allocate(decimal.NewFromInt(25000))
	assertWeightsSumToOne(t, far)
	assert.True(t, far.W3.GreaterThan(decimal.Zero))
}

func TestAllocateInvalidEquityDegrades(t *testing.T) {
	e := testEngine()
	a := e.Allocate(decimal.NewFromInt(-5))
	assert.True(t, a.Degraded)
	assert.True(t, a.W1.Equal(decimal.NewFromInt(1)))
	assertWeightsSumToOne(t, a)
}

func TestAllocateTierBoundaries(t *testing.T) {
	e := testEngine()
	assert.Equal(t, types.TierMicro, e.Allocate(decimal.NewFromInt(500)).Tier)
	assert.Equal(t, types.TierSmall, e.Allocate(decimal.NewFromInt(5000)).Tier)
	assert.Equal(t, types.TierMedium, e.Allocate(decimal.NewFromInt(50000)).Tier)
}
