package inference

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

func TestScalarNeutralBelowMinHistory(t *testing.T) {
	e := New(config.Default().Inference)
	s := e.Scalar(types.PhaseP1, 0.5)
	assert.True(t, s.Equal(decimal.NewFromInt(1)))
}

func TestScalarNeverExceedsOne(t *testing.T) {
	cfg := config.Default().Inference
	cfg.MinHistory = 5
	e := New(cfg)

	for i := 0; i < 50; i++ {
		e.Observe(types.PhaseP1, 0.5)
	}

	s := e.Scalar(types.PhaseP1, 0.5)
	assert.True(t, s.LessThanOrEqual(decimal.NewFromInt(1)))
	assert.True(t, s.GreaterThanOrEqual(decimal.Zero))
}

func TestScalarDownweightsRareOutcome(t *testing.T) {
	cfg := config.Default().Inference
	cfg.MinHistory = 5
	e := New(cfg)

	for i := 0; i < 50; i++ {
		e.Observe(types.PhaseP1, 0.5)
	}

	common := e.Scalar(types.PhaseP1, 0.5)
	rare := e.Scalar(types.PhaseP1, -5.0)
	assert.True(t, rare.LessThanOrEqual(common))
}
