// Package inference computes the "surprise" of a new signal against a
// recent per-phase outcome distribution and maps it to an advisory scalar
// that can only down-weight authorized size, never raise it, via an online
// per-phase histogram rather than post-hoc simulation statistics.
package inference

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/brainhouse/capital-brain/internal/config"
	"github.com/brainhouse/capital-brain/pkg/types"
)

// Engine maintains a per-phase outcome histogram and computes surprise scalars.
type Engine struct {
	mu         sync.RWMutex
	cfg        config.InferenceConfig
	histograms map[types.PhaseID]*histogram
}

// histogram is a fixed-bin-count running histogram over recent outcome ratios.
type histogram struct {
	binCount int
	counts   []int
	total    int
	min, max float64
}

func newHistogram(binCount int) *histogram {
	return &histogram{binCount: binCount, counts: make([]int, binCount), min: 0, max: 1}
}

// New constructs an active inference engine from config.
func New(cfg config.InferenceConfig) *Engine {
	return &Engine{
		cfg:        cfg,
		histograms: make(map[types.PhaseID]*histogram),
	}
}

// Observe records a new outcome ratio (e.g. normalized P&L) into the phase's histogram.
func (e *Engine) Observe(phase types.PhaseID, outcomeRatio float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.histograms[phase]
	if !ok {
		h = newHistogram(e.cfg.BinCount)
		e.histograms[phase] = h
	}
	h.observe(outcomeRatio)
}

func (h *histogram) observe(value float64) {
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
	h.counts[h.bin(value)]++
	h.total++
}

func (h *histogram) bin(value float64) int {
	span := h.max - h.min
	if span <= 0 {
		return 0
	}
	idx := int((value - h.min) / span * float64(h.binCount))
	if idx < 0 {
		idx = 0
	}
	if idx >= h.binCount {
		idx = h.binCount - 1
	}
	return idx
}

func (h *histogram) probability(value float64) float64 {
	if h.total == 0 {
		return 1
	}
	count := h.counts[h.bin(value)]
	// Laplace smoothing so a bin with zero observations isn't infinitely
	// surprising, while still strongly penalizing rare bins.
	return (float64(count) + 1) / (float64(h.total) + float64(h.binCount))
}

// Scalar computes the advisory scalar ∈ [0,1] for a candidate outcome ratio.
//
// surprise = -log(p(bin)) - surpriseOffset, clamped to [0, sensitivity], then mapped to
// scalar = max(0, 1 - surprise/sensitivity). When history < minHistory,
// returns 1.0 (no effect).
func (e *Engine) Scalar(phase types.PhaseID, outcomeRatio float64) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, ok := e.histograms[phase]
	if !ok || h.total < e.cfg.MinHistory {
		return decimal.NewFromInt(1)
	}

	p := h.probability(outcomeRatio)
	sensitivity, _ := e.cfg.Sensitivity.Float64()
	offset, _ := e.cfg.SurpriseOffset.Float64()

	surprise := -math.Log(p) - offset
	if surprise < 0 {
		surprise = 0
	}
	if surprise > sensitivity {
		surprise = sensitivity
	}

	scalar := 1 - surprise/sensitivity
	if scalar < 0 {
		scalar = 0
	}
	return decimal.NewFromFloat(scalar)
}
