package training

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/MatteoM95/Project2-IDDA/optimizer"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// GradScalerConfig holds configuration for dynamic loss scaling
type GradScalerConfig struct {
	InitialScale   float32 // Starting loss scale
	GrowthFactor   float32 // Multiplier applied after GrowthInterval clean steps
	BackoffFactor  float32 // Multiplier applied when a non-finite gradient appears
	GrowthInterval int     // Clean steps required before the scale grows
}

// DefaultGradScalerConfig returns the standard dynamic-scaling parameters
func DefaultGradScalerConfig() GradScalerConfig {
	return GradScalerConfig{
		InitialScale:   65536.0,
		GrowthFactor:   2.0,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler implements dynamic loss scaling for mixed-precision training.
// Upstream gradients are multiplied by the current scale before
// backpropagation and divided out before the optimizer step; steps whose
// gradients overflowed are skipped and the scale backs off. The scale factor
// is deliberately not part of the checkpoint contract: a resumed run restarts
// the warmup from InitialScale.
type GradScaler struct {
	scale          float32
	growthFactor   float32
	backoffFactor  float32
	growthInterval int

	goodSteps int
	foundInf  bool
}

// NewGradScaler creates a gradient scaler with the given configuration
func NewGradScaler(config GradScalerConfig) *GradScaler {
	if config.InitialScale <= 0 {
		config.InitialScale = 65536.0
	}
	if config.GrowthFactor <= 1 {
		config.GrowthFactor = 2.0
	}
	if config.BackoffFactor <= 0 || config.BackoffFactor >= 1 {
		config.BackoffFactor = 0.5
	}
	if config.GrowthInterval <= 0 {
		config.GrowthInterval = 2000
	}

	return &GradScaler{
		scale:          config.InitialScale,
		growthFactor:   config.GrowthFactor,
		backoffFactor:  config.BackoffFactor,
		growthInterval: config.GrowthInterval,
	}
}

// Scale returns the current loss scale
func (gs *GradScaler) Scale() float32 {
	return gs.scale
}

// ScaleGradients multiplies upstream gradient tensors by the current scale.
// Called on the loss gradients before they backpropagate through the model.
func (gs *GradScaler) ScaleGradients(grads ...*tensor.Tensor) {
	for _, g := range grads {
		if g == nil {
			continue
		}
		blas32.Scal(gs.scale, blas32.Vector{N: len(g.Data), Inc: 1, Data: g.Data})
	}
}

// Step unscales the accumulated parameter gradients in place and, when every
// value is finite, performs the optimizer step. A non-finite gradient skips
// the step entirely; Update then backs the scale off. Returns whether the
// optimizer stepped.
func (gs *GradScaler) Step(opt optimizer.Optimizer, grads []*tensor.Tensor) (bool, error) {
	inv := 1.0 / gs.scale
	for _, g := range grads {
		blas32.Scal(inv, blas32.Vector{N: len(g.Data), Inc: 1, Data: g.Data})
	}

	for _, g := range grads {
		for _, v := range g.Data {
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				gs.foundInf = true
				return false, nil
			}
		}
	}

	if err := opt.Step(); err != nil {
		return false, err
	}
	return true, nil
}

// Update adjusts the scale factor after a step: backoff immediately on
// overflow, grow after growthInterval consecutive clean steps.
func (gs *GradScaler) Update() {
	if gs.foundInf {
		gs.scale *= gs.backoffFactor
		if gs.scale < 1 {
			gs.scale = 1
		}
		gs.goodSteps = 0
		gs.foundInf = false
		return
	}

	gs.goodSteps++
	if gs.goodSteps >= gs.growthInterval {
		gs.scale *= gs.growthFactor
		gs.goodSteps = 0
	}
}
