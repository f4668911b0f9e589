package training

import (
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// All schedulers must be pure functions of (epoch, step, baseLR) so that a
// resumed run reproduces the same learning-rate curve.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step.
	// This is a pure function - no state modifications.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// PolyLRScheduler implements polynomial learning rate decay:
// lr(t) = baseLR * (1 - t/maxEpochs)^power, clamped below at MinLR.
type PolyLRScheduler struct {
	MaxEpochs int     // Total number of epochs the decay spans
	Power     float64 // Decay exponent
	MinLR     float64 // Floor applied to the computed rate
}

// NewPolyLRScheduler creates a polynomial decay scheduler
func NewPolyLRScheduler(maxEpochs int, power float64, minLR float64) *PolyLRScheduler {
	if maxEpochs <= 0 {
		maxEpochs = 100
	}
	if power <= 0 {
		power = 0.9 // Default: standard poly decay exponent
	}
	if minLR < 0 {
		minLR = 1e-8
	}
	return &PolyLRScheduler{
		MaxEpochs: maxEpochs,
		Power:     power,
		MinLR:     minLR,
	}
}

func (s *PolyLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.MaxEpochs {
		return s.MinLR
	}

	lr := baseLR * math.Pow(1.0-float64(epoch)/float64(s.MaxEpochs), s.Power)
	if lr < s.MinLR {
		return s.MinLR
	}
	return lr
}

func (s *PolyLRScheduler) GetName() string {
	return "PolyLR"
}

// NoOpScheduler maintains constant learning rate
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
