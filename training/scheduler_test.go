package training

import (
	"math"
	"testing"
)

func TestPolyLRSchedulerFormula(t *testing.T) {
	maxEpochs := 100
	baseLR := 0.025
	scheduler := NewPolyLRScheduler(maxEpochs, 0.9, 1e-8)

	for epoch := 1; epoch <= maxEpochs; epoch++ {
		want := baseLR * math.Pow(1.0-float64(epoch)/float64(maxEpochs), 0.9)
		if want < 1e-8 {
			want = 1e-8
		}

		lr := scheduler.GetLR(epoch, 0, baseLR)
		if math.Abs(lr-want) > 1e-12 {
			t.Errorf("Epoch %d: expected LR %g, got %g", epoch, want, lr)
		}
	}
}

func TestPolyLRSchedulerMonotone(t *testing.T) {
	scheduler := NewPolyLRScheduler(50, 0.9, 1e-8)
	baseLR := 0.01

	prev := math.Inf(1)
	for epoch := 1; epoch <= 50; epoch++ {
		lr := scheduler.GetLR(epoch, 0, baseLR)
		if lr > prev {
			t.Errorf("Epoch %d: LR %g increased from %g", epoch, lr, prev)
		}
		prev = lr
	}
}

func TestPolyLRSchedulerFloor(t *testing.T) {
	scheduler := NewPolyLRScheduler(10, 0.9, 1e-6)

	// At the final epoch the raw formula reaches zero; the floor applies.
	if lr := scheduler.GetLR(10, 0, 0.01); lr != 1e-6 {
		t.Errorf("expected floor 1e-6 at final epoch, got %g", lr)
	}

	// Beyond the horizon the floor also applies.
	if lr := scheduler.GetLR(20, 0, 0.01); lr != 1e-6 {
		t.Errorf("expected floor 1e-6 beyond max epochs, got %g", lr)
	}
}

func TestPolyLRSchedulerDefaults(t *testing.T) {
	scheduler := NewPolyLRScheduler(0, 0, -1)

	if scheduler.MaxEpochs != 100 {
		t.Errorf("expected default MaxEpochs 100, got %d", scheduler.MaxEpochs)
	}
	if scheduler.Power != 0.9 {
		t.Errorf("expected default power 0.9, got %f", scheduler.Power)
	}
	if scheduler.MinLR != 1e-8 {
		t.Errorf("expected default MinLR 1e-8, got %g", scheduler.MinLR)
	}
	if scheduler.GetName() != "PolyLR" {
		t.Errorf("unexpected scheduler name %s", scheduler.GetName())
	}
}

func TestNoOpScheduler(t *testing.T) {
	scheduler := &NoOpScheduler{}

	for _, epoch := range []int{0, 1, 50, 1000} {
		if lr := scheduler.GetLR(epoch, 0, 0.01); lr != 0.01 {
			t.Errorf("Epoch %d: expected constant 0.01, got %g", epoch, lr)
		}
	}
}
