package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// AdamOptimizerState implements the Adam adaptive-moment optimizer with
// bias-corrected first and second moment estimates.
type AdamOptimizerState struct {
	// Hyperparameters
	learningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	// Parameter and state buffers
	weights         []*tensor.Tensor
	grads           []*tensor.Tensor
	MomentumBuffers []*tensor.Tensor // first moment (m)
	VarianceBuffers []*tensor.Tensor // second moment (v)

	stepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer over the given weight and
// gradient buffers
func NewAdamOptimizer(config AdamConfig, weights, grads []*tensor.Tensor) (*AdamOptimizerState, error) {
	if err := validateParamBuffers(weights, grads); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}

	adam := &AdamOptimizerState{
		learningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		weights:         weights,
		grads:           grads,
		MomentumBuffers: make([]*tensor.Tensor, len(weights)),
		VarianceBuffers: make([]*tensor.Tensor, len(weights)),
	}

	for i, w := range weights {
		m, err := tensor.Zeros(w.Shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate momentum buffer %d: %v", i, err)
		}
		v, err := tensor.Zeros(w.Shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate variance buffer %d: %v", i, err)
		}
		adam.MomentumBuffers[i] = m
		adam.VarianceBuffers[i] = v
	}

	return adam, nil
}

// Step applies one Adam update with bias correction:
// m = b1*m + (1-b1)*g; v = b2*v + (1-b2)*g^2
// w -= lr * (m / (1-b1^t)) / (sqrt(v / (1-b2^t)) + eps)
func (a *AdamOptimizerState) Step() error {
	a.stepCount++
	t := float32(a.stepCount)
	bc1 := 1.0 - math32.Pow(a.Beta1, t)
	bc2 := 1.0 - math32.Pow(a.Beta2, t)

	for i, w := range a.weights {
		g := a.grads[i]
		m := a.MomentumBuffers[i]
		v := a.VarianceBuffers[i]

		for j, gj := range g.Data {
			if a.WeightDecay > 0 {
				gj += a.WeightDecay * w.Data[j]
			}
			m.Data[j] = a.Beta1*m.Data[j] + (1.0-a.Beta1)*gj
			v.Data[j] = a.Beta2*v.Data[j] + (1.0-a.Beta2)*gj*gj

			mHat := m.Data[j] / bc1
			vHat := v.Data[j] / bc2
			w.Data[j] -= a.learningRate * mHat / (math32.Sqrt(vHat) + a.Epsilon)
		}
	}

	return nil
}

// ZeroGrad clears the registered gradient buffers
func (a *AdamOptimizerState) ZeroGrad() {
	for _, g := range a.grads {
		g.Zero()
	}
}

func (a *AdamOptimizerState) SetLearningRate(lr float32) {
	a.learningRate = lr
}

func (a *AdamOptimizerState) LearningRate() float32 {
	return a.learningRate
}

func (a *AdamOptimizerState) StepCount() uint64 {
	return a.stepCount
}

// GetState extracts the complete Adam state for checkpointing
func (a *AdamOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": a.learningRate,
			"beta1":         a.Beta1,
			"beta2":         a.Beta2,
			"epsilon":       a.Epsilon,
			"weight_decay":  a.WeightDecay,
			"step_count":    float64(a.stepCount),
		},
	}

	state.StateData = append(state.StateData, snapshotStateTensors("m", a.MomentumBuffers)...)
	state.StateData = append(state.StateData, snapshotStateTensors("v", a.VarianceBuffers)...)

	return state, nil
}

// LoadState restores Adam state from a checkpoint. The step count matters:
// bias correction depends on it.
func (a *AdamOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	if err := restoreStateTensors("m", state.StateData, a.MomentumBuffers); err != nil {
		return fmt.Errorf("failed to restore Adam first moment: %v", err)
	}
	if err := restoreStateTensors("v", state.StateData, a.VarianceBuffers); err != nil {
		return fmt.Errorf("failed to restore Adam second moment: %v", err)
	}

	if sc, ok := paramFloat(state.Parameters, "step_count"); ok {
		a.stepCount = uint64(sc)
	}

	return nil
}
