package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// RMSPropOptimizerState implements RMSProp: the gradient-adaptive method that
// scales each update by a running average of squared gradients.
type RMSPropOptimizerState struct {
	// Hyperparameters
	learningRate float32
	Alpha        float32 // Smoothing constant (typically 0.99)
	Epsilon      float32 // Small constant to prevent division by zero
	WeightDecay  float32 // L2 regularization coefficient

	// Parameter and state buffers
	weights               []*tensor.Tensor
	grads                 []*tensor.Tensor
	SquaredGradAvgBuffers []*tensor.Tensor

	stepCount uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float32
	Alpha        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewRMSPropOptimizer creates an RMSProp optimizer over the given weight and
// gradient buffers
func NewRMSPropOptimizer(config RMSPropConfig, weights, grads []*tensor.Tensor) (*RMSPropOptimizerState, error) {
	if err := validateParamBuffers(weights, grads); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha <= 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}

	rmsprop := &RMSPropOptimizerState{
		learningRate:          config.LearningRate,
		Alpha:                 config.Alpha,
		Epsilon:               config.Epsilon,
		WeightDecay:           config.WeightDecay,
		weights:               weights,
		grads:                 grads,
		SquaredGradAvgBuffers: make([]*tensor.Tensor, len(weights)),
	}

	for i, w := range weights {
		buf, err := tensor.Zeros(w.Shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate squared gradient average buffer %d: %v", i, err)
		}
		rmsprop.SquaredGradAvgBuffers[i] = buf
	}

	return rmsprop, nil
}

// Step applies one RMSProp update:
// v = alpha*v + (1-alpha)*g^2; w -= lr * g / (sqrt(v) + eps)
func (r *RMSPropOptimizerState) Step() error {
	for i, w := range r.weights {
		g := r.grads[i]
		v := r.SquaredGradAvgBuffers[i]

		if r.WeightDecay > 0 {
			blas32.Axpy(r.WeightDecay, vec(w.Data), vec(g.Data))
		}

		for j, gj := range g.Data {
			v.Data[j] = r.Alpha*v.Data[j] + (1.0-r.Alpha)*gj*gj
			w.Data[j] -= r.learningRate * gj / (math32.Sqrt(v.Data[j]) + r.Epsilon)
		}
	}

	r.stepCount++
	return nil
}

// ZeroGrad clears the registered gradient buffers
func (r *RMSPropOptimizerState) ZeroGrad() {
	for _, g := range r.grads {
		g.Zero()
	}
}

func (r *RMSPropOptimizerState) SetLearningRate(lr float32) {
	r.learningRate = lr
}

func (r *RMSPropOptimizerState) LearningRate() float32 {
	return r.learningRate
}

func (r *RMSPropOptimizerState) StepCount() uint64 {
	return r.stepCount
}

// GetState extracts the complete RMSProp state for checkpointing
func (r *RMSPropOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	return &checkpoints.OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": r.learningRate,
			"alpha":         r.Alpha,
			"epsilon":       r.Epsilon,
			"weight_decay":  r.WeightDecay,
			"step_count":    float64(r.stepCount),
		},
		StateData: snapshotStateTensors("square_avg", r.SquaredGradAvgBuffers),
	}, nil
}

// LoadState restores RMSProp state from a checkpoint
func (r *RMSPropOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	if err := restoreStateTensors("square_avg", state.StateData, r.SquaredGradAvgBuffers); err != nil {
		return fmt.Errorf("failed to restore RMSProp state: %v", err)
	}

	if sc, ok := paramFloat(state.Parameters, "step_count"); ok {
		r.stepCount = uint64(sc)
	}

	return nil
}
