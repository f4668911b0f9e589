package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// SGDOptimizerState implements stochastic gradient descent with optional
// momentum and L2 weight decay.
type SGDOptimizerState struct {
	// Hyperparameters
	learningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient

	// Parameter and state buffers
	weights         []*tensor.Tensor
	grads           []*tensor.Tensor
	MomentumBuffers []*tensor.Tensor // allocated only when Momentum > 0

	stepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
	}
}

// NewSGDOptimizer creates an SGD optimizer over the given weight and gradient buffers
func NewSGDOptimizer(config SGDConfig, weights, grads []*tensor.Tensor) (*SGDOptimizerState, error) {
	if err := validateParamBuffers(weights, grads); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum must be in [0, 1]: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	sgd := &SGDOptimizerState{
		learningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		weights:      weights,
		grads:        grads,
	}

	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([]*tensor.Tensor, len(weights))
		for i, w := range weights {
			buf, err := tensor.Zeros(w.Shape)
			if err != nil {
				return nil, fmt.Errorf("failed to allocate momentum buffer %d: %v", i, err)
			}
			sgd.MomentumBuffers[i] = buf
		}
	}

	return sgd, nil
}

// Step applies one SGD update: g += wd*w; v = momentum*v + g; w -= lr*v
func (sgd *SGDOptimizerState) Step() error {
	for i, w := range sgd.weights {
		g := sgd.grads[i]

		if sgd.WeightDecay > 0 {
			blas32.Axpy(sgd.WeightDecay, vec(w.Data), vec(g.Data))
		}

		update := g
		if sgd.Momentum > 0 {
			v := sgd.MomentumBuffers[i]
			blas32.Scal(sgd.Momentum, vec(v.Data))
			blas32.Axpy(1.0, vec(g.Data), vec(v.Data))
			update = v
		}

		blas32.Axpy(-sgd.learningRate, vec(update.Data), vec(w.Data))
	}

	sgd.stepCount++
	return nil
}

// ZeroGrad clears the registered gradient buffers
func (sgd *SGDOptimizerState) ZeroGrad() {
	for _, g := range sgd.grads {
		g.Zero()
	}
}

func (sgd *SGDOptimizerState) SetLearningRate(lr float32) {
	sgd.learningRate = lr
}

func (sgd *SGDOptimizerState) LearningRate() float32 {
	return sgd.learningRate
}

func (sgd *SGDOptimizerState) StepCount() uint64 {
	return sgd.stepCount
}

// GetState extracts the complete SGD state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.learningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"step_count":    float64(sgd.stepCount),
		},
	}

	if sgd.Momentum > 0 {
		state.StateData = snapshotStateTensors("momentum", sgd.MomentumBuffers)
	}

	return state, nil
}

// LoadState restores SGD state from a checkpoint
func (sgd *SGDOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	if sgd.Momentum > 0 {
		if err := restoreStateTensors("momentum", state.StateData, sgd.MomentumBuffers); err != nil {
			return fmt.Errorf("failed to restore SGD momentum: %v", err)
		}
	}

	if sc, ok := paramFloat(state.Parameters, "step_count"); ok {
		sgd.stepCount = uint64(sc)
	}

	return nil
}
