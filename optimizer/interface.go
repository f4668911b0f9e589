package optimizer

import (
	"fmt"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// Optimizer defines the common interface for all optimizers. The optimizer is
// constructed over the model's parameter tensors together with their aligned
// gradient tensors; Step consumes the current gradients and mutates the
// parameters in place. State save/restore enables checkpoint resume.
type Optimizer interface {
	// Step performs a single optimization step using the gradient buffers
	// registered at construction time
	Step() error

	// ZeroGrad clears the registered gradient buffers
	ZeroGrad()

	// SetLearningRate overwrites the learning rate of every parameter group
	SetLearningRate(lr float32)

	// LearningRate returns the currently applied learning rate
	LearningRate() float32

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint. The state type
	// and every state tensor shape must match.
	LoadState(state *checkpoints.OptimizerState) error

	// StepCount returns the number of optimization steps taken
	StepCount() uint64
}

// validateParamBuffers checks weight/gradient buffer alignment shared by all
// optimizer constructors.
func validateParamBuffers(weights, grads []*tensor.Tensor) error {
	if len(weights) == 0 {
		return fmt.Errorf("no weight tensors provided")
	}
	if len(weights) != len(grads) {
		return fmt.Errorf("weight count %d does not match gradient count %d", len(weights), len(grads))
	}
	for i := range weights {
		if !tensor.SameShape(weights[i], grads[i]) {
			return fmt.Errorf("weight %d shape %v does not match gradient shape %v",
				i, weights[i].Shape, grads[i].Shape)
		}
	}
	return nil
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// extractBufferIndex extracts the buffer index from state tensor names like
// "momentum_0", "square_avg_1", "m_2"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}
