package training

import (
	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// Mode selects the model's execution mode
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return "unknown"
	}
}

// ModelOutputs carries the three training-mode score tensors: the primary
// prediction and the two deep-supervision heads. Each has the label's spatial
// shape.
type ModelOutputs struct {
	Main *tensor.Tensor
	Aux1 *tensor.Tensor
	Aux2 *tensor.Tensor
}

// Model is the opaque network collaborator. The loop never looks inside:
// device placement, parameter replication and the architecture itself are the
// implementation's concern. The Validation path uses Infer only and must not
// mutate any state; gradient accumulation happens exclusively through
// Backward during training.
type Model interface {
	// Forward runs a training-mode pass and returns the primary output plus
	// the two auxiliary supervision outputs
	Forward(x *tensor.Tensor) (*ModelOutputs, error)

	// Infer runs an inference-mode pass returning only the primary scores,
	// with no gradient bookkeeping
	Infer(x *tensor.Tensor) (*tensor.Tensor, error)

	// Backward accumulates parameter gradients from the upstream gradients
	// of the three training-mode outputs
	Backward(gradMain, gradAux1, gradAux2 *tensor.Tensor) error

	// Parameters returns the learnable tensors, in a stable order
	Parameters() []*tensor.Tensor

	// Gradients returns the gradient tensors aligned with Parameters
	Gradients() []*tensor.Tensor

	// StateDict snapshots every parameter as a named weight tensor
	StateDict() []checkpoints.WeightTensor

	// LoadStateDict restores parameters from a snapshot; names and shapes
	// must match
	LoadStateDict(weights []checkpoints.WeightTensor) error

	// SetMode switches between training and inference behavior
	SetMode(mode Mode)
}
