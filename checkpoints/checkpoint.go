package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Checkpoint represents a resumable training snapshot: the epoch counter,
// every model weight tensor and the full optimizer state. One checkpoint
// occupies one file; saving to the same path overwrites the previous one
// (single-slot, not versioned).
type Checkpoint struct {
	// Training progress
	Epoch int `json:"epoch"`

	// Model weights
	Weights []WeightTensor `json:"model_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", "RMSProp"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "square_avg", "m", "v"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// CheckpointSaver handles saving and loading training checkpoints
type CheckpointSaver struct{}

// NewCheckpointSaver creates a new checkpoint saver
func NewCheckpointSaver() *CheckpointSaver {
	return &CheckpointSaver{}
}

// SaveCheckpoint writes a complete checkpoint to path, overwriting any
// previous file at that path.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "project2-idda"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file %s: %v", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %v", path, err)
	}

	return nil
}

// LoadCheckpoint reads a checkpoint from path
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file %s: %v", path, err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %v", path, err)
	}

	return &checkpoint, nil
}

// SaveWeights writes a weights-only snapshot (the best-model file). It carries
// no epoch counter and no optimizer state.
func (cs *CheckpointSaver) SaveWeights(weights []WeightTensor, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights file %s: %v", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(weights); err != nil {
		return fmt.Errorf("failed to encode weights %s: %v", path, err)
	}

	return nil
}

// LoadWeights reads a weights-only snapshot
func (cs *CheckpointSaver) LoadWeights(path string) ([]WeightTensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights file %s: %v", path, err)
	}
	defer file.Close()

	var weights []WeightTensor
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights %s: %v", path, err)
	}

	return weights, nil
}

// ValidateWeightShapes checks a loaded weight set against the live model's
// expected tensor names and shapes. Any mismatch is a resume error.
func ValidateWeightShapes(weights []WeightTensor, expected []WeightTensor) error {
	if len(weights) != len(expected) {
		return fmt.Errorf("weight count mismatch: checkpoint has %d tensors, model expects %d",
			len(weights), len(expected))
	}

	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, want := range expected {
		got, ok := byName[want.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weight tensor %q", want.Name)
		}
		if len(got.Shape) != len(want.Shape) {
			return fmt.Errorf("shape mismatch for %q: checkpoint %v vs model %v", want.Name, got.Shape, want.Shape)
		}
		for i, dim := range want.Shape {
			if got.Shape[i] != dim {
				return fmt.Errorf("shape mismatch for %q: checkpoint %v vs model %v", want.Name, got.Shape, want.Shape)
			}
		}
		if n := numElements(got.Shape); len(got.Data) != n {
			return fmt.Errorf("corrupt weight tensor %q: %d values for shape %v", want.Name, len(got.Data), got.Shape)
		}
	}

	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
