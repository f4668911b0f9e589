package training

import (
	"fmt"
)

// Optimizer kind names accepted by the configuration surface.
const (
	OptimizerRMSProp = "rmsprop"
	OptimizerSGD     = "sgd"
	OptimizerAdam    = "adam"
)

// TrainerConfig is the immutable record of all run parameters. It is built
// once at startup from the command line and read-only afterwards.
type TrainerConfig struct {
	// Loop cadence
	NumEpochs      int // Total epochs to train for
	CheckpointStep int // Epochs between latest-checkpoint writes
	ValidationStep int // Epochs between validation passes

	// Data geometry
	CropHeight int
	CropWidth  int
	BatchSize  int
	NumClasses int // Object classes including void
	NumWorkers int // Parallel sample decoders per batch

	// Optimization
	LearningRate float32
	Loss         string // "crossentropy" or "dice"
	Optimizer    string // "rmsprop", "sgd" or "adam"

	// Model and paths
	ContextPath         string // Backbone identifier, recorded for logging
	DataPath            string // Dataset root directory
	SaveModelPath       string // Directory for latest/best files
	PretrainedModelPath string // Checkpoint to resume from; empty for a fresh run
}

// ValidateTrainerConfig checks the configuration before any training state is
// constructed. Unsupported loss or optimizer names are configuration errors.
func ValidateTrainerConfig(config TrainerConfig) error {
	if config.NumEpochs <= 0 {
		return fmt.Errorf("num_epochs must be positive, got %d", config.NumEpochs)
	}
	if config.CheckpointStep <= 0 {
		return fmt.Errorf("checkpoint_step must be positive, got %d", config.CheckpointStep)
	}
	if config.ValidationStep <= 0 {
		return fmt.Errorf("validation_step must be positive, got %d", config.ValidationStep)
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", config.BatchSize)
	}
	if config.NumClasses < 2 {
		return fmt.Errorf("num_classes must be at least 2, got %d", config.NumClasses)
	}
	if config.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", config.LearningRate)
	}

	switch config.Loss {
	case LossCrossEntropy, LossDice:
	default:
		return fmt.Errorf("unsupported loss function: %q (supported: %s, %s)",
			config.Loss, LossCrossEntropy, LossDice)
	}

	switch config.Optimizer {
	case OptimizerRMSProp, OptimizerSGD, OptimizerAdam:
	default:
		return fmt.Errorf("unsupported optimizer: %q (supported: %s, %s, %s)",
			config.Optimizer, OptimizerRMSProp, OptimizerSGD, OptimizerAdam)
	}

	if config.SaveModelPath == "" {
		return fmt.Errorf("save_model_path must be set")
	}

	return nil
}
