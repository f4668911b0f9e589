package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/optimizer"
)

// Trainer coordinates the supervised training loop: per-epoch learning-rate
// scheduling, mixed-precision batch steps with multi-head loss aggregation,
// periodic checkpointing and validation with best-model tracking. All state
// mutation (model parameters, optimizer accumulators, scaler warmup) happens
// on this single logical thread; validation only reads model state between
// epochs.
type Trainer struct {
	config      TrainerConfig
	model       Model
	opt         optimizer.Optimizer
	lossFn      SegmentationLoss
	scaler      *GradScaler
	scheduler   LRScheduler
	trainLoader *DataLoader
	valLoader   *DataLoader
	saver       *checkpoints.CheckpointSaver
	exporter    *checkpoints.ONNXExporter

	currEpoch int     // Last completed epoch; training resumes at currEpoch+1
	maxMIoU   float64 // Best validation mean IoU seen this run
}

// NewTrainer wires the training loop from validated configuration and the
// opaque collaborators.
func NewTrainer(
	config TrainerConfig,
	model Model,
	opt optimizer.Optimizer,
	trainLoader *DataLoader,
	valLoader *DataLoader,
) (*Trainer, error) {
	if err := ValidateTrainerConfig(config); err != nil {
		return nil, fmt.Errorf("invalid trainer configuration: %v", err)
	}

	lossFn, err := NewSegmentationLoss(config.Loss)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		config:      config,
		model:       model,
		opt:         opt,
		lossFn:      lossFn,
		scaler:      NewGradScaler(DefaultGradScalerConfig()),
		scheduler:   NewPolyLRScheduler(config.NumEpochs, 0.9, 1e-8),
		trainLoader: trainLoader,
		valLoader:   valLoader,
		saver:       checkpoints.NewCheckpointSaver(),
		exporter:    checkpoints.NewONNXExporter(),
	}, nil
}

// BuildOptimizer constructs the configured optimizer kind over the model's
// parameter and gradient buffers. An unsupported name is a configuration
// error reported before any training starts.
func BuildOptimizer(config TrainerConfig, model Model) (optimizer.Optimizer, error) {
	weights := model.Parameters()
	grads := model.Gradients()

	switch config.Optimizer {
	case OptimizerRMSProp:
		cfg := optimizer.DefaultRMSPropConfig()
		cfg.LearningRate = config.LearningRate
		return optimizer.NewRMSPropOptimizer(cfg, weights, grads)
	case OptimizerSGD:
		return optimizer.NewSGDOptimizer(optimizer.SGDConfig{
			LearningRate: config.LearningRate,
			Momentum:     0.9,
			WeightDecay:  1e-4,
		}, weights, grads)
	case OptimizerAdam:
		cfg := optimizer.DefaultAdamConfig()
		cfg.LearningRate = config.LearningRate
		return optimizer.NewAdamOptimizer(cfg, weights, grads)
	default:
		return nil, fmt.Errorf("unsupported optimizer: %q (supported: %s, %s, %s)",
			config.Optimizer, OptimizerRMSProp, OptimizerSGD, OptimizerAdam)
	}
}

// LatestCheckpointPath returns the single-slot checkpoint path
func (t *Trainer) LatestCheckpointPath() string {
	return filepath.Join(t.config.SaveModelPath, fmt.Sprintf("latest_%s_loss.json", t.config.Loss))
}

// BestModelPath returns the single-slot best-weights path
func (t *Trainer) BestModelPath() string {
	return filepath.Join(t.config.SaveModelPath, fmt.Sprintf("best_%s_loss.json", t.config.Loss))
}

func (t *Trainer) bestONNXPath() string {
	return filepath.Join(t.config.SaveModelPath, fmt.Sprintf("best_%s_loss.onnx", t.config.Loss))
}

// CurrentEpoch returns the last completed epoch
func (t *Trainer) CurrentEpoch() int {
	return t.currEpoch
}

// BestMeanIoU returns the best validation mean IoU observed so far
func (t *Trainer) BestMeanIoU() float64 {
	return t.maxMIoU
}

// Resume restores model parameters, optimizer state and the epoch counter
// from a checkpoint. Any failure (missing file, corrupt content, shape
// mismatch) is fatal; there is no fallback to fresh initialization. The
// gradient-scaler warmup is intentionally not restored.
func (t *Trainer) Resume(path string) error {
	fmt.Printf("Loading model from %s ...\n", path)

	checkpoint, err := t.saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("failed to resume from %s: %v", path, err)
	}

	if err := checkpoints.ValidateWeightShapes(checkpoint.Weights, t.model.StateDict()); err != nil {
		return fmt.Errorf("failed to resume from %s: %v", path, err)
	}
	if err := t.model.LoadStateDict(checkpoint.Weights); err != nil {
		return fmt.Errorf("failed to resume from %s: %v", path, err)
	}

	if checkpoint.OptimizerState != nil {
		if err := t.opt.LoadState(checkpoint.OptimizerState); err != nil {
			return fmt.Errorf("failed to resume from %s: %v", path, err)
		}
	}

	t.currEpoch = checkpoint.Epoch
	fmt.Printf("\t- epoch done from last checkpoint: %d\n", t.currEpoch)

	return nil
}

// Train runs the epoch loop from the epoch after the last completed one
// through NumEpochs inclusive. Batch-level numerical failures and checkpoint
// write failures abort the run; every batch and epoch executes exactly once.
func (t *Trainer) Train() error {
	baseLR := float64(t.config.LearningRate)

	for epoch := t.currEpoch + 1; epoch <= t.config.NumEpochs; epoch++ {
		lr := t.scheduler.GetLR(epoch, 0, baseLR)
		t.opt.SetLearningRate(float32(lr))
		t.model.SetMode(ModeTrain)

		meanLoss, err := t.trainEpoch(epoch, lr)
		if err != nil {
			return err
		}
		fmt.Printf("loss for train : %.6f\n", meanLoss)

		t.currEpoch = epoch

		if epoch%t.config.CheckpointStep == 0 && epoch != 0 {
			if err := t.saveLatestCheckpoint(epoch); err != nil {
				return err
			}
		}

		if epoch%t.config.ValidationStep == 0 && epoch != 0 {
			if err := t.validateAndTrackBest(); err != nil {
				return err
			}
		}
	}

	return nil
}

// trainEpoch consumes one epoch of training batches and returns the mean
// batch loss.
func (t *Trainer) trainEpoch(epoch int, lr float64) (float64, error) {
	bar := NewProgressBar(fmt.Sprintf("epoch %d, lr %.6f", epoch, lr), t.trainLoader.Len()*t.trainLoader.BatchSize())

	var lossSum float64
	batches := 0

	t.trainLoader.Reset()
	for {
		batch, err := t.trainLoader.Next()
		if err != nil {
			return 0, fmt.Errorf("epoch %d: batch fetch failed: %v", epoch, err)
		}
		if batch == nil {
			break
		}

		loss, err := t.trainBatch(batch)
		if err != nil {
			return 0, fmt.Errorf("epoch %d: %v", epoch, err)
		}

		lossSum += float64(loss)
		batches++
		bar.Update(batches*t.trainLoader.BatchSize(), map[string]float64{"loss": float64(loss)})
	}
	bar.Finish()

	if batches == 0 {
		return 0, fmt.Errorf("epoch %d: training data source yielded no batches", epoch)
	}
	return lossSum / float64(batches), nil
}

// trainBatch executes one mixed-precision forward/backward/step cycle and
// returns the aggregate multi-head loss.
func (t *Trainer) trainBatch(batch *Batch) (float32, error) {
	outputs, err := t.model.Forward(batch.Data)
	if err != nil {
		return 0, fmt.Errorf("forward pass failed: %v", err)
	}

	loss1, grad1, err := t.lossFn.Forward(outputs.Main, batch.Labels)
	if err != nil {
		return 0, fmt.Errorf("primary loss failed: %v", err)
	}
	loss2, grad2, err := t.lossFn.Forward(outputs.Aux1, batch.Labels)
	if err != nil {
		return 0, fmt.Errorf("auxiliary loss 1 failed: %v", err)
	}
	loss3, grad3, err := t.lossFn.Forward(outputs.Aux2, batch.Labels)
	if err != nil {
		return 0, fmt.Errorf("auxiliary loss 2 failed: %v", err)
	}

	// The three supervision heads sum unweighted into one backpropagated loss.
	loss := loss1 + loss2 + loss3
	if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
		return 0, fmt.Errorf("non-finite training loss %f", loss)
	}

	t.opt.ZeroGrad()
	t.scaler.ScaleGradients(grad1, grad2, grad3)
	if err := t.model.Backward(grad1, grad2, grad3); err != nil {
		return 0, fmt.Errorf("backward pass failed: %v", err)
	}

	if _, err := t.scaler.Step(t.opt, t.model.Gradients()); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %v", err)
	}
	t.scaler.Update()

	return loss, nil
}

// saveLatestCheckpoint persists {epoch, model state, optimizer state} to the
// single latest slot, overwriting the previous file.
func (t *Trainer) saveLatestCheckpoint(epoch int) error {
	fmt.Println("Saving checkpoint...")

	if err := os.MkdirAll(t.config.SaveModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create model directory %s: %v", t.config.SaveModelPath, err)
	}

	optState, err := t.opt.GetState()
	if err != nil {
		return fmt.Errorf("failed to snapshot optimizer state: %v", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		Epoch:          epoch,
		Weights:        t.model.StateDict(),
		OptimizerState: optState,
	}

	if err := t.saver.SaveCheckpoint(checkpoint, t.LatestCheckpointPath()); err != nil {
		return err
	}

	fmt.Println("Done!")
	return nil
}

// validateAndTrackBest runs a validation pass and persists model weights to
// the best slot when the mean IoU strictly improves. A NaN mean IoU (empty
// validation) never updates the best state.
func (t *Trainer) validateAndTrackBest() error {
	result, err := Validate(t.model, t.valLoader, t.config.NumClasses, t.config.Loss)
	if err != nil {
		return err
	}

	if result.MeanIoU > t.maxMIoU {
		t.maxMIoU = result.MeanIoU

		if err := os.MkdirAll(t.config.SaveModelPath, 0755); err != nil {
			return fmt.Errorf("failed to create model directory %s: %v", t.config.SaveModelPath, err)
		}

		weights := t.model.StateDict()
		if err := t.saver.SaveWeights(weights, t.BestModelPath()); err != nil {
			return err
		}
		if err := t.exporter.ExportWeights(weights, t.bestONNXPath()); err != nil {
			return err
		}
	}

	return nil
}
