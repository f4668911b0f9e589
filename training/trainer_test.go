package training

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/chewxy/math32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// fakeModel is a minimal Model with scripted outputs. Forward returns the
// same score tensor for all three heads; Infer pops from inferOut until the
// script is exhausted, then falls back to the forward scores.
type fakeModel struct {
	weight *tensor.Tensor
	bias   *tensor.Tensor
	gradW  *tensor.Tensor
	gradB  *tensor.Tensor

	scores   *tensor.Tensor
	inferOut []*tensor.Tensor

	mode          Mode
	forwardCalls  int
	inferCalls    int
	backwardCalls int
}

func newFakeModel(scores *tensor.Tensor) *fakeModel {
	w, _ := tensor.New([]int{2}, []float32{1.0, 2.0})
	b, _ := tensor.New([]int{1}, []float32{0.5})
	gw, _ := tensor.Zeros([]int{2})
	gb, _ := tensor.Zeros([]int{1})
	return &fakeModel{weight: w, bias: b, gradW: gw, gradB: gb, scores: scores}
}

func (m *fakeModel) Forward(x *tensor.Tensor) (*ModelOutputs, error) {
	m.forwardCalls++
	return &ModelOutputs{Main: m.scores, Aux1: m.scores, Aux2: m.scores}, nil
}

func (m *fakeModel) Infer(x *tensor.Tensor) (*tensor.Tensor, error) {
	defer func() { m.inferCalls++ }()
	if m.inferCalls < len(m.inferOut) {
		return m.inferOut[m.inferCalls], nil
	}
	return m.scores, nil
}

func (m *fakeModel) Backward(gradMain, gradAux1, gradAux2 *tensor.Tensor) error {
	m.backwardCalls++
	return nil
}

func (m *fakeModel) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.weight, m.bias}
}

func (m *fakeModel) Gradients() []*tensor.Tensor {
	return []*tensor.Tensor{m.gradW, m.gradB}
}

func (m *fakeModel) StateDict() []checkpoints.WeightTensor {
	return []checkpoints.WeightTensor{
		{Name: "weight", Shape: []int{2}, Data: append([]float32(nil), m.weight.Data...)},
		{Name: "bias", Shape: []int{1}, Data: append([]float32(nil), m.bias.Data...)},
	}
}

func (m *fakeModel) LoadStateDict(weights []checkpoints.WeightTensor) error {
	for _, w := range weights {
		switch w.Name {
		case "weight":
			copy(m.weight.Data, w.Data)
		case "bias":
			copy(m.bias.Data, w.Data)
		default:
			return fmt.Errorf("unknown weight %q", w.Name)
		}
	}
	return nil
}

func (m *fakeModel) SetMode(mode Mode) {
	m.mode = mode
}

// fakeDataset serves pre-built sample tensors in index order.
type fakeDataset struct {
	data   []*tensor.Tensor
	labels []*tensor.Tensor
}

func (d *fakeDataset) Len() int {
	return len(d.data)
}

func (d *fakeDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	return d.data[idx], d.labels[idx], nil
}

// Geometry shared by the tests: one image, two classes, a 1x2 pixel plane,
// index-map label [0, 0]. Class 1 is the excluded void class, so the mean IoU
// reduces to the class-0 IoU.
func segSample() (*tensor.Tensor, *tensor.Tensor) {
	data, _ := tensor.New([]int{1, 3, 1, 2}, make([]float32, 6))
	label, _ := tensor.New([]int{1, 1, 2}, []float32{0, 0})
	return data, label
}

func segScores(vals ...float32) *tensor.Tensor {
	s, _ := tensor.New([]int{1, 2, 1, 2}, vals)
	return s
}

func segLoaders(t *testing.T, trainSamples int) (*DataLoader, *DataLoader) {
	t.Helper()

	trainData := &fakeDataset{}
	for i := 0; i < trainSamples; i++ {
		d, l := segSample()
		trainData.data = append(trainData.data, d)
		trainData.labels = append(trainData.labels, l)
	}
	d, l := segSample()
	valData := &fakeDataset{data: []*tensor.Tensor{d}, labels: []*tensor.Tensor{l}}

	trainLoader, err := NewDataLoader(trainData, 1, false, false, 1)
	if err != nil {
		t.Fatalf("failed to create train loader: %v", err)
	}
	valLoader, err := NewDataLoader(valData, 1, false, false, 1)
	if err != nil {
		t.Fatalf("failed to create val loader: %v", err)
	}
	return trainLoader, valLoader
}

func testTrainerConfig(dir string) TrainerConfig {
	return TrainerConfig{
		NumEpochs:      4,
		CheckpointStep: 2,
		ValidationStep: 2,
		CropHeight:     1,
		CropWidth:      2,
		BatchSize:      1,
		NumClasses:     2,
		NumWorkers:     1,
		LearningRate:   0.01,
		Loss:           LossCrossEntropy,
		Optimizer:      OptimizerRMSProp,
		ContextPath:    "resnet101",
		SaveModelPath:  dir,
	}
}

func newTestTrainer(t *testing.T, config TrainerConfig, model Model, trainLoader, valLoader *DataLoader) *Trainer {
	t.Helper()

	opt, err := BuildOptimizer(config, model)
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}
	trainer, err := NewTrainer(config, model, opt, trainLoader, valLoader)
	if err != nil {
		t.Fatalf("failed to create trainer: %v", err)
	}
	return trainer
}

func TestBuildOptimizerKinds(t *testing.T) {
	model := newFakeModel(segScores(2, 0, 1, 3))
	config := testTrainerConfig(t.TempDir())

	for _, kind := range []string{OptimizerRMSProp, OptimizerSGD, OptimizerAdam} {
		config.Optimizer = kind
		opt, err := BuildOptimizer(config, model)
		if err != nil {
			t.Errorf("BuildOptimizer(%q) failed: %v", kind, err)
			continue
		}
		if opt.LearningRate() != config.LearningRate {
			t.Errorf("optimizer %q learning rate = %f, want %f", kind, opt.LearningRate(), config.LearningRate)
		}
	}

	config.Optimizer = "adagrad"
	if _, err := BuildOptimizer(config, model); err == nil {
		t.Error("expected error for unsupported optimizer kind")
	}
}

func TestNewTrainerRejectsInvalidConfig(t *testing.T) {
	model := newFakeModel(segScores(2, 0, 1, 3))
	trainLoader, valLoader := segLoaders(t, 1)

	config := testTrainerConfig(t.TempDir())
	opt, err := BuildOptimizer(config, model)
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}

	config.NumEpochs = 0
	if _, err := NewTrainer(config, model, opt, trainLoader, valLoader); err == nil {
		t.Error("expected error for zero num_epochs")
	}
}

func TestTrainCadenceAndCheckpoint(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel(segScores(2, 0, 1, 3))
	trainLoader, valLoader := segLoaders(t, 2)
	trainer := newTestTrainer(t, testTrainerConfig(dir), model, trainLoader, valLoader)

	if err := trainer.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// 4 epochs x 2 train batches.
	if model.forwardCalls != 8 {
		t.Errorf("forward calls = %d, want 8", model.forwardCalls)
	}
	if model.backwardCalls != 8 {
		t.Errorf("backward calls = %d, want 8", model.backwardCalls)
	}
	if trainer.CurrentEpoch() != 4 {
		t.Errorf("current epoch = %d, want 4", trainer.CurrentEpoch())
	}
	// Validation at epochs 2 and 4, one batch each.
	if model.inferCalls != 2 {
		t.Errorf("infer calls = %d, want 2", model.inferCalls)
	}

	saver := checkpoints.NewCheckpointSaver()
	checkpoint, err := saver.LoadCheckpoint(trainer.LatestCheckpointPath())
	if err != nil {
		t.Fatalf("failed to load latest checkpoint: %v", err)
	}
	if checkpoint.Epoch != 4 {
		t.Errorf("checkpoint epoch = %d, want 4", checkpoint.Epoch)
	}
	if checkpoint.OptimizerState == nil {
		t.Error("checkpoint is missing optimizer state")
	}
	if len(checkpoint.Weights) != 2 {
		t.Errorf("checkpoint has %d weights, want 2", len(checkpoint.Weights))
	}

	// Scores [2,0,1,3] predict [0,1] against label [0,0]: class-0 IoU is 0.5.
	if trainer.BestMeanIoU() != 0.5 {
		t.Errorf("best mean IoU = %f, want 0.5", trainer.BestMeanIoU())
	}
	if _, err := os.Stat(trainer.BestModelPath()); err != nil {
		t.Errorf("best weights file missing: %v", err)
	}
}

func TestTrainAppliesPolySchedule(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel(segScores(2, 0, 1, 3))
	trainLoader, valLoader := segLoaders(t, 1)
	config := testTrainerConfig(dir)
	trainer := newTestTrainer(t, config, model, trainLoader, valLoader)

	if err := trainer.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// The final epoch decays (1 - 4/4)^0.9 to the scheduler floor.
	got := float64(trainer.opt.LearningRate())
	if math.Abs(got-1e-8) > 1e-12 {
		t.Errorf("final learning rate = %g, want scheduler floor 1e-8", got)
	}
}

func TestBestModelTracking(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel(segScores(2, 0, 1, 3))
	// Predictions [0,1], [1,1], [0,0] against label [0,0]: class-0 IoU
	// 0.5, then 0.0, then 1.0.
	model.inferOut = []*tensor.Tensor{
		segScores(2, 0, 1, 3),
		segScores(0, 0, 1, 1),
		segScores(5, 5, 1, 1),
	}
	trainLoader, valLoader := segLoaders(t, 1)
	trainer := newTestTrainer(t, testTrainerConfig(dir), model, trainLoader, valLoader)

	saver := checkpoints.NewCheckpointSaver()

	if err := trainer.validateAndTrackBest(); err != nil {
		t.Fatalf("first validation failed: %v", err)
	}
	if trainer.BestMeanIoU() != 0.5 {
		t.Fatalf("best mean IoU after first pass = %f, want 0.5", trainer.BestMeanIoU())
	}
	weights, err := saver.LoadWeights(trainer.BestModelPath())
	if err != nil {
		t.Fatalf("best weights not written on first improvement: %v", err)
	}
	if weights[0].Data[0] != 1.0 {
		t.Fatalf("unexpected best weight value %f", weights[0].Data[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "best_crossentropy_loss.onnx")); err != nil {
		t.Errorf("best weights were not exported: %v", err)
	}

	// Mutate a parameter so a rewrite of the best file is observable.
	model.weight.Data[0] = 42.0

	if err := trainer.validateAndTrackBest(); err != nil {
		t.Fatalf("second validation failed: %v", err)
	}
	if trainer.BestMeanIoU() != 0.5 {
		t.Errorf("best mean IoU regressed to %f after a worse pass", trainer.BestMeanIoU())
	}
	weights, err = saver.LoadWeights(trainer.BestModelPath())
	if err != nil {
		t.Fatalf("failed to reload best weights: %v", err)
	}
	if weights[0].Data[0] != 1.0 {
		t.Error("best weights were overwritten by a non-improving validation")
	}

	if err := trainer.validateAndTrackBest(); err != nil {
		t.Fatalf("third validation failed: %v", err)
	}
	if trainer.BestMeanIoU() != 1.0 {
		t.Errorf("best mean IoU after third pass = %f, want 1.0", trainer.BestMeanIoU())
	}
	weights, err = saver.LoadWeights(trainer.BestModelPath())
	if err != nil {
		t.Fatalf("failed to reload best weights: %v", err)
	}
	if weights[0].Data[0] != 42.0 {
		t.Error("best weights were not rewritten on a strict improvement")
	}
}

func TestResumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel(segScores(2, 0, 1, 3))
	trainLoader, valLoader := segLoaders(t, 2)
	trainer := newTestTrainer(t, testTrainerConfig(dir), model, trainLoader, valLoader)

	model.weight.Data[0] = 7.0
	if err := trainer.saveLatestCheckpoint(3); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}

	resumed := newFakeModel(segScores(2, 0, 1, 3))
	config := testTrainerConfig(dir)
	trainer2 := newTestTrainer(t, config, resumed, trainLoader, valLoader)

	if err := trainer2.Resume(trainer.LatestCheckpointPath()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if trainer2.CurrentEpoch() != 3 {
		t.Errorf("resumed epoch = %d, want 3", trainer2.CurrentEpoch())
	}
	if resumed.weight.Data[0] != 7.0 {
		t.Errorf("resumed weight = %f, want 7.0", resumed.weight.Data[0])
	}

	// Only epoch 4 remains: 2 train batches.
	if err := trainer2.Train(); err != nil {
		t.Fatalf("resumed Train failed: %v", err)
	}
	if resumed.forwardCalls != 2 {
		t.Errorf("forward calls after resume = %d, want 2", resumed.forwardCalls)
	}
	if trainer2.CurrentEpoch() != 4 {
		t.Errorf("epoch after resumed run = %d, want 4", trainer2.CurrentEpoch())
	}
}

func TestResumeMissingCheckpointFails(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel(segScores(2, 0, 1, 3))
	trainLoader, valLoader := segLoaders(t, 1)
	trainer := newTestTrainer(t, testTrainerConfig(dir), model, trainLoader, valLoader)

	if err := trainer.Resume(filepath.Join(dir, "no_such_checkpoint.json")); err == nil {
		t.Error("expected error when resuming from a missing checkpoint")
	}
}

func TestTrainAbortsOnNonFiniteLoss(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel(segScores(math32.NaN(), 0, 1, 3))
	trainLoader, valLoader := segLoaders(t, 1)
	trainer := newTestTrainer(t, testTrainerConfig(dir), model, trainLoader, valLoader)

	if err := trainer.Train(); err == nil {
		t.Fatal("expected error for non-finite training loss")
	}
	if _, err := os.Stat(trainer.LatestCheckpointPath()); !os.IsNotExist(err) {
		t.Error("checkpoint was written despite an aborted run")
	}
}
