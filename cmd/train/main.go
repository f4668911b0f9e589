// Command train runs semantic-segmentation training over a CamVid-style
// dataset folder: flag parsing, dataset and model construction, optional
// checkpoint resume, the epoch loop and a final validation pass.
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/MatteoM95/Project2-IDDA/model"
	"github.com/MatteoM95/Project2-IDDA/training"
	"github.com/MatteoM95/Project2-IDDA/vision/dataset"
)

func main() {
	var config training.TrainerConfig

	flag.IntVar(&config.NumEpochs, "num_epochs", 300, "Number of epochs to train for")
	flag.IntVar(&config.CheckpointStep, "checkpoint_step", 5, "How often to save checkpoints (epochs)")
	flag.IntVar(&config.ValidationStep, "validation_step", 1, "How often to perform validation (epochs)")
	flag.IntVar(&config.CropHeight, "crop_height", 720, "Height of cropped input image")
	flag.IntVar(&config.CropWidth, "crop_width", 960, "Width of cropped input image")
	flag.IntVar(&config.BatchSize, "batch_size", 1, "Number of images per batch")
	flag.IntVar(&config.NumClasses, "num_classes", 12, "Number of object classes including void")
	flag.IntVar(&config.NumWorkers, "num_workers", 4, "Number of parallel sample decoders")
	lr := flag.Float64("learning_rate", 0.01, "Base learning rate")
	flag.StringVar(&config.Loss, "loss", training.LossCrossEntropy, "Loss function: crossentropy or dice")
	flag.StringVar(&config.Optimizer, "optimizer", training.OptimizerRMSProp, "Optimizer: rmsprop, sgd or adam")
	flag.StringVar(&config.ContextPath, "context_path", "resnet101", "Backbone identifier, recorded for logging")
	flag.StringVar(&config.DataPath, "data", "./data/CamVid", "Path to the dataset root")
	flag.StringVar(&config.SaveModelPath, "save_model_path", "./checkpoints", "Directory for latest and best model files")
	flag.StringVar(&config.PretrainedModelPath, "pretrained_model_path", "", "Checkpoint to resume from")
	flag.Parse()
	config.LearningRate = float32(*lr)

	if err := training.ValidateTrainerConfig(config); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := run(config); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

func run(config training.TrainerConfig) error {
	dict, err := dataset.LoadClassDict(filepath.Join(config.DataPath, "class_dict.csv"))
	if err != nil {
		return err
	}
	if dict.NumClasses() != config.NumClasses {
		return fmt.Errorf("class dictionary defines %d classes, configuration expects %d",
			dict.NumClasses(), config.NumClasses)
	}

	encoding := dataset.EncodeIndexMap
	if config.Loss == training.LossDice {
		encoding = dataset.EncodeOneHot
	}

	// The train and val splits train together; the test split validates.
	trainData, err := dataset.NewCamVidDataset(dataset.CamVidConfig{
		ImageDirs: []string{
			filepath.Join(config.DataPath, "train"),
			filepath.Join(config.DataPath, "val"),
		},
		LabelDirs: []string{
			filepath.Join(config.DataPath, "train_labels"),
			filepath.Join(config.DataPath, "val_labels"),
		},
		CropHeight: config.CropHeight,
		CropWidth:  config.CropWidth,
		Encoding:   encoding,
	}, dict)
	if err != nil {
		return fmt.Errorf("failed to load training data: %v", err)
	}

	valData, err := dataset.NewCamVidDataset(dataset.CamVidConfig{
		ImageDirs:  []string{filepath.Join(config.DataPath, "test")},
		LabelDirs:  []string{filepath.Join(config.DataPath, "test_labels")},
		CropHeight: config.CropHeight,
		CropWidth:  config.CropWidth,
		Encoding:   encoding,
	}, dict)
	if err != nil {
		return fmt.Errorf("failed to load validation data: %v", err)
	}

	trainLoader, err := training.NewDataLoader(trainData, config.BatchSize, true, true, config.NumWorkers)
	if err != nil {
		return fmt.Errorf("failed to create training loader: %v", err)
	}
	valLoader, err := training.NewDataLoader(valData, 1, false, false, config.NumWorkers)
	if err != nil {
		return fmt.Errorf("failed to create validation loader: %v", err)
	}

	net, err := model.NewTwoBranchNet(model.DefaultTwoBranchNetConfig(config.NumClasses))
	if err != nil {
		return fmt.Errorf("failed to build model: %v", err)
	}

	opt, err := training.BuildOptimizer(config, net)
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(config, net, opt, trainLoader, valLoader)
	if err != nil {
		return err
	}

	if config.PretrainedModelPath != "" {
		if err := trainer.Resume(config.PretrainedModelPath); err != nil {
			return err
		}
	}

	fmt.Printf("Training with %s loss, %s optimizer, %d classes, context path %s\n",
		config.Loss, config.Optimizer, config.NumClasses, config.ContextPath)
	fmt.Printf("\t- %d training samples, %d validation samples\n", trainData.Len(), valData.Len())

	if err := trainer.Train(); err != nil {
		return err
	}

	// Final validation mirrors the end-of-run evaluation pass.
	_, err = training.Validate(net, valLoader, config.NumClasses, config.Loss)
	return err
}
