package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// ValidationResult aggregates one validation pass
type ValidationResult struct {
	Precision float64 // Mean per-batch global pixel accuracy
	MeanIoU   float64 // Mean per-class IoU, void class excluded; NaN when undefined
}

// Validate runs the model in inference mode over the validation data source
// (batches of size 1), accumulating pixel accuracy per batch and one
// confusion matrix across the whole pass. The model is switched to eval mode
// here; restoring training mode is the caller's responsibility. Model state
// is never mutated.
func Validate(model Model, loader *DataLoader, numClasses int, lossKind string) (*ValidationResult, error) {
	fmt.Println("Start val!")

	model.SetMode(ModeEval)

	hist, err := NewSegmentationConfusionMatrix(numClasses)
	if err != nil {
		return nil, err
	}
	hist.Reset()

	var precisions []float64

	loader.Reset()
	for {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("validation batch fetch failed: %v", err)
		}
		if batch == nil {
			break
		}

		scores, err := model.Infer(batch.Data)
		if err != nil {
			return nil, fmt.Errorf("validation inference failed: %v", err)
		}

		predict, err := tensor.ArgMaxChannel(scores)
		if err != nil {
			return nil, fmt.Errorf("failed to decode predictions: %v", err)
		}

		var label []int32
		if lossKind == LossDice {
			label, err = tensor.ReverseOneHot(batch.Labels)
		} else {
			label, err = tensor.IndexMap(batch.Labels)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode labels: %v", err)
		}

		precisions = append(precisions, GlobalPixelAccuracy(predict, label))
		if err := hist.Update(label, predict); err != nil {
			return nil, fmt.Errorf("failed to accumulate confusion matrix: %v", err)
		}
	}

	result := &ValidationResult{MeanIoU: hist.MeanIoU(true)}
	if len(precisions) > 0 {
		result.Precision = floats.Sum(precisions) / float64(len(precisions))
	}

	fmt.Printf("precision per pixel for test: %.3f\n", result.Precision)
	fmt.Printf("mIoU for validation: %.3f\n", result.MeanIoU)

	return result, nil
}
