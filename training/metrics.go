package training

import (
	"fmt"
	"math"
)

// GlobalPixelAccuracy returns the fraction of positions where pred equals
// label, counting every position (void classes included) in the denominator.
// Empty input returns 0.
func GlobalPixelAccuracy(pred, label []int32) float64 {
	if len(pred) == 0 || len(pred) != len(label) {
		return 0.0
	}

	correct := 0
	for i := range pred {
		if pred[i] == label[i] {
			correct++
		}
	}

	return float64(correct) / float64(len(pred))
}

// SegmentationConfusionMatrix accumulates true-vs-predicted pixel counts
// across an entire validation pass. Rows index the true class, columns the
// predicted class. Accumulation is additive, so the final matrix is
// independent of batch order.
type SegmentationConfusionMatrix struct {
	NumClasses  int
	TotalPixels int64

	counts []int64 // row-major [true*NumClasses + pred]
}

// NewSegmentationConfusionMatrix creates a zeroed numClasses x numClasses matrix
func NewSegmentationConfusionMatrix(numClasses int) (*SegmentationConfusionMatrix, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}

	return &SegmentationConfusionMatrix{
		NumClasses: numClasses,
		counts:     make([]int64, numClasses*numClasses),
	}, nil
}

// Reset clears the accumulated counts
func (cm *SegmentationConfusionMatrix) Reset() {
	for i := range cm.counts {
		cm.counts[i] = 0
	}
	cm.TotalPixels = 0
}

// At returns the count of pixels with the given true and predicted class
func (cm *SegmentationConfusionMatrix) At(trueClass, predClass int) int64 {
	return cm.counts[trueClass*cm.NumClasses+predClass]
}

// Update accumulates one batch of paired label/prediction class maps.
// Positions whose label falls outside [0, NumClasses) are treated as void and
// excluded. Predictions are produced by arg-max and are always in range.
func (cm *SegmentationConfusionMatrix) Update(label, pred []int32) error {
	if len(label) != len(pred) {
		return fmt.Errorf("label length %d does not match prediction length %d", len(label), len(pred))
	}

	n := int32(cm.NumClasses)
	for i := range label {
		l := label[i]
		if l < 0 || l >= n {
			continue // void
		}
		p := pred[i]
		if p < 0 || p >= n {
			continue
		}
		cm.counts[int(l)*cm.NumClasses+int(p)]++
		cm.TotalPixels++
	}

	return nil
}

// PerClassIoU computes intersection-over-union per class:
// diag / (rowSum + colSum - diag). Classes with an empty union yield NaN,
// the documented "no support" sentinel.
func (cm *SegmentationConfusionMatrix) PerClassIoU() []float64 {
	iou := make([]float64, cm.NumClasses)

	for c := 0; c < cm.NumClasses; c++ {
		intersection := cm.At(c, c)

		var rowSum, colSum int64
		for j := 0; j < cm.NumClasses; j++ {
			rowSum += cm.At(c, j)
			colSum += cm.At(j, c)
		}

		union := rowSum + colSum - intersection
		if union > 0 {
			iou[c] = float64(intersection) / float64(union)
		} else {
			iou[c] = math.NaN()
		}
	}

	return iou
}

// MeanIoU averages the per-class IoU, skipping NaN (unsupported) classes.
// When excludeLast is true the final class is dropped before averaging; by
// CamVid convention the last class is void/background. Returns NaN when no
// class has support, which callers must treat as "no result" (NaN never
// compares greater than a tracked best).
func (cm *SegmentationConfusionMatrix) MeanIoU(excludeLast bool) float64 {
	iou := cm.PerClassIoU()
	if excludeLast && len(iou) > 1 {
		iou = iou[:len(iou)-1]
	}

	sum := 0.0
	valid := 0
	for _, v := range iou {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		valid++
	}

	if valid == 0 {
		return math.NaN()
	}
	return sum / float64(valid)
}

// GetAccuracy returns the overall fraction of correctly classified pixels
// among those accumulated into the matrix.
func (cm *SegmentationConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalPixels == 0 {
		return 0.0
	}

	var correct int64
	for c := 0; c < cm.NumClasses; c++ {
		correct += cm.At(c, c)
	}

	return float64(correct) / float64(cm.TotalPixels)
}
