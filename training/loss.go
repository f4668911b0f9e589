package training

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// Loss kind names accepted by the configuration surface.
const (
	LossCrossEntropy = "crossentropy"
	LossDice         = "dice"
)

// SegmentationLoss scores a (N, C, H, W) class-score tensor against a label
// tensor and returns the scalar loss together with d(loss)/d(scores).
// Cross-entropy expects an index-map label of shape (N, H, W); dice expects a
// one-hot label of shape (N, C, H, W). The kind is chosen once at
// configuration time and the data pipeline encodes labels to match.
type SegmentationLoss interface {
	Forward(scores, target *tensor.Tensor) (float32, *tensor.Tensor, error)
	GetName() string
}

// NewSegmentationLoss creates the loss for the configured kind.
// An unknown kind is a configuration error.
func NewSegmentationLoss(kind string) (SegmentationLoss, error) {
	switch kind {
	case LossCrossEntropy:
		return &CrossEntropyLoss{}, nil
	case LossDice:
		return &DiceLoss{Smooth: 1.0}, nil
	default:
		return nil, fmt.Errorf("unsupported loss function: %q (supported: %s, %s)", kind, LossCrossEntropy, LossDice)
	}
}

// CrossEntropyLoss implements pixel-wise softmax cross-entropy against an
// integer class-index map. Pixels whose target index falls outside [0, C)
// are treated as void: zero loss, zero gradient.
type CrossEntropyLoss struct{}

func (ce *CrossEntropyLoss) GetName() string {
	return "CrossEntropyLoss"
}

func (ce *CrossEntropyLoss) Forward(scores, target *tensor.Tensor) (float32, *tensor.Tensor, error) {
	if len(scores.Shape) != 4 {
		return 0, nil, fmt.Errorf("expected 4D score tensor (N, C, H, W), got shape %v", scores.Shape)
	}

	n, c, h, w := scores.Shape[0], scores.Shape[1], scores.Shape[2], scores.Shape[3]
	plane := h * w
	if len(target.Data) != n*plane {
		return 0, nil, fmt.Errorf("target has %d elements, expected %d for scores of shape %v",
			len(target.Data), n*plane, scores.Shape)
	}

	grad, err := tensor.Zeros(scores.Shape)
	if err != nil {
		return 0, nil, err
	}

	probs := make([]float32, c)
	var totalLoss float32
	valid := 0

	for img := 0; img < n; img++ {
		base := img * c * plane
		for p := 0; p < plane; p++ {
			cls := int(target.Data[img*plane+p])
			if cls < 0 || cls >= c {
				continue // void pixel
			}

			// Numerically stable softmax over the class dimension.
			maxVal := scores.Data[base+p]
			for ch := 1; ch < c; ch++ {
				if v := scores.Data[base+ch*plane+p]; v > maxVal {
					maxVal = v
				}
			}
			var sum float32
			for ch := 0; ch < c; ch++ {
				e := math32.Exp(scores.Data[base+ch*plane+p] - maxVal)
				probs[ch] = e
				sum += e
			}

			totalLoss += -math32.Log(probs[cls] / sum)
			valid++

			for ch := 0; ch < c; ch++ {
				g := probs[ch] / sum
				if ch == cls {
					g -= 1.0
				}
				grad.Data[base+ch*plane+p] = g
			}
		}
	}

	if valid == 0 {
		return 0, grad, nil
	}

	// Mean reduction over valid pixels, applied to the gradient as well.
	inv := 1.0 / float32(valid)
	for i := range grad.Data {
		grad.Data[i] *= inv
	}

	return totalLoss * inv, grad, nil
}

// DiceLoss implements a soft dice loss over sigmoid-activated scores and a
// one-hot encoded target: 1 - (2*sum(p*t) + smooth) / (sum(p^2) + sum(t^2) + smooth).
type DiceLoss struct {
	Smooth float32
}

func (dl *DiceLoss) GetName() string {
	return "DiceLoss"
}

func (dl *DiceLoss) Forward(scores, target *tensor.Tensor) (float32, *tensor.Tensor, error) {
	if len(scores.Shape) != 4 {
		return 0, nil, fmt.Errorf("expected 4D score tensor (N, C, H, W), got shape %v", scores.Shape)
	}
	if !tensor.SameShape(scores, target) {
		return 0, nil, fmt.Errorf("dice loss requires one-hot target matching score shape %v, got %v",
			scores.Shape, target.Shape)
	}

	smooth := dl.Smooth
	if smooth <= 0 {
		smooth = 1.0
	}

	probs := make([]float32, len(scores.Data))
	var sumPT, sumPP, sumTT float32
	for i, s := range scores.Data {
		p := 1.0 / (1.0 + math32.Exp(-s))
		t := target.Data[i]
		probs[i] = p
		sumPT += p * t
		sumPP += p * p
		sumTT += t * t
	}

	num := 2.0*sumPT + smooth
	den := sumPP + sumTT + smooth
	loss := 1.0 - num/den

	grad, err := tensor.Zeros(scores.Shape)
	if err != nil {
		return 0, nil, err
	}

	// d(loss)/d(p_i) = -(2*t_i*den - num*2*p_i) / den^2, chained through the
	// sigmoid derivative p_i*(1-p_i).
	denSq := den * den
	for i, p := range probs {
		t := target.Data[i]
		dp := -(2.0*t*den - 2.0*p*num) / denSq
		grad.Data[i] = dp * p * (1.0 - p)
	}

	return loss, grad, nil
}
