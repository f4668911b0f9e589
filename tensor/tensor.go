package tensor

import (
	"fmt"
)

// Tensor is a CPU-resident, row-major float32 tensor. Images use NCHW layout,
// class-score maps use (N, C, H, W) and label index maps use (N, H, W) or (H, W).
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: empty")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// New creates a tensor from an existing data slice. The slice is used as-is
// (not copied) and its length must match the shape.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	return &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		Data:     make([]float32, numElems),
		NumElems: numElems,
	}, nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	clone, _ := New(t.Shape, data)
	return clone
}

// Zero overwrites every element with 0 in place.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// SameShape reports whether two tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// ArgMaxChannel reduces a (N, C, H, W) score tensor to a flat class-index map
// of length N*H*W by taking the arg-max over the channel dimension. Ties
// resolve to the lowest class index.
func ArgMaxChannel(scores *Tensor) ([]int32, error) {
	if len(scores.Shape) != 4 {
		return nil, fmt.Errorf("expected 4D score tensor (N, C, H, W), got shape %v", scores.Shape)
	}

	n, c, h, w := scores.Shape[0], scores.Shape[1], scores.Shape[2], scores.Shape[3]
	plane := h * w
	out := make([]int32, n*plane)

	for img := 0; img < n; img++ {
		base := img * c * plane
		for p := 0; p < plane; p++ {
			maxIdx := 0
			maxVal := scores.Data[base+p]
			for ch := 1; ch < c; ch++ {
				v := scores.Data[base+ch*plane+p]
				if v > maxVal {
					maxVal = v
					maxIdx = ch
				}
			}
			out[img*plane+p] = int32(maxIdx)
		}
	}

	return out, nil
}

// ReverseOneHot converts a one-hot encoded label tensor of shape (C, H, W) or
// (N, C, H, W) back to a flat class-index map by arg-max over the channel
// dimension.
func ReverseOneHot(label *Tensor) ([]int32, error) {
	switch len(label.Shape) {
	case 3:
		batched, err := New(append([]int{1}, label.Shape...), label.Data)
		if err != nil {
			return nil, err
		}
		return ArgMaxChannel(batched)
	case 4:
		return ArgMaxChannel(label)
	default:
		return nil, fmt.Errorf("expected 3D or 4D one-hot tensor, got shape %v", label.Shape)
	}
}

// OneHot expands a (H, W) class-index map into a (C, H, W) one-hot tensor.
// Indices outside [0, numClasses) leave their column all-zero.
func OneHot(indices []int32, height, width, numClasses int) (*Tensor, error) {
	if len(indices) != height*width {
		return nil, fmt.Errorf("index map length %d does not match %dx%d", len(indices), height, width)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}

	out, err := Zeros([]int{numClasses, height, width})
	if err != nil {
		return nil, err
	}

	plane := height * width
	for p, cls := range indices {
		if cls >= 0 && int(cls) < numClasses {
			out.Data[int(cls)*plane+p] = 1.0
		}
	}

	return out, nil
}

// IndexMap reinterprets a (H, W) or (N, H, W) label tensor whose elements hold
// integral class values as a flat []int32 class map.
func IndexMap(label *Tensor) ([]int32, error) {
	if len(label.Shape) != 2 && len(label.Shape) != 3 {
		return nil, fmt.Errorf("expected 2D or 3D index-map tensor, got shape %v", label.Shape)
	}

	out := make([]int32, len(label.Data))
	for i, v := range label.Data {
		out[i] = int32(v)
	}
	return out, nil
}
