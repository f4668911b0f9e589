// Package model provides a small two-branch segmentation network that
// implements the training.Model contract: a per-pixel spatial scoring branch
// combined with a context branch over globally pooled features, plus two
// auxiliary supervision heads off the context features. The architecture is
// intentionally minimal; it exists to exercise the full training surface
// (deep supervision, gradient accumulation, checkpointing, optimizers) with
// real parameters.
package model

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
	"github.com/MatteoM95/Project2-IDDA/training"
)

// TwoBranchNetConfig holds the architecture hyperparameters
type TwoBranchNetConfig struct {
	NumClasses int   // Output channels of every head
	InChannels int   // Input image channels
	Seed       int64 // Weight initialization seed
}

// DefaultTwoBranchNetConfig returns a configuration for RGB input
func DefaultTwoBranchNetConfig(numClasses int) TwoBranchNetConfig {
	return TwoBranchNetConfig{
		NumClasses: numClasses,
		InChannels: 3,
		Seed:       1,
	}
}

// TwoBranchNet scores each pixel as the sum of a per-pixel linear projection
// of its input channels (spatial branch) and a linear projection of the
// image's mean channel vector (context branch). The two auxiliary heads are
// independent linear projections of the same pooled context features,
// broadcast over the pixel plane. Not safe for concurrent use.
type TwoBranchNet struct {
	config TwoBranchNetConfig
	mode   training.Mode

	// Parameter order is fixed: it defines the alignment between
	// Parameters() and Gradients() that optimizers rely on.
	params []*tensor.Tensor
	grads  []*tensor.Tensor

	// Forward caches consumed by Backward.
	lastInput  *tensor.Tensor
	lastPooled []float32 // (N, InChannels) mean channel vectors
}

// Named parameter slots, in Parameters() order.
var paramNames = []string{
	"spatial.weight", "spatial.bias",
	"context.weight", "context.bias",
	"aux1.weight", "aux1.bias",
	"aux2.weight", "aux2.bias",
}

// NewTwoBranchNet creates the network with small random weights and zero
// biases. The same seed always produces the same initialization.
func NewTwoBranchNet(config TwoBranchNetConfig) (*TwoBranchNet, error) {
	if config.NumClasses < 2 {
		return nil, fmt.Errorf("num_classes must be at least 2, got %d", config.NumClasses)
	}
	if config.InChannels <= 0 {
		return nil, fmt.Errorf("in_channels must be positive, got %d", config.InChannels)
	}

	c, k := config.NumClasses, config.InChannels
	rng := rand.New(rand.NewSource(config.Seed))
	scale := math32.Sqrt(2.0 / float32(k))

	net := &TwoBranchNet{config: config, mode: training.ModeTrain}
	for i, name := range paramNames {
		shape := []int{c, k}
		if i%2 == 1 { // bias slots
			shape = []int{c}
		}

		param, err := tensor.Zeros(shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate %s: %v", name, err)
		}
		grad, err := tensor.Zeros(shape)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate %s gradient: %v", name, err)
		}

		if i%2 == 0 { // weight slots get random init, biases stay zero
			for j := range param.Data {
				param.Data[j] = float32(rng.NormFloat64()) * scale
			}
		}

		net.params = append(net.params, param)
		net.grads = append(net.grads, grad)
	}

	return net, nil
}

func (net *TwoBranchNet) checkInput(x *tensor.Tensor) (n, h, w int, err error) {
	if len(x.Shape) != 4 {
		return 0, 0, 0, fmt.Errorf("expected 4D input (N, C, H, W), got shape %v", x.Shape)
	}
	if x.Shape[1] != net.config.InChannels {
		return 0, 0, 0, fmt.Errorf("expected %d input channels, got %d", net.config.InChannels, x.Shape[1])
	}
	return x.Shape[0], x.Shape[2], x.Shape[3], nil
}

// pool computes the per-image mean channel vector, (N, InChannels) row-major.
func (net *TwoBranchNet) pool(x *tensor.Tensor, n, plane int) []float32 {
	k := net.config.InChannels
	pooled := make([]float32, n*k)
	for img := 0; img < n; img++ {
		for ch := 0; ch < k; ch++ {
			base := (img*k + ch) * plane
			var sum float32
			for p := 0; p < plane; p++ {
				sum += x.Data[base+p]
			}
			pooled[img*k+ch] = sum / float32(plane)
		}
	}
	return pooled
}

// headScores projects pooled features through one linear head and broadcasts
// the per-image class scores over the pixel plane.
func (net *TwoBranchNet) headScores(pooled []float32, weight, bias *tensor.Tensor, n, h, w int) (*tensor.Tensor, error) {
	c, k := net.config.NumClasses, net.config.InChannels
	plane := h * w

	out, err := tensor.Zeros([]int{n, c, h, w})
	if err != nil {
		return nil, err
	}
	for img := 0; img < n; img++ {
		for cls := 0; cls < c; cls++ {
			score := bias.Data[cls]
			for ch := 0; ch < k; ch++ {
				score += weight.Data[cls*k+ch] * pooled[img*k+ch]
			}
			base := (img*c + cls) * plane
			for p := 0; p < plane; p++ {
				out.Data[base+p] = score
			}
		}
	}
	return out, nil
}

// mainScores combines the per-pixel spatial projection with the broadcast
// context scores.
func (net *TwoBranchNet) mainScores(x *tensor.Tensor, pooled []float32, n, h, w int) (*tensor.Tensor, error) {
	c, k := net.config.NumClasses, net.config.InChannels
	plane := h * w
	ws, bs := net.params[0], net.params[1]
	wc, bc := net.params[2], net.params[3]

	out, err := tensor.Zeros([]int{n, c, h, w})
	if err != nil {
		return nil, err
	}
	for img := 0; img < n; img++ {
		for cls := 0; cls < c; cls++ {
			ctx := bc.Data[cls]
			for ch := 0; ch < k; ch++ {
				ctx += wc.Data[cls*k+ch] * pooled[img*k+ch]
			}
			base := (img*c + cls) * plane
			for p := 0; p < plane; p++ {
				score := bs.Data[cls] + ctx
				for ch := 0; ch < k; ch++ {
					score += ws.Data[cls*k+ch] * x.Data[(img*k+ch)*plane+p]
				}
				out.Data[base+p] = score
			}
		}
	}
	return out, nil
}

// Forward runs a training-mode pass, caching the activations Backward needs.
func (net *TwoBranchNet) Forward(x *tensor.Tensor) (*training.ModelOutputs, error) {
	n, h, w, err := net.checkInput(x)
	if err != nil {
		return nil, err
	}
	plane := h * w

	pooled := net.pool(x, n, plane)
	main, err := net.mainScores(x, pooled, n, h, w)
	if err != nil {
		return nil, err
	}
	aux1, err := net.headScores(pooled, net.params[4], net.params[5], n, h, w)
	if err != nil {
		return nil, err
	}
	aux2, err := net.headScores(pooled, net.params[6], net.params[7], n, h, w)
	if err != nil {
		return nil, err
	}

	net.lastInput = x
	net.lastPooled = pooled

	return &training.ModelOutputs{Main: main, Aux1: aux1, Aux2: aux2}, nil
}

// Infer runs an inference-mode pass over the primary head only, leaving the
// Backward caches untouched.
func (net *TwoBranchNet) Infer(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, h, w, err := net.checkInput(x)
	if err != nil {
		return nil, err
	}
	pooled := net.pool(x, n, h*w)
	return net.mainScores(x, pooled, n, h, w)
}

// Backward accumulates parameter gradients from the upstream gradients of
// the three heads. Gradients add onto the existing buffers; the optimizer's
// ZeroGrad clears them between steps.
func (net *TwoBranchNet) Backward(gradMain, gradAux1, gradAux2 *tensor.Tensor) error {
	if net.lastInput == nil {
		return fmt.Errorf("backward called before forward")
	}

	x := net.lastInput
	n, h, w, err := net.checkInput(x)
	if err != nil {
		return err
	}
	c, k := net.config.NumClasses, net.config.InChannels
	plane := h * w

	for _, g := range []*tensor.Tensor{gradMain, gradAux1, gradAux2} {
		if len(g.Shape) != 4 || g.Shape[0] != n || g.Shape[1] != c || g.Shape[2] != h || g.Shape[3] != w {
			return fmt.Errorf("upstream gradient shape %v does not match output shape %v", g.Shape, []int{n, c, h, w})
		}
	}

	dws, dbs := net.grads[0], net.grads[1]
	dwc, dbc := net.grads[2], net.grads[3]

	for img := 0; img < n; img++ {
		for cls := 0; cls < c; cls++ {
			base := (img*c + cls) * plane

			// The context branch sees the sum of the per-pixel upstream
			// gradient; the spatial branch sees each pixel individually.
			var gSum float32
			for p := 0; p < plane; p++ {
				g := gradMain.Data[base+p]
				gSum += g
				for ch := 0; ch < k; ch++ {
					dws.Data[cls*k+ch] += g * x.Data[(img*k+ch)*plane+p]
				}
			}
			dbs.Data[cls] += gSum
			dbc.Data[cls] += gSum
			for ch := 0; ch < k; ch++ {
				dwc.Data[cls*k+ch] += gSum * net.lastPooled[img*k+ch]
			}
		}
	}

	net.headBackward(gradAux1, net.grads[4], net.grads[5], n, plane)
	net.headBackward(gradAux2, net.grads[6], net.grads[7], n, plane)

	return nil
}

// headBackward accumulates gradients for one broadcast context head.
func (net *TwoBranchNet) headBackward(upstream, dWeight, dBias *tensor.Tensor, n, plane int) {
	c, k := net.config.NumClasses, net.config.InChannels
	for img := 0; img < n; img++ {
		for cls := 0; cls < c; cls++ {
			base := (img*c + cls) * plane
			var gSum float32
			for p := 0; p < plane; p++ {
				gSum += upstream.Data[base+p]
			}
			dBias.Data[cls] += gSum
			for ch := 0; ch < k; ch++ {
				dWeight.Data[cls*k+ch] += gSum * net.lastPooled[img*k+ch]
			}
		}
	}
}

// Parameters returns the learnable tensors in their fixed order
func (net *TwoBranchNet) Parameters() []*tensor.Tensor {
	return net.params
}

// Gradients returns the gradient buffers aligned with Parameters
func (net *TwoBranchNet) Gradients() []*tensor.Tensor {
	return net.grads
}

// StateDict snapshots every parameter as a named weight tensor
func (net *TwoBranchNet) StateDict() []checkpoints.WeightTensor {
	weights := make([]checkpoints.WeightTensor, len(net.params))
	for i, p := range net.params {
		weights[i] = checkpoints.WeightTensor{
			Name:  paramNames[i],
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return weights
}

// LoadStateDict restores parameters from a snapshot. Every named tensor must
// match an existing parameter in shape; unknown names are errors.
func (net *TwoBranchNet) LoadStateDict(weights []checkpoints.WeightTensor) error {
	slots := make(map[string]*tensor.Tensor, len(net.params))
	for i, name := range paramNames {
		slots[name] = net.params[i]
	}

	for _, w := range weights {
		param, ok := slots[w.Name]
		if !ok {
			return fmt.Errorf("unknown parameter %q", w.Name)
		}
		if len(w.Data) != len(param.Data) {
			return fmt.Errorf("parameter %q has %d elements, expected %d", w.Name, len(w.Data), len(param.Data))
		}
		copy(param.Data, w.Data)
	}

	return nil
}

// SetMode switches between training and inference behavior
func (net *TwoBranchNet) SetMode(mode training.Mode) {
	net.mode = mode
}
