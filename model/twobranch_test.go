package model

import (
	"math"
	"testing"

	"github.com/MatteoM95/Project2-IDDA/tensor"
	"github.com/MatteoM95/Project2-IDDA/training"
)

func newTestNet(t *testing.T, numClasses int) *TwoBranchNet {
	t.Helper()
	net, err := NewTwoBranchNet(DefaultTwoBranchNetConfig(numClasses))
	if err != nil {
		t.Fatalf("failed to create network: %v", err)
	}
	return net
}

func testInput(t *testing.T, n, c, h, w int) *tensor.Tensor {
	t.Helper()
	data := make([]float32, n*c*h*w)
	for i := range data {
		data[i] = float32(i%7)*0.25 - 0.5
	}
	x, err := tensor.New([]int{n, c, h, w}, data)
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}
	return x
}

func TestNewTwoBranchNetValidation(t *testing.T) {
	if _, err := NewTwoBranchNet(TwoBranchNetConfig{NumClasses: 1, InChannels: 3}); err == nil {
		t.Error("expected error for single-class configuration")
	}
	if _, err := NewTwoBranchNet(TwoBranchNetConfig{NumClasses: 4, InChannels: 0}); err == nil {
		t.Error("expected error for zero input channels")
	}
}

func TestSeedDeterminism(t *testing.T) {
	a := newTestNet(t, 4)
	b := newTestNet(t, 4)
	for i, pa := range a.Parameters() {
		pb := b.Parameters()[i]
		for j := range pa.Data {
			if pa.Data[j] != pb.Data[j] {
				t.Fatalf("parameter %d element %d differs across identical seeds", i, j)
			}
		}
	}
}

func TestForwardShapes(t *testing.T) {
	net := newTestNet(t, 5)
	x := testInput(t, 2, 3, 4, 6)

	out, err := net.Forward(x)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	want := []int{2, 5, 4, 6}
	for name, head := range map[string]*tensor.Tensor{"main": out.Main, "aux1": out.Aux1, "aux2": out.Aux2} {
		if !tensor.SameShape(head, out.Main) || len(head.Shape) != 4 {
			t.Errorf("%s head has shape %v, want %v", name, head.Shape, want)
		}
		for i, dim := range want {
			if head.Shape[i] != dim {
				t.Errorf("%s head dimension %d = %d, want %d", name, i, head.Shape[i], dim)
			}
		}
	}

	// Auxiliary heads project pooled features, so scores are constant over
	// the pixel plane.
	plane := 4 * 6
	for base := 0; base < len(out.Aux1.Data); base += plane {
		for p := 1; p < plane; p++ {
			if out.Aux1.Data[base+p] != out.Aux1.Data[base] {
				t.Fatalf("aux1 scores vary within a pixel plane at offset %d", base+p)
			}
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	net := newTestNet(t, 3)

	bad, _ := tensor.Zeros([]int{2, 3, 4})
	if _, err := net.Forward(bad); err == nil {
		t.Error("expected error for 3D input")
	}

	wrongChannels, _ := tensor.Zeros([]int{1, 5, 2, 2})
	if _, err := net.Forward(wrongChannels); err == nil {
		t.Error("expected error for channel mismatch")
	}
}

func TestInferMatchesMainHead(t *testing.T) {
	net := newTestNet(t, 4)
	x := testInput(t, 1, 3, 3, 5)

	out, err := net.Forward(x)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	scores, err := net.Infer(x)
	if err != nil {
		t.Fatalf("infer failed: %v", err)
	}

	for i := range scores.Data {
		if scores.Data[i] != out.Main.Data[i] {
			t.Fatalf("infer and forward main head disagree at element %d: %f vs %f",
				i, scores.Data[i], out.Main.Data[i])
		}
	}
}

// weightedSum evaluates sum(g .* head) over the three heads. The network is
// linear in its parameters, so the central difference of this scalar is the
// exact directional derivative up to float rounding.
func weightedSum(t *testing.T, net *TwoBranchNet, x *tensor.Tensor, gMain, gAux1, gAux2 *tensor.Tensor) float64 {
	t.Helper()
	out, err := net.Forward(x)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	var sum float64
	for i := range gMain.Data {
		sum += float64(gMain.Data[i]) * float64(out.Main.Data[i])
		sum += float64(gAux1.Data[i]) * float64(out.Aux1.Data[i])
		sum += float64(gAux2.Data[i]) * float64(out.Aux2.Data[i])
	}
	return sum
}

func TestBackwardGradients(t *testing.T) {
	net := newTestNet(t, 2)
	x := testInput(t, 2, 3, 2, 3)

	mk := func(seedStep float32) *tensor.Tensor {
		g, _ := tensor.Zeros([]int{2, 2, 2, 3})
		for i := range g.Data {
			g.Data[i] = float32(i+1)*seedStep - 0.3
		}
		return g
	}
	gMain, gAux1, gAux2 := mk(0.05), mk(0.03), mk(0.07)

	if _, err := net.Forward(x); err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if err := net.Backward(gMain, gAux1, gAux2); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	const eps = 1e-2
	for pi, param := range net.Parameters() {
		for j := range param.Data {
			orig := param.Data[j]
			param.Data[j] = orig + eps
			plus := weightedSum(t, net, x, gMain, gAux1, gAux2)
			param.Data[j] = orig - eps
			minus := weightedSum(t, net, x, gMain, gAux1, gAux2)
			param.Data[j] = orig

			numeric := (plus - minus) / (2 * eps)
			analytic := float64(net.Gradients()[pi].Data[j])
			if math.Abs(numeric-analytic) > 5e-3*math.Max(1, math.Abs(analytic)) {
				t.Errorf("parameter %d element %d: analytic gradient %f, numeric %f",
					pi, j, analytic, numeric)
			}
		}
	}
}

func TestBackwardAccumulates(t *testing.T) {
	net := newTestNet(t, 2)
	x := testInput(t, 1, 3, 2, 2)
	g, _ := tensor.Zeros([]int{1, 2, 2, 2})
	for i := range g.Data {
		g.Data[i] = 0.5
	}

	if _, err := net.Forward(x); err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if err := net.Backward(g, g, g); err != nil {
		t.Fatalf("first backward failed: %v", err)
	}
	first := append([]float32(nil), net.Gradients()[0].Data...)

	if err := net.Backward(g, g, g); err != nil {
		t.Fatalf("second backward failed: %v", err)
	}
	for j, v := range net.Gradients()[0].Data {
		if math.Abs(float64(v-2*first[j])) > 1e-5 {
			t.Fatalf("gradient element %d = %f after two passes, want %f", j, v, 2*first[j])
		}
	}
}

func TestBackwardBeforeForwardFails(t *testing.T) {
	net := newTestNet(t, 2)
	g, _ := tensor.Zeros([]int{1, 2, 2, 2})
	if err := net.Backward(g, g, g); err == nil {
		t.Error("expected error for backward without a cached forward pass")
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	net := newTestNet(t, 3)
	snapshot := net.StateDict()

	if len(snapshot) != len(paramNames) {
		t.Fatalf("state dict has %d entries, want %d", len(snapshot), len(paramNames))
	}

	for _, p := range net.Parameters() {
		for j := range p.Data {
			p.Data[j] += 5.0
		}
	}
	if err := net.LoadStateDict(snapshot); err != nil {
		t.Fatalf("failed to load state dict: %v", err)
	}
	for i, p := range net.Parameters() {
		for j := range p.Data {
			if p.Data[j] != snapshot[i].Data[j] {
				t.Fatalf("parameter %s element %d not restored", snapshot[i].Name, j)
			}
		}
	}

	bad := snapshot
	bad[0].Name = "decoder.weight"
	if err := net.LoadStateDict(bad); err == nil {
		t.Error("expected error for unknown parameter name")
	}
}

// Training the linear network end to end with cross-entropy should reduce
// the loss on a fixed batch.
func TestLossDecreasesUnderTraining(t *testing.T) {
	net := newTestNet(t, 2)
	x := testInput(t, 1, 3, 2, 2)
	target, err := tensor.New([]int{1, 2, 2}, []float32{0, 1, 1, 0})
	if err != nil {
		t.Fatalf("failed to create target: %v", err)
	}

	lossFn, err := training.NewSegmentationLoss(training.LossCrossEntropy)
	if err != nil {
		t.Fatalf("failed to create loss: %v", err)
	}

	step := func() float32 {
		out, err := net.Forward(x)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		loss, grad, err := lossFn.Forward(out.Main, target)
		if err != nil {
			t.Fatalf("loss failed: %v", err)
		}
		zero, _ := tensor.Zeros(grad.Shape)
		for _, g := range net.Gradients() {
			g.Zero()
		}
		if err := net.Backward(grad, zero, zero); err != nil {
			t.Fatalf("backward failed: %v", err)
		}
		for i, p := range net.Parameters() {
			for j := range p.Data {
				p.Data[j] -= 0.5 * net.Gradients()[i].Data[j]
			}
		}
		return loss
	}

	first := step()
	var last float32
	for i := 0; i < 30; i++ {
		last = step()
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
}
