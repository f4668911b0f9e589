package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/MatteoM95/Project2-IDDA/checkpoints"
	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// vec wraps a flat float32 slice as a unit-stride blas32 vector.
func vec(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

// snapshotStateTensors copies a set of optimizer state buffers into
// serializable tensors, named "<stateType>_<index>".
func snapshotStateTensors(stateType string, buffers []*tensor.Tensor) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(buffers))
	for i, buf := range buffers {
		data := make([]float32, len(buf.Data))
		copy(data, buf.Data)
		out = append(out, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", stateType, i),
			Shape:     append([]int{}, buf.Shape...),
			Data:      data,
			StateType: stateType,
		})
	}
	return out
}

// restoreStateTensors copies serialized state tensors of the given type back
// into the live buffers, validating indices and shapes.
func restoreStateTensors(stateType string, stateData []checkpoints.OptimizerTensor, buffers []*tensor.Tensor) error {
	found := 0
	for _, st := range stateData {
		if st.StateType != stateType {
			continue
		}

		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("state tensor %q has invalid buffer index", st.Name)
		}

		buf := buffers[idx]
		if len(st.Shape) != len(buf.Shape) {
			return fmt.Errorf("state tensor %q shape %v does not match buffer shape %v", st.Name, st.Shape, buf.Shape)
		}
		for d, dim := range buf.Shape {
			if st.Shape[d] != dim {
				return fmt.Errorf("state tensor %q shape %v does not match buffer shape %v", st.Name, st.Shape, buf.Shape)
			}
		}
		if len(st.Data) != len(buf.Data) {
			return fmt.Errorf("state tensor %q has %d values for shape %v", st.Name, len(st.Data), st.Shape)
		}

		copy(buf.Data, st.Data)
		found++
	}

	if found != len(buffers) {
		return fmt.Errorf("state restore incomplete: %d of %d %s tensors found", found, len(buffers), stateType)
	}
	return nil
}

// paramFloat reads a numeric hyperparameter from a deserialized parameter map.
// JSON decoding turns every number into float64.
func paramFloat(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
