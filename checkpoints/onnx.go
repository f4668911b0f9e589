package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX wire schema field numbers (onnx.proto3, opset 13). Only the subset
// needed for a weights-interchange export is encoded here.
const (
	// ModelProto
	onnxModelIrVersion       = 1
	onnxModelProducerName    = 2
	onnxModelProducerVersion = 3
	onnxModelModelVersion    = 5
	onnxModelGraph           = 7
	onnxModelOpsetImport     = 8

	// OperatorSetIdProto
	onnxOpsetDomain  = 1
	onnxOpsetVersion = 2

	// GraphProto
	onnxGraphName        = 2
	onnxGraphInitializer = 5

	// TensorProto
	onnxTensorDims     = 1
	onnxTensorDataType = 2
	onnxTensorName     = 8
	onnxTensorRawData  = 9

	onnxDataTypeFloat = 1
	onnxIrVersion     = 7
	onnxOpset         = 13
)

// ONNXExporter serializes model weights as an ONNX ModelProto whose graph
// carries one named initializer per weight tensor. The export is
// weights-interchange only: no computation nodes are emitted.
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// ExportWeights writes the given weight tensors to path in ONNX format
func (oe *ONNXExporter) ExportWeights(weights []WeightTensor, path string) error {
	if len(weights) == 0 {
		return fmt.Errorf("no weights to export")
	}

	data, err := oe.marshalModel(weights)
	if err != nil {
		return fmt.Errorf("failed to marshal ONNX model: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ONNX file %s: %v", path, err)
	}

	return nil
}

func (oe *ONNXExporter) marshalModel(weights []WeightTensor) ([]byte, error) {
	var buf []byte

	buf = protowire.AppendTag(buf, onnxModelIrVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, onnxIrVersion)

	buf = protowire.AppendTag(buf, onnxModelProducerName, protowire.BytesType)
	buf = protowire.AppendString(buf, "project2-idda")
	buf = protowire.AppendTag(buf, onnxModelProducerVersion, protowire.BytesType)
	buf = protowire.AppendString(buf, "1.0.0")
	buf = protowire.AppendTag(buf, onnxModelModelVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 1)

	graph, err := oe.marshalGraph(weights)
	if err != nil {
		return nil, err
	}
	buf = protowire.AppendTag(buf, onnxModelGraph, protowire.BytesType)
	buf = protowire.AppendBytes(buf, graph)

	var opset []byte
	opset = protowire.AppendTag(opset, onnxOpsetDomain, protowire.BytesType)
	opset = protowire.AppendString(opset, "")
	opset = protowire.AppendTag(opset, onnxOpsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpset)
	buf = protowire.AppendTag(buf, onnxModelOpsetImport, protowire.BytesType)
	buf = protowire.AppendBytes(buf, opset)

	return buf, nil
}

func (oe *ONNXExporter) marshalGraph(weights []WeightTensor) ([]byte, error) {
	var buf []byte

	buf = protowire.AppendTag(buf, onnxGraphName, protowire.BytesType)
	buf = protowire.AppendString(buf, "segmentation-weights")

	for _, w := range weights {
		init, err := oe.marshalTensor(w)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, onnxGraphInitializer, protowire.BytesType)
		buf = protowire.AppendBytes(buf, init)
	}

	return buf, nil
}

func (oe *ONNXExporter) marshalTensor(w WeightTensor) ([]byte, error) {
	if n := numElements(w.Shape); len(w.Data) != n {
		return nil, fmt.Errorf("weight %q has %d values for shape %v", w.Name, len(w.Data), w.Shape)
	}

	var buf []byte

	for _, dim := range w.Shape {
		buf = protowire.AppendTag(buf, onnxTensorDims, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(dim))
	}

	buf = protowire.AppendTag(buf, onnxTensorDataType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, onnxDataTypeFloat)

	buf = protowire.AppendTag(buf, onnxTensorName, protowire.BytesType)
	buf = protowire.AppendString(buf, w.Name)

	raw := make([]byte, 4*len(w.Data))
	for i, v := range w.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	buf = protowire.AppendTag(buf, onnxTensorRawData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, raw)

	return buf, nil
}
