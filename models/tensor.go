package models

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Network input geometry for the 640x640 YOLO exports.
const (
	InputChannels = 3
	InputWidth    = 640
	InputHeight   = 640

	// BoxAttributes is the number of leading box columns (cx, cy, w, h)
	// in every raw output row.
	BoxAttributes = 4
)

// InputTensor is the normalized (1, 3, 640, 640) network input together
// with the size of the image it was built from.
type InputTensor struct {
	Tensor    *tensor.Dense
	RawWidth  int
	RawHeight int
}

// NewInputTensor wraps data, which must hold exactly 3*640*640 values laid
// out as (channel, row, column).
func NewInputTensor(data []float32, rawWidth, rawHeight int) (*InputTensor, error) {
	if len(data) != InputTensorSize() {
		return nil, errors.Errorf("input tensor needs %d values, got %d", InputTensorSize(), len(data))
	}
	return &InputTensor{
		Tensor:    tensor.New(tensor.WithShape(1, InputChannels, InputHeight, InputWidth), tensor.WithBacking(data)),
		RawWidth:  rawWidth,
		RawHeight: rawHeight,
	}, nil
}

func InputTensorSize() int {
	return InputChannels * InputHeight * InputWidth
}

// Shape returns the logical tensor shape.
func (t *InputTensor) Shape() []int {
	return []int(t.Tensor.Shape())
}

// Data returns the backing slice. Callers only borrow it and must not
// modify it.
func (t *InputTensor) Data() []float32 {
	return t.Tensor.Data().([]float32)
}

// At returns the value at (0, channel, y, x). It panics on coordinates
// outside the tensor.
func (t *InputTensor) At(channel, y, x int) float32 {
	v, err := t.Tensor.At(0, channel, y, x)
	if err != nil {
		panic(err)
	}
	return v.(float32)
}

// RawOutput is the decoded view of the engine output: one row per
// candidate, each row holding the box attributes followed by one score per
// class.
type RawOutput struct {
	rows       int
	attributes int
	data       []float32
}

// NewRawOutput wraps a row-major (rows, attributes) matrix.
func NewRawOutput(rows, attributes int, data []float32) (*RawOutput, error) {
	if rows < 0 || attributes < 0 {
		return nil, errors.Errorf("invalid raw output shape (%d, %d)", rows, attributes)
	}
	if len(data) != rows*attributes {
		return nil, errors.Errorf("raw output shape (%d, %d) needs %d values, got %d",
			rows, attributes, rows*attributes, len(data))
	}
	return &RawOutput{rows: rows, attributes: attributes, data: data}, nil
}

// NewRawOutputFromRows builds a RawOutput from literal rows, all of which
// must have the same length.
func NewRawOutputFromRows(attributes int, rows ...[]float32) (*RawOutput, error) {
	data := make([]float32, 0, len(rows)*attributes)
	for i, row := range rows {
		if len(row) != attributes {
			return nil, errors.Errorf("row %d has %d attributes, want %d", i, len(row), attributes)
		}
		data = append(data, row...)
	}
	return NewRawOutput(len(rows), attributes, data)
}

func (r *RawOutput) Rows() int {
	return r.rows
}

func (r *RawOutput) Attributes() int {
	return r.attributes
}

// Classes is the number of class score columns.
func (r *RawOutput) Classes() int {
	if r.attributes < BoxAttributes {
		return 0
	}
	return r.attributes - BoxAttributes
}

// Row returns row i without copying.
func (r *RawOutput) Row(i int) []float32 {
	return r.data[i*r.attributes : (i+1)*r.attributes]
}
