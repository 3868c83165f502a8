// Package tensor implements a dense FP32 multi-dimensional array with
// eager execution semantics: every operation returns a new tensor.
package tensor

import "fmt"

// Dense is a row-major FP32 tensor. A rank-0 Dense with a single element is a
// scalar. The zero value is an empty tensor.
type Dense struct {
	shape Shape
	data  []float32
}

// New creates a zero-initialized tensor of the given shape.
func New(shape Shape) Dense {
	return Dense{shape: shape.Clone(), data: make([]float32, shape.Size())}
}

// FromFloat32 constructs a tensor from an existing backing slice.
// The slice is used directly (no copy).
func FromFloat32(shape Shape, data []float32) Dense {
	if len(data) != shape.Size() {
		panic(fmt.Sprintf("tensor.FromFloat32: data length %d does not match shape size %d", len(data), shape.Size()))
	}
	return Dense{shape: shape.Clone(), data: data}
}

// Scalar creates a rank-0 tensor holding v.
func Scalar(v float32) Dense {
	return Dense{shape: Shape{}, data: []float32{v}}
}

// Zeros creates a zero-filled tensor of the given shape.
func Zeros(shape Shape) Dense {
	return New(shape)
}

// Ones creates a one-filled tensor of the given shape.
func Ones(shape Shape) Dense {
	return Full(shape, 1)
}

// Full creates a tensor of the given shape filled with v.
func Full(shape Shape, v float32) Dense {
	t := New(shape)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// ZerosLike creates a zero-filled tensor with the same shape as t.
func ZerosLike(t Dense) Dense {
	return New(t.shape)
}

// OnesLike creates a one-filled tensor with the same shape as t.
func OnesLike(t Dense) Dense {
	return Full(t.shape, 1)
}

// Empty reports whether the tensor has no backing data.
func (t Dense) Empty() bool {
	return t.data == nil
}

// Shape returns the tensor's shape. The returned slice must not be mutated.
func (t Dense) Shape() Shape {
	return t.shape
}

// Rank returns the number of dimensions.
func (t Dense) Rank() int {
	return t.shape.Rank()
}

// Size returns the total number of elements.
func (t Dense) Size() int {
	return len(t.data)
}

// Data returns the underlying storage. Direct access bypasses the tensor
// abstraction; mutations alias the tensor.
func (t Dense) Data() []float32 {
	return t.data
}

// Clone creates a deep copy.
func (t Dense) Clone() Dense {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return Dense{shape: t.shape.Clone(), data: data}
}

// At returns the element at the given multi-dimensional indices. A single
// index on a higher-rank tensor addresses the flat storage directly.
func (t Dense) At(indices ...int) float32 {
	return t.data[t.offset(indices)]
}

// SetAt sets the element at the given multi-dimensional indices.
func (t Dense) SetAt(v float32, indices ...int) {
	t.data[t.offset(indices)] = v
}

func (t Dense) offset(indices []int) int {
	if len(indices) == 1 && t.Rank() != 1 {
		return indices[0]
	}
	if len(indices) != t.Rank() {
		panic(fmt.Sprintf("tensor: got %d indices for rank %d", len(indices), t.Rank()))
	}
	off := 0
	strides := t.shape.Strides()
	for d, ix := range indices {
		if ix < 0 || ix >= t.shape[d] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of extent %d", ix, d, t.shape[d]))
		}
		off += ix * strides[d]
	}
	return off
}

// Item returns the single element of a scalar or one-element tensor.
func (t Dense) Item() float32 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("tensor.Item: tensor has %d elements", len(t.data)))
	}
	return t.data[0]
}

// IsScalar reports whether the tensor is rank 0.
func (t Dense) IsScalar() bool {
	return t.Rank() == 0
}
