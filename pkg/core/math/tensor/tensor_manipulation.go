package tensor

import "fmt"

// Reshape returns a tensor with the same data and a new shape.
// Panics if the element counts differ.
func (t Dense) Reshape(shape Shape) Dense {
	if shape.Size() != t.Size() {
		panic(fmt.Sprintf("tensor.Reshape: cannot reshape %v to %v", t.shape, shape))
	}
	return Dense{shape: shape.Clone(), data: t.data}
}

// Unsqueeze inserts a size-1 axis at dim.
func (t Dense) Unsqueeze(dim int) Dense {
	if dim < 0 || dim > t.Rank() {
		panic(fmt.Sprintf("tensor.Unsqueeze: dimension %d out of range for rank %d", dim, t.Rank()))
	}
	shape := make(Shape, 0, t.Rank()+1)
	shape = append(shape, t.shape[:dim]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[dim:]...)
	return Dense{shape: shape, data: t.data}
}

// Squeeze removes all size-1 axes.
func (t Dense) Squeeze() Dense {
	var shape Shape
	for _, d := range t.shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	return Dense{shape: shape, data: t.data}
}

// BroadcastTo broadcasts the tensor to the target shape.
func (t Dense) BroadcastTo(shape Shape) (Dense, error) {
	if t.shape.Equal(shape) {
		return t.Clone(), nil
	}
	joined, err := BroadcastShapes(t.shape, shape)
	if err != nil || !joined.Equal(shape) {
		return Dense{}, fmt.Errorf("tensor: cannot broadcast %v to %v", t.shape, shape)
	}
	out := New(shape)
	coord := make([]int, shape.Rank())
	for i := range out.data {
		out.data[i] = t.broadcastAt(coord, shape)
		stepCoord(coord, shape)
	}
	return out, nil
}

// Select picks index i along dim, dropping the dimension.
func (t Dense) Select(dim, i int) Dense {
	if dim < 0 || dim >= t.Rank() {
		panic(fmt.Sprintf("tensor.Select: dimension %d out of range for rank %d", dim, t.Rank()))
	}
	if i < 0 || i >= t.shape[dim] {
		panic(fmt.Sprintf("tensor.Select: index %d out of range for axis %d of extent %d", i, dim, t.shape[dim]))
	}
	outShape := make(Shape, 0, t.Rank()-1)
	outShape = append(outShape, t.shape[:dim]...)
	outShape = append(outShape, t.shape[dim+1:]...)
	out := New(outShape)
	strides := t.shape.Strides()
	coord := make([]int, outShape.Rank())
	for j := range out.data {
		off := i * strides[dim]
		for d, ix := range coord {
			src := d
			if d >= dim {
				src = d + 1
			}
			off += ix * strides[src]
		}
		out.data[j] = t.data[off]
		if len(coord) > 0 {
			stepCoord(coord, outShape)
		}
	}
	return out
}

// SliceDim keeps positions start, start+step, ... along dim, stopping before
// end. The dimension is kept with its new extent. Bounds must be pre-resolved:
// start is a valid position, and with a negative step end may be -1 so the
// walk reaches index 0.
func (t Dense) SliceDim(dim, start, end, step int) Dense {
	if dim < 0 || dim >= t.Rank() {
		panic(fmt.Sprintf("tensor.SliceDim: dimension %d out of range for rank %d", dim, t.Rank()))
	}
	if step == 0 {
		panic("tensor.SliceDim: step must be non-zero")
	}
	var picks []int
	if step > 0 {
		for i := start; i < end; i += step {
			picks = append(picks, i)
		}
	} else {
		for i := start; i > end; i += step {
			picks = append(picks, i)
		}
	}
	outShape := t.shape.Clone()
	outShape[dim] = len(picks)
	out := New(outShape)
	strides := t.shape.Strides()
	coord := make([]int, outShape.Rank())
	for j := range out.data {
		off := 0
		for d, ix := range coord {
			if d == dim {
				off += picks[ix] * strides[d]
			} else {
				off += ix * strides[d]
			}
		}
		out.data[j] = t.data[off]
		stepCoord(coord, outShape)
	}
	return out
}
