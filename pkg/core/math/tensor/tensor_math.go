package tensor

import (
	"fmt"

	"github.com/chewxy/math32"
)

// broadcastBinary applies f elementwise over the broadcast of a and b.
// Panics if the shapes cannot broadcast.
func broadcastBinary(a, b Dense, f func(x, y float32) float32) Dense {
	if a.shape.Equal(b.shape) {
		out := New(a.shape)
		for i := range out.data {
			out.data[i] = f(a.data[i], b.data[i])
		}
		return out
	}
	shape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		panic(err.Error())
	}
	out := New(shape)
	coord := make([]int, shape.Rank())
	for i := 0; i < out.Size(); i++ {
		out.data[i] = f(a.broadcastAt(coord, shape), b.broadcastAt(coord, shape))
		stepCoord(coord, shape)
	}
	return out
}

// broadcastAt reads the element of t addressed by coord in the broadcast
// shape, mapping size-1 axes of t onto index 0.
func (t Dense) broadcastAt(coord []int, shape Shape) float32 {
	off := 0
	strides := t.shape.Strides()
	lead := shape.Rank() - t.Rank()
	for d := 0; d < t.Rank(); d++ {
		ix := coord[lead+d]
		if t.shape[d] == 1 {
			ix = 0
		}
		off += ix * strides[d]
	}
	return t.data[off]
}

// stepCoord advances coord row-major within shape, wrapping at the end.
func stepCoord(coord []int, shape Shape) {
	for d := len(coord) - 1; d >= 0; d-- {
		coord[d]++
		if coord[d] < shape[d] {
			return
		}
		coord[d] = 0
	}
}

func boolToFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// Add computes a + b elementwise with broadcasting. Returns a new tensor.
func (t Dense) Add(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return x + y })
}

// Sub computes a - b elementwise with broadcasting. Returns a new tensor.
func (t Dense) Sub(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return x - y })
}

// Mul computes a * b elementwise with broadcasting. Returns a new tensor.
func (t Dense) Mul(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return x * y })
}

// Div computes a / b elementwise with broadcasting. Returns a new tensor.
func (t Dense) Div(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return x / y })
}

// Mod computes fmod(a, b) elementwise with broadcasting. Returns a new tensor.
func (t Dense) Mod(other Dense) Dense {
	return broadcastBinary(t, other, math32.Mod)
}

// Pow computes a^b elementwise with broadcasting. Returns a new tensor.
func (t Dense) Pow(other Dense) Dense {
	return broadcastBinary(t, other, math32.Pow)
}

// Minimum computes min(a, b) elementwise with broadcasting.
func (t Dense) Minimum(other Dense) Dense {
	return broadcastBinary(t, other, math32.Min)
}

// Maximum computes max(a, b) elementwise with broadcasting.
func (t Dense) Maximum(other Dense) Dense {
	return broadcastBinary(t, other, math32.Max)
}

// Comparison operations return 1.0 where the condition holds, 0.0 otherwise.

func (t Dense) Less(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x < y) })
}

func (t Dense) LessEqual(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x <= y) })
}

func (t Dense) Greater(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x > y) })
}

func (t Dense) GreaterEqual(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x >= y) })
}

func (t Dense) Equal(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x == y) })
}

func (t Dense) NotEqual(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x != y) })
}

// And computes logical conjunction: 1.0 where both operands are non-zero.
func (t Dense) And(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x != 0 && y != 0) })
}

// Or computes logical disjunction: 1.0 where either operand is non-zero.
func (t Dense) Or(other Dense) Dense {
	return broadcastBinary(t, other, func(x, y float32) float32 { return boolToFloat(x != 0 || y != 0) })
}

// Apply maps f over every element. Returns a new tensor.
func (t Dense) Apply(f func(float32) float32) Dense {
	out := New(t.shape)
	for i, v := range t.data {
		out.data[i] = f(v)
	}
	return out
}

// Neg computes elementwise negation.
func (t Dense) Neg() Dense {
	return t.Apply(func(x float32) float32 { return -x })
}

// Not computes logical negation: 1.0 where zero, 0.0 elsewhere.
func (t Dense) Not() Dense {
	return t.Apply(func(x float32) float32 { return boolToFloat(x == 0) })
}

func (t Dense) Abs() Dense  { return t.Apply(math32.Abs) }
func (t Dense) Sqrt() Dense { return t.Apply(math32.Sqrt) }
func (t Dense) Exp() Dense  { return t.Apply(math32.Exp) }
func (t Dense) Log() Dense  { return t.Apply(math32.Log) }
func (t Dense) Sin() Dense  { return t.Apply(math32.Sin) }
func (t Dense) Cos() Dense  { return t.Apply(math32.Cos) }
func (t Dense) Tan() Dense  { return t.Apply(math32.Tan) }
func (t Dense) Asin() Dense { return t.Apply(math32.Asin) }
func (t Dense) Acos() Dense { return t.Apply(math32.Acos) }
func (t Dense) Atan() Dense { return t.Apply(math32.Atan) }

// Sign computes elementwise sign (-1, 0, or 1).
func (t Dense) Sign() Dense {
	return t.Apply(func(x float32) float32 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0
	})
}

// Scale multiplies every element by s. Returns a new tensor.
func (t Dense) Scale(s float32) Dense {
	return t.Apply(func(x float32) float32 { return x * s })
}

// Sum reduces along the given dimensions, removing them. With no dimensions
// it sums all elements into a scalar.
func (t Dense) Sum(dims ...int) Dense {
	if len(dims) == 0 || t.Rank() == 0 {
		var acc float32
		for _, v := range t.data {
			acc += v
		}
		return Scalar(acc)
	}
	reduce := make(map[int]bool, len(dims))
	for _, d := range dims {
		if d < 0 || d >= t.Rank() {
			panic(fmt.Sprintf("tensor.Sum: dimension %d out of range for rank %d", d, t.Rank()))
		}
		reduce[d] = true
	}
	var outShape Shape
	for d, n := range t.shape {
		if !reduce[d] {
			outShape = append(outShape, n)
		}
	}
	out := New(outShape)
	coord := make([]int, t.Rank())
	outCoord := make([]int, 0, outShape.Rank())
	for i := 0; i < t.Size(); i++ {
		outCoord = outCoord[:0]
		for d, ix := range coord {
			if !reduce[d] {
				outCoord = append(outCoord, ix)
			}
		}
		if outShape.Rank() == 0 {
			out.data[0] += t.data[i]
		} else {
			out.data[out.offset(outCoord)] += t.data[i]
		}
		stepCoord(coord, t.shape)
	}
	return out
}

// Mean computes the mean over all elements.
func (t Dense) Mean() Dense {
	if t.Size() == 0 {
		return Scalar(0)
	}
	return Scalar(t.Sum().Item() / float32(t.Size()))
}
