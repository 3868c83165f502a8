package tensor

import "github.com/chewxy/math32"

// ReLU applies max(0, x) elementwise.
func (t Dense) ReLU() Dense {
	return t.Apply(func(x float32) float32 { return math32.Max(0, x) })
}

// Sigmoid applies 1 / (1 + exp(-x)) elementwise.
func (t Dense) Sigmoid() Dense {
	return t.Apply(func(x float32) float32 { return 1 / (1 + math32.Exp(-x)) })
}

// Tanh applies the hyperbolic tangent elementwise.
func (t Dense) Tanh() Dense {
	return t.Apply(math32.Tanh)
}

// Step applies the Heaviside step: 1.0 where x > 0, 0.0 elsewhere.
func (t Dense) Step() Dense {
	return t.Apply(func(x float32) float32 { return boolToFloat(x > 0) })
}

// Softmax normalizes along dimension dim so the slice sums to one.
// Numerically stabilized by subtracting the per-slice maximum.
// Panics if dim is out of range.
func (t Dense) Softmax(dim int) Dense {
	if t.Rank() == 0 {
		return Scalar(1)
	}
	if dim < 0 || dim >= t.Rank() {
		panic("tensor.Softmax: dimension out of range")
	}
	out := t.Clone()
	strides := t.shape.Strides()
	n := t.shape[dim]
	stride := strides[dim]

	// Iterate over every slice along dim.
	outer := t.Size() / n
	coord := make([]int, t.Rank())
	for s := 0; s < outer; s++ {
		// Base offset of the s-th slice: enumerate coordinates with dim fixed
		// at zero.
		base := 0
		for d, ix := range coord {
			base += ix * strides[d]
		}

		maxV := math32.Inf(-1)
		for i := 0; i < n; i++ {
			if v := out.data[base+i*stride]; v > maxV {
				maxV = v
			}
		}
		var sum float32
		for i := 0; i < n; i++ {
			e := math32.Exp(out.data[base+i*stride] - maxV)
			out.data[base+i*stride] = e
			sum += e
		}
		for i := 0; i < n; i++ {
			out.data[base+i*stride] /= sum
		}

		// Advance to the next slice, skipping dim.
		for d := t.Rank() - 1; d >= 0; d-- {
			if d == dim {
				continue
			}
			coord[d]++
			if coord[d] < t.shape[d] {
				break
			}
			coord[d] = 0
		}
	}
	return out
}
