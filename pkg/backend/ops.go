package backend

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/itohio/tensorlang/pkg/core/math/tensor"
)

// Scalar creates a constant scalar tensor.
func Scalar(v float32) *Tensor {
	return FromDense(tensor.Scalar(v))
}

// Zeros creates a zero tensor of the given shape.
func Zeros(shape ...int) *Tensor {
	return FromDense(tensor.Zeros(tensor.NewShape(shape...)))
}

// Full creates a constant-filled tensor of the given shape.
func Full(v float32, shape ...int) *Tensor {
	return FromDense(tensor.Full(tensor.NewShape(shape...), v))
}

// FromFlat creates a tensor from a flat buffer and shape.
func FromFlat(shape []int, data []float32) *Tensor {
	return FromDense(tensor.FromFloat32(tensor.NewShape(shape...), data))
}

// Add computes a + b with broadcasting.
func Add(a, b *Tensor) *Tensor {
	out := a.data.Add(b.data)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g)
		b.addGrad(g)
	}, a, b)
}

// Sub computes a - b with broadcasting.
func Sub(a, b *Tensor) *Tensor {
	out := a.data.Sub(b.data)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g)
		b.addGrad(g.Neg())
	}, a, b)
}

// Mul computes a * b elementwise with broadcasting.
func Mul(a, b *Tensor) *Tensor {
	out := a.data.Mul(b.data)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g.Mul(b.data))
		b.addGrad(g.Mul(a.data))
	}, a, b)
}

// Div computes a / b elementwise with broadcasting.
func Div(a, b *Tensor) *Tensor {
	out := a.data.Div(b.data)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g.Div(b.data))
		b.addGrad(g.Mul(a.data).Div(b.data.Mul(b.data)).Neg())
	}, a, b)
}

// Mod computes fmod(a, b). Gradient flows to a only.
func Mod(a, b *Tensor) *Tensor {
	out := a.data.Mod(b.data)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g)
	}, a, b)
}

// Pow computes a^b elementwise.
func Pow(a, b *Tensor) *Tensor {
	out := a.data.Pow(b.data)
	return newNode(out, func(g tensor.Dense) {
		one := tensor.Scalar(1)
		a.addGrad(g.Mul(b.data).Mul(a.data.Pow(b.data.Sub(one))))
		b.addGrad(g.Mul(out).Mul(a.data.Log()))
	}, a, b)
}

// Neg computes -a.
func Neg(a *Tensor) *Tensor {
	return newNode(a.data.Neg(), func(g tensor.Dense) {
		a.addGrad(g.Neg())
	}, a)
}

// Comparisons and logical connectives produce 0/1 tensors and cut the tape.

func Less(a, b *Tensor) *Tensor         { return FromDense(a.data.Less(b.data)) }
func LessEqual(a, b *Tensor) *Tensor    { return FromDense(a.data.LessEqual(b.data)) }
func Greater(a, b *Tensor) *Tensor      { return FromDense(a.data.Greater(b.data)) }
func GreaterEqual(a, b *Tensor) *Tensor { return FromDense(a.data.GreaterEqual(b.data)) }
func Equal(a, b *Tensor) *Tensor        { return FromDense(a.data.Equal(b.data)) }
func NotEqual(a, b *Tensor) *Tensor     { return FromDense(a.data.NotEqual(b.data)) }
func And(a, b *Tensor) *Tensor          { return FromDense(a.data.And(b.data)) }
func Or(a, b *Tensor) *Tensor           { return FromDense(a.data.Or(b.data)) }
func Not(a *Tensor) *Tensor             { return FromDense(a.data.Not()) }

// unaryOp applies f elementwise and records df(x, y) = dy/dx for the tape.
func unaryOp(a *Tensor, f func(tensor.Dense) tensor.Dense, df func(x, y float32) float32) *Tensor {
	out := f(a.data)
	return newNode(out, func(g tensor.Dense) {
		deriv := tensor.ZerosLike(a.data)
		xs, ys, ds := a.data.Data(), out.Data(), deriv.Data()
		for i := range ds {
			ds[i] = df(xs[i], ys[i])
		}
		a.addGrad(g.Mul(deriv))
	}, a)
}

// Unary dispatches the named pointwise function. Names follow the TL builtin
// set: relu, sigmoid, tanh, step, sqrt, abs, exp, sin, cos, tan, asin, acos,
// atan, log.
func Unary(name string, a *Tensor) (*Tensor, error) {
	switch name {
	case "relu":
		return unaryOp(a, tensor.Dense.ReLU, func(x, _ float32) float32 { return boolGrad(x > 0) }), nil
	case "sigmoid":
		return unaryOp(a, tensor.Dense.Sigmoid, func(_, y float32) float32 { return y * (1 - y) }), nil
	case "tanh":
		return unaryOp(a, tensor.Dense.Tanh, func(_, y float32) float32 { return 1 - y*y }), nil
	case "step":
		return FromDense(a.data.Step()), nil
	case "sqrt":
		return unaryOp(a, tensor.Dense.Sqrt, func(_, y float32) float32 { return 0.5 / y }), nil
	case "abs":
		return unaryOp(a, tensor.Dense.Abs, func(x, _ float32) float32 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			}
			return 0
		}), nil
	case "exp":
		return unaryOp(a, tensor.Dense.Exp, func(_, y float32) float32 { return y }), nil
	case "log":
		return unaryOp(a, tensor.Dense.Log, func(x, _ float32) float32 { return 1 / x }), nil
	case "sin":
		return unaryOp(a, tensor.Dense.Sin, func(x, _ float32) float32 { return math32.Cos(x) }), nil
	case "cos":
		return unaryOp(a, tensor.Dense.Cos, func(x, _ float32) float32 { return -math32.Sin(x) }), nil
	case "tan":
		return unaryOp(a, tensor.Dense.Tan, func(x, _ float32) float32 {
			c := math32.Cos(x)
			return 1 / (c * c)
		}), nil
	case "asin":
		return unaryOp(a, tensor.Dense.Asin, func(x, _ float32) float32 { return 1 / math32.Sqrt(1-x*x) }), nil
	case "acos":
		return unaryOp(a, tensor.Dense.Acos, func(x, _ float32) float32 { return -1 / math32.Sqrt(1-x*x) }), nil
	case "atan":
		return unaryOp(a, tensor.Dense.Atan, func(x, _ float32) float32 { return 1 / (1 + x*x) }), nil
	}
	return nil, fmt.Errorf("backend: unsupported function %q", name)
}

func boolGrad(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// Softmax normalizes along dim.
func Softmax(a *Tensor, dim int) *Tensor {
	out := a.data.Softmax(dim)
	return newNode(out, func(g tensor.Dense) {
		// ds = s * (g - sum(g*s, dim))
		gs := g.Mul(out)
		inner := gs.Sum(dim).Unsqueeze(dim)
		a.addGrad(out.Mul(g.Sub(inner)))
	}, a)
}

// Sum reduces all elements to a scalar.
func Sum(a *Tensor) *Tensor {
	out := a.data.Sum()
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(tensor.Full(a.data.Shape(), g.Item()))
	}, a)
}

// Reshape returns the same data in a new shape.
func Reshape(a *Tensor, shape tensor.Shape) *Tensor {
	prev := a.data.Shape().Clone()
	out := a.data.Clone().Reshape(shape)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g.Reshape(prev))
	}, a)
}

// Unsqueeze inserts a size-1 axis at dim.
func Unsqueeze(a *Tensor, dim int) *Tensor {
	prev := a.data.Shape().Clone()
	out := a.data.Clone().Unsqueeze(dim)
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g.Reshape(prev))
	}, a)
}

// BroadcastTo broadcasts a to the target shape.
func BroadcastTo(a *Tensor, shape tensor.Shape) (*Tensor, error) {
	out, err := a.data.BroadcastTo(shape)
	if err != nil {
		return nil, err
	}
	return newNode(out, func(g tensor.Dense) {
		a.addGrad(g)
	}, a), nil
}

// Select picks index i along dim, dropping the dimension.
func Select(a *Tensor, dim, i int) *Tensor {
	out := a.data.Select(dim, i)
	return newNode(out, func(g tensor.Dense) {
		full := tensor.ZerosLike(a.data)
		scatterSelect(full, dim, i, g)
		a.addGrad(full)
	}, a)
}

// scatterSelect adds g into dst at index i along dim.
func scatterSelect(dst tensor.Dense, dim, i int, g tensor.Dense) {
	shape := dst.Shape()
	coord := make([]int, shape.Rank())
	coord[dim] = i
	gCoord := make([]int, g.Rank())
	for n := 0; n < g.Size(); n++ {
		k := 0
		for d := 0; d < shape.Rank(); d++ {
			if d == dim {
				continue
			}
			coord[d] = gCoord[k]
			k++
		}
		dst.SetAt(dst.At(coord...)+g.At(gCoord...), coord...)
		if len(gCoord) > 0 {
			stepGradCoord(gCoord, g.Shape())
		}
	}
}

func stepGradCoord(coord []int, shape tensor.Shape) {
	for d := len(coord) - 1; d >= 0; d-- {
		coord[d]++
		if coord[d] < shape[d] {
			return
		}
		coord[d] = 0
	}
}

// SliceRange keeps [start, end) with the given step along dim.
func SliceRange(a *Tensor, dim, start, end, step int) *Tensor {
	out := a.data.SliceDim(dim, start, end, step)
	return newNode(out, func(g tensor.Dense) {
		full := tensor.ZerosLike(a.data)
		coord := make([]int, full.Rank())
		gCoord := make([]int, g.Rank())
		for n := 0; n < g.Size(); n++ {
			copy(coord, gCoord)
			coord[dim] = start + gCoord[dim]*step
			full.SetAt(full.At(coord...)+g.At(gCoord...), coord...)
			stepGradCoord(gCoord, g.Shape())
		}
		a.addGrad(full)
	}, a)
}

// IndexPut returns a copy of a with the cell at coords replaced by the scalar
// v. Gradients flow around the overwritten cell into a, and through the cell
// into v.
func IndexPut(a *Tensor, coords []int, v *Tensor) *Tensor {
	out := a.data.Clone()
	out.SetAt(v.data.Item(), coords...)
	cell := append([]int(nil), coords...)
	return newNode(out, func(g tensor.Dense) {
		masked := g.Clone()
		masked.SetAt(0, cell...)
		a.addGrad(masked)
		v.addGrad(tensor.Scalar(g.At(cell...)))
	}, a, v)
}

// Einsum evaluates an Einstein-summation contraction with gradient support.
func Einsum(spec string, operands ...*Tensor) (*Tensor, error) {
	dense := make([]tensor.Dense, len(operands))
	for i, op := range operands {
		dense[i] = op.data
	}
	out, err := tensor.Einsum(spec, dense...)
	if err != nil {
		return nil, err
	}

	anyGrad := false
	for _, op := range operands {
		if op.requires {
			anyGrad = true
			break
		}
	}
	if !anyGrad {
		return FromDense(out), nil
	}

	inputs, output, dims, perr := einsumParts(spec, dense)
	if perr != nil {
		return nil, perr
	}
	return newNode(out, func(g tensor.Dense) {
		for k, op := range operands {
			if !op.requires {
				continue
			}
			gradSpec := output
			gradOps := []tensor.Dense{g}
			for j, other := range dense {
				if j == k {
					continue
				}
				gradSpec += "," + inputs[j]
				gradOps = append(gradOps, other)
			}
			gradSpec += "->" + inputs[k]
			gk, gerr := tensor.EinsumDims(gradSpec, dims, gradOps...)
			if gerr != nil {
				panic(fmt.Sprintf("backend: einsum gradient failed: %v", gerr))
			}
			op.addGrad(gk)
		}
	}, operands...), nil
}

// einsumParts reparses a spec into input/output label strings plus the label
// extents observed on the operands.
func einsumParts(spec string, operands []tensor.Dense) ([]string, string, map[byte]int, error) {
	clean := ""
	for _, r := range spec {
		if r != ' ' {
			clean += string(r)
		}
	}
	arrow := -1
	for i := 0; i+1 < len(clean); i++ {
		if clean[i] == '-' && clean[i+1] == '>' {
			arrow = i
			break
		}
	}
	if arrow < 0 {
		return nil, "", nil, fmt.Errorf("backend: einsum gradient requires an explicit output in spec %q", spec)
	}
	output := clean[arrow+2:]
	var inputs []string
	cur := ""
	for i := 0; i < arrow; i++ {
		if clean[i] == ',' {
			inputs = append(inputs, cur)
			cur = ""
			continue
		}
		cur += string(clean[i])
	}
	inputs = append(inputs, cur)
	if len(inputs) != len(operands) {
		return nil, "", nil, fmt.Errorf("backend: einsum spec %q expects %d operands, got %d", spec, len(inputs), len(operands))
	}
	dims := map[byte]int{}
	for k, in := range inputs {
		for i := 0; i < len(in) && i < operands[k].Rank(); i++ {
			dims[in[i]] = operands[k].Shape()[i]
		}
	}
	return inputs, output, dims, nil
}
