package executor

import (
	"github.com/chewxy/math32"
	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/core/math/tensor"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// PoolingExecutor implements the +=, avg=, max=, min= projections: every
// source cell is folded into the target cell addressed by the per-axis
// divisors of the LHS index list.
type PoolingExecutor struct{}

func (x *PoolingExecutor) Name() string  { return "PoolingExecutor" }
func (x *PoolingExecutor) Priority() int { return 50 }

var poolingProjections = map[string]bool{"+=": true, "avg=": true, "max=": true, "min=": true}

func (x *PoolingExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if !poolingProjections[eq.Projection] {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	ref, ok := eq.Clauses[0].Expr.(*ast.RefExpr)
	return ok && e.Has(ref.Ref.Name.Name)
}

func (x *PoolingExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	ref := eq.Clauses[0].Expr.(*ast.RefExpr)
	srcT, err := e.Lookup(ref.Ref.Name.Name)
	if err != nil {
		return nil, err
	}
	src := srcT.Dense()

	// RHS index variable name -> source axis.
	rhsAxis := map[string]int{}
	for ax, ios := range ref.Ref.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Ident != nil {
			rhsAxis[idx.Ident.Name] = ax
		}
	}

	// LHS indices determine output shape: each source axis shrinks by its
	// divisor (ceiling).
	type mapItem struct {
		base    string
		divisor int
	}
	var lhsMap []mapItem
	var outShape tensor.Shape
	for _, ios := range eq.LHS.Indices {
		idx, ok := ios.(*ast.Index)
		if !ok {
			lhsMap = append(lhsMap, mapItem{divisor: 1})
			outShape = append(outShape, 1)
			continue
		}
		switch {
		case idx.Ident != nil:
			base, div := SplitPoolIndex(idx.Ident.Name)
			lhsMap = append(lhsMap, mapItem{base: base, divisor: div})
			size := 1
			if ax, ok := rhsAxis[base]; ok && ax < src.Rank() {
				in := src.Shape()[ax]
				if div <= 1 {
					size = in
				} else {
					size = (in + div - 1) / div
				}
			}
			outShape = append(outShape, size)
		default:
			// Numeric fixed index contributes extent 1.
			lhsMap = append(lhsMap, mapItem{divisor: 1})
			outShape = append(outShape, 1)
		}
	}

	// Projection identity elements: 0 for +=/avg=, -inf for max=, +inf for
	// min=, so the first update wins unconditionally.
	var out tensor.Dense
	switch eq.Projection {
	case "max=":
		out = tensor.Full(orUnit(outShape), math32.Inf(-1))
	case "min=":
		out = tensor.Full(orUnit(outShape), math32.Inf(1))
	default:
		out = tensor.Zeros(orUnit(outShape))
	}
	var counts tensor.Dense
	if eq.Projection == "avg=" {
		counts = tensor.ZerosLike(out)
	}

	apply := func(outIdx []int, v float32) {
		switch eq.Projection {
		case "+=":
			out.SetAt(out.At(outIdx...)+v, outIdx...)
		case "avg=":
			out.SetAt(out.At(outIdx...)+v, outIdx...)
			counts.SetAt(counts.At(outIdx...)+1, outIdx...)
		case "max=":
			out.SetAt(math32.Max(out.At(outIdx...), v), outIdx...)
		case "min=":
			out.SetAt(math32.Min(out.At(outIdx...), v), outIdx...)
		}
	}

	targetIdx := func(coord []int) []int {
		outIdx := make([]int, len(lhsMap))
		for li, mi := range lhsMap {
			if mi.base == "" {
				continue
			}
			if ax, ok := rhsAxis[mi.base]; ok && ax < len(coord) {
				v := coord[ax]
				if mi.divisor > 1 {
					v /= mi.divisor
				}
				outIdx[li] = v
			}
		}
		if len(outIdx) == 0 {
			return []int{0}
		}
		return outIdx
	}

	if src.Rank() == 0 {
		apply(targetIdx(nil), src.Item())
	} else {
		coord := make([]int, src.Rank())
		for n := 0; n < src.Size(); n++ {
			apply(targetIdx(coord), src.At(coord...))
			incrCoord(coord, src.Shape())
		}
	}

	if eq.Projection == "avg=" {
		data, cnt := out.Data(), counts.Data()
		for i := range data {
			data[i] /= math32.Max(1, cnt[i])
		}
	}
	if len(outShape) == 0 {
		// Scalar target: drop the unit placeholder axis.
		return be.FromFlat(nil, out.Data()[:1]), nil
	}
	return backend.FromDense(out), nil
}

// orUnit substitutes a single-cell shape for an empty one so accumulation has
// a place to land.
func orUnit(s tensor.Shape) tensor.Shape {
	if len(s) == 0 {
		return tensor.Shape{1}
	}
	return s
}
