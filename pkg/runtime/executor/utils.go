package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/core/math/tensor"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// DefaultExtent is the axis length assumed for tensors referenced only by
// symbolic indices. Set once at boot.
var DefaultExtent = 3

// TryParseNumericLiteral extracts a plain numeric RHS, unwrapping parentheses
// and a single leading minus.
func TryParseNumericLiteral(e ast.Expr) (float64, bool) {
	neg := false
	for {
		switch n := e.(type) {
		case *ast.NumberExpr:
			v, err := n.Lit.Value()
			if err != nil {
				return 0, false
			}
			if neg {
				v = -v
			}
			return v, true
		case *ast.ParenExpr:
			e = n.Inner
		case *ast.UnaryExpr:
			if n.Op != ast.OpNeg {
				return 0, false
			}
			neg = !neg
			e = n.Operand
		default:
			return 0, false
		}
	}
}

// TryGatherNumericIndices resolves every index of ref to a concrete position
// using numeric literals or already-interned labels. Fails on slices, virtual
// indices, negative positions, and unknown labels.
func TryGatherNumericIndices(ref ast.TensorRef, e *env.Environment) ([]int, bool) {
	out := make([]int, 0, len(ref.Indices))
	for _, ios := range ref.Indices {
		idx, ok := ios.(*ast.Index)
		if !ok {
			return nil, false
		}
		switch {
		case idx.Number != nil:
			v, err := idx.Number.Int()
			if err != nil || v < 0 {
				return nil, false
			}
			out = append(out, v)
		case idx.Ident != nil:
			pos, ok := e.LabelIndex(idx.Ident.Name)
			if !ok {
				return nil, false
			}
			out = append(out, pos)
		default:
			return nil, false
		}
	}
	return out, true
}

// ResolveIndicesCreatingLabels resolves indices like TryGatherNumericIndices,
// interning unseen uppercase labels on first use.
func ResolveIndicesCreatingLabels(ref ast.TensorRef, e *env.Environment) ([]int, bool) {
	out := make([]int, 0, len(ref.Indices))
	for _, ios := range ref.Indices {
		idx, ok := ios.(*ast.Index)
		if !ok {
			return nil, false
		}
		switch {
		case idx.Number != nil:
			v, err := idx.Number.Int()
			if err != nil || v < 0 {
				return nil, false
			}
			out = append(out, v)
		case idx.Ident != nil && idx.Ident.IsUpper():
			out = append(out, e.InternLabel(idx.Ident.Name))
		default:
			return nil, false
		}
	}
	return out, true
}

// EnsureTensorSize returns the tensor bound to name grown so that every axis
// holds at least index+1 cells. New cells are zero; old data is preserved.
// A missing tensor is created.
func EnsureTensorSize(name string, indices []int, e *env.Environment) *backend.Tensor {
	required := make(tensor.Shape, len(indices))
	for i, ix := range indices {
		required[i] = ix + 1
	}

	current, err := e.Lookup(name)
	if err != nil {
		return backend.FromDense(tensor.Zeros(required))
	}

	shape := current.Shape().Clone()
	resize := false
	for i, want := range required {
		if i >= len(shape) {
			shape = append(shape, want)
			resize = true
		} else if shape[i] < want {
			shape[i] = want
			resize = true
		}
	}
	if !resize {
		return current
	}

	grown := tensor.Zeros(shape)
	copyInto(grown, current.Dense())
	return backend.FromDense(grown)
}

// copyInto copies src into the leading corner of dst.
func copyInto(dst, src tensor.Dense) {
	if src.Size() == 0 {
		return
	}
	if src.Rank() == 0 {
		coords := make([]int, dst.Rank())
		dst.SetAt(src.Item(), coords...)
		return
	}
	coord := make([]int, src.Rank())
	dstCoord := make([]int, dst.Rank())
	for n := 0; n < src.Size(); n++ {
		for i := range dstCoord {
			dstCoord[i] = 0
		}
		copy(dstCoord, coord)
		dst.SetAt(src.At(coord...), dstCoord...)
		incrCoord(coord, src.Shape())
	}
}

func incrCoord(coord []int, shape tensor.Shape) {
	for d := len(coord) - 1; d >= 0; d-- {
		coord[d]++
		if coord[d] < shape[d] {
			return
		}
		coord[d] = 0
	}
}

// AsRefExpr unwraps parentheses down to a tensor reference, or nil.
func AsRefExpr(e ast.Expr) *ast.RefExpr {
	for {
		switch n := e.(type) {
		case *ast.RefExpr:
			return n
		case *ast.ParenExpr:
			e = n.Inner
		default:
			return nil
		}
	}
}

// ParseEinsumCall recognises einsum("spec", A, B, ...) with existing tensors.
func ParseEinsumCall(e ast.Expr, en *env.Environment) (string, []*backend.Tensor, bool, error) {
	call, ok := e.(*ast.CallExpr)
	if !ok || call.Func.Name != "einsum" || len(call.Args) == 0 {
		return "", nil, false, nil
	}
	specNode, ok := call.Args[0].(*ast.StringExpr)
	if !ok {
		return "", nil, false, nil
	}
	var inputs []*backend.Tensor
	for _, arg := range call.Args[1:] {
		ref, ok := arg.(*ast.RefExpr)
		if !ok {
			return "", nil, false, nil
		}
		t, err := en.Lookup(ref.Ref.Name.Name)
		if err != nil {
			return "", nil, true, fmt.Errorf("einsum uses unknown tensor: %s", ref.Ref.Name.Name)
		}
		inputs = append(inputs, t)
	}
	return specNode.Lit.Text, inputs, true, nil
}

// resolveSliceBounds turns an optional start/end/step triple into concrete
// bounds over an axis of length n, with Python half-open semantics and
// negative bound support.
func resolveSliceBounds(n int, s *ast.Slice) (start, end, step int, err error) {
	step = 1
	if s.Step != nil {
		step, err = s.Step.Int()
		if err != nil || step == 0 {
			return 0, 0, 0, fmt.Errorf("invalid slice step")
		}
	}
	norm := func(v int) int {
		if v < 0 {
			v += n
		}
		return v
	}
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	if step > 0 {
		start, end = 0, n
		if s.Start != nil {
			v, err := s.Start.Int()
			if err != nil {
				return 0, 0, 0, err
			}
			start = clamp(norm(v), 0, n)
		}
		if s.End != nil {
			v, err := s.End.Int()
			if err != nil {
				return 0, 0, 0, err
			}
			end = clamp(norm(v), 0, n)
		}
	} else {
		start, end = n-1, -1
		if s.Start != nil {
			v, err := s.Start.Int()
			if err != nil {
				return 0, 0, 0, err
			}
			start = clamp(norm(v), -1, n-1)
		}
		if s.End != nil {
			v, err := s.End.Int()
			if err != nil {
				return 0, 0, 0, err
			}
			end = clamp(norm(v), -1, n-1)
		}
	}
	return start, end, step, nil
}

// ValueForRef materializes a tensor reference: numeric indices become
// selections, named indices full slices, and slice ranges true slices. The
// base is unsqueezed until its rank covers the index list.
func ValueForRef(ref ast.TensorRef, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	base, err := e.LookupRef(ref)
	if err != nil {
		return nil, err
	}
	for base.Rank() < len(ref.Indices) {
		base = be.Reshape(base, append(tensor.Shape{1}, base.Shape()...))
	}
	if len(ref.Indices) == 0 {
		return base, nil
	}
	cur := base
	dim := 0
	for _, ios := range ref.Indices {
		switch n := ios.(type) {
		case *ast.Index:
			switch {
			case n.Number != nil:
				v, err := n.Number.Int()
				if err != nil {
					return nil, fmt.Errorf("invalid numeric index %q", n.Number.Text)
				}
				if v < 0 || v >= cur.Shape()[dim] {
					return nil, fmt.Errorf("index %d out of range for axis of extent %d", v, cur.Shape()[dim])
				}
				cur = be.Select(cur, dim, v)
			case n.Virtual != nil:
				return nil, fmt.Errorf("unexpected virtual index on %s", ref.Name.Name)
			default:
				dim++
			}
		case *ast.Slice:
			start, end, step, err := resolveSliceBounds(cur.Shape()[dim], n)
			if err != nil {
				return nil, err
			}
			cur = be.SliceRange(cur, dim, start, end, step)
			dim++
		}
	}
	return cur, nil
}

// SplitPoolIndex parses the composite "name/divisor" pooling index form.
func SplitPoolIndex(name string) (string, int) {
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return name, 1
	}
	div, err := strconv.Atoi(name[i+1:])
	if err != nil || div <= 0 {
		div = 1
	}
	return name[:i], div
}

// collectIndexNames returns the names of ref's named indices in order; a
// composite pooling index is returned as written (e.g. "i/2").
func collectIndexNames(ref ast.TensorRef) []string {
	var names []string
	for _, ios := range ref.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Ident != nil {
			names = append(names, idx.Ident.Name)
		}
	}
	return names
}

const einsumLabelPool = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// LowerIndexedProduct rewrites a multiplication of two (possibly numerically
// sliced) tensor references into an einsum spec plus materialized operands.
// Missing operand tensors get placeholders shaped from their free indices and
// the default extent, enabling programs with symbolic sizes.
func LowerIndexedProduct(lhs ast.TensorRef, rhs ast.Expr, e *env.Environment, be backend.Backend) (string, []*backend.Tensor, bool, error) {
	bin, ok := rhs.(*ast.BinaryExpr)
	if !ok || bin.Op != ast.OpMul {
		return "", nil, false, nil
	}
	leftRef := AsRefExpr(bin.LHS)
	rightRef := AsRefExpr(bin.RHS)
	if leftRef == nil || rightRef == nil {
		return "", nil, false, nil
	}

	leftNames := collectIndexNames(leftRef.Ref)
	rightNames := collectIndexNames(rightRef.Ref)
	outNames := collectIndexNames(lhs)

	labelMap := map[string]byte{}
	next := 0
	mapSeq := func(seq []string) (string, bool) {
		var b strings.Builder
		for _, nm := range seq {
			c, ok := labelMap[nm]
			if !ok {
				if next >= len(einsumLabelPool) {
					return "", false
				}
				c = einsumLabelPool[next]
				next++
				labelMap[nm] = c
			}
			b.WriteByte(c)
		}
		return b.String(), true
	}

	a, okA := mapSeq(leftNames)
	b, okB := mapSeq(rightNames)
	out, okOut := mapSeq(outNames)
	if !okA || !okB || !okOut || a == "" || b == "" {
		return "", nil, false, nil
	}
	// Every output index must appear in some input, or the spec is invalid.
	for i := 0; i < len(out); i++ {
		if !strings.ContainsRune(a, rune(out[i])) && !strings.ContainsRune(b, rune(out[i])) {
			return "", nil, false, nil
		}
	}
	spec := a + "," + b + "->" + out

	materialize := func(ref ast.TensorRef) (*backend.Tensor, error) {
		name := ref.Name.Name
		if !e.Has(name) {
			free := 0
			for _, ios := range ref.Indices {
				if idx, ok := ios.(*ast.Index); ok && idx.Ident != nil {
					free++
				}
			}
			shape := make([]int, free)
			for i := range shape {
				shape[i] = DefaultExtent
			}
			e.Bind(name, be.Randn(shape...))
		}
		return ValueForRef(ref, e, be)
	}

	left, err := materialize(leftRef.Ref)
	if err != nil {
		return "", nil, true, err
	}
	right, err := materialize(rightRef.Ref)
	if err != nil {
		return "", nil, true, err
	}
	return spec, []*backend.Tensor{left, right}, true, nil
}
