package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// EvalExpr recursively evaluates an expression against the environment.
// lhsCtx is the equation's LHS; its index variables, when bound as scalars in
// the environment, turn named indices into integer selections and suppress
// einsum lowering of multiplications.
func EvalExpr(e ast.Expr, lhsCtx ast.TensorRef, en *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	switch n := e.(type) {
	case *ast.NumberExpr:
		v, err := n.Lit.Value()
		if err != nil {
			return nil, fmt.Errorf("invalid number literal %q", n.Lit.Text)
		}
		return be.Scalar(float32(v)), nil

	case *ast.RefExpr:
		return evalRef(n.Ref, en, be)

	case *ast.ParenExpr:
		return EvalExpr(n.Inner, lhsCtx, en, be)

	case *ast.ListExpr:
		data, shape, err := collectList(n, lhsCtx, en, be)
		if err != nil {
			return nil, err
		}
		if len(shape) == 0 {
			if len(data) == 0 {
				return be.Scalar(0), nil
			}
			return be.Scalar(data[0]), nil
		}
		return be.FromFlat(shape, data), nil

	case *ast.CallExpr:
		return evalCall(n, lhsCtx, en, be)

	case *ast.BinaryExpr:
		return evalBinary(n, lhsCtx, en, be)

	case *ast.UnaryExpr:
		operand, err := EvalExpr(n.Operand, lhsCtx, en, be)
		if err != nil {
			return nil, err
		}
		if n.Op == ast.OpNot {
			return be.Not(operand), nil
		}
		return be.Neg(operand), nil
	}
	return nil, fmt.Errorf("unsupported expression: %s", e.String())
}

// evalRef materializes a tensor reference, resolving index variables bound in
// the environment to integer selections.
func evalRef(ref ast.TensorRef, en *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	hasBound := false
	for _, ios := range ref.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Ident != nil && en.Has(idx.Ident.Name) {
			hasBound = true
			break
		}
	}
	if !hasBound {
		return ValueForRef(ref, en, be)
	}

	base, err := en.LookupRef(ref)
	if err != nil {
		return nil, err
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
				cur = be.Select(cur, dim, v)
			case n.Ident != nil:
				if bound, err := en.Lookup(n.Ident.Name); err == nil && bound.Size() == 1 {
					cur = be.Select(cur, dim, int(bound.Item()))
				} else {
					dim++
				}
			case n.Virtual != nil:
				return nil, fmt.Errorf("unexpected virtual index on %s", ref.Name.Name)
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

// collectList flattens a nested list literal into a buffer and shape,
// requiring rectangularity. Leaves are full scalar expressions.
func collectList(e ast.Expr, lhsCtx ast.TensorRef, en *env.Environment, be backend.Backend) ([]float32, []int, error) {
	if lst, ok := e.(*ast.ListExpr); ok {
		var childShape []int
		var flat []float32
		for i, child := range lst.Elems {
			data, shape, err := collectList(child, lhsCtx, en, be)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				childShape = shape
			} else if !shapesEq(childShape, shape) {
				return nil, nil, fmt.Errorf("list literal is not rectangular (sub-shapes differ)")
			}
			flat = append(flat, data...)
		}
		return flat, append([]int{len(lst.Elems)}, childShape...), nil
	}
	v, err := EvalExpr(e, lhsCtx, en, be)
	if err != nil {
		return nil, nil, err
	}
	if v.Size() != 1 {
		return nil, nil, fmt.Errorf("list literal leaf must be a scalar expression")
	}
	return []float32{v.Item()}, nil, nil
}

func shapesEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// builtin unary functions accepted in call position.
var unaryBuiltins = map[string]bool{
	"relu": true, "sigmoid": true, "tanh": true, "step": true, "sqrt": true,
	"abs": true, "exp": true, "sin": true, "cos": true, "tan": true,
	"asin": true, "acos": true, "atan": true, "log": true,
}

func evalCall(call *ast.CallExpr, lhsCtx ast.TensorRef, en *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	if call.Func.Name == "softmax" {
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("softmax() expects 1 argument")
		}
		x, err := EvalExpr(call.Args[0], lhsCtx, en, be)
		if err != nil {
			return nil, err
		}
		if x.Rank() == 0 {
			return be.Scalar(1), nil
		}
		return be.Softmax(x, x.Rank()-1), nil
	}
	if unaryBuiltins[call.Func.Name] {
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("%s() expects 1 argument", call.Func.Name)
		}
		x, err := EvalExpr(call.Args[0], lhsCtx, en, be)
		if err != nil {
			return nil, err
		}
		return be.Unary(call.Func.Name, x)
	}
	return nil, fmt.Errorf("unsupported function: %s", call.Func.Name)
}

// lhsHasBoundIndices reports whether any LHS index variable currently holds a
// scalar binding, which switches multiplication from contraction to
// elementwise semantics.
func lhsHasBoundIndices(lhsCtx ast.TensorRef, en *env.Environment) bool {
	for _, ios := range lhsCtx.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Ident != nil && en.Has(idx.Ident.Name) {
			return true
		}
	}
	return false
}

func evalBinary(bin *ast.BinaryExpr, lhsCtx ast.TensorRef, en *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	// Multiplication first tries einsum lowering, unless bound LHS index
	// variables make elementwise multiplication the intended meaning.
	if bin.Op == ast.OpMul && !lhsHasBoundIndices(lhsCtx, en) {
		spec, inputs, ok, err := LowerIndexedProduct(lhsCtx, bin, en, be)
		if err != nil {
			return nil, err
		}
		if ok {
			return be.Einsum(spec, inputs)
		}
	}

	a, err := EvalExpr(bin.LHS, lhsCtx, en, be)
	if err != nil {
		return nil, err
	}
	b, err := EvalExpr(bin.RHS, lhsCtx, en, be)
	if err != nil {
		return nil, err
	}

	// A second contraction chance: an indexed left operand against a bare
	// tensor whose axes line up with the contracted indices.
	if bin.Op == ast.OpMul {
		if out, ok, err := tryContractMul(bin, lhsCtx, a, b, be); err != nil {
			return nil, err
		} else if ok {
			return out, nil
		}
	}

	switch bin.Op {
	case ast.OpAdd:
		return be.Add(a, b), nil
	case ast.OpSub:
		return be.Sub(a, b), nil
	case ast.OpMul:
		return be.Mul(a, b), nil
	case ast.OpDiv:
		return be.Div(a, b), nil
	case ast.OpMod:
		return be.Mod(a, b), nil
	case ast.OpPow:
		return be.Pow(a, b), nil
	case ast.OpLt:
		return be.Less(a, b), nil
	case ast.OpLe:
		return be.LessEqual(a, b), nil
	case ast.OpGt:
		return be.Greater(a, b), nil
	case ast.OpGe:
		return be.GreaterEqual(a, b), nil
	case ast.OpEq:
		return be.Equal(a, b), nil
	case ast.OpNe:
		return be.NotEqual(a, b), nil
	case ast.OpAnd:
		return be.And(a, b), nil
	case ast.OpOr:
		return be.Or(a, b), nil
	}
	return nil, fmt.Errorf("unknown binary operator")
}

// tryContractMul contracts a ref-indexed left operand with a bare right
// tensor: indices of the left ref absent from the LHS map onto the right
// operand's axes and are summed.
func tryContractMul(bin *ast.BinaryExpr, lhsCtx ast.TensorRef, a, b *backend.Tensor, be backend.Backend) (*backend.Tensor, bool, error) {
	leftRef := AsRefExpr(bin.LHS)
	if leftRef == nil {
		return nil, false, nil
	}
	leftIndices := collectIndexNames(leftRef.Ref)
	outIndices := collectIndexNames(lhsCtx)
	if len(leftIndices) == 0 || a.Rank() != len(leftIndices) || b.Rank() == 0 {
		return nil, false, nil
	}

	labelMap := map[string]byte{}
	next := 0
	assign := func(name string) (byte, bool) {
		if c, ok := labelMap[name]; ok {
			return c, true
		}
		if next >= len(einsumLabelPool) {
			return 0, false
		}
		c := einsumLabelPool[next]
		next++
		labelMap[name] = c
		return c, true
	}

	leftSpec := ""
	for _, nm := range leftIndices {
		c, ok := assign(nm)
		if !ok {
			return nil, false, nil
		}
		leftSpec += string(c)
	}
	outSpec := ""
	for _, nm := range outIndices {
		c, ok := assign(nm)
		if !ok {
			return nil, false, nil
		}
		outSpec += string(c)
	}
	rightSpec := ""
	for _, nm := range leftIndices {
		if !containsName(outIndices, nm) {
			rightSpec += string(labelMap[nm])
		}
	}
	if rightSpec == "" || b.Rank() != len(rightSpec) {
		return nil, false, nil
	}
	for i := 0; i < len(outSpec); i++ {
		if !containsByte(leftSpec, outSpec[i]) && !containsByte(rightSpec, outSpec[i]) {
			return nil, false, nil
		}
	}
	out, err := be.Einsum(leftSpec+","+rightSpec+"->"+outSpec, []*backend.Tensor{a, b})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func containsName(names []string, s string) bool {
	for _, n := range names {
		if n == s {
			return true
		}
	}
	return false
}

func containsByte(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}
