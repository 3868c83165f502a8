package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// ListLiteralExecutor binds a rectangular nested list literal as a dense
// tensor. Leaves must be plain numeric values.
type ListLiteralExecutor struct{}

func (x *ListLiteralExecutor) Name() string  { return "ListLiteralExecutor" }
func (x *ListLiteralExecutor) Priority() int { return 20 }

func (x *ListLiteralExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	if len(eq.LHS.Indices) != 0 {
		return false
	}
	_, ok := eq.Clauses[0].Expr.(*ast.ListExpr)
	return ok
}

func (x *ListLiteralExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	lst := eq.Clauses[0].Expr.(*ast.ListExpr)
	data, shape, err := collectNumericList(lst)
	if err != nil {
		return nil, err
	}
	return be.FromFlat(shape, data), nil
}

// collectNumericList flattens a nested list of numeric values, requiring
// rectangularity.
func collectNumericList(e ast.Expr) ([]float32, []int, error) {
	if lst, ok := e.(*ast.ListExpr); ok {
		var childShape []int
		// A non-nil zero-length buffer distinguishes the empty list.
		flat := []float32{}
		for i, child := range lst.Elems {
			data, shape, err := collectNumericList(child)
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
	v, ok := TryParseNumericLiteral(e)
	if !ok {
		return nil, nil, fmt.Errorf("list literal must contain numeric values")
	}
	return []float32{float32(v)}, nil, nil
}
