package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// NormalizationExecutor applies softmax along the LHS dimension carrying the
// normalized-index marker. An RHS that is already a softmax call is used
// as-is.
type NormalizationExecutor struct{}

func (x *NormalizationExecutor) Name() string  { return "NormalizationExecutor" }
func (x *NormalizationExecutor) Priority() int { return 40 }

func normalizedDimension(lhs ast.TensorRef) (int, bool) {
	for i, ios := range lhs.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Normalized {
			return i, true
		}
	}
	return 0, false
}

func (x *NormalizationExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	_, ok := normalizedDimension(eq.LHS)
	return ok
}

func (x *NormalizationExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	dim, ok := normalizedDimension(eq.LHS)
	if !ok {
		return nil, fmt.Errorf("no normalized index on LHS")
	}

	raw, err := EvalExpr(eq.Clauses[0].Expr, eq.LHS, e, be)
	if err != nil {
		return nil, err
	}
	// A normalized scalar is always 1.0.
	if raw.Rank() == 0 {
		return be.Scalar(1), nil
	}
	if dim >= raw.Rank() {
		return nil, fmt.Errorf("normalized dimension %d out of range for rank %d", dim, raw.Rank())
	}

	// An explicit softmax call already normalized the expression.
	if call, ok := eq.Clauses[0].Expr.(*ast.CallExpr); ok && call.Func.Name == "softmax" {
		return raw, nil
	}
	return be.Softmax(raw, dim), nil
}
