package executor

import (
	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// ExpressionExecutor is the catch-all: recursive evaluation of the RHS
// expression, with element-wise assignment for literal RHS and an automatic
// sum when a scalar LHS receives a tensor value.
type ExpressionExecutor struct{}

func (x *ExpressionExecutor) Name() string  { return "ExpressionExecutor" }
func (x *ExpressionExecutor) Priority() int { return 90 }

func (x *ExpressionExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	return eq.Clauses[0].Expr != nil
}

func (x *ExpressionExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	val, err := EvalExpr(eq.Clauses[0].Expr, eq.LHS, e, be)
	if err != nil {
		return nil, err
	}

	// Element-wise assignment with label creation for literal RHS, e.g.
	// W[Alice] = 1.0.
	if _, isLiteral := TryParseNumericLiteral(eq.Clauses[0].Expr); isLiteral && len(eq.LHS.Indices) > 0 {
		if indices, ok := ResolveIndicesCreatingLabels(eq.LHS, e); ok {
			t := EnsureTensorSize(env.Key(eq.LHS), indices, e)
			// A rank>=1 value is summed to a scalar before storage.
			if val.Rank() > 0 {
				if val.Size() == 1 {
					val = be.Reshape(val, nil)
				} else {
					val = be.Sum(val)
				}
			}
			return be.IndexPut(t, indices, val), nil
		}
	}

	// A scalar LHS receiving a tensor reduces by sum.
	if len(eq.LHS.Indices) == 0 && val.Rank() > 0 {
		val = be.Sum(val)
	}
	return val, nil
}
