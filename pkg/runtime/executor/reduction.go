package executor

import (
	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// ReductionExecutor sums an indexed tensor reference into a scalar binding.
type ReductionExecutor struct{}

func (x *ReductionExecutor) Name() string  { return "ReductionExecutor" }
func (x *ReductionExecutor) Priority() int { return 40 }

func (x *ReductionExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	if len(eq.LHS.Indices) != 0 {
		return false
	}
	ref, ok := eq.Clauses[0].Expr.(*ast.RefExpr)
	return ok && len(ref.Ref.Indices) > 0
}

func (x *ReductionExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	ref := eq.Clauses[0].Expr.(*ast.RefExpr)
	indexed, err := ValueForRef(ref.Ref, e, be)
	if err != nil {
		return nil, err
	}
	return be.Sum(indexed), nil
}
