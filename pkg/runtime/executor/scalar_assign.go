package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// ScalarAssignExecutor stores a numeric literal into one cell, growing the
// destination tensor as needed. Labels are interned on first use.
type ScalarAssignExecutor struct{}

func (x *ScalarAssignExecutor) Name() string  { return "ScalarAssignExecutor" }
func (x *ScalarAssignExecutor) Priority() int { return 10 }

func (x *ScalarAssignExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	if _, ok := TryParseNumericLiteral(eq.Clauses[0].Expr); !ok {
		return false
	}
	if len(eq.LHS.Indices) == 0 {
		return false
	}
	// Every index must be numeric or a label (possibly unseen).
	for _, ios := range eq.LHS.Indices {
		idx, ok := ios.(*ast.Index)
		if !ok {
			return false
		}
		switch {
		case idx.Number != nil:
		case idx.Ident != nil && idx.Ident.IsUpper():
		default:
			return false
		}
	}
	return true
}

func (x *ScalarAssignExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	value, ok := TryParseNumericLiteral(eq.Clauses[0].Expr)
	if !ok {
		return nil, fmt.Errorf("expected numeric literal on RHS")
	}
	indices, ok := ResolveIndicesCreatingLabels(eq.LHS, e)
	if !ok {
		return nil, fmt.Errorf("expected numeric or label indices on LHS")
	}
	t := EnsureTensorSize(env.Key(eq.LHS), indices, e)
	return be.IndexPut(t, indices, be.Scalar(float32(value))), nil
}
