package executor

import (
	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// IdentityExecutor copies a bare tensor reference, applying numeric indices
// as element selections and named indices as full slices. The result is taken
// as-is after selections even when the shape differs from what the LHS index
// list suggests.
type IdentityExecutor struct{}

func (x *IdentityExecutor) Name() string  { return "IdentityExecutor" }
func (x *IdentityExecutor) Priority() int { return 80 }

func (x *IdentityExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	ref, ok := eq.Clauses[0].Expr.(*ast.RefExpr)
	if !ok {
		return false
	}
	// A scalar LHS with an indexed RHS is a reduction, not an identity.
	if len(eq.LHS.Indices) == 0 && len(ref.Ref.Indices) > 0 {
		return false
	}
	return e.Has(ref.Ref.Name.Name)
}

func (x *IdentityExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	ref := eq.Clauses[0].Expr.(*ast.RefExpr)
	if len(ref.Ref.Indices) == 0 {
		return e.Lookup(ref.Ref.Name.Name)
	}
	return ValueForRef(ref.Ref, e, be)
}
