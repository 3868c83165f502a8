package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// IndexedProductExecutor lowers a product of two indexed tensor references to
// an einsum contraction.
type IndexedProductExecutor struct{}

func (x *IndexedProductExecutor) Name() string  { return "IndexedProductExecutor" }
func (x *IndexedProductExecutor) Priority() int { return 35 }

func (x *IndexedProductExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	bin, ok := eq.Clauses[0].Expr.(*ast.BinaryExpr)
	if !ok || bin.Op != ast.OpMul {
		return false
	}
	leftRef := AsRefExpr(bin.LHS)
	rightRef := AsRefExpr(bin.RHS)
	if leftRef == nil || rightRef == nil {
		return false
	}
	// Output indices must all appear in at least one operand; checked by the
	// lowering itself without materializing placeholders.
	leftNames := collectIndexNames(leftRef.Ref)
	rightNames := collectIndexNames(rightRef.Ref)
	if len(leftNames) == 0 || len(rightNames) == 0 {
		return false
	}
	for _, out := range collectIndexNames(eq.LHS) {
		if !containsName(leftNames, out) && !containsName(rightNames, out) {
			return false
		}
	}
	return true
}

func (x *IndexedProductExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	spec, inputs, ok, err := LowerIndexedProduct(eq.LHS, eq.Clauses[0].Expr, e, be)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("failed to lower indexed product to einsum")
	}
	return be.Einsum(spec, inputs)
}
