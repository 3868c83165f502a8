package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// EinsumExecutor handles explicit einsum("spec", A, B, ...) calls.
type EinsumExecutor struct{}

func (x *EinsumExecutor) Name() string  { return "EinsumExecutor" }
func (x *EinsumExecutor) Priority() int { return 30 }

func (x *EinsumExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	_, _, ok, _ := ParseEinsumCall(eq.Clauses[0].Expr, e)
	return ok
}

func (x *EinsumExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	spec, inputs, ok, err := ParseEinsumCall(eq.Clauses[0].Expr, e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("failed to parse einsum call")
	}
	return be.Einsum(spec, inputs)
}
