// Package executor dispatches tensor equations to priority-ordered execution
// strategies. Each strategy fully decides the semantics for the equation
// shapes it accepts; dispatch is first-match over applicability predicates,
// which may inspect the environment.
package executor

import (
	"fmt"
	"sort"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// Executor is one tensor-equation execution strategy.
type Executor interface {
	// Applicable reports whether this strategy handles the equation. Not
	// applicable is an internal predicate, never an error.
	Applicable(eq *ast.TensorEquation, e *env.Environment) bool
	// Execute runs the equation and returns the value to bind to the LHS key.
	Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error)
	// Priority orders dispatch; lower runs earlier.
	Priority() int
	Name() string
}

// Registry is a priority-ordered chain of executors.
type Registry struct {
	executors []Executor
}

// NewRegistry creates a registry with the full strategy set registered.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&ScalarAssignExecutor{})
	r.Register(&ListLiteralExecutor{})
	r.Register(&EinsumExecutor{})
	r.Register(&IndexedProductExecutor{})
	r.Register(&ReductionExecutor{})
	r.Register(&NormalizationExecutor{})
	r.Register(&GuardedClauseExecutor{})
	r.Register(&PoolingExecutor{})
	r.Register(&IdentityExecutor{})
	r.Register(&ExpressionExecutor{})
	return r
}

// Register adds an executor, keeping the chain sorted by priority.
// Registration order breaks ties.
func (r *Registry) Register(ex Executor) {
	r.executors = append(r.executors, ex)
	sort.SliceStable(r.executors, func(i, j int) bool {
		return r.executors[i].Priority() < r.executors[j].Priority()
	})
}

// Execute dispatches eq to the first applicable executor. No applicable
// executor is a programmer error, not a data error. Shape panics raised by
// the tensor primitives surface as errors here.
func (r *Registry) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (t *backend.Tensor, err error) {
	for _, ex := range r.executors {
		if !ex.Applicable(eq, e) {
			continue
		}
		logger.Log.Debug().Str("executor", ex.Name()).Str("equation", eq.String()).Msg("dispatch")
		defer func() {
			if rec := recover(); rec != nil {
				t = nil
				err = fmt.Errorf("%s: %v", ex.Name(), rec)
			}
		}()
		t, err = ex.Execute(eq, e, be)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ex.Name(), err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("no executor for equation: %s", eq.String())
}
