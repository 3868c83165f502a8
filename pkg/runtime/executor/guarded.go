package executor

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// GuardedClauseExecutor evaluates guarded clause chains with first-match-wins
// semantics per LHS index tuple.
type GuardedClauseExecutor struct{}

func (x *GuardedClauseExecutor) Name() string  { return "GuardedClauseExecutor" }
func (x *GuardedClauseExecutor) Priority() int { return 50 }

func (x *GuardedClauseExecutor) Applicable(eq *ast.TensorEquation, e *env.Environment) bool {
	if eq.Projection != "=" {
		return false
	}
	if len(eq.Clauses) == 0 {
		return false
	}
	if len(eq.Clauses) == 1 && eq.Clauses[0].Guard == nil {
		return false
	}
	return true
}

func (x *GuardedClauseExecutor) Execute(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	if len(eq.LHS.Indices) > 0 {
		return x.executeIndexed(eq, e, be)
	}
	return x.executeScalar(eq, e, be)
}

// maxAxisSize finds the driving iteration count: the largest axis-0 extent of
// any tensor referenced in the clauses.
func maxAxisSize(eq *ast.TensorEquation, e *env.Environment) int {
	maxSize := 0
	var walk func(expr ast.Expr)
	walk = func(expr ast.Expr) {
		switch n := expr.(type) {
		case *ast.RefExpr:
			if t, err := e.Lookup(n.Ref.Name.Name); err == nil && t.Rank() > 0 {
				if s := t.Shape()[0]; s > maxSize {
					maxSize = s
				}
			}
		case *ast.BinaryExpr:
			walk(n.LHS)
			walk(n.RHS)
		case *ast.UnaryExpr:
			walk(n.Operand)
		case *ast.ParenExpr:
			walk(n.Inner)
		case *ast.CallExpr:
			for _, a := range n.Args {
				walk(a)
			}
		case *ast.ListExpr:
			for _, el := range n.Elems {
				walk(el)
			}
		}
	}
	for _, cl := range eq.Clauses {
		walk(cl.Expr)
		if cl.Guard != nil {
			walk(cl.Guard)
		}
	}
	return maxSize
}

func (x *GuardedClauseExecutor) executeIndexed(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	indexVars := collectIndexNames(eq.LHS)

	size := maxAxisSize(eq, e)
	if size == 0 {
		return nil, fmt.Errorf("cannot determine iteration size")
	}

	// Save existing bindings of the index variables for restoration.
	saved := map[string]*backend.Tensor{}
	for _, name := range indexVars {
		if t, err := e.Lookup(name); err == nil {
			saved[name] = t
		}
	}
	defer func() {
		for _, name := range indexVars {
			if prev, ok := saved[name]; ok {
				e.Bind(name, prev)
			} else {
				e.Unbind(name)
			}
		}
	}()

	values := make([]float32, 0, size)
	for i := 0; i < size; i++ {
		for _, name := range indexVars {
			e.Bind(name, be.Scalar(float32(i)))
		}

		matched := false
		for _, cl := range eq.Clauses {
			ok, err := guardHolds(cl, eq.LHS, e, be)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			result, err := EvalExpr(cl.Expr, eq.LHS, e, be)
			if err != nil {
				return nil, err
			}
			values = append(values, scalarize(result, be))
			matched = true
			break
		}
		if !matched {
			return nil, fmt.Errorf("no clause matched for index %d", i)
		}
	}
	return be.FromFlat([]int{len(values)}, values), nil
}

func guardHolds(cl ast.GuardedClause, lhs ast.TensorRef, e *env.Environment, be backend.Backend) (bool, error) {
	if cl.Guard == nil {
		return true, nil
	}
	g, err := EvalExpr(cl.Guard, lhs, e, be)
	if err != nil {
		return false, err
	}
	return scalarize(g, be) != 0, nil
}

func scalarize(t *backend.Tensor, be backend.Backend) float32 {
	if t.Size() == 1 {
		return t.Item()
	}
	return be.Sum(t).Item()
}

// executeScalar superposes clause contributions additively, masking each
// clause by its guard and the complement of all earlier guards so first-match
// semantics hold across tensor-valued masks.
func (x *GuardedClauseExecutor) executeScalar(eq *ast.TensorEquation, e *env.Environment, be backend.Backend) (*backend.Tensor, error) {
	var result, usedMask *backend.Tensor
	one := be.Scalar(1)

	for _, cl := range eq.Clauses {
		exprValue, err := EvalExpr(cl.Expr, eq.LHS, e, be)
		if err != nil {
			return nil, err
		}
		var clauseMask *backend.Tensor
		if cl.Guard != nil {
			clauseMask, err = EvalExpr(cl.Guard, eq.LHS, e, be)
			if err != nil {
				return nil, err
			}
		} else {
			clauseMask = be.Full(1, exprValue.Shape()...)
		}

		if usedMask != nil {
			clauseMask = be.Mul(clauseMask, be.Sub(one, usedMask))
		}
		contribution := be.Mul(exprValue, clauseMask)

		if result == nil {
			result = contribution
			usedMask = clauseMask
		} else {
			result = be.Add(result, contribution)
			usedMask = be.Add(usedMask, clauseMask)
		}
	}
	if result == nil {
		return nil, fmt.Errorf("no clauses produced a result")
	}
	if len(eq.LHS.Indices) == 0 && result.Rank() > 0 {
		result = be.Sum(result)
	}
	return result, nil
}
