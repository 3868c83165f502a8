package preprocess

import (
	"strconv"

	"github.com/itohio/tensorlang/pkg/ast"
)

// lhsMode selects how substituteEquation treats the LHS.
type lhsMode int

const (
	// keepLHS leaves the LHS untouched (consumer-only slot-0 rewrite).
	keepLHS lhsMode = iota
	// substituteLHS substitutes regular and virtual indices on the LHS.
	substituteLHS
	// dropLHSVirtual removes virtual indices entirely (SSA temporaries carry
	// no virtual dimension).
	dropLHSVirtual
)

// substituteRef rewrites a tensor reference: matching virtual indices become
// slot 0, the driving regular index becomes the current timestep, and tensors
// being written this timestep are redirected to their temporaries.
// virtualName "" matches every virtual index.
func substituteRef(ref ast.TensorRef, subs map[string]int, virtualName string, tempMap map[string]string) ast.TensorRef {
	out := ast.TensorRef{Name: ref.Name, Loc: ref.Loc}
	for _, ios := range ref.Indices {
		idx, ok := ios.(*ast.Index)
		if !ok {
			out.Indices = append(out.Indices, ios)
			continue
		}
		switch {
		case idx.Virtual != nil && (virtualName == "" || idx.Virtual.Name.Name == virtualName):
			out.Indices = append(out.Indices, &ast.Index{
				Number: &ast.NumberLiteral{Text: "0", Loc: idx.Loc},
				Loc:    idx.Loc,
			})
		case idx.Ident != nil:
			if v, ok := subs[idx.Ident.Name]; ok {
				out.Indices = append(out.Indices, &ast.Index{
					Number: &ast.NumberLiteral{Text: strconv.Itoa(v), Loc: idx.Loc},
					Loc:    idx.Loc,
				})
			} else {
				out.Indices = append(out.Indices, idx)
			}
		default:
			out.Indices = append(out.Indices, idx)
		}
	}
	if temp, ok := tempMap[ref.Name.Name]; ok {
		out.Name.Name = temp
	}
	return out
}

// dropVirtual removes virtual indices from a reference's index list.
func dropVirtual(ref ast.TensorRef) ast.TensorRef {
	out := ast.TensorRef{Name: ref.Name, Loc: ref.Loc}
	for _, ios := range ref.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Virtual != nil {
			continue
		}
		out.Indices = append(out.Indices, ios)
	}
	return out
}

// virtualToZero replaces every virtual index of a reference with slot 0.
func virtualToZero(ref ast.TensorRef) ast.TensorRef {
	out := ast.TensorRef{Name: ref.Name, Loc: ref.Loc}
	for _, ios := range ref.Indices {
		idx, ok := ios.(*ast.Index)
		if ok && idx.Virtual != nil {
			out.Indices = append(out.Indices, &ast.Index{
				Number: &ast.NumberLiteral{Text: "0", Loc: idx.Loc},
				Loc:    idx.Loc,
			})
			continue
		}
		out.Indices = append(out.Indices, ios)
	}
	return out
}

// substituteExpr rebuilds an expression with substituteRef applied to every
// tensor reference. Input expressions are never mutated.
func substituteExpr(e ast.Expr, subs map[string]int, virtualName string, tempMap map[string]string) ast.Expr {
	switch n := e.(type) {
	case *ast.RefExpr:
		return &ast.RefExpr{Ref: substituteRef(n.Ref, subs, virtualName, tempMap)}
	case *ast.NumberExpr, *ast.StringExpr:
		return e
	case *ast.ListExpr:
		elems := make([]ast.Expr, len(n.Elems))
		for i, el := range n.Elems {
			elems[i] = substituteExpr(el, subs, virtualName, tempMap)
		}
		return &ast.ListExpr{Elems: elems, ListLoc: n.ListLoc}
	case *ast.ParenExpr:
		return &ast.ParenExpr{Inner: substituteExpr(n.Inner, subs, virtualName, tempMap)}
	case *ast.CallExpr:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = substituteExpr(a, subs, virtualName, tempMap)
		}
		return &ast.CallExpr{Func: n.Func, Args: args}
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{
			Op:  n.Op,
			LHS: substituteExpr(n.LHS, subs, virtualName, tempMap),
			RHS: substituteExpr(n.RHS, subs, virtualName, tempMap),
		}
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: n.Op, Operand: substituteExpr(n.Operand, subs, virtualName, tempMap), OpLoc: n.OpLoc}
	}
	return e
}

// substituteEquation applies the substitution to every clause and guard, with
// the LHS handled per mode.
func substituteEquation(eq *ast.TensorEquation, subs map[string]int, virtualName string, tempMap map[string]string, mode lhsMode) *ast.TensorEquation {
	out := &ast.TensorEquation{Projection: eq.Projection, EqLoc: eq.EqLoc}
	switch mode {
	case substituteLHS:
		out.LHS = substituteRef(eq.LHS, subs, virtualName, nil)
	case dropLHSVirtual:
		out.LHS = dropVirtual(eq.LHS)
	default:
		out.LHS = eq.LHS
	}
	for _, cl := range eq.Clauses {
		nc := ast.GuardedClause{Expr: substituteExpr(cl.Expr, subs, virtualName, tempMap), Loc: cl.Loc}
		if cl.Guard != nil {
			nc.Guard = substituteExpr(cl.Guard, subs, virtualName, tempMap)
		}
		out.Clauses = append(out.Clauses, nc)
	}
	return out
}

// copyBackEquation assigns a timestep temporary into slot 0 of its main
// tensor.
func copyBackEquation(eq *ast.TensorEquation, tempName string) *ast.TensorEquation {
	read := dropVirtual(eq.LHS)
	read.Name = ast.Identifier{Name: tempName, Loc: eq.LHS.Loc}
	return &ast.TensorEquation{
		LHS:        virtualToZero(eq.LHS),
		Projection: eq.Projection,
		Clauses:    []ast.GuardedClause{{Expr: &ast.RefExpr{Ref: read}, Loc: eq.EqLoc}},
		EqLoc:      eq.EqLoc,
	}
}
