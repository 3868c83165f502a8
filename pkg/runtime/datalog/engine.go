// Package datalog implements the fact store front, rule saturation to
// fixpoint, and conjunctive query evaluation with negation-as-failure and
// comparison conditions.
package datalog

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// Engine owns the rule list and the closure-dirty bit; facts live in the
// environment's relation store.
type Engine struct {
	env   *env.Environment
	rules []*ast.DatalogRule
	dirty bool
}

// New creates an engine over the environment's fact store.
func New(e *env.Environment) *Engine {
	return &Engine{env: e}
}

// AddFact inserts a fact, marking the closure dirty when it is new.
func (d *Engine) AddFact(f *ast.DatalogFact) bool {
	tuple := make([]string, len(f.Constants))
	for i, c := range f.Constants {
		tuple[i] = c.Text
	}
	inserted := d.env.AddFact(f.Relation.Name, tuple)
	if inserted {
		d.dirty = true
	}
	return inserted
}

// AddRule registers a rule and marks the closure dirty.
func (d *Engine) AddRule(r *ast.DatalogRule) {
	d.rules = append(d.rules, r)
	d.dirty = true
}

// Dirty reports whether derived facts may be missing.
func (d *Engine) Dirty() bool { return d.dirty }

// Saturate runs rule application rounds until a full round inserts nothing.
// Correct for stratified negation; stratification is the user's obligation.
func (d *Engine) Saturate() {
	if !d.dirty || len(d.rules) == 0 {
		d.dirty = false
		return
	}
	rounds := 0
	for {
		inserted := 0
		for _, r := range d.rules {
			inserted += d.applyRule(r)
		}
		rounds++
		if inserted == 0 {
			break
		}
	}
	logger.Log.Debug().Int("rounds", rounds).Msg("rule saturation reached fixpoint")
	d.dirty = false
}

// binding maps variable names to string values during a join.
type binding map[string]string

// applyRule fires one rule over all satisfying bindings, returning the number
// of newly inserted head facts.
func (d *Engine) applyRule(rule *ast.DatalogRule) int {
	var atoms []*ast.DatalogAtom
	var negations []*ast.DatalogNegation
	var conditions []*ast.DatalogCondition
	for _, el := range rule.Body {
		switch n := el.(type) {
		case *ast.DatalogAtom:
			atoms = append(atoms, n)
		case *ast.DatalogNegation:
			negations = append(negations, n)
		case *ast.DatalogCondition:
			conditions = append(conditions, n)
		}
	}
	if len(atoms) == 0 {
		return 0
	}

	newCount := 0
	b := binding{}
	d.join(atoms, b, func() {
		for _, neg := range negations {
			if d.atomHolds(&neg.Atom, b) {
				return
			}
		}
		for _, cond := range conditions {
			if !evalCondition(cond, b) {
				return
			}
		}
		tuple, ok := headTuple(&rule.Head, b)
		if !ok {
			return
		}
		if d.env.AddFact(rule.Head.Relation.Name, tuple) {
			newCount++
		}
	})
	return newCount
}

// join performs a depth-first nested-loop join over the atoms, invoking yield
// for every consistent binding. Bindings are rolled back on backtrack.
func (d *Engine) join(atoms []*ast.DatalogAtom, b binding, yield func()) {
	if len(atoms) == 0 {
		yield()
		return
	}
	atom := atoms[0]
	for _, tuple := range d.env.Facts(atom.Relation.Name) {
		if len(tuple) != len(atom.Terms) {
			continue
		}
		assigned, ok := unify(atom, tuple, b)
		if ok {
			d.join(atoms[1:], b, yield)
		}
		for _, name := range assigned {
			delete(b, name)
		}
	}
}

// unify matches an atom against a tuple under the current binding, returning
// the variables newly assigned.
func unify(atom *ast.DatalogAtom, tuple []string, b binding) ([]string, bool) {
	var assigned []string
	for i, term := range atom.Terms {
		val := tuple[i]
		switch {
		case term.Const != nil:
			if term.Const.Text != val {
				return assigned, false
			}
		case term.Var != nil:
			name := term.Var.Name
			if prev, ok := b[name]; ok {
				if prev != val {
					return assigned, false
				}
			} else {
				b[name] = val
				assigned = append(assigned, name)
			}
		default:
			// Arithmetic terms never unify against stored tuples.
			return assigned, false
		}
	}
	return assigned, true
}

// atomHolds reports whether any stored tuple unifies with the atom under the
// binding — the negation-as-failure test.
func (d *Engine) atomHolds(atom *ast.DatalogAtom, b binding) bool {
	for _, tuple := range d.env.Facts(atom.Relation.Name) {
		if len(tuple) != len(atom.Terms) {
			continue
		}
		assigned, ok := unify(atom, tuple, b)
		for _, name := range assigned {
			delete(b, name)
		}
		if ok {
			return true
		}
	}
	return false
}

// headTuple substitutes the binding into the head terms; arithmetic terms are
// evaluated numerically.
func headTuple(head *ast.DatalogAtom, b binding) ([]string, bool) {
	tuple := make([]string, 0, len(head.Terms))
	for _, term := range head.Terms {
		switch {
		case term.Const != nil:
			tuple = append(tuple, term.Const.Text)
		case term.Var != nil:
			v, ok := b[term.Var.Name]
			if !ok {
				// Unsafe variable in head: skip this firing.
				return nil, false
			}
			tuple = append(tuple, v)
		case term.Arith != nil:
			val, ok := evalArith(term.Arith, b)
			if !ok || !val.numeric {
				return nil, false
			}
			tuple = append(tuple, formatNumber(val.num))
		}
	}
	return tuple, true
}

// value is a term evaluation result: always a string, numeric when it parses.
type value struct {
	str     string
	num     float64
	numeric bool
}

func stringValue(s string) value {
	v := value{str: s}
	if n, err := parseNumber(s); err == nil {
		v.num = n
		v.numeric = true
	}
	return v
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// evalArith evaluates an arithmetic expression over the binding. Variables
// resolve through the binding; strings coerce to numbers on demand.
func evalArith(e ast.Expr, b binding) (value, bool) {
	switch n := e.(type) {
	case *ast.NumberExpr:
		return stringValue(n.Lit.Text), true
	case *ast.StringExpr:
		return stringValue(n.Lit.Text), true
	case *ast.ParenExpr:
		return evalArith(n.Inner, b)
	case *ast.RefExpr:
		if len(n.Ref.Indices) != 0 || !n.Ref.Name.IsLower() {
			return value{}, false
		}
		v, ok := b[n.Ref.Name.Name]
		if !ok {
			return value{}, false
		}
		return stringValue(v), true
	case *ast.UnaryExpr:
		if n.Op != ast.OpNeg {
			return value{}, false
		}
		v, ok := evalArith(n.Operand, b)
		if !ok || !v.numeric {
			return value{}, false
		}
		return stringValue(formatNumber(-v.num)), true
	case *ast.BinaryExpr:
		l, ok := evalArith(n.LHS, b)
		if !ok {
			return value{}, false
		}
		r, ok := evalArith(n.RHS, b)
		if !ok {
			return value{}, false
		}
		if !l.numeric || !r.numeric {
			return value{}, false
		}
		var res float64
		switch n.Op {
		case ast.OpAdd:
			res = l.num + r.num
		case ast.OpSub:
			res = l.num - r.num
		case ast.OpMul:
			res = l.num * r.num
		case ast.OpDiv:
			if r.num == 0 {
				return value{}, false
			}
			res = l.num / r.num
		case ast.OpMod:
			if r.num == 0 {
				return value{}, false
			}
			res = float64(int64(l.num) % int64(r.num))
		default:
			return value{}, false
		}
		return stringValue(formatNumber(res)), true
	}
	return value{}, false
}

// evalCondition compares two arithmetic expressions under the binding.
// Equality of non-numeric strings falls through to lexicographic comparison.
func evalCondition(cond *ast.DatalogCondition, b binding) bool {
	l, ok := evalArith(cond.LHS, b)
	if !ok {
		return false
	}
	r, ok := evalArith(cond.RHS, b)
	if !ok {
		return false
	}

	strCmp := func(op string) bool {
		switch op {
		case "==":
			return l.str == r.str
		case "!=":
			return l.str != r.str
		case ">":
			return l.str > r.str
		case "<":
			return l.str < r.str
		case ">=":
			return l.str >= r.str
		case "<=":
			return l.str <= r.str
		}
		return false
	}

	if (cond.Op == "==" || cond.Op == "!=") && (!l.numeric || !r.numeric) {
		return strCmp(cond.Op)
	}
	if l.numeric && r.numeric {
		switch cond.Op {
		case "==":
			return l.num == r.num
		case "!=":
			return l.num != r.num
		case ">":
			return l.num > r.num
		case "<":
			return l.num < r.num
		case ">=":
			return l.num >= r.num
		case "<=":
			return l.num <= r.num
		}
		return false
	}
	return strCmp(cond.Op)
}

// Query evaluates a Datalog query and prints results to out: True/False for
// ground queries, one line per binding otherwise, None when nothing matches.
func (d *Engine) Query(q *ast.Query, out io.Writer) error {
	if q.Atom == nil {
		return fmt.Errorf("datalog: query has no atom target")
	}
	if len(q.Body) > 0 {
		return d.conjunctiveQuery(q, out)
	}
	return d.singleAtomQuery(q.Atom, out)
}

// queryVarNames collects lowercase variables in first-appearance order.
func queryVarNames(atoms []*ast.DatalogAtom) []string {
	var names []string
	seen := map[string]bool{}
	for _, a := range atoms {
		for _, t := range a.Terms {
			if t.Var != nil && t.Var.IsLower() && !seen[t.Var.Name] {
				seen[t.Var.Name] = true
				names = append(names, t.Var.Name)
			}
		}
	}
	return names
}

func (d *Engine) conjunctiveQuery(q *ast.Query, out io.Writer) error {
	var atoms []*ast.DatalogAtom
	var negations []*ast.DatalogNegation
	var conditions []*ast.DatalogCondition
	for _, el := range q.Body {
		switch n := el.(type) {
		case *ast.DatalogAtom:
			atoms = append(atoms, n)
		case *ast.DatalogNegation:
			negations = append(negations, n)
		case *ast.DatalogCondition:
			conditions = append(conditions, n)
		}
	}
	if len(atoms) == 0 {
		fmt.Fprintln(out, "None")
		return nil
	}

	varNames := queryVarNames(atoms)
	anyPrinted := false
	b := binding{}
	d.join(atoms, b, func() {
		for _, neg := range negations {
			if d.atomHolds(&neg.Atom, b) {
				return
			}
		}
		for _, cond := range conditions {
			if !evalCondition(cond, b) {
				return
			}
		}
		if len(varNames) == 0 {
			fmt.Fprintln(out, "True")
			anyPrinted = true
			return
		}
		vals := make([]string, len(varNames))
		for i, name := range varNames {
			vals[i] = b[name]
		}
		fmt.Fprintln(out, strings.Join(vals, ", "))
		anyPrinted = true
	})

	if !anyPrinted {
		if len(varNames) == 0 {
			fmt.Fprintln(out, "False")
		} else {
			fmt.Fprintln(out, "None")
		}
	}
	return nil
}

func (d *Engine) singleAtomQuery(atom *ast.DatalogAtom, out io.Writer) error {
	varNames := queryVarNames([]*ast.DatalogAtom{atom})
	tuples := d.env.Facts(atom.Relation.Name)

	// Ground query: True on first match, False otherwise.
	if len(varNames) == 0 {
		b := binding{}
		for _, tuple := range tuples {
			if len(tuple) != len(atom.Terms) {
				continue
			}
			assigned, ok := unify(atom, tuple, b)
			for _, name := range assigned {
				delete(b, name)
			}
			if ok {
				fmt.Fprintln(out, "True")
				return nil
			}
		}
		fmt.Fprintln(out, "False")
		return nil
	}

	anyPrinted := false
	for _, tuple := range tuples {
		if len(tuple) != len(atom.Terms) {
			continue
		}
		b := binding{}
		if _, ok := unify(atom, tuple, b); !ok {
			continue
		}
		vals := make([]string, len(varNames))
		for i, name := range varNames {
			vals[i] = b[name]
		}
		fmt.Fprintln(out, strings.Join(vals, ", "))
		anyPrinted = true
	}
	if !anyPrinted {
		fmt.Fprintln(out, "None")
	}
	return nil
}
