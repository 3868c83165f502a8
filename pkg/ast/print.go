package ast

import (
	"strconv"
	"strings"
)

// Printers render statements back to parseable TL source. The output is
// canonical rather than byte-faithful: reparsing yields an equal tree modulo
// locations.

func (ix *Index) String() string {
	var s string
	switch {
	case ix.Ident != nil:
		s = ix.Ident.Name
	case ix.Number != nil:
		s = ix.Number.Text
	case ix.Virtual != nil:
		s = "*" + ix.Virtual.Name.Name
		if ix.Virtual.Offset > 0 {
			s += "+" + strconv.Itoa(ix.Virtual.Offset)
		} else if ix.Virtual.Offset < 0 {
			s += strconv.Itoa(ix.Virtual.Offset)
		}
	}
	if ix.Normalized {
		s += "."
	}
	return s
}

func (s *Slice) String() string {
	var b strings.Builder
	if s.Start != nil {
		b.WriteString(s.Start.Text)
	}
	b.WriteByte(':')
	if s.End != nil {
		b.WriteString(s.End.Text)
	}
	if s.Step != nil {
		b.WriteByte(':')
		b.WriteString(s.Step.Text)
	}
	return b.String()
}

func (r TensorRef) String() string {
	if len(r.Indices) == 0 {
		return r.Name.Name
	}
	parts := make([]string, len(r.Indices))
	for i, ix := range r.Indices {
		parts[i] = ix.String()
	}
	return r.Name.Name + "[" + strings.Join(parts, ",") + "]"
}

var binaryOpText = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%", OpPow: "^",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=", OpEq: "==", OpNe: "!=",
	OpAnd: " and ", OpOr: " or ",
}

func (op BinaryOp) String() string { return strings.TrimSpace(binaryOpText[op]) }

func (e *RefExpr) String() string    { return e.Ref.String() }
func (e *NumberExpr) String() string { return e.Lit.Text }
func (e *StringExpr) String() string { return "\"" + e.Lit.Text + "\"" }
func (e *ParenExpr) String() string  { return "(" + e.Inner.String() + ")" }

func (e *ListExpr) String() string {
	parts := make([]string, len(e.Elems))
	for i, el := range e.Elems {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (e *CallExpr) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return e.Func.Name + "(" + strings.Join(parts, ",") + ")"
}

func (e *BinaryExpr) String() string {
	return e.LHS.String() + binaryOpText[e.Op] + e.RHS.String()
}

func (e *UnaryExpr) String() string {
	if e.Op == OpNot {
		return "not " + e.Operand.String()
	}
	return "-" + e.Operand.String()
}

func (a *DatalogAtom) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		switch {
		case t.Var != nil:
			parts[i] = t.Var.Name
		case t.Const != nil:
			parts[i] = t.Const.Text
		case t.Arith != nil:
			parts[i] = t.Arith.String()
		}
	}
	return a.Relation.Name + "(" + strings.Join(parts, ",") + ")"
}

func (n *DatalogNegation) String() string { return "not " + n.Atom.String() }

func (c *DatalogCondition) String() string {
	return c.LHS.String() + " " + c.Op + " " + c.RHS.String()
}

func (eq *TensorEquation) String() string {
	var b strings.Builder
	b.WriteString(eq.LHS.String())
	b.WriteByte(' ')
	b.WriteString(eq.Projection)
	b.WriteByte(' ')
	for i, cl := range eq.Clauses {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(cl.Expr.String())
		if cl.Guard != nil {
			b.WriteString(" : ")
			b.WriteString(cl.Guard.String())
		}
	}
	return b.String()
}

func (fo *FileOperation) String() string {
	if fo.LHSIsTensor {
		return fo.Tensor.String() + " = \"" + fo.File.Text + "\""
	}
	return "\"" + fo.File.Text + "\" = " + fo.Tensor.String()
}

func (d *QueryDirective) String() string {
	parts := make([]string, len(d.Args))
	for i, a := range d.Args {
		var v string
		switch {
		case a.Number != nil:
			v = a.Number.Text
		case a.Str != nil:
			v = "\"" + a.Str.Text + "\""
		case a.Bool != nil:
			v = strconv.FormatBool(*a.Bool)
		}
		parts[i] = a.Name.Name + "=" + v
	}
	return "@" + d.Name.Name + "(" + strings.Join(parts, ",") + ")"
}

func (q *Query) String() string {
	var b strings.Builder
	if q.Tensor != nil {
		b.WriteString(q.Tensor.String())
	} else if len(q.Body) > 0 {
		for i, el := range q.Body {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(el.String())
		}
	} else if q.Atom != nil {
		b.WriteString(q.Atom.String())
	}
	b.WriteByte('?')
	if q.Directive != nil {
		b.WriteByte(' ')
		b.WriteString(q.Directive.String())
	}
	return b.String()
}

func (f *DatalogFact) String() string {
	parts := make([]string, len(f.Constants))
	for i, c := range f.Constants {
		parts[i] = c.Text
	}
	return f.Relation.Name + "(" + strings.Join(parts, ",") + ")"
}

func (r *DatalogRule) String() string {
	var b strings.Builder
	b.WriteString(r.Head.String())
	b.WriteString(" <- ")
	for i, el := range r.Body {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(el.String())
	}
	return b.String()
}
