// Package ast defines the typed syntax tree produced by the parser. Nodes are
// immutable after parsing: downstream passes construct new values instead of
// mutating inputs.
package ast

import (
	"strconv"

	"github.com/itohio/tensorlang/pkg/lexer"
)

type SourceLocation = lexer.SourceLocation

// Identifier is a lexical name. Lowercase-initial identifiers denote index or
// Datalog variables; uppercase-initial identifiers denote tensor names,
// relation names, or Datalog constants depending on position.
type Identifier struct {
	Name string
	Loc  SourceLocation
}

// IsLower reports whether the identifier starts with a lowercase letter.
func (id Identifier) IsLower() bool {
	return id.Name != "" && id.Name[0] >= 'a' && id.Name[0] <= 'z'
}

// IsUpper reports whether the identifier starts with an uppercase letter.
func (id Identifier) IsUpper() bool {
	return id.Name != "" && id.Name[0] >= 'A' && id.Name[0] <= 'Z'
}

// NumberLiteral keeps the original lexeme; numeric conversion happens at the
// point of use.
type NumberLiteral struct {
	Text string
	Loc  SourceLocation
}

// Value parses the lexeme as a float.
func (n NumberLiteral) Value() (float64, error) {
	return strconv.ParseFloat(n.Text, 64)
}

// Int parses the lexeme as an integer, truncating a float lexeme.
func (n NumberLiteral) Int() (int, error) {
	if v, err := strconv.Atoi(n.Text); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(n.Text, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

type StringLiteral struct {
	Text string
	Loc  SourceLocation
}

// VirtualIndex is a timestep reference *name+offset on a logical time axis.
type VirtualIndex struct {
	Name   Identifier
	Offset int
	Loc    SourceLocation
}

// Index is one of three variants (named, numeric, virtual); exactly one of
// Ident, Number, Virtual is non-nil. Named indices may carry a composite
// "name/divisor" form used for pooling strides, and a trailing-dot
// normalization marker.
type Index struct {
	Ident      *Identifier
	Number     *NumberLiteral
	Virtual    *VirtualIndex
	Normalized bool
	Loc        SourceLocation
}

func (ix *Index) iosNode() {}

// Slice is a start:end:step range with Python half-open semantics. Any field
// may be nil; bounds may be negative.
type Slice struct {
	Start *NumberLiteral
	End   *NumberLiteral
	Step  *NumberLiteral
	Loc   SourceLocation
}

func (s *Slice) iosNode() {}

// IndexOrSlice is either *Index or *Slice, used uniformly on both sides of an
// equation.
type IndexOrSlice interface {
	iosNode()
	String() string
}

// TensorRef names a tensor with an optional index list. Empty Indices denotes
// a scalar reference.
type TensorRef struct {
	Name    Identifier
	Indices []IndexOrSlice
	Loc     SourceLocation
}

// BinaryOp enumerates binary operators in the full expression grammar.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe
	OpAnd
	OpOr
)

type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
)

// Expr is the expression sum type.
type Expr interface {
	exprNode()
	Loc() SourceLocation
	String() string
}

type RefExpr struct {
	Ref TensorRef
}

type NumberExpr struct {
	Lit NumberLiteral
}

type StringExpr struct {
	Lit StringLiteral
}

// ListExpr is a rectangular nested list literal; leaves must be scalar
// expressions.
type ListExpr struct {
	Elems   []Expr
	ListLoc SourceLocation
}

type ParenExpr struct {
	Inner Expr
}

type CallExpr struct {
	Func Identifier
	Args []Expr
}

type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
	OpLoc   SourceLocation
}

func (*RefExpr) exprNode()    {}
func (*NumberExpr) exprNode() {}
func (*StringExpr) exprNode() {}
func (*ListExpr) exprNode()   {}
func (*ParenExpr) exprNode()  {}
func (*CallExpr) exprNode()   {}
func (*BinaryExpr) exprNode() {}
func (*UnaryExpr) exprNode()  {}

func (e *RefExpr) Loc() SourceLocation    { return e.Ref.Loc }
func (e *NumberExpr) Loc() SourceLocation { return e.Lit.Loc }
func (e *StringExpr) Loc() SourceLocation { return e.Lit.Loc }
func (e *ListExpr) Loc() SourceLocation   { return e.ListLoc }
func (e *ParenExpr) Loc() SourceLocation  { return e.Inner.Loc() }
func (e *CallExpr) Loc() SourceLocation   { return e.Func.Loc }
func (e *BinaryExpr) Loc() SourceLocation { return e.LHS.Loc() }
func (e *UnaryExpr) Loc() SourceLocation  { return e.OpLoc }

// GuardedClause pairs an expression with an optional elementwise boolean
// guard.
type GuardedClause struct {
	Expr  Expr
	Guard Expr // nil when unguarded
	Loc   SourceLocation
}

// TensorEquation is lhs proj clause | clause | ... At most one LHS index may
// be normalized; non-"=" projections carry exactly one unguarded clause.
type TensorEquation struct {
	LHS        TensorRef
	Projection string // "=", "+=", "avg=", "max=", "min="
	Clauses    []GuardedClause
	EqLoc      SourceLocation
}

// DatalogTerm is a variable, a constant, or (in rule heads and conditions) an
// arithmetic expression; exactly one field is non-nil.
type DatalogTerm struct {
	Var   *Identifier
	Const *StringLiteral
	Arith Expr
}

type DatalogAtom struct {
	Relation Identifier
	Terms    []DatalogTerm
	Loc      SourceLocation
}

// DatalogFact is an atom whose terms are all constants.
type DatalogFact struct {
	Relation  Identifier
	Constants []StringLiteral
	FactLoc   SourceLocation
}

type DatalogNegation struct {
	Atom DatalogAtom
	Loc  SourceLocation
}

// DatalogCondition compares two arithmetic expressions.
type DatalogCondition struct {
	LHS Expr
	Op  string // "<" "<=" ">" ">=" "==" "!="
	RHS Expr
	Loc SourceLocation
}

// BodyElement is an atom, a negated atom, or a comparison condition in a rule
// body or conjunctive query.
type BodyElement interface {
	bodyNode()
	String() string
}

func (*DatalogAtom) bodyNode()      {}
func (*DatalogNegation) bodyNode()  {}
func (*DatalogCondition) bodyNode() {}

// DirectiveArg is a name=value pair inside a query directive.
type DirectiveArg struct {
	Name   Identifier
	Number *NumberLiteral
	Str    *StringLiteral
	Bool   *bool
	Loc    SourceLocation
}

// QueryDirective is the @name(args...) suffix of a query.
type QueryDirective struct {
	Name Identifier
	Args []DirectiveArg
	Loc  SourceLocation
}

// Query targets either a tensor reference or a Datalog atom, optionally with a
// conjunctive body and a learning directive.
type Query struct {
	Tensor    *TensorRef
	Atom      *DatalogAtom
	Body      []BodyElement
	Directive *QueryDirective
	QueryLoc  SourceLocation
}

// FileOperation reads a tensor from a file (LHSIsTensor) or writes one to it.
type FileOperation struct {
	LHSIsTensor bool
	Tensor      TensorRef
	File        StringLiteral
	OpLoc       SourceLocation
}

// Statement is the statement sum type.
type Statement interface {
	stmtNode()
	String() string
}

func (*TensorEquation) stmtNode() {}
func (*FileOperation) stmtNode()  {}
func (*Query) stmtNode()          {}
func (*DatalogFact) stmtNode()    {}
func (*DatalogRule) stmtNode()    {}

type DatalogRule struct {
	Head    DatalogAtom
	Body    []BodyElement
	RuleLoc SourceLocation
}

// Program is an ordered statement sequence; order is semantically significant.
type Program struct {
	Statements []Statement
}
