// Package parser turns TL source into an ast.Program using recursive descent
// with explicit precedence climbing. Parse errors carry the source location of
// the offending token; no recovery is attempted.
package parser

import (
	"fmt"
	"os"
	"strconv"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/lexer"
)

// ParseError is a parse failure with its source location.
type ParseError struct {
	Loc lexer.SourceLocation
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, col %d: %s", e.Loc.Line, e.Loc.Column, e.Msg)
}

// Parse parses a whole TL program.
func Parse(src string) (prog *ast.Program, err error) {
	p := &parser{toks: lexer.NewTokenStream(src)}
	p.advance()
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*ParseError)
			if !ok {
				panic(r)
			}
			prog = nil
			err = pe
		}
	}()
	return p.parseProgram(), nil
}

// ParseFile reads and parses a TL source file.
func ParseFile(path string) (*ast.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: cannot open file %s: %w", path, err)
	}
	return Parse(string(data))
}

type parser struct {
	toks *lexer.TokenStream
	tok  lexer.Token
}

func (p *parser) advance() { p.tok = p.toks.Consume() }

func (p *parser) skipNewlines() {
	for p.tok.Type == lexer.Newline {
		p.advance()
	}
}

func (p *parser) errorHere(msg string) {
	panic(&ParseError{Loc: p.tok.Loc, Msg: msg})
}

func (p *parser) errorAt(loc lexer.SourceLocation, msg string) {
	panic(&ParseError{Loc: loc, Msg: msg})
}

func (p *parser) accept(t lexer.TokenType) bool {
	if p.tok.Type == t {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(t lexer.TokenType, what string) {
	if !p.accept(t) {
		p.errorHere("expected " + what)
	}
}

func (p *parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for p.tok.Type != lexer.EOF {
		if p.tok.Type == lexer.Newline {
			p.advance()
			continue
		}
		prog.Statements = append(prog.Statements, p.parseStatement())
		for p.tok.Type == lexer.Newline {
			p.advance()
		}
	}
	return prog
}

func (p *parser) parseIdentifier() ast.Identifier {
	if p.tok.Type != lexer.Identifier {
		p.errorHere("identifier expected")
	}
	id := ast.Identifier{Name: p.tok.Text, Loc: p.tok.Loc}
	p.advance()
	return id
}

func (p *parser) parseNumber() ast.NumberLiteral {
	if p.tok.Type != lexer.Integer && p.tok.Type != lexer.Float {
		p.errorHere("number expected")
	}
	n := ast.NumberLiteral{Text: p.tok.Text, Loc: p.tok.Loc}
	p.advance()
	return n
}

// parseSignedInt parses an integer literal with an optional leading minus,
// used for slice bounds and steps.
func (p *parser) parseSignedInt() ast.NumberLiteral {
	loc := p.tok.Loc
	neg := false
	if p.tok.Type == lexer.Minus {
		neg = true
		p.advance()
	}
	if p.tok.Type != lexer.Integer {
		p.errorHere("integer expected")
	}
	n := ast.NumberLiteral{Text: p.tok.Text, Loc: loc}
	if neg {
		n.Text = "-" + n.Text
	}
	p.advance()
	return n
}

func (p *parser) parseString() ast.StringLiteral {
	if p.tok.Type != lexer.String {
		p.errorHere("string expected")
	}
	s := ast.StringLiteral{Text: p.tok.Text, Loc: p.tok.Loc}
	p.advance()
	return s
}

func (p *parser) parseIndex() *ast.Index {
	idx := &ast.Index{Loc: p.tok.Loc}
	switch p.tok.Type {
	case lexer.Star:
		loc := p.tok.Loc
		p.advance()
		var id ast.Identifier
		switch p.tok.Type {
		case lexer.Identifier:
			id = p.parseIdentifier()
		case lexer.Integer:
			// *N form used by queries to address a virtual slot directly.
			num := p.parseNumber()
			id = ast.Identifier{Name: num.Text, Loc: num.Loc}
		default:
			p.errorHere("identifier or integer expected after '*' in virtual index")
		}
		offset := 0
		if p.tok.Type == lexer.Plus || p.tok.Type == lexer.Minus {
			neg := p.tok.Type == lexer.Minus
			p.advance()
			if p.tok.Type != lexer.Integer {
				p.errorHere("integer expected after sign in virtual index")
			}
			num := p.parseNumber()
			v, err := strconv.Atoi(num.Text)
			if err != nil {
				p.errorAt(num.Loc, "invalid virtual index offset")
			}
			if neg {
				v = -v
			}
			offset = v
		}
		idx.Virtual = &ast.VirtualIndex{Name: id, Offset: offset, Loc: loc}
		idx.Loc = loc
	case lexer.Identifier:
		id := p.parseIdentifier()
		// Composite name/divisor form used for pooling strides.
		if p.tok.Type == lexer.Slash {
			p.advance()
			if p.tok.Type != lexer.Integer {
				p.errorHere("expected integer after '/' in index expression")
			}
			div := p.parseNumber()
			id = ast.Identifier{Name: id.Name + "/" + div.Text, Loc: id.Loc}
		}
		idx.Ident = &id
		if p.tok.Type == lexer.Dot {
			p.advance()
			idx.Normalized = true
		}
	case lexer.Integer:
		num := p.parseNumber()
		idx.Number = &num
	default:
		p.errorHere("index (identifier, integer, or virtual index) expected")
	}
	return idx
}

func (p *parser) parseSlice() *ast.Slice {
	s := &ast.Slice{Loc: p.tok.Loc}

	if p.accept(lexer.Colon) {
		if p.accept(lexer.Colon) {
			step := p.parseSignedInt()
			s.Step = &step
			return s
		}
		if p.tok.Type == lexer.Integer || p.tok.Type == lexer.Minus {
			end := p.parseSignedInt()
			s.End = &end
			if p.accept(lexer.Colon) {
				step := p.parseSignedInt()
				s.Step = &step
			}
		}
		return s
	}

	start := p.parseSignedInt()
	s.Start = &start
	if p.accept(lexer.Colon) {
		if p.accept(lexer.Colon) {
			step := p.parseSignedInt()
			s.Step = &step
			return s
		}
		if p.tok.Type == lexer.Integer || p.tok.Type == lexer.Minus {
			end := p.parseSignedInt()
			s.End = &end
			if p.accept(lexer.Colon) {
				step := p.parseSignedInt()
				s.Step = &step
			}
		}
	}
	return s
}

func (p *parser) parseIndexOrSlice() ast.IndexOrSlice {
	// A leading colon, a signed bound, or an integer followed by a colon all
	// start a slice; anything else is an index.
	if p.tok.Type == lexer.Colon {
		return p.parseSlice()
	}
	if p.tok.Type == lexer.Minus && p.toks.Peek().Type == lexer.Integer {
		return p.parseSlice()
	}
	if p.tok.Type == lexer.Integer && p.toks.Peek().Type == lexer.Colon {
		return p.parseSlice()
	}
	return p.parseIndex()
}

func (p *parser) parseIndexOrSliceList() []ast.IndexOrSlice {
	v := []ast.IndexOrSlice{p.parseIndexOrSlice()}
	for p.accept(lexer.Comma) {
		v = append(v, p.parseIndexOrSlice())
	}
	return v
}

func (p *parser) parseTensorRef() ast.TensorRef {
	ref := ast.TensorRef{Loc: p.tok.Loc}
	ref.Name = p.parseIdentifier()
	if p.accept(lexer.LBracket) {
		if p.tok.Type != lexer.RBracket {
			ref.Indices = p.parseIndexOrSliceList()
		}
		p.expect(lexer.RBracket, "]")
	}
	return ref
}

// Expression grammar, precedence low to high:
// or, and, not, comparisons, +-, */% and juxtaposition, unary -, ^.

func (p *parser) parseExpr() ast.Expr {
	return p.parseOr()
}

func (p *parser) parseOr() ast.Expr {
	lhs := p.parseAnd()
	for p.tok.Type == lexer.KwOr {
		p.advance()
		rhs := p.parseAnd()
		lhs = &ast.BinaryExpr{Op: ast.OpOr, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *parser) parseAnd() ast.Expr {
	lhs := p.parseNot()
	for p.tok.Type == lexer.KwAnd {
		p.advance()
		rhs := p.parseNot()
		lhs = &ast.BinaryExpr{Op: ast.OpAnd, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *parser) parseNot() ast.Expr {
	if p.tok.Type == lexer.KwNot {
		loc := p.tok.Loc
		p.advance()
		return &ast.UnaryExpr{Op: ast.OpNot, Operand: p.parseNot(), OpLoc: loc}
	}
	return p.parseComparison()
}

var comparisonOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.Less:    ast.OpLt,
	lexer.Le:      ast.OpLe,
	lexer.Greater: ast.OpGt,
	lexer.Ge:      ast.OpGe,
	lexer.EqEq:    ast.OpEq,
	lexer.NotEq:   ast.OpNe,
}

func (p *parser) parseComparison() ast.Expr {
	p.skipNewlines()
	lhs := p.parseAddSub()
	if op, ok := comparisonOps[p.tok.Type]; ok {
		p.advance()
		p.skipNewlines()
		rhs := p.parseAddSub()
		return &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *parser) parseAddSub() ast.Expr {
	lhs := p.parseTerm()
	for {
		// Newlines before an operator allow multi-line continuation; if no
		// operator follows, the statement loop tolerates the consumed break.
		p.skipNewlines()
		switch p.tok.Type {
		case lexer.Plus:
			p.advance()
			p.skipNewlines()
			lhs = &ast.BinaryExpr{Op: ast.OpAdd, LHS: lhs, RHS: p.parseTerm()}
		case lexer.Minus:
			p.advance()
			p.skipNewlines()
			lhs = &ast.BinaryExpr{Op: ast.OpSub, LHS: lhs, RHS: p.parseTerm()}
		default:
			return lhs
		}
	}
}

func startsPrimary(t lexer.TokenType) bool {
	// String is excluded so a following file path never becomes a factor.
	return t == lexer.Identifier || t == lexer.Integer || t == lexer.Float || t == lexer.LParen
}

func (p *parser) parseTerm() ast.Expr {
	lhs := p.parseUnary()
	for {
		switch {
		case p.tok.Type == lexer.Star:
			p.advance()
			lhs = &ast.BinaryExpr{Op: ast.OpMul, LHS: lhs, RHS: p.parseUnary()}
		case p.tok.Type == lexer.Slash:
			p.advance()
			lhs = &ast.BinaryExpr{Op: ast.OpDiv, LHS: lhs, RHS: p.parseUnary()}
		case p.tok.Type == lexer.Percent:
			p.advance()
			lhs = &ast.BinaryExpr{Op: ast.OpMod, LHS: lhs, RHS: p.parseUnary()}
		case startsPrimary(p.tok.Type):
			// Juxtaposition is implicit multiplication.
			lhs = &ast.BinaryExpr{Op: ast.OpMul, LHS: lhs, RHS: p.parseUnary()}
		default:
			return lhs
		}
	}
}

func (p *parser) parseUnary() ast.Expr {
	if p.tok.Type == lexer.Minus {
		loc := p.tok.Loc
		p.advance()
		return &ast.UnaryExpr{Op: ast.OpNeg, Operand: p.parseUnary(), OpLoc: loc}
	}
	return p.parsePower()
}

func (p *parser) parsePower() ast.Expr {
	lhs := p.parsePrimary()
	if p.tok.Type == lexer.Caret {
		p.advance()
		// Right-associative; the recursion through parseUnary also admits a
		// negative exponent.
		rhs := p.parseUnary()
		return &ast.BinaryExpr{Op: ast.OpPow, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *parser) parsePrimary() ast.Expr {
	switch p.tok.Type {
	case lexer.LParen:
		p.advance()
		inner := p.parseExpr()
		p.expect(lexer.RParen, ")")
		return &ast.ParenExpr{Inner: inner}
	case lexer.LBracket:
		loc := p.tok.Loc
		p.advance()
		var elems []ast.Expr
		if p.tok.Type != lexer.RBracket {
			elems = append(elems, p.parseExpr())
			for p.accept(lexer.Comma) {
				p.skipNewlines()
				elems = append(elems, p.parseExpr())
			}
		}
		p.expect(lexer.RBracket, "]")
		return &ast.ListExpr{Elems: elems, ListLoc: loc}
	case lexer.Integer, lexer.Float:
		num := p.parseNumber()
		return &ast.NumberExpr{Lit: num}
	case lexer.String:
		s := p.parseString()
		return &ast.StringExpr{Lit: s}
	case lexer.Identifier:
		id := p.parseIdentifier()
		if p.tok.Type == lexer.LParen {
			p.advance()
			var args []ast.Expr
			if p.tok.Type != lexer.RParen {
				args = append(args, p.parseExpr())
				for p.accept(lexer.Comma) {
					args = append(args, p.parseExpr())
				}
			}
			p.expect(lexer.RParen, ")")
			return &ast.CallExpr{Func: id, Args: args}
		}
		ref := ast.TensorRef{Name: id, Loc: id.Loc}
		if p.accept(lexer.LBracket) {
			if p.tok.Type != lexer.RBracket {
				ref.Indices = p.parseIndexOrSliceList()
			}
			p.expect(lexer.RBracket, "]")
		}
		return &ast.RefExpr{Ref: ref}
	}
	p.errorHere("expression expected")
	return nil
}

// Datalog parsing.

func (p *parser) parseLowercaseIdentifier() ast.Identifier {
	if p.tok.Type != lexer.Identifier || !(ast.Identifier{Name: p.tok.Text}).IsLower() {
		p.errorHere("lowercase identifier expected")
	}
	return p.parseIdentifier()
}

func arithContinues(t lexer.TokenType) bool {
	switch t {
	case lexer.Plus, lexer.Minus, lexer.Star, lexer.Slash, lexer.Percent:
		return true
	}
	return false
}

func (p *parser) parseDatalogTerm() ast.DatalogTerm {
	switch {
	case p.tok.Type == lexer.String:
		s := p.parseString()
		return ast.DatalogTerm{Const: &s}
	case p.tok.Type == lexer.Integer || p.tok.Type == lexer.Float:
		num := p.parseNumber()
		if arithContinues(p.tok.Type) {
			expr := p.parseDatalogArithFrom(&ast.NumberExpr{Lit: num})
			return ast.DatalogTerm{Arith: expr}
		}
		// Numeric constants are stored by their lexeme text.
		return ast.DatalogTerm{Const: &ast.StringLiteral{Text: num.Text, Loc: num.Loc}}
	case p.tok.Type == lexer.Identifier:
		id := ast.Identifier{Name: p.tok.Text, Loc: p.tok.Loc}
		if id.IsUpper() {
			p.advance()
			return ast.DatalogTerm{Const: &ast.StringLiteral{Text: id.Name, Loc: id.Loc}}
		}
		v := p.parseLowercaseIdentifier()
		if arithContinues(p.tok.Type) {
			lhs := &ast.RefExpr{Ref: ast.TensorRef{Name: v, Loc: v.Loc}}
			expr := p.parseDatalogArithFrom(lhs)
			return ast.DatalogTerm{Arith: expr}
		}
		return ast.DatalogTerm{Var: &v}
	case p.tok.Type == lexer.LParen:
		p.advance()
		inner := p.parseExpr()
		p.expect(lexer.RParen, ")")
		if arithContinues(p.tok.Type) {
			inner = p.parseDatalogArithFrom(inner)
		}
		return ast.DatalogTerm{Arith: inner}
	}
	p.errorHere("datalog term expected (variable, constant, or arithmetic expression)")
	return ast.DatalogTerm{}
}

// parseDatalogArithFrom continues an arithmetic head/condition expression from
// an already-parsed left operand, honoring */% over +-.
func (p *parser) parseDatalogArithFrom(lhs ast.Expr) ast.Expr {
	lhs = p.parseDatalogMulDiv(lhs)
	for p.tok.Type == lexer.Plus || p.tok.Type == lexer.Minus {
		op := ast.OpAdd
		if p.tok.Type == lexer.Minus {
			op = ast.OpSub
		}
		p.advance()
		rhs := p.parseDatalogMulDiv(p.parseDatalogPrimary())
		lhs = &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *parser) parseDatalogMulDiv(lhs ast.Expr) ast.Expr {
	for arith := p.tok.Type; arith == lexer.Star || arith == lexer.Slash || arith == lexer.Percent; arith = p.tok.Type {
		var op ast.BinaryOp
		switch arith {
		case lexer.Star:
			op = ast.OpMul
		case lexer.Slash:
			op = ast.OpDiv
		default:
			op = ast.OpMod
		}
		p.advance()
		rhs := p.parseDatalogPrimary()
		lhs = &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *parser) parseDatalogPrimary() ast.Expr {
	switch p.tok.Type {
	case lexer.Integer, lexer.Float:
		num := p.parseNumber()
		return &ast.NumberExpr{Lit: num}
	case lexer.LParen:
		p.advance()
		inner := p.parseExpr()
		p.expect(lexer.RParen, ")")
		return inner
	case lexer.Identifier:
		if (ast.Identifier{Name: p.tok.Text}).IsLower() {
			id := p.parseLowercaseIdentifier()
			return &ast.RefExpr{Ref: ast.TensorRef{Name: id, Loc: id.Loc}}
		}
	}
	p.errorHere("arithmetic primary expected (number, variable, or parenthesized expression)")
	return nil
}

func (p *parser) parseDatalogTermList() []ast.DatalogTerm {
	v := []ast.DatalogTerm{p.parseDatalogTerm()}
	for p.accept(lexer.Comma) {
		v = append(v, p.parseDatalogTerm())
	}
	return v
}

func (p *parser) parseAtom() *ast.DatalogAtom {
	if p.tok.Type != lexer.Identifier || !(ast.Identifier{Name: p.tok.Text}).IsUpper() {
		p.errorHere("relation (uppercase identifier) expected")
	}
	rel := p.parseIdentifier()
	p.expect(lexer.LParen, "(")
	var terms []ast.DatalogTerm
	if p.tok.Type != lexer.RParen {
		terms = p.parseDatalogTermList()
	}
	p.expect(lexer.RParen, ")")
	return &ast.DatalogAtom{Relation: rel, Terms: terms, Loc: rel.Loc}
}

func allConstants(a *ast.DatalogAtom) bool {
	for _, t := range a.Terms {
		if t.Const != nil {
			continue
		}
		if num, ok := t.Arith.(*ast.NumberExpr); ok && num != nil {
			continue
		}
		return false
	}
	return true
}

func atomToFact(a *ast.DatalogAtom) *ast.DatalogFact {
	f := &ast.DatalogFact{Relation: a.Relation, FactLoc: a.Loc}
	for _, t := range a.Terms {
		switch {
		case t.Const != nil:
			f.Constants = append(f.Constants, *t.Const)
		case t.Var != nil:
			f.Constants = append(f.Constants, ast.StringLiteral{Text: t.Var.Name, Loc: t.Var.Loc})
		default:
			num := t.Arith.(*ast.NumberExpr)
			f.Constants = append(f.Constants, ast.StringLiteral{Text: num.Lit.Text, Loc: num.Lit.Loc})
		}
	}
	return f
}

func (p *parser) acceptComparisonOp() (string, bool) {
	ops := map[lexer.TokenType]string{
		lexer.Ge: ">=", lexer.Le: "<=", lexer.EqEq: "==",
		lexer.NotEq: "!=", lexer.Greater: ">", lexer.Less: "<",
	}
	if s, ok := ops[p.tok.Type]; ok {
		p.advance()
		return s, true
	}
	return "", false
}

func (p *parser) parseComparisonCondition() *ast.DatalogCondition {
	lhs := p.parseAddSub()
	op, ok := p.acceptComparisonOp()
	if !ok {
		p.errorHere("comparison operator expected (>, <, >=, <=, ==, !=)")
	}
	rhs := p.parseAddSub()
	return &ast.DatalogCondition{LHS: lhs, Op: op, RHS: rhs, Loc: lhs.Loc()}
}

func (p *parser) parseRuleBodyElement() ast.BodyElement {
	p.skipNewlines()
	if p.tok.Type == lexer.KwNot || p.tok.Type == lexer.Bang {
		loc := p.tok.Loc
		p.advance()
		p.skipNewlines()
		atom := p.parseAtom()
		return &ast.DatalogNegation{Atom: *atom, Loc: loc}
	}
	if p.tok.Type == lexer.Identifier && (ast.Identifier{Name: p.tok.Text}).IsUpper() && p.toks.Peek().Type == lexer.LParen {
		return p.parseAtom()
	}
	return p.parseComparisonCondition()
}

// validateRuleSafety requires every variable used in the head to be bound by a
// positive body atom.
func (p *parser) validateRuleSafety(r *ast.DatalogRule) {
	bound := map[string]bool{}
	for _, el := range r.Body {
		if atom, ok := el.(*ast.DatalogAtom); ok {
			for _, t := range atom.Terms {
				if t.Var != nil {
					bound[t.Var.Name] = true
				}
			}
		}
	}
	var check func(e ast.Expr)
	check = func(e ast.Expr) {
		switch n := e.(type) {
		case *ast.RefExpr:
			if len(n.Ref.Indices) == 0 && n.Ref.Name.IsLower() && !bound[n.Ref.Name.Name] {
				p.errorAt(n.Ref.Loc, fmt.Sprintf("variable '%s' in rule head is not bound by the body", n.Ref.Name.Name))
			}
		case *ast.BinaryExpr:
			check(n.LHS)
			check(n.RHS)
		case *ast.UnaryExpr:
			check(n.Operand)
		case *ast.ParenExpr:
			check(n.Inner)
		}
	}
	for _, t := range r.Head.Terms {
		if t.Var != nil && !bound[t.Var.Name] {
			p.errorAt(t.Var.Loc, fmt.Sprintf("variable '%s' in rule head is not bound by the body", t.Var.Name))
		}
		if t.Arith != nil {
			check(t.Arith)
		}
	}
}

// Directive arguments: keys must be recognized and values must match the
// declared shape.

type directiveArgKind int

const (
	argNumber directiveArgKind = iota
	argInt
	argBool
)

var directiveArgShapes = map[string]directiveArgKind{
	"lr":            argNumber,
	"learning_rate": argNumber,
	"epochs":        argInt,
	"n":             argInt,
	"samples":       argInt,
	"verbose":       argBool,
}

func (p *parser) parseDirectiveArg() ast.DirectiveArg {
	arg := ast.DirectiveArg{}
	arg.Name = p.parseIdentifier()
	arg.Loc = arg.Name.Loc
	p.expect(lexer.Equals, "= in directive argument")

	switch p.tok.Type {
	case lexer.Integer, lexer.Float:
		num := p.parseNumber()
		arg.Number = &num
	case lexer.String:
		s := p.parseString()
		arg.Str = &s
	case lexer.KwTrue:
		p.advance()
		v := true
		arg.Bool = &v
	case lexer.KwFalse:
		p.advance()
		v := false
		arg.Bool = &v
	default:
		p.errorHere("expected number, string, or boolean for directive argument value")
	}

	kind, ok := directiveArgShapes[arg.Name.Name]
	if !ok {
		p.errorAt(arg.Loc, fmt.Sprintf("unknown directive argument '%s'", arg.Name.Name))
	}
	switch kind {
	case argNumber:
		if arg.Number == nil {
			p.errorAt(arg.Loc, fmt.Sprintf("directive argument '%s' expects a number", arg.Name.Name))
		}
	case argInt:
		if arg.Number == nil {
			p.errorAt(arg.Loc, fmt.Sprintf("directive argument '%s' expects an integer", arg.Name.Name))
		} else if _, err := strconv.Atoi(arg.Number.Text); err != nil {
			p.errorAt(arg.Loc, fmt.Sprintf("directive argument '%s' expects an integer", arg.Name.Name))
		}
	case argBool:
		if arg.Bool == nil {
			p.errorAt(arg.Loc, fmt.Sprintf("directive argument '%s' expects a boolean", arg.Name.Name))
		}
	}
	return arg
}

func (p *parser) parseQueryDirective() *ast.QueryDirective {
	if !p.accept(lexer.At) {
		return nil
	}
	dir := &ast.QueryDirective{Loc: p.tok.Loc}
	dir.Name = p.parseIdentifier()
	p.expect(lexer.LParen, "( after directive name")
	if p.tok.Type != lexer.RParen {
		dir.Args = append(dir.Args, p.parseDirectiveArg())
		for p.accept(lexer.Comma) {
			dir.Args = append(dir.Args, p.parseDirectiveArg())
		}
	}
	p.expect(lexer.RParen, ") to close directive")
	return dir
}

// validateNormalizedIndices enforces: at most one normalized index per LHS,
// and only on a lowercase named index.
func (p *parser) validateNormalizedIndices(eq *ast.TensorEquation) {
	count := 0
	for _, ios := range eq.LHS.Indices {
		idx, ok := ios.(*ast.Index)
		if !ok || !idx.Normalized {
			continue
		}
		count++
		if idx.Ident == nil || !idx.Ident.IsLower() {
			p.errorAt(idx.Loc, "normalized index must be a free variable (lowercase identifier)")
		}
	}
	if count > 1 {
		p.errorAt(eq.EqLoc, "only one index can be normalized per equation")
	}
}

func (p *parser) validateVirtualLHS(eq *ast.TensorEquation) {
	count := 0
	for _, ios := range eq.LHS.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Virtual != nil {
			count++
		}
	}
	if count > 1 {
		p.errorAt(eq.EqLoc, "multiple virtual indices on LHS are not supported")
	}
}

func (p *parser) parseGuardedClause() ast.GuardedClause {
	p.skipNewlines()
	clause := ast.GuardedClause{}
	clause.Expr = p.parseExpr()
	clause.Loc = clause.Expr.Loc()
	if p.accept(lexer.Colon) {
		p.skipNewlines()
		clause.Guard = p.parseExpr()
	}
	return clause
}

func (p *parser) parseFileLiteral() ast.StringLiteral {
	id := p.parseIdentifier()
	if id.Name != "file" {
		p.errorAt(id.Loc, "expected file(")
	}
	p.expect(lexer.LParen, "(")
	s := p.parseString()
	p.expect(lexer.RParen, ")")
	return s
}

func (p *parser) parseStatement() ast.Statement {
	// Datalog atom at statement start: uppercase identifier followed by '('.
	if p.tok.Type == lexer.Identifier && p.tok.Text != "file" &&
		(ast.Identifier{Name: p.tok.Text}).IsUpper() && p.toks.Peek().Type == lexer.LParen {
		head := p.parseAtom()
		if p.accept(lexer.Question) {
			q := &ast.Query{Atom: head, QueryLoc: head.Loc}
			q.Directive = p.parseQueryDirective()
			return q
		}
		if p.accept(lexer.LArrow) {
			body := []ast.BodyElement{p.parseRuleBodyElement()}
			for p.accept(lexer.Comma) {
				body = append(body, p.parseRuleBodyElement())
			}
			r := &ast.DatalogRule{Head: *head, Body: body, RuleLoc: head.Loc}
			p.validateRuleSafety(r)
			return r
		}
		if p.tok.Type == lexer.Comma {
			conj := []ast.BodyElement{head}
			for p.accept(lexer.Comma) {
				conj = append(conj, p.parseRuleBodyElement())
			}
			p.expect(lexer.Question, "'?' to end query")
			q := &ast.Query{Atom: head, Body: conj, QueryLoc: head.Loc}
			q.Directive = p.parseQueryDirective()
			return q
		}
		if allConstants(head) {
			return atomToFact(head)
		}
		p.errorHere("expected '<-' to form a rule, constants-only fact, or '?' for query")
	}

	// File operations writing a tensor: file("p") = X or "p" = X.
	if p.tok.Type == lexer.Identifier && p.tok.Text == "file" && p.toks.Peek().Type == lexer.LParen {
		fileLit := p.parseFileLiteral()
		p.expect(lexer.Equals, "=")
		tr := p.parseTensorRef()
		return &ast.FileOperation{LHSIsTensor: false, Tensor: tr, File: fileLit, OpLoc: fileLit.Loc}
	}
	if p.tok.Type == lexer.String {
		s := p.parseString()
		p.expect(lexer.Equals, "=")
		tr := p.parseTensorRef()
		return &ast.FileOperation{LHSIsTensor: false, Tensor: tr, File: s, OpLoc: s.Loc}
	}

	// Tensor equation, tensor query, or tensor-load file operation.
	lhs := p.parseTensorRef()
	if p.accept(lexer.Question) {
		q := &ast.Query{Tensor: &lhs, QueryLoc: lhs.Loc}
		q.Directive = p.parseQueryDirective()
		return q
	}

	proj := "="
	switch {
	case p.tok.Type == lexer.Plus:
		p.advance()
		p.expect(lexer.Equals, "=")
		proj = "+="
	case p.tok.Type == lexer.Identifier && (p.tok.Text == "avg" || p.tok.Text == "max" || p.tok.Text == "min"):
		op := p.tok.Text
		p.advance()
		p.expect(lexer.Equals, "=")
		proj = op + "="
	default:
		p.expect(lexer.Equals, "projection '='")
	}

	if (p.tok.Type == lexer.Identifier && p.tok.Text == "file" && p.toks.Peek().Type == lexer.LParen) || p.tok.Type == lexer.String {
		var s ast.StringLiteral
		if p.tok.Type == lexer.String {
			s = p.parseString()
		} else {
			s = p.parseFileLiteral()
		}
		return &ast.FileOperation{LHSIsTensor: true, Tensor: lhs, File: s, OpLoc: s.Loc}
	}

	eq := &ast.TensorEquation{LHS: lhs, Projection: proj, EqLoc: lhs.Loc}
	eq.Clauses = append(eq.Clauses, p.parseGuardedClause())
	p.skipNewlines()
	for p.accept(lexer.Pipe) {
		eq.Clauses = append(eq.Clauses, p.parseGuardedClause())
		p.skipNewlines()
	}
	if proj != "=" && (len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil) {
		p.errorAt(eq.EqLoc, "projection '"+proj+"' takes exactly one unguarded clause")
	}
	p.validateNormalizedIndices(eq)
	p.validateVirtualLHS(eq)
	return eq
}
