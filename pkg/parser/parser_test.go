package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tensorlang/pkg/ast"
)

func parseOne(t *testing.T, src string) ast.Statement {
	t.Helper()
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Statements, 1)
	return prog.Statements[0]
}

func TestParseTensorEquation(t *testing.T) {
	st := parseOne(t, "C[i,k] = A[i,j] B[j,k]")
	eq, ok := st.(*ast.TensorEquation)
	require.True(t, ok)
	assert.Equal(t, "C", eq.LHS.Name.Name)
	assert.Equal(t, "=", eq.Projection)
	require.Len(t, eq.Clauses, 1)

	bin, ok := eq.Clauses[0].Expr.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.OpMul, bin.Op)
}

func TestParseProjections(t *testing.T) {
	tests := []struct {
		src  string
		proj string
	}{
		{"Y[i] += X[i]", "+="},
		{"Y[i/2] avg= X[i]", "avg="},
		{"Y[i/2] max= X[i]", "max="},
		{"Y[i/2] min= X[i]", "min="},
	}
	for _, tt := range tests {
		t.Run(tt.proj, func(t *testing.T) {
			eq, ok := parseOne(t, tt.src).(*ast.TensorEquation)
			require.True(t, ok)
			assert.Equal(t, tt.proj, eq.Projection)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	eq := parseOne(t, "y = 1 + 2 * 3 ^ 2").(*ast.TensorEquation)
	// 1 + (2 * (3 ^ 2))
	add, ok := eq.Clauses[0].Expr.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, ast.OpAdd, add.Op)
	mul, ok := add.RHS.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, ast.OpMul, mul.Op)
	pow, ok := mul.RHS.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.OpPow, pow.Op)
}

func TestPowerRightAssociative(t *testing.T) {
	eq := parseOne(t, "y = 2 ^ 3 ^ 2").(*ast.TensorEquation)
	pow := eq.Clauses[0].Expr.(*ast.BinaryExpr)
	require.Equal(t, ast.OpPow, pow.Op)
	inner, ok := pow.RHS.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.OpPow, inner.Op)
}

func TestJuxtapositionIsMultiplication(t *testing.T) {
	eq := parseOne(t, "y = 2 x").(*ast.TensorEquation)
	bin := eq.Clauses[0].Expr.(*ast.BinaryExpr)
	assert.Equal(t, ast.OpMul, bin.Op)
}

func TestGuardedClauses(t *testing.T) {
	src := "Y[i] = X[i] X[i] : X[i] < 0 | 0 : X[i] == 0 | sqrt(X[i]) : X[i] > 0 and X[i] <= 4 | 2 X[i]"
	eq := parseOne(t, src).(*ast.TensorEquation)
	require.Len(t, eq.Clauses, 4)
	assert.NotNil(t, eq.Clauses[0].Guard)
	assert.NotNil(t, eq.Clauses[2].Guard)
	assert.Nil(t, eq.Clauses[3].Guard)

	and, ok := eq.Clauses[2].Guard.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.OpAnd, and.Op)
}

func TestNormalizedIndex(t *testing.T) {
	eq := parseOne(t, "A[q, k.] = Scores[q,k]").(*ast.TensorEquation)
	idx, ok := eq.LHS.Indices[1].(*ast.Index)
	require.True(t, ok)
	assert.True(t, idx.Normalized)

	_, err := Parse("A[q., k.] = S[q,k]")
	assert.Error(t, err)

	_, err = Parse("A[Q.] = S[q]")
	assert.Error(t, err)
}

func TestVirtualIndices(t *testing.T) {
	eq := parseOne(t, "avg[*t+1] = avg[*t] + data[t]").(*ast.TensorEquation)
	idx := eq.LHS.Indices[0].(*ast.Index)
	require.NotNil(t, idx.Virtual)
	assert.Equal(t, "t", idx.Virtual.Name.Name)
	assert.Equal(t, 1, idx.Virtual.Offset)

	_, err := Parse("H[*t+1, *u+1] = H[*t]")
	assert.Error(t, err)
}

func TestVirtualSlotQuery(t *testing.T) {
	q := parseOne(t, "avg[*0]?").(*ast.Query)
	require.NotNil(t, q.Tensor)
	idx := q.Tensor.Indices[0].(*ast.Index)
	require.NotNil(t, idx.Virtual)
	assert.Equal(t, "0", idx.Virtual.Name.Name)
}

func TestSlices(t *testing.T) {
	eq := parseOne(t, "Y = X[1:3, :, ::2, -2:]").(*ast.TensorEquation)
	ref := eq.Clauses[0].Expr.(*ast.RefExpr)
	require.Len(t, ref.Ref.Indices, 4)

	s0 := ref.Ref.Indices[0].(*ast.Slice)
	assert.Equal(t, "1", s0.Start.Text)
	assert.Equal(t, "3", s0.End.Text)

	s1 := ref.Ref.Indices[1].(*ast.Slice)
	assert.Nil(t, s1.Start)
	assert.Nil(t, s1.End)

	s2 := ref.Ref.Indices[2].(*ast.Slice)
	assert.Equal(t, "2", s2.Step.Text)

	s3 := ref.Ref.Indices[3].(*ast.Slice)
	assert.Equal(t, "-2", s3.Start.Text)
}

func TestDatalogFact(t *testing.T) {
	f := parseOne(t, "Parent(Alice, Bob)").(*ast.DatalogFact)
	assert.Equal(t, "Parent", f.Relation.Name)
	require.Len(t, f.Constants, 2)
	assert.Equal(t, "Alice", f.Constants[0].Text)
	assert.Equal(t, "Bob", f.Constants[1].Text)
}

func TestDatalogNumericFact(t *testing.T) {
	f := parseOne(t, "Age(Alice, 42)").(*ast.DatalogFact)
	assert.Equal(t, "42", f.Constants[1].Text)
}

func TestDatalogRule(t *testing.T) {
	r := parseOne(t, "Ancestor(x,z) <- Ancestor(x,y), Parent(y,z)").(*ast.DatalogRule)
	assert.Equal(t, "Ancestor", r.Head.Relation.Name)
	require.Len(t, r.Body, 2)
}

func TestDatalogRuleWithNegationAndCondition(t *testing.T) {
	r := parseOne(t, "Adult(x) <- Person(x, a), not Minor(x), a >= 18").(*ast.DatalogRule)
	require.Len(t, r.Body, 3)
	_, ok := r.Body[1].(*ast.DatalogNegation)
	assert.True(t, ok)
	cond, ok := r.Body[2].(*ast.DatalogCondition)
	require.True(t, ok)
	assert.Equal(t, ">=", cond.Op)
}

func TestDatalogArithmeticHead(t *testing.T) {
	r := parseOne(t, "Double(x, x * 2) <- Value(x)").(*ast.DatalogRule)
	require.Len(t, r.Head.Terms, 2)
	assert.NotNil(t, r.Head.Terms[1].Arith)
}

func TestRuleSafety(t *testing.T) {
	_, err := Parse("Bad(x, y) <- Known(x)")
	assert.Error(t, err)

	_, err = Parse("Bad(x, y + 1) <- Known(x)")
	assert.Error(t, err)
}

func TestDatalogQueries(t *testing.T) {
	q := parseOne(t, "Ancestor(x, y)?").(*ast.Query)
	require.NotNil(t, q.Atom)
	assert.Nil(t, q.Body)

	q = parseOne(t, "Parent(x, y), not Ancestor(y, x), x != y?").(*ast.Query)
	require.NotNil(t, q.Atom)
	assert.Len(t, q.Body, 3)
}

func TestQueryDirective(t *testing.T) {
	q := parseOne(t, "loss? @minimize(lr=0.1, epochs=100, verbose=true)").(*ast.Query)
	require.NotNil(t, q.Directive)
	assert.Equal(t, "minimize", q.Directive.Name.Name)
	require.Len(t, q.Directive.Args, 3)
	assert.Equal(t, "0.1", q.Directive.Args[0].Number.Text)
	assert.Equal(t, true, *q.Directive.Args[2].Bool)
}

func TestQueryDirectiveValidation(t *testing.T) {
	_, err := Parse("loss? @minimize(bogus=1)")
	assert.Error(t, err)

	_, err = Parse("loss? @minimize(lr=true)")
	assert.Error(t, err)

	_, err = Parse("loss? @minimize(epochs=1.5)")
	assert.Error(t, err)
}

func TestFileOperations(t *testing.T) {
	fo := parseOne(t, `X = file("data.csv")`).(*ast.FileOperation)
	assert.True(t, fo.LHSIsTensor)
	assert.Equal(t, "data.csv", fo.File.Text)

	fo = parseOne(t, `X = "data.csv"`).(*ast.FileOperation)
	assert.True(t, fo.LHSIsTensor)

	fo = parseOne(t, `file("out.csv") = X`).(*ast.FileOperation)
	assert.False(t, fo.LHSIsTensor)

	fo = parseOne(t, `"out.csv" = X`).(*ast.FileOperation)
	assert.False(t, fo.LHSIsTensor)
}

func TestLabelIndexing(t *testing.T) {
	eq := parseOne(t, "W[Alice] = 1.0").(*ast.TensorEquation)
	idx := eq.LHS.Indices[0].(*ast.Index)
	require.NotNil(t, idx.Ident)
	assert.Equal(t, "Alice", idx.Ident.Name)
}

func TestPoolingCompositeIndex(t *testing.T) {
	eq := parseOne(t, "Y[i/2] max= X[i]").(*ast.TensorEquation)
	idx := eq.LHS.Indices[0].(*ast.Index)
	require.NotNil(t, idx.Ident)
	assert.Equal(t, "i/2", idx.Ident.Name)
}

func TestPoolingProjectionRejectsGuards(t *testing.T) {
	_, err := Parse("Y[i] += X[i] : X[i] > 0")
	assert.Error(t, err)

	_, err = Parse("Y[i] += X[i] | Z[i]")
	assert.Error(t, err)
}

func TestMultilineContinuation(t *testing.T) {
	prog, err := Parse("y = 1 +\n    2\nz = 3")
	require.NoError(t, err)
	assert.Len(t, prog.Statements, 2)
}

func TestMultilineClauses(t *testing.T) {
	src := "Y[i] = X[i] : X[i] < 0\n     | 0\n"
	eq := parseOne(t, src).(*ast.TensorEquation)
	assert.Len(t, eq.Clauses, 2)
}

func TestParseErrorsCarryLocation(t *testing.T) {
	_, err := Parse("Y[i] = ")
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, 1, pe.Loc.Line)
	assert.Contains(t, pe.Error(), "parse error at line 1")
}

// Parsing then printing then reparsing yields an equal tree modulo locations.
func TestPrintReparseRoundTrip(t *testing.T) {
	sources := []string{
		"C[i,k] = A[i,j] B[j,k]",
		"Y[i] = X[i] X[i] : X[i] < 0 | 0 : X[i] == 0 | 2 X[i]",
		"A[q,k.] = Scores[q,k]",
		"avg[*t+1] = avg[*t] + data[t]",
		"Y[i/2] max= X[i]",
		"Ancestor(x,z) <- Ancestor(x,y), Parent(y,z)",
		"Parent(Alice,Bob)",
		"Ancestor(x,y)?",
		"loss? @minimize(lr=0.1,epochs=100)",
		"Y = X[1:3,:,::2]",
	}
	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			first := parseOne(t, src)
			printed := first.String()
			second := parseOne(t, printed)
			assert.Equal(t, printed, second.String())
		})
	}
}
