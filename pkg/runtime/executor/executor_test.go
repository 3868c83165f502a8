package executor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/parser"
	"github.com/itohio/tensorlang/pkg/runtime/env"
	"github.com/itohio/tensorlang/pkg/runtime/executor"
)

type harness struct {
	env *env.Environment
	be  backend.Backend
	reg *executor.Registry
}

func newHarness() *harness {
	return &harness{env: env.New(), be: backend.NewSeeded(1), reg: executor.NewRegistry()}
}

func (h *harness) run(t *testing.T, src string) {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)
	for _, st := range prog.Statements {
		eq, ok := st.(*ast.TensorEquation)
		require.True(t, ok, "statement is not a tensor equation: %s", st.String())
		result, err := h.reg.Execute(eq, h.env, h.be)
		require.NoError(t, err)
		h.env.BindRef(eq.LHS, result)
	}
}

func (h *harness) tensor(t *testing.T, name string) []float32 {
	t.Helper()
	v, err := h.env.Lookup(name)
	require.NoError(t, err)
	return v.Dense().Data()
}

func TestScalarAssignGrowsTensor(t *testing.T) {
	h := newHarness()
	h.run(t, "W[2] = 5.0")
	v, _ := h.env.Lookup("W")
	assert.Equal(t, []int{3}, []int(v.Shape()))
	assert.Equal(t, []float32{0, 0, 5}, v.Dense().Data())

	// Growth preserves old data.
	h.run(t, "W[4] = 7.0")
	assert.Equal(t, []float32{0, 0, 5, 0, 7}, h.tensor(t, "W"))
}

func TestScalarAssignMultiDim(t *testing.T) {
	h := newHarness()
	h.run(t, "M[1,2] = 3.0")
	v, _ := h.env.Lookup("M")
	assert.Equal(t, []int{2, 3}, []int(v.Shape()))
	assert.Equal(t, float32(3), v.Dense().At(1, 2))
}

func TestScalarAssignWithLabels(t *testing.T) {
	h := newHarness()
	h.run(t, "W[Alice] = 1.0\nW[Bob] = 2.0")
	idx, ok := h.env.LabelIndex("Alice")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, []float32{1, 2}, h.tensor(t, "W"))
}

func TestScalarAssignNegativeLiteral(t *testing.T) {
	h := newHarness()
	h.run(t, "W[0] = -1.5")
	assert.Equal(t, []float32{-1.5}, h.tensor(t, "W"))
}

func TestListLiteral(t *testing.T) {
	h := newHarness()
	h.run(t, "A = [[1,2],[3,4]]")
	v, _ := h.env.Lookup("A")
	assert.Equal(t, []int{2, 2}, []int(v.Shape()))
	assert.Equal(t, []float32{1, 2, 3, 4}, v.Dense().Data())
}

func TestListLiteralEmpty(t *testing.T) {
	h := newHarness()
	h.run(t, "Z = []")
	v, _ := h.env.Lookup("Z")
	assert.Equal(t, []int{0}, []int(v.Shape()))
	assert.Equal(t, 0, v.Size())
}

func TestListLiteralNonRectangular(t *testing.T) {
	h := newHarness()
	prog, err := parser.Parse("A = [[1,2],[3]]")
	require.NoError(t, err)
	_, err = h.reg.Execute(prog.Statements[0].(*ast.TensorEquation), h.env, h.be)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rectangular")
}

func TestEinsumCall(t *testing.T) {
	h := newHarness()
	h.run(t, "A = [[1,2],[3,4]]\nB = [[5,6],[7,8]]\nC = einsum(\"ij,jk->ik\", A, B)")
	assert.Equal(t, []float32{19, 22, 43, 50}, h.tensor(t, "C"))
}

func TestIndexedProductMatmul(t *testing.T) {
	h := newHarness()
	h.run(t, "A = [[1,2],[3,4]]\nB = [[5,6],[7,8]]\nC[i,k] = A[i,j] B[j,k]")
	assert.Equal(t, []float32{19, 22, 43, 50}, h.tensor(t, "C"))
}

func TestIndexedProductMatVec(t *testing.T) {
	h := newHarness()
	h.run(t, "W = [[0.5, 0.3], [0.2, 0.8]]\nX = [1.0, 0.5]\nY[i] = W[i, j] X[j]")
	got := h.tensor(t, "Y")
	assert.InDelta(t, 0.65, float64(got[0]), 1e-5)
	assert.InDelta(t, 0.6, float64(got[1]), 1e-5)
}

func TestIndexedProductPlaceholder(t *testing.T) {
	h := newHarness()
	// V does not exist: a placeholder with the default extent is allocated.
	h.run(t, "U = [1.0, 2.0, 3.0]\nY[i] = U[i] V[i]")
	v, err := h.env.Lookup("V")
	require.NoError(t, err)
	assert.Equal(t, []int{executor.DefaultExtent}, []int(v.Shape()))
}

func TestReduction(t *testing.T) {
	h := newHarness()
	h.run(t, "A = [[1,2],[3,4]]\ns = A[i,j]")
	v, _ := h.env.Lookup("s")
	assert.Equal(t, float32(10), v.Item())

	h.run(t, "r = A[0,j]")
	v, _ = h.env.Lookup("r")
	assert.Equal(t, float32(3), v.Item())
}

func TestNormalization(t *testing.T) {
	h := newHarness()
	h.run(t, "X[0] = 1\nX[1] = 2\nX[2] = 3\nY[i.] = X[i]")
	got := h.tensor(t, "Y")
	var sum float32
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-5)
	assert.Less(t, got[0], got[1])
	assert.Less(t, got[1], got[2])
}

func TestNormalizationExplicitSoftmaxNotDoubled(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0]\nY[i.] = softmax(X[i])\nZ[i.] = X[i]")
	assert.Equal(t, h.tensor(t, "Z"), h.tensor(t, "Y"))
}

func TestNormalizationAlongSecondAxis(t *testing.T) {
	h := newHarness()
	h.run(t, "Scores = [[1.0, 2.0], [3.0, 4.0]]\nA[q, k.] = Scores[q,k]")
	v, _ := h.env.Lookup("A")
	d := v.Dense()
	assert.InDelta(t, 1.0, float64(d.At(0, 0)+d.At(0, 1)), 1e-5)
	assert.InDelta(t, 1.0, float64(d.At(1, 0)+d.At(1, 1)), 1e-5)
}

func TestGuardedPiecewise(t *testing.T) {
	h := newHarness()
	h.run(t, `X = [-5,-3,-1,0,1,3,5,7]
Y[i] = X[i] X[i] : X[i] < 0 | 0 : X[i] == 0 | sqrt(X[i]) : X[i] > 0 and X[i] <= 4 | 2 X[i]`)
	got := h.tensor(t, "Y")
	expected := []float32{25, 9, 1, 0, 1, float32(math.Sqrt(3)), 10, 14}
	require.Len(t, got, len(expected))
	for i := range expected {
		assert.InDelta(t, float64(expected[i]), float64(got[i]), 1e-5, "index %d", i)
	}
}

func TestGuardedRestoresBindings(t *testing.T) {
	h := newHarness()
	h.run(t, "i = 42.0\nX = [1.0, 2.0]\nY[i] = X[i] : X[i] > 0 | 0")
	v, _ := h.env.Lookup("i")
	assert.Equal(t, float32(42), v.Item())
}

func TestGuardedScalarSuperposition(t *testing.T) {
	h := newHarness()
	h.run(t, "x = 5.0\ny = 1 : x > 3 | 2")
	v, _ := h.env.Lookup("y")
	assert.Equal(t, float32(1), v.Item())

	h.run(t, "z = 1 : x > 9 | 2")
	v, _ = h.env.Lookup("z")
	assert.Equal(t, float32(2), v.Item())
}

func TestPoolingStrideOneIsNoop(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0]\nA[i] += X[i]\nB[i] max= X[i]\nC[i] min= X[i]\nD[i] avg= X[i]")
	for _, name := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, []float32{1, 2, 3}, h.tensor(t, name), name)
	}
}

func TestPoolingByTwo(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0, 4.0]\nS[i/2] += X[i]\nM[i/2] max= X[i]\nN[i/2] min= X[i]\nA[i/2] avg= X[i]")
	assert.Equal(t, []float32{3, 7}, h.tensor(t, "S"))
	assert.Equal(t, []float32{2, 4}, h.tensor(t, "M"))
	assert.Equal(t, []float32{1, 3}, h.tensor(t, "N"))
	assert.Equal(t, []float32{1.5, 3.5}, h.tensor(t, "A"))
}

func TestPoolingCeilingShape(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0]\nM[i/2] max= X[i]")
	assert.Equal(t, []float32{2, 3}, h.tensor(t, "M"))
}

func TestIdentity(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0]\nY = X")
	assert.Equal(t, []float32{1, 2, 3}, h.tensor(t, "Y"))
}

func TestIdentityRoundTrip(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [[1,2],[3,4]]\nY[i,j] = X[i,j]")
	assert.Equal(t, h.tensor(t, "X"), h.tensor(t, "Y"))
}

func TestIdentitySlices(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0, 4.0]\nY[i] = X[:]\nZ[i] = X[1:3]")
	assert.Equal(t, []float32{1, 2, 3, 4}, h.tensor(t, "Y"))
	assert.Equal(t, []float32{2, 3}, h.tensor(t, "Z"))
}

func TestExpressionActivations(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [-1.0, 0.0, 2.0]\nR[i] = relu(X[i])\nS[i] = step(X[i])\nAbs[i] = abs(X[i])")
	assert.Equal(t, []float32{0, 0, 2}, h.tensor(t, "R"))
	assert.Equal(t, []float32{0, 0, 1}, h.tensor(t, "S"))
	assert.Equal(t, []float32{1, 0, 2}, h.tensor(t, "Abs"))
}

func TestExpressionComparisons(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 5.0]\nY[i] = X[i] > 2")
	assert.Equal(t, []float32{0, 1}, h.tensor(t, "Y"))
}

func TestExpressionScalarReduces(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0, 3.0]\ns = X + X")
	v, _ := h.env.Lookup("s")
	assert.Equal(t, float32(12), v.Item())
}

func TestExpressionArithmetic(t *testing.T) {
	h := newHarness()
	h.run(t, "a = 7.0\nb = a % 4 + 2 ^ 3\nc = -a")
	v, _ := h.env.Lookup("b")
	assert.Equal(t, float32(11), v.Item())
	v, _ = h.env.Lookup("c")
	assert.Equal(t, float32(-7), v.Item())
}

func TestNoExecutorError(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0, 2.0]")
	prog, err := parser.Parse("Y[i] += X[i] + 1")
	require.NoError(t, err)
	_, err = h.reg.Execute(prog.Statements[0].(*ast.TensorEquation), h.env, h.be)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no executor")
}

func TestEquationBindsLHSName(t *testing.T) {
	h := newHarness()
	h.run(t, "X = [1.0]\nY[i] = X[i]")
	assert.True(t, h.env.Has("Y"))
}
