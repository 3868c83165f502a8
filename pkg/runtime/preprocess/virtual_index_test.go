package preprocess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/parser"
	"github.com/itohio/tensorlang/pkg/runtime/env"
	"github.com/itohio/tensorlang/pkg/runtime/executor"
	"github.com/itohio/tensorlang/pkg/runtime/preprocess"
)

type harness struct {
	env *env.Environment
	be  backend.Backend
	reg *executor.Registry
	pre *preprocess.VirtualIndexPreprocessor
}

func newHarness() *harness {
	return &harness{
		env: env.New(),
		be:  backend.NewSeeded(1),
		reg: executor.NewRegistry(),
		pre: &preprocess.VirtualIndexPreprocessor{},
	}
}

// run executes a program, batch-expanding runs of virtual equations the way
// the VM does.
func (h *harness) run(t *testing.T, src string) {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)

	i := 0
	for i < len(prog.Statements) {
		if h.pre.ShouldPreprocess(prog.Statements[i], h.env) {
			j := i
			for j < len(prog.Statements) && h.pre.ShouldPreprocess(prog.Statements[j], h.env) {
				j++
			}
			expanded, err := h.pre.PreprocessBatch(prog.Statements[i:j], h.env)
			require.NoError(t, err)
			for _, st := range expanded {
				h.execEq(t, st)
			}
			i = j
			continue
		}
		h.execEq(t, prog.Statements[i])
		i++
	}
}

func (h *harness) execEq(t *testing.T, st ast.Statement) {
	t.Helper()
	eq, ok := st.(*ast.TensorEquation)
	require.True(t, ok)
	result, err := h.reg.Execute(eq, h.env, h.be)
	require.NoError(t, err)
	h.env.BindRef(eq.LHS, result)
}

func scalarOf(t *testing.T, e *env.Environment, name string) float32 {
	t.Helper()
	v, err := e.Lookup(name)
	require.NoError(t, err)
	require.Equal(t, 1, v.Size())
	return v.Dense().Data()[0]
}

func TestExponentialMovingAverage(t *testing.T) {
	h := newHarness()
	h.run(t, `alpha = 0.1
avg[0] = 0.0
data = [5,8,6,9,7]
avg[*t+1] = (1.0 - alpha) avg[*t] + alpha data[t]`)
	assert.InDelta(t, 2.90725, float64(scalarOf(t, h.env, "avg")), 1e-4)
}

func TestRecurrenceSemantics(t *testing.T) {
	// X[*t+1] = X[*t] + Y[t] accumulates Y over T steps.
	h := newHarness()
	h.run(t, `X[0] = 1.0
Y = [1,2,3]
X[*t+1] = X[*t] + Y[t]`)
	assert.InDelta(t, 7.0, float64(scalarOf(t, h.env, "X")), 1e-5)
}

func TestIterationCountDefaultsWithoutDrivingTensor(t *testing.T) {
	h := newHarness()
	h.run(t, `c[0] = 0.0
c[*t+1] = c[*t] + 1.0`)
	// No tensor carries the driving axis: 10 steps by default.
	assert.InDelta(t, 10.0, float64(scalarOf(t, h.env, "c")), 1e-5)
}

func TestExpansionShape(t *testing.T) {
	h := newHarness()
	prog, err := parser.Parse(`avg[*t+1] = avg[*t] + data[t]`)
	require.NoError(t, err)
	h.env.Bind("data", backend.FromFlat([]int{3}, []float32{1, 2, 3}))
	h.env.Bind("avg", backend.FromFlat([]int{1}, []float32{0}))

	expanded, err := h.pre.PreprocessBatch(prog.Statements, h.env)
	require.NoError(t, err)
	// Per timestep: one write-to-temp plus one copy-back.
	require.Len(t, expanded, 6)

	first := expanded[0].(*ast.TensorEquation)
	assert.Equal(t, "avg_next_0", first.LHS.Name.Name)
	assert.Empty(t, first.LHS.Indices)

	copyBack := expanded[1].(*ast.TensorEquation)
	assert.Equal(t, "avg", copyBack.LHS.Name.Name)
	idx := copyBack.LHS.Indices[0].(*ast.Index)
	require.NotNil(t, idx.Number)
	assert.Equal(t, "0", idx.Number.Text)
}

func TestCoupledEquationsUseSSATemporaries(t *testing.T) {
	// b reads a's next value within the same timestep: with SSA temporaries
	// b tracks a's freshly written state.
	h := newHarness()
	h.run(t, `a[0] = 0.0
b[0] = 0.0
D = [1,1,1]
a[*t+1] = a[*t] + D[t]
b[*t+1] = a[*t+1] + 0`)
	assert.InDelta(t, 3.0, float64(scalarOf(t, h.env, "a")), 1e-5)
	assert.InDelta(t, 3.0, float64(scalarOf(t, h.env, "b")), 1e-5)
}

func TestCyclicDependencyFails(t *testing.T) {
	h := newHarness()
	prog, err := parser.Parse(`x[*t+1] = y[*t+1] + D[t]
y[*t+1] = x[*t+1] + D[t]`)
	require.NoError(t, err)
	h.env.Bind("D", backend.FromFlat([]int{2}, []float32{1, 1}))
	h.env.Bind("x", backend.FromFlat([]int{1}, []float32{0}))
	h.env.Bind("y", backend.FromFlat([]int{1}, []float32{0}))

	_, err = h.pre.PreprocessBatch(prog.Statements, h.env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic dependency")
}

func TestConsumerOnlyReadsSlotZero(t *testing.T) {
	h := newHarness()
	h.env.Bind("state", backend.FromFlat([]int{2}, []float32{42, 7}))
	prog, err := parser.Parse("y = state[*t]")
	require.NoError(t, err)

	expanded, err := h.pre.Preprocess(prog.Statements[0], h.env)
	require.NoError(t, err)
	require.Len(t, expanded, 1)
	eq := expanded[0].(*ast.TensorEquation)
	ref := eq.Clauses[0].Expr.(*ast.RefExpr)
	idx := ref.Ref.Indices[0].(*ast.Index)
	require.NotNil(t, idx.Number)
	assert.Equal(t, "0", idx.Number.Text)
}

func TestNonVirtualStatementsPassThrough(t *testing.T) {
	h := newHarness()
	prog, err := parser.Parse("A = [1,2]")
	require.NoError(t, err)
	assert.False(t, h.pre.ShouldPreprocess(prog.Statements[0], h.env))
}
