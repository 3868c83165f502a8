package learn_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/parser"
	"github.com/itohio/tensorlang/pkg/runtime/env"
	"github.com/itohio/tensorlang/pkg/runtime/executor"
	"github.com/itohio/tensorlang/pkg/runtime/learn"
	"github.com/itohio/tensorlang/pkg/runtime/preprocess"
)

type harness struct {
	env     *env.Environment
	be      backend.Backend
	reg     *executor.Registry
	pre     *preprocess.Registry
	learner *learn.Engine
	out     bytes.Buffer
}

func newHarness() *harness {
	h := &harness{
		env: env.New(),
		be:  backend.NewSeeded(1),
		reg: executor.NewRegistry(),
		pre: preprocess.NewRegistry(),
	}
	h.learner = learn.New(h.env, h.be, h.reg, h.pre, &h.out)
	return h
}

// execute runs the program once to populate the environment, the way the VM
// does before a learning query.
func (h *harness) execute(t *testing.T, prog *ast.Program) {
	t.Helper()
	for _, st := range prog.Statements {
		eq, ok := st.(*ast.TensorEquation)
		if !ok {
			continue
		}
		result, err := h.reg.Execute(eq, h.env, h.be)
		require.NoError(t, err)
		h.env.BindRef(eq.LHS, result)
	}
}

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)
	return prog
}

func directiveOf(t *testing.T, prog *ast.Program) (*ast.QueryDirective, string) {
	t.Helper()
	last := prog.Statements[len(prog.Statements)-1]
	q, ok := last.(*ast.Query)
	require.True(t, ok)
	require.NotNil(t, q.Directive)
	return q.Directive, env.Key(*q.Tensor)
}

func TestConfigDefaults(t *testing.T) {
	prog := parse(t, "loss? @minimize()")
	dir, _ := directiveOf(t, prog)
	cfg := learn.ConfigFromDirective(dir)
	assert.Equal(t, float32(0.01), cfg.LearningRate)
	assert.Equal(t, 100, cfg.Epochs)
	assert.Equal(t, 1000, cfg.Samples)
	assert.False(t, cfg.Verbose)
}

func TestConfigOverrides(t *testing.T) {
	prog := parse(t, "loss? @minimize(learning_rate=0.05, epochs=20, verbose=true)")
	dir, _ := directiveOf(t, prog)
	cfg := learn.ConfigFromDirective(dir)
	assert.Equal(t, float32(0.05), cfg.LearningRate)
	assert.Equal(t, 20, cfg.Epochs)
	assert.True(t, cfg.Verbose)
}

func TestMinimizeQuadratic(t *testing.T) {
	src := `x = [0.0]
Target = [2.0]
diff = x[0] - Target[0]
loss = diff^2
loss? @minimize(lr=0.1, epochs=100)`
	prog := parse(t, src)
	h := newHarness()
	h.execute(t, prog)

	dir, name := directiveOf(t, prog)
	final, err := h.learner.ExecuteDirective(name, dir, prog)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, float64(final.Item()), 0.01)

	x, err := h.env.Lookup("x")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, float64(x.Dense().At(0)), 0.1)
}

func TestMaximize(t *testing.T) {
	// maximize -(x-3)^2 drives x to 3.
	src := `x = [0.0]
reward = 0 - (x[0] - 3)^2
reward? @maximize(lr=0.1, epochs=200)`
	prog := parse(t, src)
	h := newHarness()
	h.execute(t, prog)

	dir, name := directiveOf(t, prog)
	_, err := h.learner.ExecuteDirective(name, dir, prog)
	require.NoError(t, err)

	x, _ := h.env.Lookup("x")
	assert.InDelta(t, 3.0, float64(x.Dense().At(0)), 0.1)
}

func TestNoLearnableParameters(t *testing.T) {
	src := `X = [1.0, 2.0]
Y = X + X
Y? @minimize(lr=0.1, epochs=10)`
	prog := parse(t, src)
	h := newHarness()
	h.execute(t, prog)

	dir, name := directiveOf(t, prog)
	_, err := h.learner.ExecuteDirective(name, dir, prog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no learnable parameters")
}

func TestTargetNotFound(t *testing.T) {
	src := `x = [1.0]
missing? @minimize(lr=0.1, epochs=1)`
	prog := parse(t, src)
	h := newHarness()
	h.execute(t, prog)

	dir, name := directiveOf(t, prog)
	_, err := h.learner.ExecuteDirective(name, dir, prog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target tensor not found")
}

func TestSample(t *testing.T) {
	src := `probs = [0.0, 10.0, 0.0]
probs? @sample(n=25)`
	prog := parse(t, src)
	h := newHarness()
	h.execute(t, prog)

	dir, name := directiveOf(t, prog)
	samples, err := h.learner.ExecuteDirective(name, dir, prog)
	require.NoError(t, err)
	require.Equal(t, 25, samples.Size())
	for _, s := range samples.Dense().Data() {
		assert.Equal(t, float32(1), s)
	}
}

func TestVerboseProgress(t *testing.T) {
	src := `x = [0.0]
loss = (x[0] - 1)^2
loss? @minimize(lr=0.1, epochs=20, verbose=true)`
	prog := parse(t, src)
	h := newHarness()
	h.execute(t, prog)

	dir, name := directiveOf(t, prog)
	_, err := h.learner.ExecuteDirective(name, dir, prog)
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "Epoch")
	assert.Contains(t, h.out.String(), "Loss")
}
