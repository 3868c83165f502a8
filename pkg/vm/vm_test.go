package vm_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tensorlang/pkg/vm"
)

func run(t *testing.T, src string) (string, *vm.VM) {
	t.Helper()
	var out bytes.Buffer
	machine := vm.New(vm.WithOutput(&out))
	require.NoError(t, machine.ExecuteSource(src))
	return out.String(), machine
}

func tensorData(t *testing.T, machine *vm.VM, name string) []float32 {
	t.Helper()
	v, err := machine.Env().Lookup(name)
	require.NoError(t, err)
	return v.Dense().Data()
}

func TestMatrixMultiplication(t *testing.T) {
	_, machine := run(t, `A = [[1,2],[3,4]]
B = [[5,6],[7,8]]
C[i,k] = A[i,j] B[j,k]`)
	assert.Equal(t, []float32{19, 22, 43, 50}, tensorData(t, machine, "C"))
}

func TestSoftmaxNormalization(t *testing.T) {
	_, machine := run(t, `X[0] = 1
X[1] = 2
X[2] = 3
Y[i.] = X[i]`)
	got := tensorData(t, machine, "Y")
	var sum float32
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-5)
	assert.Less(t, got[0], got[1])
	assert.Less(t, got[1], got[2])
}

func TestTransitiveClosure(t *testing.T) {
	out, _ := run(t, `Parent(Alice,Bob)
Parent(Bob,Charlie)
Parent(Charlie,Dave)
Ancestor(x,y) <- Parent(x,y)
Ancestor(x,z) <- Ancestor(x,y), Parent(y,z)
Ancestor(x,y)?`)
	for _, expected := range []string{"Alice, Dave", "Alice, Charlie", "Bob, Dave", "Alice, Bob"} {
		assert.Contains(t, out, expected)
	}
}

func TestExponentialMovingAverage(t *testing.T) {
	out, machine := run(t, `alpha = 0.1
avg[0] = 0.0
data = [5,8,6,9,7]
avg[*t+1] = (1.0 - alpha) avg[*t] + alpha data[t]
avg[*0]?`)
	v, err := machine.Env().Lookup("avg")
	require.NoError(t, err)
	assert.InDelta(t, 2.90725, float64(v.Dense().Data()[0]), 1e-4)
	assert.Contains(t, out, "avg[0] = ")
}

func TestGuardedPiecewise(t *testing.T) {
	_, machine := run(t, `X = [-5,-3,-1,0,1,3,5,7]
Y[i] = X[i] X[i] : X[i] < 0 | 0 : X[i] == 0 | sqrt(X[i]) : X[i] > 0 and X[i] <= 4 | 2 X[i]`)
	got := tensorData(t, machine, "Y")
	expected := []float32{25, 9, 1, 0, 1, 1.7320508, 10, 14}
	require.Len(t, got, len(expected))
	for i := range expected {
		assert.InDelta(t, float64(expected[i]), float64(got[i]), 1e-5, "index %d", i)
	}
}

func TestGradientMinimization(t *testing.T) {
	_, machine := run(t, `x = [0.0]
Target = [2.0]
diff = x[0] - Target[0]
loss = diff^2
loss? @minimize(lr=0.1, epochs=100)`)
	x, err := machine.Env().Lookup("x")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, float64(x.Dense().At(0)), 0.1)
}

func TestTensorQueryOutput(t *testing.T) {
	out, _ := run(t, "X = [1.0, 2.0, 3.0]\nX?")
	assert.True(t, strings.HasPrefix(out, "X =\n"), out)
	assert.Contains(t, out, "[1 2 3]")
}

func TestIndexedQueryOutput(t *testing.T) {
	out, _ := run(t, "X = [[1,2],[3,4]]\nX[1,0]?")
	assert.Contains(t, out, "X[1,0] = 3")
}

func TestLabelQueryOutput(t *testing.T) {
	out, _ := run(t, "W[Alice] = 1.5\nW[Alice]?")
	assert.Contains(t, out, "W[0] = 1.5")
}

func TestQueryMissingTensorFails(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithOutput(&out))
	err := machine.ExecuteSource("Nope?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tensor not found")
}

func TestErrorKeepsEarlierBindings(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithOutput(&out))
	err := machine.ExecuteSource("X = [1.0]\nY = [[1,2],[3]]")
	require.Error(t, err)
	assert.True(t, machine.Env().Has("X"))
	assert.False(t, machine.Env().Has("Y"))
}

func TestFileRoundTrip1D(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vec.txt")

	_, _ = run(t, `X = [1.5, 2.5, 3.5]
file("`+path+`") = X`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1.5\n2.5\n3.5", string(data))

	_, machine := run(t, `Y = file("`+path+`")`)
	assert.Equal(t, []float32{1.5, 2.5, 3.5}, tensorData(t, machine, "Y"))
}

func TestFileRoundTrip2D(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mat.csv")

	_, _ = run(t, `M = [[1,2],[3,4]]
"`+path+`" = M`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,2\n3,4", string(data))

	_, machine := run(t, `N = "`+path+`"`)
	v, err := machine.Env().Lookup("N")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, []int(v.Shape()))
	assert.Equal(t, []float32{1, 2, 3, 4}, v.Dense().Data())
}

func TestFileReadAutoDetects1D(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vals.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\n\n2\n 3 \n"), 0o644))

	_, machine := run(t, `X = file("`+path+`")`)
	assert.Equal(t, []float32{1, 2, 3}, tensorData(t, machine, "X"))
}

func TestFileMissingFails(t *testing.T) {
	machine := vm.New(vm.WithOutput(&bytes.Buffer{}))
	err := machine.ExecuteSource(`X = file("/nonexistent/file.txt")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open file")
}

func TestDatalogArithmeticEndToEnd(t *testing.T) {
	out, _ := run(t, `Price(Widget, 10)
Price(Gadget, 25)
Taxed(x, p + 5) <- Price(x, p)
Taxed(x, p)?`)
	assert.Contains(t, out, "Widget, 15")
	assert.Contains(t, out, "Gadget, 30")
}

func TestMixedProgramOrdering(t *testing.T) {
	// Tensor and Datalog statements interleave; output order follows source
	// order.
	out, _ := run(t, `X = [1.0]
Parent(A,B)
X?
Parent(A,B)?`)
	idxTensor := strings.Index(out, "X =")
	idxTrue := strings.Index(out, "True")
	require.GreaterOrEqual(t, idxTensor, 0)
	require.GreaterOrEqual(t, idxTrue, 0)
	assert.Less(t, idxTensor, idxTrue)
}

func TestRNNStateUpdate(t *testing.T) {
	// A one-neuron recurrence driven by a 3-step input sequence.
	_, machine := run(t, `h[0] = 0.0
inputs = [1.0, 1.0, 1.0]
h[*t+1] = tanh(h[*t] + inputs[t])`)
	v, err := machine.Env().Lookup("h")
	require.NoError(t, err)
	// tanh(tanh(tanh(1) + 1) + 1)
	assert.InDelta(t, 0.9598, float64(v.Dense().Data()[0]), 1e-3)
}
