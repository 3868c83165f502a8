package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := NewShape(2, 3, 4)
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, []int{12, 4, 1}, s.Strides())
	assert.True(t, s.Equal(NewShape(2, 3, 4)))
	assert.False(t, s.Equal(NewShape(2, 3)))
	assert.Equal(t, 1, Shape{}.Size())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Shape
		expected Shape
		wantErr  bool
	}{
		{name: "equal", a: Shape{2, 3}, b: Shape{2, 3}, expected: Shape{2, 3}},
		{name: "scalar", a: Shape{}, b: Shape{2, 3}, expected: Shape{2, 3}},
		{name: "trailing", a: Shape{2, 1}, b: Shape{1, 3}, expected: Shape{2, 3}},
		{name: "rank lift", a: Shape{3}, b: Shape{2, 3}, expected: Shape{2, 3}},
		{name: "mismatch", a: Shape{2}, b: Shape{3}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAtSetAt(t *testing.T) {
	m := New(NewShape(2, 3))
	m.SetAt(7, 1, 2)
	assert.Equal(t, float32(7), m.At(1, 2))
	assert.Equal(t, float32(0), m.At(0, 0))

	assert.Panics(t, func() { m.At(2, 0) })
	// A single index on a higher-rank tensor addresses flat storage.
	assert.Equal(t, float32(7), m.At(5))
}

func TestElementwiseWithBroadcast(t *testing.T) {
	a := FromFloat32(NewShape(2, 2), []float32{1, 2, 3, 4})
	b := Scalar(10)
	sum := a.Add(b)
	assert.Equal(t, []float32{11, 12, 13, 14}, sum.Data())

	row := FromFloat32(NewShape(2), []float32{10, 20})
	prod := a.Mul(row)
	assert.Equal(t, []float32{10, 40, 30, 80}, prod.Data())
}

func TestComparisons(t *testing.T) {
	a := FromFloat32(NewShape(4), []float32{-1, 0, 1, 2})
	zero := Scalar(0)
	assert.Equal(t, []float32{1, 0, 0, 0}, a.Less(zero).Data())
	assert.Equal(t, []float32{0, 1, 0, 0}, a.Equal(zero).Data())
	assert.Equal(t, []float32{0, 0, 1, 1}, a.Greater(zero).Data())
	assert.Equal(t, []float32{1, 0, 1, 1}, a.NotEqual(zero).Data())
}

func TestLogic(t *testing.T) {
	a := FromFloat32(NewShape(3), []float32{0, 1, 2})
	b := FromFloat32(NewShape(3), []float32{1, 0, 2})
	assert.Equal(t, []float32{0, 0, 1}, a.And(b).Data())
	assert.Equal(t, []float32{1, 1, 1}, a.Or(b).Data())
	assert.Equal(t, []float32{1, 0, 0}, a.Not().Data())
}

func TestSum(t *testing.T) {
	m := FromFloat32(NewShape(2, 3), []float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, float32(21), m.Sum().Item())

	cols := m.Sum(0)
	assert.Equal(t, Shape{3}, cols.Shape())
	assert.Equal(t, []float32{5, 7, 9}, cols.Data())

	rows := m.Sum(1)
	assert.Equal(t, []float32{6, 15}, rows.Data())
}

func TestSoftmax(t *testing.T) {
	v := FromFloat32(NewShape(3), []float32{1, 2, 3})
	s := v.Softmax(0)
	var total float32
	for _, x := range s.Data() {
		total += x
	}
	assert.InDelta(t, 1.0, total, 1e-5)
	assert.Less(t, s.At(0), s.At(1))
	assert.Less(t, s.At(1), s.At(2))

	m := FromFloat32(NewShape(2, 2), []float32{1, 2, 3, 4})
	sm := m.Softmax(1)
	assert.InDelta(t, 1.0, sm.At(0, 0)+sm.At(0, 1), 1e-5)
	assert.InDelta(t, 1.0, sm.At(1, 0)+sm.At(1, 1), 1e-5)
}

func TestSelectAndSlice(t *testing.T) {
	m := FromFloat32(NewShape(2, 3), []float32{1, 2, 3, 4, 5, 6})

	row := m.Select(0, 1)
	assert.Equal(t, Shape{3}, row.Shape())
	assert.Equal(t, []float32{4, 5, 6}, row.Data())

	col := m.Select(1, 0)
	assert.Equal(t, []float32{1, 4}, col.Data())

	v := FromFloat32(NewShape(6), []float32{1, 2, 3, 4, 5, 6})
	sl := v.SliceDim(0, 1, 4, 1)
	assert.Equal(t, []float32{2, 3, 4}, sl.Data())

	stepped := v.SliceDim(0, 0, 6, 2)
	assert.Equal(t, []float32{1, 3, 5}, stepped.Data())

	rev := v.SliceDim(0, 5, -1, -1)
	assert.Equal(t, []float32{6, 5, 4, 3, 2, 1}, rev.Data())
}

func TestReshapeUnsqueeze(t *testing.T) {
	v := FromFloat32(NewShape(6), []float32{1, 2, 3, 4, 5, 6})
	m := v.Reshape(NewShape(2, 3))
	assert.Equal(t, float32(6), m.At(1, 2))

	u := v.Unsqueeze(0)
	assert.Equal(t, Shape{1, 6}, u.Shape())
	assert.Panics(t, func() { v.Reshape(NewShape(4)) })
}

func TestEinsum(t *testing.T) {
	a := FromFloat32(NewShape(2, 2), []float32{1, 2, 3, 4})
	b := FromFloat32(NewShape(2, 2), []float32{5, 6, 7, 8})

	matmul, err := Einsum("ij,jk->ik", a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, matmul.Data())

	trace, err := Einsum("ii->", a)
	require.NoError(t, err)
	assert.Equal(t, float32(5), trace.Item())

	x := FromFloat32(NewShape(2), []float32{1, 2})
	y := FromFloat32(NewShape(3), []float32{3, 4, 5})
	outer, err := Einsum("i,j->ij", x, y)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3}, outer.Shape())
	assert.Equal(t, []float32{3, 4, 5, 6, 8, 10}, outer.Data())

	dot, err := Einsum("i,i->", x, x)
	require.NoError(t, err)
	assert.Equal(t, float32(5), dot.Item())

	// Implicit output: repeated labels are contracted, free labels sorted.
	implicit, err := Einsum("ij,jk", a, b)
	require.NoError(t, err)
	assert.Equal(t, matmul.Data(), implicit.Data())

	_, err = Einsum("i,j->k", x, y)
	assert.Error(t, err)
}

func TestEinsumDims(t *testing.T) {
	g := FromFloat32(NewShape(2), []float32{1, 2})
	// Output label j absent from inputs broadcasts to the provided extent.
	out, err := EinsumDims("i->ij", map[byte]int{'j': 3}, g)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2}, out.Data())
}

func TestActivations(t *testing.T) {
	v := FromFloat32(NewShape(4), []float32{-2, -0.5, 0, 3})
	assert.Equal(t, []float32{0, 0, 0, 3}, v.ReLU().Data())
	assert.Equal(t, []float32{0, 0, 0, 1}, v.Step().Data())

	s := Scalar(0).Sigmoid()
	assert.InDelta(t, 0.5, float64(s.Item()), 1e-6)
}

func TestString(t *testing.T) {
	assert.Equal(t, "5", Scalar(5).String())
	assert.Equal(t, "[1 2 3]", FromFloat32(NewShape(3), []float32{1, 2, 3}).String())
	assert.Equal(t, "[[1 2]\n [3 4]]", FromFloat32(NewShape(2, 2), []float32{1, 2, 3, 4}).String())
}

func TestZeroLengthTensor(t *testing.T) {
	z := Zeros(NewShape(0))
	assert.Equal(t, 0, z.Size())
	assert.Equal(t, "[]", z.String())
}
