package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
)

func TestBindLookup(t *testing.T) {
	e := New()
	_, err := e.Lookup("X")
	assert.Error(t, err)

	e.Bind("X", backend.Scalar(5))
	require.True(t, e.Has("X"))
	got, err := e.Lookup("X")
	require.NoError(t, err)
	assert.Equal(t, float32(5), got.Item())

	// Rebinding replaces atomically.
	e.Bind("X", backend.Scalar(7))
	got, _ = e.Lookup("X")
	assert.Equal(t, float32(7), got.Item())
}

func TestKeyIgnoresIndices(t *testing.T) {
	ref := ast.TensorRef{
		Name:    ast.Identifier{Name: "W"},
		Indices: []ast.IndexOrSlice{&ast.Index{Number: &ast.NumberLiteral{Text: "0"}}},
	}
	assert.Equal(t, "W", Key(ref))
}

func TestInternLabel(t *testing.T) {
	e := New()
	assert.Equal(t, 0, e.InternLabel("Alice"))
	assert.Equal(t, 1, e.InternLabel("Bob"))
	// Stable: same string yields the same integer.
	assert.Equal(t, 0, e.InternLabel("Alice"))
	assert.Equal(t, 2, e.InternLabel("Charlie"))

	idx, ok := e.LabelIndex("Bob")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	_, ok = e.LabelIndex("Dave")
	assert.False(t, ok)

	assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, e.Labels())
}

func TestAddFactDeduplicates(t *testing.T) {
	e := New()
	assert.True(t, e.AddFact("Parent", []string{"Alice", "Bob"}))
	assert.False(t, e.AddFact("Parent", []string{"Alice", "Bob"}))
	assert.True(t, e.AddFact("Parent", []string{"Bob", "Charlie"}))

	facts := e.Facts("Parent")
	require.Len(t, facts, 2)
	// First-seen order.
	assert.Equal(t, []string{"Alice", "Bob"}, facts[0])
	assert.Equal(t, []string{"Bob", "Charlie"}, facts[1])

	assert.Nil(t, e.Facts("Unknown"))
	assert.False(t, e.HasRelation("Unknown"))
}

func TestTupleKeySeparatorAvoidsCollisions(t *testing.T) {
	e := New()
	assert.True(t, e.AddFact("R", []string{"ab", "c"}))
	assert.True(t, e.AddFact("R", []string{"a", "bc"}))
	assert.Len(t, e.Facts("R"), 2)
}
