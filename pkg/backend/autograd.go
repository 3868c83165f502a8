// Package backend provides the tensor backend consumed by the runtime:
// eager tensor values with reverse-mode automatic differentiation, an SGD
// optimizer, and categorical sampling.
package backend

import (
	"fmt"

	"github.com/itohio/tensorlang/pkg/core/math/tensor"
)

// Tensor is an eager tensor value participating in the autograd tape. Ops on
// tensors record a backward function when any input requires gradients; the
// tape is rebuilt on every forward pass.
type Tensor struct {
	data     tensor.Dense
	requires bool
	grad     *tensor.Dense
	parents  []*Tensor
	backFn   func(grad tensor.Dense)
}

// FromDense wraps a dense value without gradient tracking.
func FromDense(d tensor.Dense) *Tensor {
	return &Tensor{data: d}
}

// Dense returns the underlying dense value.
func (t *Tensor) Dense() tensor.Dense { return t.data }

// Shape returns the tensor's shape.
func (t *Tensor) Shape() tensor.Shape { return t.data.Shape() }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return t.data.Rank() }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.data.Size() }

// Item returns the single element of a scalar or one-element tensor.
func (t *Tensor) Item() float32 { return t.data.Item() }

// RequiresGrad reports whether the tensor participates in gradient
// computation.
func (t *Tensor) RequiresGrad() bool { return t.requires }

// Grad returns the accumulated gradient, or an empty Dense if none.
func (t *Tensor) Grad() tensor.Dense {
	if t.grad == nil {
		return tensor.Dense{}
	}
	return *t.grad
}

// Detach returns a copy of the value cut from the tape.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{data: t.data.Clone()}
}

// RequireGrad returns a detached clone marked as a gradient leaf.
func (t *Tensor) RequireGrad() *Tensor {
	return &Tensor{data: t.data.Clone(), requires: true}
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() { t.grad = nil }

func (t *Tensor) String() string { return t.data.String() }

// addGrad accumulates g into the tensor's gradient, reducing over broadcast
// axes so the gradient shape always matches the data shape.
func (t *Tensor) addGrad(g tensor.Dense) {
	if !t.requires {
		return
	}
	g = reduceGradTo(g, t.data.Shape())
	if t.grad == nil {
		c := g.Clone()
		t.grad = &c
		return
	}
	sum := t.grad.Add(g)
	t.grad = &sum
}

// reduceGradTo sums g over the axes that were broadcast relative to shape.
func reduceGradTo(g tensor.Dense, shape tensor.Shape) tensor.Dense {
	for g.Rank() > shape.Rank() {
		g = g.Sum(0)
	}
	if g.Rank() < shape.Rank() {
		// Gradient of a scalar used in a broadcast position.
		b, err := g.BroadcastTo(shape)
		if err != nil {
			panic(fmt.Sprintf("backend: cannot reduce gradient %v to %v", g.Shape(), shape))
		}
		return b
	}
	for d := 0; d < shape.Rank(); d++ {
		if shape[d] == 1 && g.Shape()[d] > 1 {
			g = g.Sum(d).Unsqueeze(d)
		}
	}
	return g
}

// newNode builds a tape node from parents. The backward function is recorded
// only when some parent requires gradients.
func newNode(data tensor.Dense, backFn func(grad tensor.Dense), parents ...*Tensor) *Tensor {
	requires := false
	for _, p := range parents {
		if p.requires {
			requires = true
			break
		}
	}
	n := &Tensor{data: data, requires: requires}
	if requires {
		n.parents = parents
		n.backFn = backFn
	}
	return n
}

// Backward runs reverse-mode differentiation from a scalar root, accumulating
// gradients into every reachable leaf that requires them.
func (t *Tensor) Backward() error {
	if t.data.Size() != 1 {
		return fmt.Errorf("backend: backward requires a scalar, got shape %v", t.data.Shape())
	}
	if !t.requires {
		return fmt.Errorf("backend: backward target does not require gradients")
	}

	var topo []*Tensor
	visited := map[*Tensor]bool{}
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, p := range n.parents {
			visit(p)
		}
		topo = append(topo, n)
	}
	visit(t)

	// Interior nodes accumulate transient gradients; clear any leftovers from
	// a previous backward over a shared subgraph.
	for _, n := range topo {
		if n.backFn != nil {
			n.grad = nil
		}
	}

	seed := tensor.Ones(t.data.Shape())
	c := seed.Clone()
	t.grad = &c

	for i := len(topo) - 1; i >= 0; i-- {
		n := topo[i]
		if n.backFn == nil || n.grad == nil {
			continue
		}
		n.backFn(*n.grad)
	}
	return nil
}
