package backend

import (
	"math/rand"

	"github.com/itohio/tensorlang/pkg/core/math/tensor"
)

// Backend is the tensor capability set consumed by the runtime. The concrete
// implementation is the eager autograd engine in this package; the interface
// is the seam the executors and the learning driver program against.
type Backend interface {
	// Construction.
	Scalar(v float32) *Tensor
	Zeros(shape ...int) *Tensor
	Full(v float32, shape ...int) *Tensor
	FromFlat(shape []int, data []float32) *Tensor
	Randn(shape ...int) *Tensor

	// Elementwise arithmetic with broadcasting.
	Add(a, b *Tensor) *Tensor
	Sub(a, b *Tensor) *Tensor
	Mul(a, b *Tensor) *Tensor
	Div(a, b *Tensor) *Tensor
	Mod(a, b *Tensor) *Tensor
	Pow(a, b *Tensor) *Tensor
	Neg(a *Tensor) *Tensor

	// Comparisons and logic, producing 0/1 tensors.
	Less(a, b *Tensor) *Tensor
	LessEqual(a, b *Tensor) *Tensor
	Greater(a, b *Tensor) *Tensor
	GreaterEqual(a, b *Tensor) *Tensor
	Equal(a, b *Tensor) *Tensor
	NotEqual(a, b *Tensor) *Tensor
	And(a, b *Tensor) *Tensor
	Or(a, b *Tensor) *Tensor
	Not(a *Tensor) *Tensor

	// Unary math by builtin name, and softmax along an axis.
	Unary(name string, a *Tensor) (*Tensor, error)
	Softmax(a *Tensor, dim int) *Tensor

	// Contraction, indexing and shaping.
	Einsum(spec string, operands []*Tensor) (*Tensor, error)
	Select(a *Tensor, dim, i int) *Tensor
	SliceRange(a *Tensor, dim, start, end, step int) *Tensor
	IndexPut(a *Tensor, coords []int, v *Tensor) *Tensor
	BroadcastTo(a *Tensor, shape tensor.Shape) (*Tensor, error)
	Sum(a *Tensor) *Tensor
	Reshape(a *Tensor, shape tensor.Shape) *Tensor

	// Autograd and optimization.
	SGD(params []*Tensor, lr float32) *SGD

	// Sampling.
	Multinomial(probs *Tensor, n int, replace bool) (*Tensor, error)
}

type eager struct {
	rng *rand.Rand
}

// New creates the eager backend.
func New() Backend {
	return &eager{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewSeeded creates the eager backend with a deterministic sampling source.
func NewSeeded(seed int64) Backend {
	return &eager{rng: rand.New(rand.NewSource(seed))}
}

func (e *eager) Scalar(v float32) *Tensor                    { return Scalar(v) }
func (e *eager) Zeros(shape ...int) *Tensor                  { return Zeros(shape...) }
func (e *eager) Full(v float32, shape ...int) *Tensor        { return Full(v, shape...) }
func (e *eager) FromFlat(s []int, d []float32) *Tensor       { return FromFlat(s, d) }
func (e *eager) Add(a, b *Tensor) *Tensor                    { return Add(a, b) }
func (e *eager) Sub(a, b *Tensor) *Tensor                    { return Sub(a, b) }
func (e *eager) Mul(a, b *Tensor) *Tensor                    { return Mul(a, b) }
func (e *eager) Div(a, b *Tensor) *Tensor                    { return Div(a, b) }
func (e *eager) Mod(a, b *Tensor) *Tensor                    { return Mod(a, b) }
func (e *eager) Pow(a, b *Tensor) *Tensor                    { return Pow(a, b) }
func (e *eager) Neg(a *Tensor) *Tensor                       { return Neg(a) }
func (e *eager) Less(a, b *Tensor) *Tensor                   { return Less(a, b) }
func (e *eager) LessEqual(a, b *Tensor) *Tensor              { return LessEqual(a, b) }
func (e *eager) Greater(a, b *Tensor) *Tensor                { return Greater(a, b) }
func (e *eager) GreaterEqual(a, b *Tensor) *Tensor           { return GreaterEqual(a, b) }
func (e *eager) Equal(a, b *Tensor) *Tensor                  { return Equal(a, b) }
func (e *eager) NotEqual(a, b *Tensor) *Tensor               { return NotEqual(a, b) }
func (e *eager) And(a, b *Tensor) *Tensor                    { return And(a, b) }
func (e *eager) Or(a, b *Tensor) *Tensor                     { return Or(a, b) }
func (e *eager) Not(a *Tensor) *Tensor                       { return Not(a) }
func (e *eager) Unary(n string, a *Tensor) (*Tensor, error)  { return Unary(n, a) }
func (e *eager) Softmax(a *Tensor, dim int) *Tensor          { return Softmax(a, dim) }
func (e *eager) Select(a *Tensor, dim, i int) *Tensor        { return Select(a, dim, i) }
func (e *eager) Sum(a *Tensor) *Tensor                       { return Sum(a) }
func (e *eager) Reshape(a *Tensor, s tensor.Shape) *Tensor   { return Reshape(a, s) }
func (e *eager) SGD(params []*Tensor, lr float32) *SGD       { return NewSGD(params, lr) }

func (e *eager) Einsum(spec string, operands []*Tensor) (*Tensor, error) {
	return Einsum(spec, operands...)
}

func (e *eager) SliceRange(a *Tensor, dim, start, end, step int) *Tensor {
	return SliceRange(a, dim, start, end, step)
}

func (e *eager) IndexPut(a *Tensor, coords []int, v *Tensor) *Tensor {
	return IndexPut(a, coords, v)
}

func (e *eager) BroadcastTo(a *Tensor, shape tensor.Shape) (*Tensor, error) {
	return BroadcastTo(a, shape)
}

func (e *eager) Multinomial(probs *Tensor, n int, replace bool) (*Tensor, error) {
	return multinomial(e.rng, probs, n, replace)
}

// Randn creates a tensor of standard-normal samples, used for placeholder
// operands with symbolic sizes.
func (e *eager) Randn(shape ...int) *Tensor {
	sh := tensor.NewShape(shape...)
	data := make([]float32, sh.Size())
	for i := range data {
		data[i] = float32(e.rng.NormFloat64())
	}
	return FromDense(tensor.FromFloat32(sh, data))
}
