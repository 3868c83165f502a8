package backend

// SGD implements stochastic gradient descent over a parameter list.
type SGD struct {
	params []*Tensor
	lr     float32
}

// NewSGD creates an SGD optimizer with the given learning rate.
func NewSGD(params []*Tensor, lr float32) *SGD {
	if lr <= 0 {
		panic("SGD: learning rate must be positive")
	}
	return &SGD{params: params, lr: lr}
}

// Step applies param = param - lr * grad to every parameter that has an
// accumulated gradient.
func (s *SGD) Step() {
	for _, p := range s.params {
		if p.grad == nil {
			continue
		}
		data := p.data.Data()
		grad := p.grad.Data()
		for i := range data {
			data[i] -= s.lr * grad[i]
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}
