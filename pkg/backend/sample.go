package backend

import (
	"fmt"
	"math/rand"

	"github.com/itohio/tensorlang/pkg/core/math/tensor"
)

// multinomial draws n category indices from a 1-D probability tensor.
// Probabilities need not be normalized; negative weights are rejected.
func multinomial(rng *rand.Rand, probs *Tensor, n int, replace bool) (*Tensor, error) {
	if probs.Rank() != 1 {
		return nil, fmt.Errorf("backend: multinomial expects a 1-D probability tensor, got shape %v", probs.Shape())
	}
	if n <= 0 {
		return nil, fmt.Errorf("backend: multinomial sample count must be positive, got %d", n)
	}
	weights := probs.data.Data()
	var total float64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("backend: multinomial weights must be non-negative")
		}
		total += float64(w)
	}
	if total <= 0 {
		return nil, fmt.Errorf("backend: multinomial weights sum to zero")
	}
	if !replace && n > len(weights) {
		return nil, fmt.Errorf("backend: cannot draw %d samples from %d categories without replacement", n, len(weights))
	}

	remaining := make([]float64, len(weights))
	for i, w := range weights {
		remaining[i] = float64(w)
	}
	rem := total
	out := make([]float32, n)
	for s := 0; s < n; s++ {
		r := rng.Float64() * rem
		pick := len(remaining) - 1
		for i, w := range remaining {
			if w == 0 {
				continue
			}
			if r < w {
				pick = i
				break
			}
			r -= w
		}
		out[s] = float32(pick)
		if !replace {
			rem -= remaining[pick]
			remaining[pick] = 0
		}
	}
	return FromDense(tensor.FromFloat32(tensor.NewShape(n), out)), nil
}
