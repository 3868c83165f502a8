package tensor

import (
	"fmt"
	"sort"
	"strings"
)

// einsumSpec is a parsed Einstein-summation specification.
type einsumSpec struct {
	inputs []string
	output string
}

func parseEinsumSpec(spec string, nOperands int) (einsumSpec, error) {
	s := strings.ReplaceAll(spec, " ", "")
	var out einsumSpec
	if i := strings.Index(s, "->"); i >= 0 {
		out.output = s[i+2:]
		s = s[:i]
		out.inputs = strings.Split(s, ",")
	} else {
		out.inputs = strings.Split(s, ",")
		// Implicit output: labels occurring exactly once, alphabetically.
		count := map[byte]int{}
		for _, in := range out.inputs {
			for i := 0; i < len(in); i++ {
				count[in[i]]++
			}
		}
		var free []byte
		for c, n := range count {
			if n == 1 {
				free = append(free, c)
			}
		}
		sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })
		out.output = string(free)
	}
	if len(out.inputs) != nOperands {
		return out, fmt.Errorf("tensor.Einsum: spec %q expects %d operands, got %d", spec, len(out.inputs), nOperands)
	}
	return out, nil
}

// Einsum evaluates an Einstein-summation contraction. Free indices appear on
// the output; repeated indices are summed over. Label extents are taken from
// the operands; every output label must appear in some operand.
func Einsum(spec string, operands ...Dense) (Dense, error) {
	parsed, err := parseEinsumSpec(spec, len(operands))
	if err != nil {
		return Dense{}, err
	}
	dims := map[byte]int{}
	for k, in := range parsed.inputs {
		if len(in) != operands[k].Rank() {
			return Dense{}, fmt.Errorf("tensor.Einsum: operand %d has rank %d, spec %q wants %d", k, operands[k].Rank(), spec, len(in))
		}
		for i := 0; i < len(in); i++ {
			c := in[i]
			n := operands[k].Shape()[i]
			if prev, ok := dims[c]; ok && prev != n {
				return Dense{}, fmt.Errorf("tensor.Einsum: label %q has conflicting extents %d and %d", string(c), prev, n)
			}
			dims[c] = n
		}
	}
	for i := 0; i < len(parsed.output); i++ {
		if _, ok := dims[parsed.output[i]]; !ok {
			return Dense{}, fmt.Errorf("tensor.Einsum: output label %q does not appear in any operand", string(parsed.output[i]))
		}
	}
	return einsumEval(parsed, dims, operands), nil
}

// EinsumDims is Einsum with explicit label extents, admitting output labels
// absent from the operands (they broadcast). Used for contraction gradients.
func EinsumDims(spec string, dims map[byte]int, operands ...Dense) (Dense, error) {
	parsed, err := parseEinsumSpec(spec, len(operands))
	if err != nil {
		return Dense{}, err
	}
	all := map[byte]int{}
	for c, n := range dims {
		all[c] = n
	}
	for k, in := range parsed.inputs {
		if len(in) != operands[k].Rank() {
			return Dense{}, fmt.Errorf("tensor.Einsum: operand %d has rank %d, spec %q wants %d", k, operands[k].Rank(), spec, len(in))
		}
		for i := 0; i < len(in); i++ {
			all[in[i]] = operands[k].Shape()[i]
		}
	}
	for i := 0; i < len(parsed.output); i++ {
		if _, ok := all[parsed.output[i]]; !ok {
			return Dense{}, fmt.Errorf("tensor.Einsum: no extent known for output label %q", string(parsed.output[i]))
		}
	}
	return einsumEval(parsed, all, operands), nil
}

func einsumEval(parsed einsumSpec, dims map[byte]int, operands []Dense) Dense {
	// Label order: output labels first, then contracted labels.
	var labels []byte
	seen := map[byte]bool{}
	for i := 0; i < len(parsed.output); i++ {
		c := parsed.output[i]
		if !seen[c] {
			seen[c] = true
			labels = append(labels, c)
		}
	}
	for _, in := range parsed.inputs {
		for i := 0; i < len(in); i++ {
			if !seen[in[i]] {
				seen[in[i]] = true
				labels = append(labels, in[i])
			}
		}
	}

	labelPos := map[byte]int{}
	loopShape := make(Shape, len(labels))
	for i, c := range labels {
		labelPos[c] = i
		loopShape[i] = dims[c]
	}

	outShape := make(Shape, len(parsed.output))
	for i := 0; i < len(parsed.output); i++ {
		outShape[i] = dims[parsed.output[i]]
	}
	out := New(outShape)
	if out.Size() == 0 || loopShape.Size() == 0 {
		return out
	}

	// Precompute per-operand flat-offset coefficients per label.
	opStrides := make([][]int, len(operands))
	for k, in := range parsed.inputs {
		coeff := make([]int, len(labels))
		strides := operands[k].Shape().Strides()
		for i := 0; i < len(in); i++ {
			coeff[labelPos[in[i]]] += strides[i]
		}
		opStrides[k] = coeff
	}
	outCoeff := make([]int, len(labels))
	outStrides := outShape.Strides()
	for i := 0; i < len(parsed.output); i++ {
		outCoeff[labelPos[parsed.output[i]]] += outStrides[i]
	}

	coord := make([]int, len(labels))
	total := loopShape.Size()
	for n := 0; n < total; n++ {
		prod := float32(1)
		for k, op := range operands {
			off := 0
			for i, ix := range coord {
				off += ix * opStrides[k][i]
			}
			prod *= op.data[off]
		}
		off := 0
		for i, ix := range coord {
			off += ix * outCoeff[i]
		}
		out.data[off] += prod
		stepCoord(coord, loopShape)
	}
	return out
}
