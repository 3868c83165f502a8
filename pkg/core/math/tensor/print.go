package tensor

import (
	"strconv"
	"strings"
)

func formatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// String renders the tensor with nested brackets; rows of matrices and higher
// ranks are separated by newlines.
func (t Dense) String() string {
	if t.Empty() {
		return "[]"
	}
	if t.Rank() == 0 {
		return formatValue(t.data[0])
	}
	var b strings.Builder
	t.format(&b, nil, 0)
	return b.String()
}

func (t Dense) format(b *strings.Builder, prefix []int, depth int) {
	if depth == t.Rank()-1 {
		b.WriteByte('[')
		idx := append(append([]int(nil), prefix...), 0)
		for i := 0; i < t.shape[depth]; i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			idx[depth] = i
			b.WriteString(formatValue(t.At(idx...)))
		}
		b.WriteByte(']')
		return
	}
	b.WriteByte('[')
	for i := 0; i < t.shape[depth]; i++ {
		if i > 0 {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(" ", depth+1))
		}
		t.format(b, append(prefix, i), depth+1)
	}
	b.WriteByte(']')
}
