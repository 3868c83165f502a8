package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/core/math/tensor"
	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

func (v *VM) execFileOperation(fo *ast.FileOperation) error {
	if fo.LHSIsTensor {
		t, err := readTensorFromFile(fo.File.Text)
		if err != nil {
			return err
		}
		v.env.BindRef(fo.Tensor, backend.FromDense(t))
		logger.Log.Debug().Str("file", fo.File.Text).Str("tensor", env.Key(fo.Tensor)).Msg("loaded tensor")
		return nil
	}
	src, err := v.env.LookupRef(fo.Tensor)
	if err != nil {
		return err
	}
	if err := writeTensorToFile(fo.File.Text, src.Dense()); err != nil {
		return err
	}
	logger.Log.Debug().Str("file", fo.File.Text).Str("tensor", env.Key(fo.Tensor)).Msg("wrote tensor")
	return nil
}

// readTensorFromFile loads a flat tensor dump: one float per non-empty line
// (1-D), or comma-separated rows (2-D). The format is auto-detected by the
// presence of commas.
func readTensorFromFile(path string) (tensor.Dense, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tensor.Dense{}, fmt.Errorf("cannot open file for reading: %s: %w", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return tensor.Zeros(tensor.Shape{0}), nil
	}

	hasComma := false
	for _, ln := range lines {
		if strings.Contains(ln, ",") {
			hasComma = true
			break
		}
	}

	if hasComma {
		var values []float32
		cols := 0
		for _, ln := range lines {
			fields := strings.Split(ln, ",")
			if cols == 0 {
				cols = len(fields)
			} else if len(fields) != cols {
				return tensor.Dense{}, fmt.Errorf("CSV has inconsistent number of columns in: %s", path)
			}
			for _, f := range fields {
				f = strings.TrimSpace(f)
				if f == "" {
					values = append(values, 0)
					continue
				}
				x, err := strconv.ParseFloat(f, 32)
				if err != nil {
					return tensor.Dense{}, fmt.Errorf("cannot parse value %q in %s: %w", f, path, err)
				}
				values = append(values, float32(x))
			}
		}
		return tensor.FromFloat32(tensor.NewShape(len(lines), cols), values), nil
	}

	values := make([]float32, 0, len(lines))
	for _, ln := range lines {
		x, err := strconv.ParseFloat(ln, 32)
		if err != nil {
			return tensor.Dense{}, fmt.Errorf("cannot parse value %q in %s: %w", ln, path, err)
		}
		values = append(values, float32(x))
	}
	return tensor.FromFloat32(tensor.NewShape(len(values)), values), nil
}

// writeTensorToFile writes 1-D tensors one value per line, 2-D tensors as
// comma-separated rows, and higher ranks flattened one value per line.
// Parent directories are created as needed.
func writeTensorToFile(path string, t tensor.Dense) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create directory for %s: %w", path, err)
		}
	}

	format := func(v float32) string {
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	}

	var b strings.Builder
	switch t.Rank() {
	case 0:
		b.WriteString(format(t.Item()))
		b.WriteByte('\n')
	case 1:
		for i := 0; i < t.Shape()[0]; i++ {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(format(t.At(i)))
		}
	case 2:
		rows, cols := t.Shape()[0], t.Shape()[1]
		for i := 0; i < rows; i++ {
			if i > 0 {
				b.WriteByte('\n')
			}
			for j := 0; j < cols; j++ {
				if j > 0 {
					b.WriteByte(',')
				}
				b.WriteString(format(t.At(i, j)))
			}
		}
	default:
		for i, v := range t.Data() {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(format(v))
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("cannot open file for writing: %s: %w", path, err)
	}
	return nil
}
