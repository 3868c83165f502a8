// Package preprocess rewrites statements before execution. Preprocessors are
// source-to-source: they return concrete statements for the executor chain,
// never invoking it themselves.
package preprocess

import (
	"sort"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/runtime/env"
)

// Preprocessor transforms one statement into zero or more concrete ones.
type Preprocessor interface {
	// ShouldPreprocess reports whether this preprocessor transforms st.
	ShouldPreprocess(st ast.Statement, e *env.Environment) bool
	// Preprocess expands st. The environment may be updated (e.g. to grow
	// virtual-dimension storage).
	Preprocess(st ast.Statement, e *env.Environment) ([]ast.Statement, error)
	// Priority orders the chain; lower runs first.
	Priority() int
	Name() string
}

// BatchPreprocessor additionally expands a statement run as a unit, which the
// VM uses for coupled virtual-indexed equations.
type BatchPreprocessor interface {
	Preprocessor
	PreprocessBatch(stmts []ast.Statement, e *env.Environment) ([]ast.Statement, error)
}

// Registry is a priority-ordered preprocessor chain.
type Registry struct {
	preprocessors []Preprocessor
}

// NewRegistry creates a registry with the virtual-index preprocessor
// registered.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&VirtualIndexPreprocessor{})
	return r
}

// Register adds a preprocessor, keeping the chain sorted by priority.
func (r *Registry) Register(p Preprocessor) {
	r.preprocessors = append(r.preprocessors, p)
	sort.SliceStable(r.preprocessors, func(i, j int) bool {
		return r.preprocessors[i].Priority() < r.preprocessors[j].Priority()
	})
}

// Preprocess runs st through every preprocessor in priority order, flattening
// expansions.
func (r *Registry) Preprocess(st ast.Statement, e *env.Environment) ([]ast.Statement, error) {
	current := []ast.Statement{st}
	for _, p := range r.preprocessors {
		var next []ast.Statement
		for _, stmt := range current {
			if p.ShouldPreprocess(stmt, e) {
				expanded, err := p.Preprocess(stmt, e)
				if err != nil {
					return nil, err
				}
				next = append(next, expanded...)
			} else {
				next = append(next, stmt)
			}
		}
		current = next
	}
	return current, nil
}

// Batch returns the registered batch-capable preprocessors in priority order.
func (r *Registry) Batch() []BatchPreprocessor {
	var out []BatchPreprocessor
	for _, p := range r.preprocessors {
		if bp, ok := p.(BatchPreprocessor); ok {
			out = append(out, bp)
		}
	}
	return out
}
