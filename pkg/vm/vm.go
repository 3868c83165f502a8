// Package vm orchestrates TL program execution: it walks statements in
// lexical order, routes tensor equations through the preprocessor and
// executor registries, facts and rules to the Datalog engine, file operations
// to the flat-file codec, and queries to their printers.
package vm

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/options"
	"github.com/itohio/tensorlang/pkg/parser"
	"github.com/itohio/tensorlang/pkg/runtime/datalog"
	"github.com/itohio/tensorlang/pkg/runtime/env"
	"github.com/itohio/tensorlang/pkg/runtime/executor"
	"github.com/itohio/tensorlang/pkg/runtime/learn"
	"github.com/itohio/tensorlang/pkg/runtime/preprocess"
)

// VM holds the shared environment and the execution pipeline.
type VM struct {
	env      *env.Environment
	be       backend.Backend
	registry *executor.Registry
	pre      *preprocess.Registry
	datalog  *datalog.Engine
	learner  *learn.Engine
	out      io.Writer
	errOut   io.Writer
}

// WithOutput directs query results to w.
func WithOutput(w io.Writer) options.Option {
	return func(cfg interface{}) {
		if v, ok := cfg.(*VM); ok {
			v.out = w
		}
	}
}

// WithErrorOutput directs diagnostics to w.
func WithErrorOutput(w io.Writer) options.Option {
	return func(cfg interface{}) {
		if v, ok := cfg.(*VM); ok {
			v.errOut = w
		}
	}
}

// WithBackend substitutes the tensor backend.
func WithBackend(be backend.Backend) options.Option {
	return func(cfg interface{}) {
		if v, ok := cfg.(*VM); ok {
			v.be = be
		}
	}
}

// New creates a VM with a fresh environment and the default pipeline.
func New(opts ...options.Option) *VM {
	v := &VM{
		env:      env.New(),
		be:       backend.New(),
		registry: executor.NewRegistry(),
		pre:      preprocess.NewRegistry(),
		out:      os.Stdout,
		errOut:   os.Stderr,
	}
	options.ApplyOptions(v, opts...)
	v.datalog = datalog.New(v.env)
	v.learner = learn.New(v.env, v.be, v.registry, v.pre, v.out)
	return v
}

// Env exposes the environment for inspection.
func (v *VM) Env() *env.Environment { return v.env }

// ExecuteSource parses and executes a TL program.
func (v *VM) ExecuteSource(src string) error {
	prog, err := parser.Parse(src)
	if err != nil {
		return err
	}
	return v.Execute(prog)
}

// Execute runs the program. Errors abort execution; bindings and output made
// before the failing statement remain.
func (v *VM) Execute(prog *ast.Program) error {
	i := 0
	for i < len(prog.Statements) {
		// Maximal runs of consecutive virtual-indexed equations expand as a
		// unit so coupled recurrences share timestep scheduling.
		if bp := v.batchFor(prog.Statements[i]); bp != nil {
			j := i
			for j < len(prog.Statements) && v.batchFor(prog.Statements[j]) == bp {
				j++
			}
			expanded, err := bp.PreprocessBatch(prog.Statements[i:j], v.env)
			if err != nil {
				return err
			}
			for _, st := range expanded {
				if err := v.execStatement(st, prog); err != nil {
					return err
				}
			}
			i = j
			continue
		}
		if err := v.execStatement(prog.Statements[i], prog); err != nil {
			return err
		}
		i++
	}
	return nil
}

// batchFor returns the batch preprocessor claiming st, if any.
func (v *VM) batchFor(st ast.Statement) preprocess.BatchPreprocessor {
	for _, bp := range v.pre.Batch() {
		if bp.ShouldPreprocess(st, v.env) {
			return bp
		}
	}
	return nil
}

func (v *VM) execStatement(st ast.Statement, prog *ast.Program) error {
	logger.Log.Debug().Str("stmt", st.String()).Msg("exec")
	switch n := st.(type) {
	case *ast.TensorEquation:
		expanded, err := v.pre.Preprocess(n, v.env)
		if err != nil {
			return err
		}
		for _, cst := range expanded {
			eq, ok := cst.(*ast.TensorEquation)
			if !ok {
				if err := v.execStatement(cst, prog); err != nil {
					return err
				}
				continue
			}
			result, err := v.registry.Execute(eq, v.env, v.be)
			if err != nil {
				return err
			}
			v.env.BindRef(eq.LHS, result)
		}
		return nil
	case *ast.DatalogFact:
		if v.datalog.AddFact(n) {
			logger.Log.Debug().Str("fact", n.String()).Msg("added fact")
		}
		return nil
	case *ast.DatalogRule:
		v.datalog.AddRule(n)
		logger.Log.Debug().Str("rule", n.String()).Msg("registered rule")
		return nil
	case *ast.Query:
		v.datalog.Saturate()
		return v.execQuery(n, prog)
	case *ast.FileOperation:
		return v.execFileOperation(n)
	}
	return fmt.Errorf("vm: unknown statement kind: %s", st.String())
}

// learningDirectives are the directive names the learning driver owns.
var learningDirectives = map[string]bool{"minimize": true, "maximize": true, "sample": true}

func (v *VM) execQuery(q *ast.Query, prog *ast.Program) error {
	if q.Tensor == nil {
		if q.Directive != nil {
			logger.Log.Debug().Str("directive", q.Directive.Name.Name).Msg("directive ignored on datalog query")
		}
		return v.datalog.Query(q, v.out)
	}

	// Virtual indices on a query target read the current value: slot 0.
	ref := substituteQueryVirtuals(*q.Tensor)
	name := env.Key(ref)

	if q.Directive != nil && learningDirectives[q.Directive.Name.Name] {
		result, err := v.learner.ExecuteDirective(name, q.Directive, prog)
		if err != nil {
			return err
		}
		v.printTensor(name, ref, result)
		return nil
	}

	t, err := v.env.Lookup(name)
	if err != nil {
		return err
	}
	v.printTensor(name, ref, t)
	return nil
}

// printTensor prints an indexed query as a scalar cell, or the whole tensor.
func (v *VM) printTensor(name string, ref ast.TensorRef, t *backend.Tensor) {
	if indices, ok := executor.TryGatherNumericIndices(ref, v.env); ok && len(indices) > 0 {
		cur := t
		valid := true
		for _, ix := range indices {
			// A width-1 virtual dimension may have collapsed to rank 0;
			// slot 0 then addresses the value itself.
			if cur.Rank() == 0 {
				if ix == 0 {
					continue
				}
				valid = false
				break
			}
			if ix >= cur.Shape()[0] {
				valid = false
				break
			}
			cur = v.be.Select(cur, 0, ix)
		}
		if valid && cur.Size() == 1 {
			parts := make([]string, len(indices))
			for i, ix := range indices {
				parts[i] = strconv.Itoa(ix)
			}
			fmt.Fprintf(v.out, "%s[%s] = %s\n", name, strings.Join(parts, ","), formatScalar(cur.Item()))
			return
		}
	}
	fmt.Fprintf(v.out, "%s =\n%s\n", name, t.Dense().String())
}

func formatScalar(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// substituteQueryVirtuals maps virtual indices of a query target to slot 0.
func substituteQueryVirtuals(ref ast.TensorRef) ast.TensorRef {
	out := ast.TensorRef{Name: ref.Name, Loc: ref.Loc}
	for _, ios := range ref.Indices {
		if idx, ok := ios.(*ast.Index); ok && idx.Virtual != nil {
			out.Indices = append(out.Indices, &ast.Index{
				Number: &ast.NumberLiteral{Text: "0", Loc: idx.Loc},
				Loc:    idx.Loc,
			})
			continue
		}
		out.Indices = append(out.Indices, ios)
	}
	return out
}
