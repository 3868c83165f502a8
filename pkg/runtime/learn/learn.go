// Package learn drives gradient-based optimization of TL programs: parameter
// identification, forward passes through the executor pipeline, backward
// steps and SGD updates.
package learn

import (
	"fmt"
	"io"
	"strconv"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
	"github.com/itohio/tensorlang/pkg/logger"
	"github.com/itohio/tensorlang/pkg/runtime/env"
	"github.com/itohio/tensorlang/pkg/runtime/executor"
	"github.com/itohio/tensorlang/pkg/runtime/preprocess"
)

// Config holds a learning directive's parameters.
type Config struct {
	Directive    string
	LearningRate float32
	Epochs       int
	Samples      int
	Verbose      bool
}

// ConfigFromDirective applies directive arguments over the defaults
// (lr=0.01, epochs=100, n=1000, verbose=false).
func ConfigFromDirective(dir *ast.QueryDirective) Config {
	cfg := Config{
		Directive:    dir.Name.Name,
		LearningRate: 0.01,
		Epochs:       100,
		Samples:      1000,
	}
	for _, arg := range dir.Args {
		switch arg.Name.Name {
		case "lr", "learning_rate":
			if arg.Number != nil {
				if v, err := arg.Number.Value(); err == nil {
					cfg.LearningRate = float32(v)
				}
			}
		case "epochs":
			if arg.Number != nil {
				if v, err := strconv.Atoi(arg.Number.Text); err == nil {
					cfg.Epochs = v
				}
			}
		case "n", "samples":
			if arg.Number != nil {
				if v, err := strconv.Atoi(arg.Number.Text); err == nil {
					cfg.Samples = v
				}
			}
		case "verbose":
			if arg.Bool != nil {
				cfg.Verbose = *arg.Bool
			}
		}
	}
	return cfg
}

// Engine runs learning directives against a program.
type Engine struct {
	env      *env.Environment
	be       backend.Backend
	registry *executor.Registry
	pre      *preprocess.Registry
	out      io.Writer
}

// New creates a learning engine sharing the VM's environment and pipeline.
func New(e *env.Environment, be backend.Backend, registry *executor.Registry, pre *preprocess.Registry, out io.Writer) *Engine {
	return &Engine{env: e, be: be, registry: registry, pre: pre, out: out}
}

// ExecuteDirective dispatches a learning directive on the named target.
func (l *Engine) ExecuteDirective(targetName string, dir *ast.QueryDirective, program *ast.Program) (*backend.Tensor, error) {
	cfg := ConfigFromDirective(dir)
	switch cfg.Directive {
	case "minimize":
		return l.optimize(targetName, cfg, program, false)
	case "maximize":
		return l.optimize(targetName, cfg, program, true)
	case "sample":
		return l.sample(targetName, cfg)
	}
	return nil, fmt.Errorf("learn: unknown directive: %s", cfg.Directive)
}

// isListLiteralEquation recognizes the initial-value shape that marks a
// tensor learnable.
func isListLiteralEquation(eq *ast.TensorEquation) bool {
	if len(eq.Clauses) != 1 || eq.Clauses[0].Guard != nil {
		return false
	}
	_, ok := eq.Clauses[0].Expr.(*ast.ListExpr)
	return ok
}

// identifyLearnables marks a tensor learnable iff the program initializes it
// with a list-literal RHS and its name is lowercase. Uppercase list-literal
// tensors are data; everything else is computed.
func identifyLearnables(program *ast.Program) []string {
	var names []string
	seen := map[string]bool{}
	for _, st := range program.Statements {
		eq, ok := st.(*ast.TensorEquation)
		if !ok {
			continue
		}
		name := env.Key(eq.LHS)
		if isListLiteralEquation(eq) && eq.LHS.Name.IsLower() && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// forwardPass re-executes every non-list-literal tensor equation through the
// preprocess-then-execute pipeline. List-literal statements are skipped so
// learnables keep their gradient-tracked values across epochs.
func (l *Engine) forwardPass(program *ast.Program) error {
	for _, st := range program.Statements {
		eq, ok := st.(*ast.TensorEquation)
		if !ok {
			continue
		}
		if isListLiteralEquation(eq) {
			continue
		}
		expanded, err := l.pre.Preprocess(eq, l.env)
		if err != nil {
			return err
		}
		for _, cst := range expanded {
			ceq, ok := cst.(*ast.TensorEquation)
			if !ok {
				continue
			}
			result, err := l.registry.Execute(ceq, l.env, l.be)
			if err != nil {
				return err
			}
			l.env.BindRef(ceq.LHS, result)
		}
	}
	return nil
}

func (l *Engine) optimize(targetName string, cfg Config, program *ast.Program, maximize bool) (*backend.Tensor, error) {
	paramNames := identifyLearnables(program)
	if len(paramNames) == 0 {
		return nil, fmt.Errorf("learn: no learnable parameters found")
	}

	params := make([]*backend.Tensor, len(paramNames))
	for i, name := range paramNames {
		t, err := l.env.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("learn: parameter %s is not bound: %w", name, err)
		}
		params[i] = t.RequireGrad()
		l.env.Bind(name, params[i])
		if cfg.Verbose {
			fmt.Fprintf(l.out, "Parameter %s requires_grad=true\n", name)
		}
	}

	optimizer := l.be.SGD(params, cfg.LearningRate)

	progressEvery := cfg.Epochs / 10
	if progressEvery == 0 {
		progressEvery = 1
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		optimizer.ZeroGrad()

		if err := l.forwardPass(program); err != nil {
			return nil, err
		}

		target, err := l.env.Lookup(targetName)
		if err != nil {
			return nil, fmt.Errorf("learn: target tensor not found: %s", targetName)
		}
		loss := target
		if loss.Size() > 1 {
			loss = l.be.Sum(loss)
		}
		if maximize {
			loss = l.be.Neg(loss)
		}
		if err := loss.Backward(); err != nil {
			return nil, fmt.Errorf("learn: backward failed: %w", err)
		}
		optimizer.Step()

		if cfg.Verbose && (epoch%progressEvery == 0 || epoch == cfg.Epochs-1) {
			val := loss.Item()
			if maximize {
				val = -val
			}
			fmt.Fprintf(l.out, "Epoch %d/%d - %s: %g\n", epoch, cfg.Epochs, progressLabel(maximize), val)
		}
	}

	logger.Log.Debug().Str("target", targetName).Int("epochs", cfg.Epochs).Msg("learning finished")
	final, err := l.env.Lookup(targetName)
	if err != nil {
		return nil, fmt.Errorf("learn: target tensor not found: %s", targetName)
	}
	return final.Detach(), nil
}

func progressLabel(maximize bool) string {
	if maximize {
		return "Reward"
	}
	return "Loss"
}

// sample draws categorical samples from a normalized copy of the target.
func (l *Engine) sample(targetName string, cfg Config) (*backend.Tensor, error) {
	probs, err := l.env.Lookup(targetName)
	if err != nil {
		return nil, fmt.Errorf("learn: probability tensor not found: %s", targetName)
	}
	normalized := l.be.Div(probs, l.be.Sum(probs))
	return l.be.Multinomial(normalized, cfg.Samples, true)
}
