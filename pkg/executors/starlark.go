package executors

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// StarlarkExecutor runs a Starlark script given inline (script) or from a
// file. The script sees variables and parameters dicts and publishes
// outputs with pushvar(name, value, sensitive=False).
type StarlarkExecutor struct {
	outputs
	evaluator *config.StarlarkEvaluator
	logger    zerolog.Logger
}

// NewStarlarkExecutor creates the starlark executor.
func NewStarlarkExecutor(evaluator *config.StarlarkEvaluator, logger zerolog.Logger) *StarlarkExecutor {
	logger = logger.With().Str("executor", "starlark").Logger()
	if evaluator == nil {
		evaluator = config.NewStarlarkEvaluator(0, logger)
	}
	return &StarlarkExecutor{evaluator: evaluator, logger: logger}
}

// Invoke implements engine.TaskExecutor.
func (e *StarlarkExecutor) Invoke(ctx context.Context, parameters map[string]any, vars variables.Scope) engine.TaskResult {
	e.set(nil)
	p := resolveParams(parameters, vars, e.logger)

	filename, script := "task.star", p.String("script")
	if script == "" {
		path := p.String("file")
		if path == "" {
			return engine.Failed("starlark", fmt.Errorf("parameter script or file is required"))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return engine.Failed("starlark", fmt.Errorf("failed to read script: %w", err))
		}
		filename, script = path, string(data)
	}

	var (
		mu     sync.Mutex
		pushed = make(map[string]any)
	)
	pushvar := starlark.NewBuiltin("pushvar", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name      string
			value     starlark.Value
			sensitive bool
		)
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "value", &value, "sensitive?", &sensitive); err != nil {
			return nil, err
		}
		goVal, err := config.FromStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		if v, ok := goVal.(variables.Variable); ok {
			sensitive = sensitive || v.Sensitive
			goVal = v.Value
		}

		mu.Lock()
		defer mu.Unlock()
		if sensitive {
			pushed[name] = variables.NewSecret(goVal)
		} else {
			pushed[name] = goVal
		}
		return starlark.None, nil
	})

	input := map[string]any{
		"variables":  vars.Values(),
		"parameters": map[string]any(p),
	}
	if _, err := e.evaluator.Evaluate(ctx, filename, script, input, starlark.StringDict{"pushvar": pushvar}); err != nil {
		return engine.Failed("starlark", err)
	}

	mu.Lock()
	defer mu.Unlock()
	e.set(pushed)
	e.logger.Debug().Int("variables", len(pushed)).Msg("Script finished")
	return engine.Succeeded("starlark")
}
