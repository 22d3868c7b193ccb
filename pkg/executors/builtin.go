package executors

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// EchoExecutor logs its message parameter.
type EchoExecutor struct {
	outputs
	logger zerolog.Logger
}

// NewEchoExecutor creates the echo executor.
func NewEchoExecutor(logger zerolog.Logger) *EchoExecutor {
	return &EchoExecutor{logger: logger.With().Str("executor", "echo").Logger()}
}

// Invoke implements engine.TaskExecutor.
func (e *EchoExecutor) Invoke(_ context.Context, parameters map[string]any, vars variables.Scope) engine.TaskResult {
	resolved, sensitive := vars.Interpolate(parameters["message"], e.logger)
	msg := variables.Stringify(resolved)
	if sensitive {
		msg = "***"
	}
	e.logger.Info().Msg(msg)
	e.set(nil)
	return engine.Succeeded("echo")
}

// VariablesExecutor publishes parameters.variables as outputs. Names listed
// in parameters.sensitive are marked sensitive.
type VariablesExecutor struct {
	outputs
	logger zerolog.Logger
}

// NewVariablesExecutor creates the variables executor.
func NewVariablesExecutor(logger zerolog.Logger) *VariablesExecutor {
	return &VariablesExecutor{logger: logger.With().Str("executor", "variables").Logger()}
}

// Invoke implements engine.TaskExecutor.
func (e *VariablesExecutor) Invoke(_ context.Context, parameters map[string]any, vars variables.Scope) engine.TaskResult {
	p := resolveParams(parameters, vars, e.logger)

	values, err := p.Map("variables")
	if err != nil {
		return engine.Failed("variables", err)
	}
	secret, err := p.Strings("sensitive")
	if err != nil {
		return engine.Failed("variables", err)
	}

	// A value built from a sensitive variable stays sensitive.
	tainted := make(map[string]bool)
	if raw, ok := parameters["variables"].(map[string]any); ok {
		for k, v := range raw {
			if _, s := vars.Interpolate(v, zerolog.Nop()); s {
				tainted[k] = true
			}
		}
	}
	for _, name := range secret {
		if _, ok := values[name]; !ok {
			return engine.Failed("variables", fmt.Errorf("sensitive variable %s is not declared", name))
		}
		tainted[name] = true
	}

	out := make(map[string]any, len(values))
	for k, v := range values {
		if tainted[k] {
			out[k] = variables.NewSecret(v)
			continue
		}
		out[k] = v
	}
	e.set(out)

	e.logger.Debug().Int("count", len(out)).Msg("Published variables")
	return engine.Succeeded("variables")
}
