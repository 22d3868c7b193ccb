package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// Executor runs a plugin as an engine task executor.
type Executor struct {
	plugin *Plugin
	logger zerolog.Logger

	mu   sync.Mutex
	vars map[string]any
}

// NewExecutor wraps p.
func NewExecutor(p *Plugin, logger zerolog.Logger) *Executor {
	return &Executor{
		plugin: p,
		logger: logger.With().Str("component", "plugins").Str("plugin", p.Descriptor.Alias).Logger(),
	}
}

// Descriptor returns the plugin descriptor.
func (e *Executor) Descriptor() *Descriptor {
	return e.plugin.Descriptor
}

// Invoke implements engine.TaskExecutor.
func (e *Executor) Invoke(ctx context.Context, parameters map[string]any, vars variables.Scope) engine.TaskResult {
	name := e.plugin.Descriptor.Alias

	resolved, _ := vars.Interpolate(parameters, e.logger)
	params, _ := resolved.(map[string]any)
	params, err := e.plugin.Descriptor.ApplyDefaults(params)
	if err != nil {
		return engine.Failed(name, err)
	}

	resp, err := e.plugin.Run(ctx, Request{
		Parameters: variables.Plain(params).(map[string]any),
		Variables:  vars.Values(),
	})
	if err != nil {
		return engine.Failed(name, err)
	}

	switch resp.Status {
	case string(engine.StatusFinished):
	case string(engine.StatusFailed):
		errs := make([]error, 0, len(resp.Errors))
		for _, msg := range resp.Errors {
			errs = append(errs, errors.New(msg))
		}
		if len(errs) == 0 {
			errs = append(errs, fmt.Errorf("plugin %s reported failure", name))
		}
		return engine.Failed(name, errs...)
	default:
		return engine.Failed(name, fmt.Errorf("plugin %s returned unknown status %q", name, resp.Status))
	}

	sensitive := make(map[string]bool, len(resp.Sensitive))
	for _, n := range resp.Sensitive {
		sensitive[n] = true
	}
	out := make(map[string]any, len(resp.Variables))
	for k, v := range resp.Variables {
		if sensitive[k] {
			out[k] = variables.NewSecret(v)
			continue
		}
		out[k] = v
	}

	e.mu.Lock()
	e.vars = out
	e.mu.Unlock()

	e.logger.Debug().Int("variables", len(out)).Msg("Plugin finished")
	return engine.Succeeded(name)
}

// Variables implements engine.TaskExecutor.
func (e *Executor) Variables() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vars
}
