// Package executors provides the task executor registry and the built-in
// executors: echo, variables, shell, starlark and ssh.
package executors

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

// outputs stores the variables produced by the last successful invocation.
type outputs struct {
	mu   sync.Mutex
	vars map[string]any
}

// Variables implements engine.TaskExecutor.
func (o *outputs) Variables() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars
}

func (o *outputs) set(vars map[string]any) {
	o.mu.Lock()
	o.vars = vars
	o.mu.Unlock()
}

// params wraps resolved task parameters with typed accessors.
type params map[string]any

// resolveParams interpolates parameters against the scope. The result
// keeps nested sensitive wrappers stripped.
func resolveParams(parameters map[string]any, scope variables.Scope, logger zerolog.Logger) params {
	resolved, _ := scope.Interpolate(parameters, logger)
	out, _ := variables.Plain(resolved).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return params(out)
}

// String returns the string form of key, or "" when absent.
func (p params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return variables.Stringify(v)
}

// Required returns the string form of key or an error when it is empty.
func (p params) Required(key string) (string, error) {
	s := p.String(key)
	if s == "" {
		return "", fmt.Errorf("parameter %s is required", key)
	}
	return s, nil
}

// Bool returns the truthiness of key, or def when absent.
func (p params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	return variables.Truthy(v)
}

// Map returns key as a map, or nil when absent.
func (p params) Map(key string) (map[string]any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %s must be a mapping", key)
	}
	return m, nil
}

// Strings returns key as a list of strings. A single string is accepted.
func (p params) Strings(key string) ([]string, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = variables.Stringify(item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s must be a list", key)
	}
}
