package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

// DefaultStarlarkTimeout bounds a script when no timeout is configured.
const DefaultStarlarkTimeout = 30 * time.Second

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds every exported global converted to Go values.
	Output map[string]any `json:"output,omitempty"`

	// Names lists the keys of Output in sorted order.
	Names []string `json:"names,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// StarlarkEvaluator executes Starlark scripts with a timeout.
type StarlarkEvaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewStarlarkEvaluator creates a new Starlark evaluator. print() output goes
// to logger at info level.
func NewStarlarkEvaluator(timeout time.Duration, logger zerolog.Logger) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{
		timeout: timeout,
		logger:  logger.With().Str("component", "starlark").Logger(),
	}
}

// Evaluate executes script with input and extra builtins predeclared, and
// returns its exported globals. Globals starting with "_" are not exported.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]any, builtins starlark.StringDict) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "lemniscat",
		Print: func(_ *starlark.Thread, msg string) {
			se.logger.Info().Str("file", filename).Msg(msg)
		},
	}

	resultCh := make(chan *StarlarkResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := se.evaluateSync(thread, filename, script, input, builtins)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		err := fmt.Errorf("starlark execution of %s aborted: %w", filename, evalCtx.Err())
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	case err := <-errCh:
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(startTime)
		return result, nil
	}
}

func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, input map[string]any, builtins starlark.StringDict) (*StarlarkResult, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"secret": starlark.NewBuiltin("secret", builtinSecret),
		"env":    starlark.NewBuiltin("env", builtinEnv),
	}
	for name, fn := range builtins {
		predeclared[name] = fn
	}

	for key, val := range input {
		starlarkVal, err := ToStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("starlark execution failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	result := &StarlarkResult{Output: make(map[string]any)}
	for _, name := range globals.Keys() {
		if name[0] == '_' {
			continue
		}
		// Functions defined by the script are helpers, not values.
		if _, ok := globals[name].(starlark.Callable); ok {
			continue
		}
		goVal, err := FromStarlarkValue(globals[name])
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		result.Output[name] = goVal
		result.Names = append(result.Names, name)
	}
	return result, nil
}

// ToStarlarkValue converts a Go value to a Starlark value. Variables are
// unwrapped to their plain value.
func ToStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case variables.Variable:
		return ToStarlarkValue(variables.Plain(val.Value))
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := ToStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(item)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := ToStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case variables.Scope:
		return ToStarlarkValue(val.Values())
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromStarlarkValue converts a Starlark value to a Go value. A value wrapped
// by secret() becomes a sensitive variables.Variable.
func FromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *secretValue:
		inner, err := FromStarlarkValue(val.inner)
		if err != nil {
			return nil, err
		}
		return variables.NewSecret(inner), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := FromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, elem := range val {
			item, err := FromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := FromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := FromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// secretValue marks a value as sensitive.
type secretValue struct {
	inner starlark.Value
}

var _ starlark.Value = (*secretValue)(nil)

func (s *secretValue) String() string        { return `secret("***")` }
func (s *secretValue) Type() string          { return "secret" }
func (s *secretValue) Freeze()               { s.inner.Freeze() }
func (s *secretValue) Truth() starlark.Bool  { return s.inner.Truth() }
func (s *secretValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: secret") }

// builtinSecret implements secret(value).
func builtinSecret(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	if s, ok := value.(*secretValue); ok {
		return s, nil
	}
	return &secretValue{inner: value}, nil
}

// builtinEnv implements env(name, default=None).
func builtinEnv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if val, ok := os.LookupEnv(name); ok {
		return starlark.String(val), nil
	}
	return def, nil
}
