package executors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// DefaultInterpreter runs shell scripts when no interpreter is given.
const DefaultInterpreter = "sh"

// ShellExecutor runs a script through an interpreter's -c flag.
//
// Parameters: script (required), interpreter, workingDirectory and env.
// Every scoped variable is exported as LEM_<NAME>.
type ShellExecutor struct {
	outputs
	logger zerolog.Logger
}

// NewShellExecutor creates the shell executor.
func NewShellExecutor(logger zerolog.Logger) *ShellExecutor {
	return &ShellExecutor{logger: logger.With().Str("executor", "shell").Logger()}
}

// Invoke implements engine.TaskExecutor.
func (e *ShellExecutor) Invoke(ctx context.Context, parameters map[string]any, vars variables.Scope) engine.TaskResult {
	e.set(nil)
	p := resolveParams(parameters, vars, e.logger)

	script, err := p.Required("script")
	if err != nil {
		return engine.Failed("shell", err)
	}
	interpreter := p.String("interpreter")
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	extra, err := p.Map("env")
	if err != nil {
		return engine.Failed("shell", err)
	}

	cmd := exec.CommandContext(ctx, interpreter, "-c", script)
	cmd.Dir = p.String("workingDirectory")
	// Children that inherit stdout must not hold the task open after a kill.
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(), Environment(vars)...)
	for _, k := range sortedKeys(extra) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, variables.Stringify(extra[k])))
	}

	stdout := newPushvarWriter(e.logger.With().Str("stream", "stdout").Logger())
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	stdout.Flush()
	duration := time.Since(start)

	for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
		if line != "" {
			e.logger.Warn().Str("stream", "stderr").Msg(line)
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return engine.Failed("shell", fmt.Errorf("script interrupted: %w", ctx.Err()))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return engine.Failed("shell", fmt.Errorf("script exited with code %d", exitErr.ExitCode()))
		}
		return engine.Failed("shell", fmt.Errorf("failed to execute script: %w", err))
	}

	e.set(stdout.Variables())
	e.logger.Debug().Dur("duration", duration).Int("variables", len(stdout.Variables())).Msg("Script finished")
	return engine.Succeeded("shell")
}

// Environment renders vars as LEM_<NAME>=value pairs sorted by name.
// Sensitive values are included.
func Environment(vars variables.Scope) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]string, 0, len(names))
	for _, name := range names {
		env = append(env, EnvName(name)+"="+vars[name].String())
	}
	return env
}

// EnvName maps a variable name to its environment name: upper case with
// every character outside [A-Z0-9] replaced by "_", prefixed by LEM_.
func EnvName(name string) string {
	var b strings.Builder
	b.WriteString("LEM_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
