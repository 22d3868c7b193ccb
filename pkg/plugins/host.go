package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Default host limits.
const (
	DefaultTimeout          = 5 * time.Minute
	DefaultMemoryLimitPages = 256 // 16MB
)

// HostConfig contains configuration for the WASM host.
type HostConfig struct {
	// Timeout bounds a single invocation.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	MemoryLimitPages uint32
}

// Request is written as JSON to the module's standard input.
type Request struct {
	Parameters map[string]any `json:"parameters"`
	Variables  map[string]any `json:"variables"`
}

// Response is read as JSON from the module's standard output.
type Response struct {
	Status    string         `json:"status"`
	Errors    []string       `json:"errors,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Sensitive []string       `json:"sensitive,omitempty"`
}

// Host compiles and runs WASI plugin modules on a shared runtime.
type Host struct {
	runtime wazero.Runtime
	config  HostConfig
	logger  zerolog.Logger
}

// NewHost creates a runtime with WASI instantiated.
func NewHost(ctx context.Context, cfg HostConfig, logger zerolog.Logger) (*Host, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = DefaultMemoryLimitPages
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	return &Host{
		runtime: runtime,
		config:  cfg,
		logger:  logger.With().Str("component", "plugins").Logger(),
	}, nil
}

// Plugin is a descriptor paired with its compiled module.
type Plugin struct {
	Descriptor *Descriptor

	host     *Host
	compiled wazero.CompiledModule
}

// Load reads the plugin in dir, verifies its checksum and compiles it.
func (h *Host) Load(ctx context.Context, dir string, descriptor *Descriptor) (*Plugin, error) {
	if descriptor == nil {
		d, err := LoadDescriptor(dir, nil)
		if err != nil {
			return nil, err
		}
		descriptor = d
	}

	module, err := os.ReadFile(descriptor.ModulePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}
	if err := descriptor.VerifyChecksum(module); err != nil {
		return nil, err
	}

	compiled, err := h.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WASM module %s: %w", descriptor.ModulePath(), err)
	}

	h.logger.Debug().
		Str("plugin", descriptor.Name).
		Str("alias", descriptor.Alias).
		Str("version", descriptor.Version).
		Msg("Plugin compiled")

	return &Plugin{Descriptor: descriptor, host: h, compiled: compiled}, nil
}

// Run instantiates the module once with req on stdin and decodes its
// stdout. The module is closed when ctx is done or the timeout elapses.
func (p *Plugin) Run(ctx context.Context, req Request) (*Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plugin request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.host.config.Timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := p.host.logger.With().Str("plugin", p.Descriptor.Alias).Str("stream", "stderr").Logger()

	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(p.Descriptor.Alias).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(stderr)

	mod, err := p.host.runtime.InstantiateModule(ctx, p.compiled, modConfig)
	if mod != nil {
		defer mod.Close(context.Background())
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("plugin %s interrupted: %w", p.Descriptor.Alias, ctxErr)
			}
			return nil, fmt.Errorf("plugin %s failed: %w", p.Descriptor.Alias, err)
		}
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("plugin %s returned an invalid response: %w", p.Descriptor.Alias, err)
	}
	return &resp, nil
}

// Close releases the compiled module.
func (p *Plugin) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

// Close releases the runtime and every module compiled by it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}
