package executors

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/plugins"
)

// Factory builds a fresh executor instance.
type Factory func(logger zerolog.Logger) engine.TaskExecutor

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Host runs WebAssembly plugins. Plugins are not discovered when nil.
	Host *plugins.Host

	// PluginDirs are scanned for plugin directories on every Reload.
	PluginDirs []string

	// Evaluator runs starlark tasks. A default evaluator is used when nil.
	Evaluator *config.StarlarkEvaluator
}

// Registry resolves task names to executors. It implements
// engine.ExecutorRegistry.
type Registry struct {
	opts   RegistryOptions
	logger zerolog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	executors map[string]engine.TaskExecutor
	versions  map[string]string
	plugins   []*plugins.Plugin
}

// NewRegistry creates a registry with the built-in executors registered.
// Call Reload before the first Lookup.
func NewRegistry(opts RegistryOptions, logger zerolog.Logger) *Registry {
	r := &Registry{
		opts:      opts,
		logger:    logger.With().Str("component", "executors").Logger(),
		factories: make(map[string]Factory),
		executors: make(map[string]engine.TaskExecutor),
		versions:  make(map[string]string),
	}

	r.Register("echo", func(l zerolog.Logger) engine.TaskExecutor { return NewEchoExecutor(l) })
	r.Register("variables", func(l zerolog.Logger) engine.TaskExecutor { return NewVariablesExecutor(l) })
	r.Register("shell", func(l zerolog.Logger) engine.TaskExecutor { return NewShellExecutor(l) })
	r.Register("starlark", func(l zerolog.Logger) engine.TaskExecutor { return NewStarlarkExecutor(opts.Evaluator, l) })
	r.Register("ssh", func(l zerolog.Logger) engine.TaskExecutor { return NewSSHExecutor(l) })
	return r
}

// Register adds a built-in executor factory. It takes effect on the next
// Reload.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Reload discards every executor, instantiates the built-ins again and
// rediscovers plugins. Requirements that no executor satisfies are logged.
func (r *Registry) Reload(ctx context.Context, requirements []engine.Requirement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.plugins {
		_ = p.Close(ctx)
	}
	r.plugins = nil
	r.executors = make(map[string]engine.TaskExecutor, len(r.factories))
	r.versions = make(map[string]string, len(r.factories))

	for name, factory := range r.factories {
		r.executors[name] = factory(r.logger)
		r.versions[name] = ""
	}

	if r.opts.Host != nil && len(r.opts.PluginDirs) > 0 {
		found, errs := r.opts.Host.Discover(ctx, r.opts.PluginDirs)
		for _, err := range errs {
			r.logger.Warn().Err(err).Msg("Skipping plugin")
		}
		for _, p := range found {
			alias := p.Descriptor.Alias
			if _, builtin := r.factories[alias]; builtin {
				r.logger.Warn().Str("alias", alias).Str("dir", p.Descriptor.Dir).Msg("Plugin alias shadows a built-in executor, skipping")
				_ = p.Close(ctx)
				continue
			}
			r.executors[alias] = plugins.NewExecutor(p, r.logger)
			r.versions[alias] = p.Descriptor.Version
			r.plugins = append(r.plugins, p)
			r.logger.Debug().Str("alias", alias).Str("version", p.Descriptor.Version).Msg("Plugin loaded")
		}
	}

	for _, problem := range plugins.CheckRequirements(requirements, r.versions) {
		r.logger.Warn().Msg(problem)
	}

	r.logger.Debug().Strs("executors", r.namesLocked()).Msg("Executors loaded")
	return ctx.Err()
}

// Lookup implements engine.ExecutorRegistry.
func (r *Registry) Lookup(name string) (engine.TaskExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// Names returns the loaded executor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases loaded plugins.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plugins {
		_ = p.Close(ctx)
	}
	r.plugins = nil
	return nil
}
