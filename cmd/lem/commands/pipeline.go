package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/executors"
	"github.com/lemniscat/lemniscat/pkg/manifest"
	"github.com/lemniscat/lemniscat/pkg/plugins"
	"github.com/lemniscat/lemniscat/pkg/policy"
	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// session is a manifest resolved against its variable sources.
type session struct {
	opts     *config.RunOptions
	selector *steps.Selector
	pool     *variables.Pool
	manifest *engine.Manifest
}

// prepare validates opts, loads the config files and the manifest, and
// checks every task condition. Nothing is executed.
func prepare(ctx context.Context, opts *config.RunOptions, logger zerolog.Logger) (*session, error) {
	if err := opts.Validate(); err != nil {
		return nil, engine.NewValidationError("invalid command line", err)
	}
	selector, err := opts.Selector()
	if err != nil {
		return nil, engine.NewValidationError("invalid steps", err)
	}
	overrides, err := opts.Overrides()
	if err != nil {
		return nil, engine.NewValidationError("invalid variable overrides", err)
	}

	pool := variables.NewPool(logger)
	sources := config.NewSources(0, config.NewStarlarkEvaluator(0, logger))
	vars, err := sources.Load(ctx, opts.ConfigFiles)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to load config files", err)
	}
	pool.Append(vars...)

	m, err := manifest.NewLoader(logger, nil).Load(opts.ManifestPath, pool, overrides...)
	if err != nil {
		return nil, err
	}
	if errs := manifest.CheckConditions(m); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	logger.Debug().
		Str("manifest", m.Path).
		Int("config_files", len(opts.ConfigFiles)).
		Int("variables", pool.Len()).
		Strs("steps", selector.Tokens()).
		Msg("Pipeline prepared")

	return &session{opts: opts, selector: selector, pool: pool, manifest: m}, nil
}

// newPolicyEngine returns the built-in policies plus those found in dir.
func newPolicyEngine(ctx context.Context, dir string, logger zerolog.Logger) (*policy.Engine, error) {
	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := policies.LoadPolicies(ctx, []string{dir}); err != nil {
			return nil, engine.NewConfigurationError("failed to load policies", err).
				WithCode(engine.ErrCodePolicyDenied)
		}
	}
	return policies, nil
}

// executorSet is a registry paired with the plugin host it runs on.
type executorSet struct {
	*executors.Registry
	host *plugins.Host
}

// newExecutors creates the executor registry. Executors are loaded by the
// first Reload.
func newExecutors(ctx context.Context, opts *config.RunOptions, logger zerolog.Logger) (*executorSet, error) {
	host, err := plugins.NewHost(ctx, plugins.HostConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start plugin host: %w", err)
	}
	registry := executors.NewRegistry(executors.RegistryOptions{
		Host:       host,
		PluginDirs: opts.PluginDirs,
		Evaluator:  config.NewStarlarkEvaluator(0, logger),
	}, logger)
	return &executorSet{Registry: registry, host: host}, nil
}

// Close releases the plugins and the host.
func (s *executorSet) Close(ctx context.Context) error {
	return errors.Join(s.Registry.Close(ctx), s.host.Close(ctx))
}
