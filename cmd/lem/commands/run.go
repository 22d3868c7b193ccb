package commands

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/stores"
	"github.com/lemniscat/lemniscat/pkg/telemetry"
)

func newRunCommand(version string) *cobra.Command {
	opts := config.NewRunOptions()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline manifest",
		Long: `Run the tasks of a manifest for the selected steps.

The run loads the config files and the manifest, checks the policies,
then executes the global pre tasks, every enabled capability in
dependency order and the global post tasks. The output context holds
every non-sensitive variable at the end of the run.

The command exits non-zero when the run failed.`,
		Example: `  # Run every run phase
  lem run -m manifest.yaml

  # Build and deploy only, with a config file
  lem run -m manifest.yaml -s run:build,run:deploy -c variables.yaml

  # Override variables and keep the output context
  lem run -m manifest.yaml -x '{"deploy.enable": true}' --secret token=abc -o context.json

  # Export traces and metrics
  lem run -m manifest.yaml --trace stdout --metrics-file metrics.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), opts, version)
		},
	}

	addManifestFlags(cmd, opts)
	addRunFlags(cmd, opts)

	return cmd
}

// telemetryConfig maps the run options onto a telemetry configuration.
func telemetryConfig(opts *config.RunOptions, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging = loggingConfig()
	cfg.Tracing.Exporter = opts.Trace
	cfg.Tracing.Endpoint = opts.OTLPEndpoint
	cfg.Metrics.File = opts.MetricsFile
	return cfg
}

// runPipeline executes the manifest selected by opts and prints a summary
// to out.
func runPipeline(ctx context.Context, out io.Writer, opts *config.RunOptions, version string) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tel, err := telemetry.NewTelemetry(ctx, telemetryConfig(opts, version))
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}()
	ctx = tel.WithContext(ctx)
	logger := tel.Logger

	ctx, span := tel.Tracer.Start(ctx, "lem.run", trace.WithAttributes(
		attribute.String("lem.manifest", opts.ManifestPath),
		attribute.StringSlice("lem.config_files", opts.ConfigFiles),
	))
	defer span.End()

	s, err := prepare(ctx, opts, logger)
	if err != nil {
		return err
	}

	policies, err := newPolicyEngine(ctx, opts.PolicyDir, logger)
	if err != nil {
		return err
	}

	registry, err := newExecutors(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to release executors")
		}
	}()

	var output engine.SnapshotWriter
	if opts.OutputPath != "" {
		if output, err = stores.NewWriter(opts.OutputPath, logger); err != nil {
			return err
		}
	}

	orchestrator, err := engine.NewOrchestrator(s.manifest, s.pool, engine.Options{
		Registry: registry,
		Selector: s.selector,
		Output:   output,
		Policy:   policies,
		Observer: tel.Metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	report, err := orchestrator.Run(ctx)
	renderReport(out, report)
	if err != nil {
		return err
	}
	if report.Status == engine.StatusFailed {
		return ErrRunFailed
	}
	return nil
}
