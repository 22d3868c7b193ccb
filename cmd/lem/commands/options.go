package commands

import (
	"github.com/spf13/cobra"

	"github.com/lemniscat/lemniscat/pkg/config"
)

// addManifestFlags binds the flags that select a manifest and its inputs.
func addManifestFlags(cmd *cobra.Command, opts *config.RunOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.ManifestPath, "manifest", "m", "", "manifest file (required)")
	flags.StringArrayVarP(&opts.Steps, "steps", "s", opts.Steps, `steps to run, e.g. run:all,pre:build or '["run:all"]'`)
	flags.StringSliceVarP(&opts.ConfigFiles, "config-files", "c", nil, "variable files (.json, .yaml, .toml, .star), later files win")
	flags.StringVarP(&opts.ExtraVariables, "extra-variables", "x", "", "JSON object of variable overrides")
	flags.StringArrayVar(&opts.Vars, "var", nil, "variable override (name=value)")
	flags.StringArrayVar(&opts.Secrets, "secret", nil, "sensitive variable override (name=value)")
	flags.StringSliceVar(&opts.PluginDirs, "plugins-dir", nil, "directories holding executor plugins")
	flags.StringVar(&opts.PolicyDir, "policy-dir", "", "directory of .rego policies")
	_ = cmd.MarkFlagRequired("manifest")
}

// addRunFlags binds the flags that only matter when tasks execute.
func addRunFlags(cmd *cobra.Command, opts *config.RunOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputPath, "output", "o", "", "output context file (.json, .yaml or .db)")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	flags.StringVar(&opts.Trace, "trace", opts.Trace, "trace exporter: none, stdout or otlp")
	flags.StringVar(&opts.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "abort the run after this duration (0 disables)")
}
