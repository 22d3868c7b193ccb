package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	var watch bool
	opts := config.NewRunOptions()

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline manifest",
		Long: `Validate a manifest without executing it.

This command checks:
  - Manifest schema and capability names
  - Template expansion
  - Capability dependency order
  - Task condition syntax
  - Policy compliance (OPA/rego)

With --watch the manifest, its templates, the config files and the
policies are validated again whenever one of them changes.`,
		Example: `  # Validate a manifest with its config files
  lem validate -m manifest.yaml -c variables.yaml

  # Validate against custom policies and keep watching
  lem validate -m manifest.yaml --policy-dir policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			logger := log.Logger

			files, err := validatePipeline(ctx, out, opts, logger)
			if !watch {
				return err
			}
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", render(failedStyle, "✗"), err)
			}

			watcher := config.NewWatcher(logger, config.DefaultDebounce)
			return watcher.Watch(ctx, files, func(path string) {
				logger.Info().Str("file", path).Msg("Change detected, validating")
				files, err := validatePipeline(ctx, out, opts, logger)
				if err != nil {
					fmt.Fprintf(out, "%s %v\n", render(failedStyle, "✗"), err)
				}
				watcher.SetFiles(files)
			})
		},
	}

	addManifestFlags(cmd, opts)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "validate again when an input file changes")

	return cmd
}

// validatePipeline prints the validation result of opts to out. It
// returns the files the result depends on, also when validation fails.
func validatePipeline(ctx context.Context, out io.Writer, opts *config.RunOptions, logger zerolog.Logger) ([]string, error) {
	files := append([]string{opts.ManifestPath}, opts.ConfigFiles...)

	s, err := prepare(ctx, opts, logger)
	if err != nil {
		return files, err
	}
	m := s.manifest
	files = append(append([]string(nil), m.Sources...), opts.ConfigFiles...)

	policies, err := newPolicyEngine(ctx, opts.PolicyDir, logger)
	if err != nil {
		return files, err
	}
	for _, p := range policies.ListPolicies() {
		if p.Source != "" {
			files = append(files, p.Source)
		}
	}

	violations, err := policies.Check(ctx, m, s.pool, s.selector)
	if err != nil {
		return files, engine.NewConfigurationError("policy evaluation failed", err).WithCode(engine.ErrCodePolicyDenied)
	}

	conditions := 0
	for _, t := range m.Tasks() {
		if t.Condition != nil {
			conditions++
		}
	}

	check := render(finishedStyle, "✓")
	fmt.Fprintf(out, "%s Manifest %s (%d file(s))\n", check, m.Path, len(m.Sources))
	fmt.Fprintf(out, "%s Order %s\n", check, strings.Join(m.Order, " -> "))
	fmt.Fprintf(out, "%s %d task(s), %d condition(s)\n", check, len(m.Tasks()), conditions)
	fmt.Fprintf(out, "%s %d policies evaluated\n", check, len(policies.ListPolicies()))
	renderViolations(out, violations)

	var blocking []string
	for _, v := range violations {
		if v.Blocking() {
			blocking = append(blocking, v.Message)
		}
	}
	if len(blocking) > 0 {
		return files, engine.NewValidationError(
			fmt.Sprintf("%d policy violation(s): %s", len(blocking), strings.Join(blocking, "; ")),
			nil,
		).WithCode(engine.ErrCodePolicyDenied)
	}

	logger.Debug().Str("manifest", m.Path).Int("violations", len(violations)).Msg("Manifest valid")
	return files, nil
}
