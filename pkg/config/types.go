package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

var discardLogger = zerolog.Nop()

// DefaultSteps is used when no step token is given.
var DefaultSteps = []string{"run:all"}

// RunOptions holds everything a run needs besides the manifest contents.
type RunOptions struct {
	// ManifestPath is the manifest file to load.
	ManifestPath string `json:"manifest" validate:"required"`

	// Steps are raw step tokens, possibly as bracketed list literals.
	Steps []string `json:"steps" validate:"dive,required"`

	// ConfigFiles are variable files loaded in order.
	ConfigFiles []string `json:"config_files,omitempty" validate:"dive,required"`

	// ExtraVariables is a JSON (or YAML flow) object of overrides.
	ExtraVariables string `json:"extra_variables,omitempty"`

	// Vars and Secrets are name=value overrides; secrets are sensitive.
	Vars    []string `json:"vars,omitempty" validate:"dive,required"`
	Secrets []string `json:"-" validate:"dive,required"`

	// OutputPath receives the non-sensitive snapshot. Empty disables it.
	OutputPath string `json:"output,omitempty"`

	PluginDirs []string `json:"plugin_dirs,omitempty" validate:"dive,required"`
	PolicyDir  string   `json:"policy_dir,omitempty"`

	// MetricsFile receives Prometheus metrics in text format after the run.
	MetricsFile string `json:"metrics_file,omitempty"`

	// Trace selects the span exporter.
	Trace        string `json:"trace" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" validate:"required_if=Trace otlp"`

	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

// NewRunOptions returns options with defaults applied.
func NewRunOptions() *RunOptions {
	return &RunOptions{
		Steps: append([]string(nil), DefaultSteps...),
		Trace: "none",
	}
}

// Validate checks the options against their struct tags.
func (o *RunOptions) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// Selector parses the step tokens.
func (o *RunOptions) Selector() (*steps.Selector, error) {
	tokens, err := ParseSteps(o.Steps)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		tokens = DefaultSteps
	}
	return steps.Parse(tokens)
}

// Overrides returns the CLI overrides in precedence order: extra
// variables, then --var, then --secret.
func (o *RunOptions) Overrides() ([]variables.Variable, error) {
	extra, err := ParseOverrides(o.ExtraVariables)
	if err != nil {
		return nil, err
	}
	vars, err := ParseAssignments(o.Vars, false)
	if err != nil {
		return nil, err
	}
	secrets, err := ParseAssignments(o.Secrets, true)
	if err != nil {
		return nil, err
	}
	return append(append(extra, vars...), secrets...), nil
}

// ParseSteps flattens step arguments. Each argument is either a bracketed
// list literal such as ["run:all", 'pre:build'] or comma-separated
// tokens.
func ParseSteps(args []string) ([]string, error) {
	var tokens []string
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if strings.HasPrefix(arg, "[") {
			var list []string
			if err := yaml.Unmarshal([]byte(arg), &list); err != nil {
				return nil, fmt.Errorf("invalid step list %s: %w", arg, err)
			}
			for _, tok := range list {
				if tok = strings.TrimSpace(tok); tok != "" {
					tokens = append(tokens, tok)
				}
			}
			continue
		}
		for _, tok := range strings.Split(arg, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens, nil
}

// ParseOverrides decodes an object of variable overrides, keeping key
// order. JSON and YAML flow mappings are accepted.
func ParseOverrides(raw string) ([]variables.Variable, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid extra variables: %w", err)
	}
	vars, err := decodeMapping(&doc)
	if err != nil {
		return nil, fmt.Errorf("invalid extra variables: %w", err)
	}
	return vars, nil
}

// ParseAssignments decodes name=value pairs. Values stay strings.
func ParseAssignments(pairs []string, sensitive bool) ([]variables.Variable, error) {
	vars := make([]variables.Variable, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected name=value", pair)
		}
		vars = append(vars, variables.Variable{Name: name, Value: value, Sensitive: sensitive})
	}
	return vars, nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid run options: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid run options: %s", strings.Join(msgs, "; "))
}
