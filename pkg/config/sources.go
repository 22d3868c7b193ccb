package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

// SourceLoader reads variables from a configuration file, in declaration
// order.
type SourceLoader interface {
	Load(ctx context.Context, path string, data []byte) ([]variables.Variable, error)
}

// SourceLoaderFunc adapts a function to SourceLoader.
type SourceLoaderFunc func(ctx context.Context, path string, data []byte) ([]variables.Variable, error)

// Load calls f.
func (f SourceLoaderFunc) Load(ctx context.Context, path string, data []byte) ([]variables.Variable, error) {
	return f(ctx, path, data)
}

// Sources loads variable files by extension.
type Sources struct {
	loaders map[string]SourceLoader
}

// NewSources returns the loaders for .json, .yaml, .yml, .toml and .star
// files. Starlark scripts run with the given timeout.
func NewSources(starlarkTimeout time.Duration, evaluator *StarlarkEvaluator) *Sources {
	if evaluator == nil {
		evaluator = NewStarlarkEvaluator(starlarkTimeout, discardLogger)
	}
	yamlLoader := SourceLoaderFunc(loadYAML)
	return &Sources{
		loaders: map[string]SourceLoader{
			".json": yamlLoader,
			".yaml": yamlLoader,
			".yml":  yamlLoader,
			".toml": SourceLoaderFunc(loadTOML),
			".star": starlarkLoader{evaluator: evaluator},
		},
	}
}

// Register installs a loader for an extension, replacing any existing one.
func (s *Sources) Register(ext string, loader SourceLoader) {
	s.loaders[strings.ToLower(ext)] = loader
}

// Load reads every file in order. Later files override earlier ones when
// the result is merged into a pool.
func (s *Sources) Load(ctx context.Context, paths []string) ([]variables.Variable, error) {
	var out []variables.Variable
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vars, err := s.LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		out = append(out, vars...)
	}
	return out, nil
}

// LoadFile reads a single variable file.
func (s *Sources) LoadFile(ctx context.Context, path string) ([]variables.Variable, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := s.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported config file %s: unknown extension %q", path, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	vars, err := loader.Load(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return vars, nil
}

// LoadSources loads config files with the default loaders.
func LoadSources(ctx context.Context, paths []string) ([]variables.Variable, error) {
	return NewSources(DefaultStarlarkTimeout, nil).Load(ctx, paths)
}

// loadYAML reads a top-level mapping. JSON documents are valid YAML.
func loadYAML(_ context.Context, path string, data []byte) ([]variables.Variable, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	return decodeMapping(&doc)
}

// decodeMapping turns a YAML mapping node into variables in key order.
func decodeMapping(node *yaml.Node) ([]variables.Variable, error) {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of variable names to values", node.Line)
	}

	vars := make([]variables.Variable, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var v any
		if err := value.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: variable %s: %w", value.Line, key.Value, err)
		}
		vars = append(vars, variables.Variable{Name: key.Value, Value: v})
	}
	return vars, nil
}

// loadTOML reads top-level keys in document order.
func loadTOML(_ context.Context, path string, data []byte) ([]variables.Variable, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}

	var vars []variables.Variable
	seen := make(map[string]bool, len(raw))
	for _, key := range md.Keys() {
		name := key[0]
		if seen[name] {
			continue
		}
		seen[name] = true
		vars = append(vars, variables.Variable{Name: name, Value: normalizeTOML(raw[name])})
	}
	return vars, nil
}

// normalizeTOML maps decoder types onto the ones YAML produces.
func normalizeTOML(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case int64:
		return int(val)
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeTOML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeTOML(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeTOML(item)
		}
		return out
	default:
		return v
	}
}

type starlarkLoader struct {
	evaluator *StarlarkEvaluator
}

// Load runs the script and exports its globals. Values wrapped in
// secret() are sensitive.
func (l starlarkLoader) Load(ctx context.Context, path string, data []byte) ([]variables.Variable, error) {
	result, err := l.evaluator.Evaluate(ctx, filepath.Base(path), string(data), nil, nil)
	if err != nil {
		return nil, err
	}

	vars := make([]variables.Variable, 0, len(result.Names))
	for _, name := range result.Names {
		v := variables.Variable{Name: name, Value: result.Output[name]}
		if secret, ok := v.Value.(variables.Variable); ok {
			v.Value = secret.Value
			v.Sensitive = secret.Sensitive
		}
		vars = append(vars, v)
	}
	return vars, nil
}
