package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// Keys whose values are not interpolated with the rest of the tree:
// conditions are evaluated at dispatch time and template paths are
// resolved against non-sensitive variables only.
const (
	conditionKey = "condition"
	templateKey  = "template"
)

// parametersKey holds user data in which every key is interpolated.
const parametersKey = "parameters"

// Names of the global phase solutions.
const (
	PreSolution  = "pre"
	PostSolution = "post"
)

// Loader builds engine manifests from YAML files.
type Loader struct {
	schemas  *config.SchemaRegistry
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewLoader creates a loader. A nil registry uses the built-in schemas.
func NewLoader(logger zerolog.Logger, schemas *config.SchemaRegistry) *Loader {
	if schemas == nil {
		schemas = config.NewSchemaRegistry()
	}

	v := validator.New()
	_ = v.RegisterValidation("phase", func(fl validator.FieldLevel) bool {
		return steps.Phase(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
		return steps.IsCapability(fl.Field().String())
	})

	return &Loader{
		schemas:  schemas,
		validate: v,
		logger:   logger.With().Str("component", "manifest").Logger(),
	}
}

// Load reads the manifest at path and resolves it against pool.
//
// Manifest variables are written to pool, then overrides, then every
// variable is interpreted. The remaining sections are interpolated with
// the result, except task conditions, and templates are expanded. The
// returned error is an *engine.EngineError wrapping an *Error when the
// file itself is at fault.
func (l *Loader) Load(path string, pool *variables.Pool, overrides ...variables.Variable) (*engine.Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to resolve manifest path", err)
	}

	tree, err := readTree(abs)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read manifest", err).
			WithCode(engine.ErrCodeManifestInvalid)
	}
	root, ok := tree.(map[string]any)
	if !ok && tree != nil {
		return nil, invalid(newError(abs, nil, "manifest must be a mapping"))
	}
	if root == nil {
		root = map[string]any{}
	}

	if err := checkCapabilityNames(abs, root); err != nil {
		return nil, err
	}
	if err := l.schemas.Validate(config.SchemaManifest, root); err != nil {
		return nil, invalid(schemaError(abs, err))
	}

	l.applyVariables(root["variables"], pool)
	for _, ov := range overrides {
		// An override keeps the sensitivity of the variable it replaces.
		if existing, ok := pool.Lookup(ov.Name); ok && existing.Sensitive {
			ov.Sensitive = true
		}
		pool.Set(ov.Name, ov.Value, ov.Sensitive)
	}
	if err := pool.InterpretAll(); err != nil {
		return nil, engine.NewConfigurationError("failed to interpret variables", err).
			WithCode(engine.ErrCodeVariableCycle)
	}

	sections := make(map[string]any, 4)
	for _, key := range []string{"requirements", "pre", "post", "capabilities"} {
		if v, ok := root[key]; ok && v != nil {
			sections[key] = interpolateTree(pool, v)
		}
	}

	var doc Document
	if err := l.decode(abs, sections, &doc); err != nil {
		return nil, invalid(err)
	}

	b := &builder{loader: l, pool: pool, sources: []string{abs}}
	m := &engine.Manifest{
		Path:         abs,
		Requirements: doc.Requirements,
		Capabilities: make(map[string]*engine.Capability),
	}

	dir := filepath.Dir(abs)
	if len(doc.Pre) > 0 {
		tasks, err := b.expand(doc.Pre, dir, "", []string{abs})
		if err != nil {
			return nil, err
		}
		m.Pre = newSolution(PreSolution, "", tasks)
	}
	if len(doc.Post) > 0 {
		tasks, err := b.expand(doc.Post, dir, "", []string{abs})
		if err != nil {
			return nil, err
		}
		m.Post = newSolution(PostSolution, "", tasks)
	}

	dependsOn := make(map[string][]string)
	for _, name := range steps.Capabilities {
		entry, ok := doc.Capabilities[name]
		if !ok {
			continue
		}
		c := &engine.Capability{Name: name, Status: engine.StatusPending}
		if entry != nil {
			for _, se := range entry.Solutions {
				tasks, err := b.expand(se.Tasks, dir, "", []string{abs})
				if err != nil {
					return nil, err
				}
				c.Solutions = append(c.Solutions, newSolution(se.Solution, se.Description, tasks))
			}
			if len(entry.DependsOn) > 0 {
				c.DependsOn = append([]string(nil), entry.DependsOn...)
				dependsOn[name] = c.DependsOn
			}
		}
		m.Capabilities[name] = c
	}

	order, err := engine.ResolveOrder(dependsOn)
	if err != nil {
		return nil, err
	}
	m.Order = order
	m.Sources = b.sources

	l.logger.Debug().
		Str("path", abs).
		Int("capabilities", len(m.Capabilities)).
		Int("tasks", len(m.Tasks())).
		Strs("order", m.Order).
		Msg("Manifest loaded")

	return m, nil
}

// applyVariables writes the manifest variables section to pool in order.
// The section has passed schema validation.
func (l *Loader) applyVariables(section any, pool *variables.Pool) {
	list, _ := section.([]any)
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		sensitive, _ := entry["sensitive"].(bool)
		pool.Set(name, entry["value"], sensitive)
	}
	l.logger.Debug().Int("count", len(list)).Msg("Manifest variables loaded")
}

// decode re-encodes an interpolated tree and decodes it into out, then
// checks struct tags.
func (l *Loader) decode(path string, tree any, out any) error {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return newError(path, err, "failed to encode interpolated manifest")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return newError(path, err, err.Error())
	}

	if err := l.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s validation", fe.Namespace(), fe.Tag()))
			}
			return newError(path, err, msgs...)
		}
		return newError(path, err)
	}
	return nil
}

// readTree decodes a YAML file into plain Go values.
func readTree(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, newError(path, err, err.Error())
	}
	return tree, nil
}

// checkCapabilityNames rejects capability keys outside the fixed set
// before the schema reports them in less specific terms.
func checkCapabilityNames(path string, root map[string]any) error {
	caps, ok := root["capabilities"].(map[string]any)
	if !ok {
		return nil
	}
	var unknown []string
	for name := range caps {
		if !steps.IsCapability(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	msgs := make([]string, len(unknown))
	for i, name := range unknown {
		msgs[i] = fmt.Sprintf("unknown capability %s", name)
	}
	return engine.NewValidationError("invalid manifest", newError(path, nil, msgs...)).
		WithCode(engine.ErrCodeUnknownCapability).
		WithCapability(unknown[0])
}

// interpolateTree expands references to known variables in every string
// leaf. Condition and template values of task entries are left untouched;
// keys with those names inside parameters are expanded like any other.
func interpolateTree(pool *variables.Pool, v any) any {
	return interpolateNode(pool, v, false)
}

func interpolateNode(pool *variables.Pool, v any, inParameters bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if !inParameters && (k == conditionKey || k == templateKey) {
				out[k] = item
				continue
			}
			out[k] = interpolateNode(pool, item, inParameters || k == parametersKey)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = interpolateNode(pool, item, inParameters)
		}
		return out
	case string:
		resolved, _ := pool.InterpolateKnown(val)
		return variables.Plain(resolved)
	default:
		return v
	}
}

func newSolution(name, description string, tasks []*engine.Task) *engine.Solution {
	return &engine.Solution{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Tasks:       tasks,
		Status:      engine.StatusPending,
	}
}

func invalid(err error) error {
	return engine.NewValidationError("invalid manifest", err).WithCode(engine.ErrCodeManifestInvalid)
}

func schemaError(path string, err error) *Error {
	var se *config.SchemaError
	if errors.As(err, &se) {
		return newError(path, err, se.Messages()...)
	}
	return newError(path, err)
}
