package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Built-in schema names.
const (
	SchemaManifest     = "manifest"
	SchemaTemplate     = "template"
	SchemaPluginConfig = "plugin"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants; a compile failure is a programming error.
	if err := sr.RegisterSchema(SchemaManifest, builtinManifestSchema, "#Manifest"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaTemplate, builtinManifestSchema, "#Template"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaPluginConfig, builtinPluginSchema, "#PluginConfig"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles a CUE schema and registers the definition found at
// path under the given name. An empty path registers the whole document.
func (sr *SchemaRegistry) RegisterSchema(name, schema, path string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if path != "" {
		val = val.LookupPath(cue.ParsePath(path))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, path)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against a named schema. Data is any value produced
// by a YAML or JSON decoder. A failure is returned as *SchemaError.
func (sr *SchemaRegistry) Validate(schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(normalize(data))
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Schema: schemaName, Errors: convertCUEErrors(err)}
	}
	return nil
}

// ValidationError is a single schema violation.
type ValidationError struct {
	// Path is the CUE path to the offending value (e.g. "capabilities.build").
	Path string `json:"path,omitempty"`

	// Line and Column locate the violation in the schema or data, 1-indexed.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// SchemaError collects every violation reported by a schema check.
type SchemaError struct {
	Schema string
	Errors []ValidationError
}

func (e *SchemaError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s schema: %s", e.Schema, e.Errors[0])
	}
	return fmt.Sprintf("%s schema: %d violations, first: %s", e.Schema, len(e.Errors), e.Errors[0])
}

// Messages returns one line per violation.
func (e *SchemaError) Messages() []string {
	out := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		out[i] = ve.String()
	}
	return out
}

func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		validationErrors = append(validationErrors, ve)
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}
	return validationErrors
}

// normalize converts decoder output into types cue.Context.Encode accepts.
// yaml.v3 produces map[string]interface{} already, but templates loaded
// through other paths may carry map[interface{}]interface{}.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// Built-in schema definitions

const builtinManifestSchema = `
#Phase: "pre" | "pre-clean" | "run" | "run-clean" | "post" | "post-clean"

#CapabilityName: "code" | "build" | "test" | "deploy" | "release" | "operate" | "monitor" | "plan"

#Variable: {
	name:       string & !=""
	value?:     _
	sensitive?: bool
}

#Requirement: {
	name:     string & !=""
	version?: string | number
}

#Task: {
	task:         string & !=""
	displayName?: string
	condition?:   string | bool | number
	steps: [#Phase, ...#Phase]
	parameters?: {...} | null
}

// A template reference pulls tasks from another file at load time.
#TemplateRef: {
	template:     string & !=""
	displayName?: string
}

#TaskEntry: #Task | #TemplateRef

#Solution: {
	solution:     string & !=""
	description?: string
	tasks?:       [...#TaskEntry] | null
}

#Capability: {
	solutions?: [...#Solution] | null
	dependsOn?: [...#CapabilityName] | null
}

#Manifest: {
	variables?:    [...#Variable] | null
	requirements?: [...#Requirement] | null
	pre?:          [...#TaskEntry] | null
	post?:         [...#TaskEntry] | null
	capabilities?: {[#CapabilityName]: #Capability | null}
}

// Template files hold a task list, bare or under a tasks key.
#Template: [...#TaskEntry] | {tasks?: [...#TaskEntry] | null} | null
`

const builtinPluginSchema = `
#Parameter: {
	name:         string & =~"^[a-zA-Z_][a-zA-Z0-9_.-]*$"
	description?: string
	type?:        "string" | "int" | "float" | "bool" | "dict" | "list" | "any"
	default?:     _
	required?:    bool
}

#PluginConfig: {
	name:   string & !=""
	alias?: string & =~"^[a-zA-Z0-9_.-]+$"
	creator?: string
	runtime: {
		main:   string & =~"\\.wasm$"
		tests?: string
	}
	repository?:  string
	description?: string
	version:      string & =~"^v?[0-9]+(\\.[0-9]+)*([-+][0-9A-Za-z.-]+)?$"
	parameters?: [...#Parameter] | null
	requirements?: [...{name: string & !="", version?: string}] | null
	checksum?: string & =~"^(sha256:)?[a-f0-9]{64}$"
}
`
