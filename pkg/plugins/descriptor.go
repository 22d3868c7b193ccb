package plugins

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lemniscat/lemniscat/pkg/config"
)

// DescriptorFile is the file name that marks a plugin directory.
const DescriptorFile = "plugin.yaml"

// Descriptor is the parsed plugin.yaml of a plugin.
type Descriptor struct {
	// Name is the plugin package name.
	Name string `yaml:"name" validate:"required"`

	// Alias is the task name the plugin answers to. Defaults to Name.
	Alias string `yaml:"alias"`

	// Creator is informational.
	Creator string `yaml:"creator"`

	// Runtime locates the module to run.
	Runtime Runtime `yaml:"runtime"`

	Repository  string `yaml:"repository" validate:"omitempty,url"`
	Description string `yaml:"description"`

	// Version is compared against manifest requirements.
	Version string `yaml:"version" validate:"required"`

	// Parameters are the declared task parameters.
	Parameters []Parameter `yaml:"parameters" validate:"dive"`

	// Requirements are informational dependencies of the plugin itself.
	Requirements []Requirement `yaml:"requirements" validate:"dive"`

	// Checksum is the optional sha256 of the module, hex encoded.
	Checksum string `yaml:"checksum"`

	// Dir is the directory holding plugin.yaml.
	Dir string `yaml:"-"`
}

// Runtime locates the WebAssembly module of a plugin.
type Runtime struct {
	Main  string `yaml:"main" validate:"required"`
	Tests string `yaml:"tests"`
}

// Parameter declares one task parameter.
type Parameter struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Type        string `yaml:"type" validate:"omitempty,oneof=string int float bool dict list any"`
	Default     any    `yaml:"default"`
	Required    bool   `yaml:"required"`
}

// Requirement names another plugin and an optional version.
type Requirement struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`
}

var descriptorValidator = validator.New()

// LoadDescriptor reads and validates the plugin.yaml in dir. A nil
// registry uses the built-in schemas.
func LoadDescriptor(dir string, schemas *config.SchemaRegistry) (*Descriptor, error) {
	if schemas == nil {
		schemas = config.NewSchemaRegistry()
	}

	path := filepath.Join(dir, DescriptorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin descriptor: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := schemas.Validate(config.SchemaPluginConfig, raw); err != nil {
		return nil, fmt.Errorf("invalid plugin descriptor %s: %w", path, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := descriptorValidator.Struct(&d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s validation", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid plugin descriptor %s: %s", path, strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid plugin descriptor %s: %w", path, err)
	}

	d.Dir = dir
	if d.Alias == "" {
		d.Alias = d.Name
	}
	return &d, nil
}

// ModulePath returns the absolute path of the WebAssembly module.
func (d *Descriptor) ModulePath() string {
	if filepath.IsAbs(d.Runtime.Main) {
		return d.Runtime.Main
	}
	return filepath.Join(d.Dir, d.Runtime.Main)
}

// VerifyChecksum compares module against the declared checksum. A
// descriptor without a checksum accepts any module.
func (d *Descriptor) VerifyChecksum(module []byte) error {
	if d.Checksum == "" {
		return nil
	}

	expected := strings.ToLower(strings.TrimPrefix(d.Checksum, "sha256:"))
	hash := sha256.Sum256(module)
	computed := hex.EncodeToString(hash[:])
	if computed != expected {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s", expected, computed)
	}
	return nil
}

// Parameter returns the declared parameter with the given name.
func (d *Descriptor) Parameter(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ApplyDefaults returns a copy of params with declared defaults filled in
// and an error listing every required parameter still missing.
func (d *Descriptor) ApplyDefaults(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params)+len(d.Parameters))
	for k, v := range params {
		out[k] = v
	}

	var missing []string
	for _, p := range d.Parameters {
		if v, ok := out[p.Name]; ok && v != nil {
			continue
		}
		if p.Default != nil {
			out[p.Name] = p.Default
			continue
		}
		if p.Required {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
