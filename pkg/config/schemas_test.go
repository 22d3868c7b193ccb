package config

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func decodeYAML(t *testing.T, doc string) any {
	t.Helper()
	var data any
	if err := yaml.Unmarshal([]byte(doc), &data); err != nil {
		t.Fatalf("failed to decode fixture: %v", err)
	}
	return data
}

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	if err := sr.RegisterSchema("custom", customSchema, "#CustomType"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if err := sr.Validate("custom", map[string]any{"field1": "a", "field2": 1}); err != nil {
		t.Errorf("Expected valid data, got %v", err)
	}
	if err := sr.Validate("custom", map[string]any{"field1": "a", "field2": "b"}); err == nil {
		t.Error("Expected type mismatch to fail")
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()
	got := strings.Join(sr.ListSchemas(), ",")
	if got != "manifest,plugin,template" {
		t.Errorf("Expected manifest,plugin,template, got %s", got)
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", `#A: { field: string &`, ""); err == nil {
		t.Error("Expected compile error")
	}
	if err := sr.RegisterSchema("missing", `#A: { field: string }`, "#B"); err == nil {
		t.Error("Expected error for missing definition")
	}
	if err := sr.Validate("nope", nil); err == nil {
		t.Error("Expected error for unknown schema")
	}
}

func TestSchemaRegistry_ValidateManifest(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "full manifest",
			doc: `
variables:
  - name: region
    value: westeurope
  - name: token
    value: abc
    sensitive: true
requirements:
  - name: terraform
    version: 1.0.0
pre:
  - task: echo
    steps: [pre]
    parameters:
      message: hello
capabilities:
  build:
    dependsOn: [code]
    solutions:
      - solution: docker
        tasks:
          - task: shell
            displayName: compile
            condition: '"${{ build.enable }}" == "true"'
            steps: [pre, run]
            parameters:
              script: make
          - template: templates/common.yaml
            displayName: common
  deploy:
    solutions:
      - solution: azure
        tasks: []
`,
		},
		{name: "empty manifest", doc: `{}`},
		{
			name:    "unknown capability",
			doc:     "capabilities:\n  lint:\n    solutions: []\n",
			wantErr: true,
		},
		{
			name:    "invalid phase",
			doc:     "pre:\n  - task: echo\n    steps: [later]\n",
			wantErr: true,
		},
		{
			name:    "task without steps",
			doc:     "pre:\n  - task: echo\n",
			wantErr: true,
		},
		{
			name:    "variable without name",
			doc:     "variables:\n  - value: 1\n",
			wantErr: true,
		},
		{
			name:    "unknown top-level key",
			doc:     "stages: []\n",
			wantErr: true,
		},
	}

	sr := NewSchemaRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.Validate(SchemaManifest, decodeYAML(t, tt.doc))
			if tt.wantErr {
				var schemaErr *SchemaError
				if !errors.As(err, &schemaErr) {
					t.Fatalf("Expected *SchemaError, got %v", err)
				}
				if len(schemaErr.Messages()) == 0 {
					t.Error("Expected at least one violation message")
				}
				return
			}
			if err != nil {
				t.Errorf("Expected valid manifest, got %v", err)
			}
		})
	}
}

func TestSchemaRegistry_ValidatePlugin(t *testing.T) {
	sr := NewSchemaRegistry()

	valid := `
name: terraform
alias: terraform
creator: lemniscat
runtime:
  main: terraform.wasm
version: 0.3.1
parameters:
  - name: action
    type: string
    required: true
`
	if err := sr.Validate(SchemaPluginConfig, decodeYAML(t, valid)); err != nil {
		t.Errorf("Expected valid plugin, got %v", err)
	}

	invalid := `
name: terraform
runtime:
  main: terraform.py
version: latest
`
	err := sr.Validate(SchemaPluginConfig, decodeYAML(t, invalid))
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Expected *SchemaError, got %v", err)
	}
	if !strings.Contains(err.Error(), "plugin schema") {
		t.Errorf("Expected schema name in error, got %s", err.Error())
	}
}

func TestSchemaRegistry_ValidateTemplate(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, doc := range []string{
		"- task: echo\n  steps: [run]\n",
		"tasks:\n  - template: nested.yaml\n",
	} {
		if err := sr.Validate(SchemaTemplate, decodeYAML(t, doc)); err != nil {
			t.Errorf("Expected valid template %q, got %v", doc, err)
		}
	}

	if err := sr.Validate(SchemaTemplate, decodeYAML(t, "- task: echo\n")); err == nil {
		t.Error("Expected template task without steps to fail")
	}
}
