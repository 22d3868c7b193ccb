package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/steps"
)

// Document is the decoded form of a manifest file, after interpolation.
type Document struct {
	Variables    []VariableEntry              `yaml:"variables" validate:"dive"`
	Requirements []engine.Requirement         `yaml:"requirements" validate:"dive"`
	Pre          []TaskEntry                  `yaml:"pre" validate:"dive"`
	Post         []TaskEntry                  `yaml:"post" validate:"dive"`
	Capabilities map[string]*CapabilityEntry `yaml:"capabilities" validate:"dive,keys,capability,endkeys"`
}

// VariableEntry declares a manifest variable.
type VariableEntry struct {
	Name      string `yaml:"name" validate:"required"`
	Value     any    `yaml:"value"`
	Sensitive bool   `yaml:"sensitive"`
}

// CapabilityEntry declares the solutions of one capability.
type CapabilityEntry struct {
	Solutions []SolutionEntry `yaml:"solutions" validate:"dive"`
	DependsOn []string        `yaml:"dependsOn" validate:"dive,capability"`
}

// SolutionEntry declares a solution and its task entries.
type SolutionEntry struct {
	Solution    string      `yaml:"solution" validate:"required"`
	Description string      `yaml:"description"`
	Tasks       []TaskEntry `yaml:"tasks" validate:"dive"`
}

// TaskSpec declares a single task.
type TaskSpec struct {
	Task        string         `yaml:"task" validate:"required"`
	DisplayName string         `yaml:"displayName"`
	Condition   *string        `yaml:"condition"`
	Steps       []steps.Phase  `yaml:"steps" validate:"required,min=1,dive,phase"`
	Parameters  map[string]any `yaml:"parameters"`
}

// TemplateRef pulls the task list of another file in place.
type TemplateRef struct {
	Template    string `yaml:"template" validate:"required"`
	DisplayName string `yaml:"displayName"`
}

// TaskEntry is either a task or a template reference. Exactly one of the
// fields is set.
type TaskEntry struct {
	Task     *TaskSpec    `validate:"omitempty"`
	Template *TemplateRef `validate:"omitempty"`
}

// UnmarshalYAML picks the variant from the keys present in the mapping.
func (e *TaskEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: task entry must be a mapping", node.Line)
	}

	hasTask, hasTemplate := false, false
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "task":
			hasTask = true
		case "template":
			hasTemplate = true
		}
	}

	switch {
	case hasTask && hasTemplate:
		return fmt.Errorf("line %d: task entry declares both task and template", node.Line)
	case hasTemplate:
		var ref TemplateRef
		if err := node.Decode(&ref); err != nil {
			return err
		}
		e.Template = &ref
	case hasTask:
		var spec TaskSpec
		if err := node.Decode(&spec); err != nil {
			return err
		}
		e.Task = &spec
	default:
		return fmt.Errorf("line %d: task entry must declare task or template", node.Line)
	}
	return nil
}

// MarshalYAML writes the variant that is set.
func (e TaskEntry) MarshalYAML() (any, error) {
	if e.Template != nil {
		return e.Template, nil
	}
	return e.Task, nil
}

// templateFile is the keyed form of a template file.
type templateFile struct {
	Tasks []TaskEntry `yaml:"tasks" validate:"dive"`
}
