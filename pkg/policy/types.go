package policy

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is for findings that are logged but do not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that abort the run.
	SeverityError Severity = "error"
)

// normalizeSeverity maps a severity reported by a rule onto the two levels
// the engine understands. Unknown values fall back to def.
func normalizeSeverity(s string, def Severity) Severity {
	switch s {
	case "error", "critical":
		return SeverityError
	case "warning", "warn", "info":
		return SeverityWarning
	default:
		return def
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must be written with
	// "import rego.v1" and define a deny set.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Builtin marks the policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`
}

// Input is the document policies see as input.
type Input struct {
	// Capabilities in execution order.
	Capabilities []CapabilityInput `json:"capabilities"`

	// Global holds the manifest-level pre and post solutions.
	Global []SolutionInput `json:"global"`

	// Order is the resolved capability execution order.
	Order []string `json:"order"`

	// Variables lists the pool entries without their values.
	Variables []VariableInput `json:"variables"`

	// Steps are the enabled "capability.phase" keys.
	Steps []string `json:"steps"`
}

// CapabilityInput describes one declared capability.
type CapabilityInput struct {
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	Selected  string          `json:"selected"`
	DependsOn []string        `json:"dependsOn"`
	Solutions []SolutionInput `json:"solutions"`
}

// SolutionInput describes one solution.
type SolutionInput struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Tasks       []TaskInput `json:"tasks"`
}

// TaskInput describes one task. Parameter values are left out; nested keys
// are listed as dotted paths.
type TaskInput struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Steps       []string `json:"steps"`
	Condition   string   `json:"condition,omitempty"`
	Parameters  []string `json:"parameters"`
}

// VariableInput names a pool variable and its sensitivity.
type VariableInput struct {
	Name      string `json:"name"`
	Sensitive bool   `json:"sensitive"`
}
