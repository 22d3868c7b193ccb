package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		duplicateSolutionsPolicy(),
		selectedSolutionPolicy(),
		secretParametersPolicy(),
	}
}

// duplicateSolutionsPolicy rejects capabilities that declare the same
// solution name twice.
func duplicateSolutionsPolicy() Policy {
	return Policy{
		Name:        "duplicate-solutions",
		Description: "Solution names must be unique within a capability",
		Severity:    SeverityError,
		Builtin:     true,
		Rego: `package lemniscat.policies.solutions

import rego.v1

deny contains violation if {
	some capability in input.capabilities
	some i, j
	a := capability.solutions[i]
	b := capability.solutions[j]
	i < j
	a.name == b.name
	violation := {
		"msg": sprintf("capability %s declares solution %s more than once", [capability.name, a.name]),
		"severity": "error",
	}
}
`,
	}
}

// selectedSolutionPolicy warns when an enabled capability selects a
// solution it does not declare. The capability would be left pending.
func selectedSolutionPolicy() Policy {
	return Policy{
		Name:        "selected-solution",
		Description: "Enabled capabilities must select a declared solution",
		Severity:    SeverityWarning,
		Builtin:     true,
		Rego: `package lemniscat.policies.selection

import rego.v1

deny contains violation if {
	some capability in input.capabilities
	capability.enabled
	count(capability.solutions) > 0
	not declared(capability)
	violation := {
		"msg": sprintf("capability %s is enabled but solution %q is not declared", [capability.name, capability.selected]),
		"severity": "warning",
	}
}

declared(capability) if {
	some solution in capability.solutions
	solution.name == capability.selected
}
`,
	}
}

// secretParametersPolicy warns about secret-looking task parameters when
// nothing in the pool is marked sensitive.
func secretParametersPolicy() Policy {
	return Policy{
		Name:        "secret-parameters",
		Description: "Secret-bearing parameters should be fed from sensitive variables",
		Severity:    SeverityWarning,
		Builtin:     true,
		Rego: `package lemniscat.policies.secrets

import rego.v1

has_sensitive if {
	some variable in input.variables
	variable.sensitive
}

tasks contains task if {
	some capability in input.capabilities
	some solution in capability.solutions
	some task in solution.tasks
}

tasks contains task if {
	some solution in input.global
	some task in solution.tasks
}

deny contains violation if {
	not has_sensitive
	some task in tasks
	some key in task.parameters
	regex.match("(?i)(password|secret|token|key)", key)
	violation := {
		"msg": sprintf("task %s sets parameter %s but no sensitive variable is defined", [task.displayName, key]),
		"severity": "warning",
	}
}
`,
	}
}
