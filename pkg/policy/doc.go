// Package policy checks a resolved manifest against Open Policy Agent (OPA)
// Rego policies before any task runs.
//
// Every policy module defines a deny set. Each entry is either a string or
// an object with msg and severity fields:
//
//	package lemniscat.policies.naming
//
//	import rego.v1
//
//	deny contains violation if {
//		some capability in input.capabilities
//		some solution in capability.solutions
//		not regex.match("^[a-z0-9-]+$", solution.name)
//		violation := {
//			"msg": sprintf("solution %s must be lowercase", [solution.name]),
//			"severity": "error",
//		}
//	}
//
// Violations with severity "error" abort the run. Anything else is logged.
// The input document is described by Input; task parameter values are never
// part of it, only their keys.
//
// Built-in policies reject duplicate solution names, warn when an enabled
// capability selects an undeclared solution and warn about secret-looking
// parameters when the pool holds no sensitive variable. Additional .rego
// files are loaded with Engine.LoadPolicies; a file named after a built-in
// replaces it.
package policy
