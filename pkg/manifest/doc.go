// Package manifest builds engine manifests from YAML files.
//
// Loading validates the document against the #Manifest CUE schema, writes
// manifest variables and CLI overrides to the variable pool, interprets
// it, interpolates the remaining sections and expands template references
// into flat task lists. Task conditions are kept verbatim for evaluation
// at dispatch time.
//
// A template entry names another YAML file holding a task list, bare or
// under a tasks key, relative to the file that includes it:
//
//	tasks:
//	  - template: templates/terraform.yaml
//	    displayName: infra
//
// Tasks contributed by a template get "<displayName> - " prepended to
// their display names, and nested templates chain their prefixes.
package manifest
