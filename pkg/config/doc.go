// Package config loads the inputs of a Lemniscat run that live outside the
// manifest: variable files, CLI overrides and run options. It also owns the
// CUE schema registry used to validate manifests and plugin descriptors.
//
// # Variable Sources
//
// Config files are loaded by extension and always produce variables in
// declaration order:
//
//   - .json, .yaml, .yml: a top-level mapping, decoded through yaml.v3 nodes
//   - .toml: top-level keys in document order
//   - .star: a Starlark script; exported globals become variables, and
//     values wrapped in secret() are sensitive
//
// Usage:
//
//	vars, err := config.LoadSources(ctx, []string{"base.json", "dev.toml"})
//	if err != nil {
//	    return err
//	}
//	pool.Append(vars...)
//
// # Schemas
//
// SchemaRegistry compiles the built-in #Manifest and #PluginConfig
// definitions. Validate encodes decoded YAML, unifies it with the schema and
// requires a concrete result; violations come back as *SchemaError.
//
// # Watching
//
// Watcher reports changes to a set of files after a debounce period and is
// used by `lem validate --watch`.
package config
