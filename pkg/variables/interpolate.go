package variables

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// referencePattern matches ${{ name }} references.
var referencePattern = regexp.MustCompile(`\$\{\{([^}]+)\}\}`)

// singleReferencePattern matches a string that is exactly one reference.
var singleReferencePattern = regexp.MustCompile(`^\$\{\{([^}]+)\}\}$`)

// lookupFunc resolves a reference name.
type lookupFunc func(name string) (Variable, bool)

// interpolator substitutes references using a lookup function.
type interpolator struct {
	lookup lookupFunc
	logger zerolog.Logger

	// keepMissing leaves unknown references in place instead of removing
	// them.
	keepMissing bool

	// refs counts references encountered, resolved or not.
	refs int
}

// str expands every reference in s. The result is sensitive if any
// substituted variable was sensitive. Unknown names become "".
func (in *interpolator) str(s string) (string, bool) {
	if !strings.Contains(s, "${{") {
		return s, false
	}

	sensitive := false
	out := referencePattern.ReplaceAllStringFunc(s, func(match string) string {
		in.refs++
		name := strings.TrimSpace(match[3 : len(match)-2])
		v, ok := in.lookup(name)
		if !ok {
			if in.keepMissing {
				return match
			}
			in.logger.Warn().Str("variable", name).Msg("Variable not found, replaced by empty string")
			return ""
		}
		if v.IsSensitive() {
			sensitive = true
		}
		return v.String()
	})
	return out, sensitive
}

// value expands references inside scalars, lists and maps. A string made
// of exactly one reference takes the referenced value with its type.
func (in *interpolator) value(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		if m := singleReferencePattern.FindStringSubmatch(val); m != nil {
			in.refs++
			name := strings.TrimSpace(m[1])
			ref, ok := in.lookup(name)
			if !ok {
				if in.keepMissing {
					return val, false
				}
				in.logger.Warn().Str("variable", name).Msg("Variable not found, replaced by empty string")
				return "", false
			}
			return ref.Value, ref.IsSensitive()
		}
		return in.str(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		sensitive := false
		for k, item := range val {
			resolved, s := in.value(item)
			out[k] = resolved
			sensitive = sensitive || s
		}
		return out, sensitive
	case []any:
		out := make([]any, len(val))
		sensitive := false
		for i, item := range val {
			resolved, s := in.value(item)
			out[i] = resolved
			sensitive = sensitive || s
		}
		return out, sensitive
	case Variable:
		resolved, s := in.value(val.Value)
		return Variable{Name: val.Name, Value: resolved, Sensitive: val.Sensitive || s}, val.Sensitive || s
	case *Variable:
		if val == nil {
			return nil, false
		}
		return in.value(*val)
	default:
		return v, false
	}
}

// References returns the trimmed names referenced by s, in order of
// appearance.
func References(s string) []string {
	matches := referencePattern.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSpace(m[1]))
	}
	return names
}

// valueReferences collects references from every string nested in v.
func valueReferences(v any) []string {
	switch val := v.(type) {
	case string:
		return References(val)
	case map[string]any:
		var names []string
		for _, k := range sortedKeys(val) {
			names = append(names, valueReferences(val[k])...)
		}
		return names
	case []any:
		var names []string
		for _, item := range val {
			names = append(names, valueReferences(item)...)
		}
		return names
	case Variable:
		return valueReferences(val.Value)
	case *Variable:
		if val == nil {
			return nil
		}
		return valueReferences(val.Value)
	default:
		return nil
	}
}
