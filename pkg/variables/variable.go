package variables

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Variable is a named value tagged with a sensitivity flag.
//
// Value holds a scalar (string, bool, integer or float), an ordered list
// ([]any) or a string-keyed map (map[string]any). Containers may nest
// Variable values to carry per-element sensitivity.
type Variable struct {
	// Name is the pool key of the variable.
	Name string `json:"name" yaml:"name"`

	// Value is the current value.
	Value any `json:"value" yaml:"value"`

	// Sensitive marks values that must never be exported.
	Sensitive bool `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`
}

// NewSecret returns a sensitive Variable suitable for nesting in executor
// outputs.
func NewSecret(value any) Variable {
	return Variable{Value: value, Sensitive: true}
}

// IsSensitive reports whether the variable or any value nested in it is
// sensitive.
func (v Variable) IsSensitive() bool {
	return v.Sensitive || containsSensitive(v.Value)
}

// String returns the string-coerced value.
func (v Variable) String() string {
	return Stringify(v.Value)
}

// containsSensitive walks a value looking for nested sensitive Variables.
func containsSensitive(value any) bool {
	switch val := value.(type) {
	case Variable:
		return val.IsSensitive()
	case *Variable:
		return val != nil && val.IsSensitive()
	case map[string]any:
		for _, item := range val {
			if containsSensitive(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if containsSensitive(item) {
				return true
			}
		}
	}
	return false
}

// Plain strips nested Variable wrappers, returning a value built only from
// scalars, []any and map[string]any.
func Plain(value any) any {
	switch val := value.(type) {
	case Variable:
		return Plain(val.Value)
	case *Variable:
		if val == nil {
			return nil
		}
		return Plain(val.Value)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Plain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Plain(item)
		}
		return out
	default:
		return val
	}
}

// Stringify coerces a value to the string used during interpolation.
// Containers are rendered as compact JSON.
func Stringify(value any) string {
	switch val := value.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case Variable:
		return Stringify(val.Value)
	case *Variable:
		if val == nil {
			return ""
		}
		return Stringify(val.Value)
	case map[string]any, []any:
		data, err := json.Marshal(Plain(val))
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Truthy reports whether a value counts as "on" for enable flags.
// Booleans are taken as-is, strings must read true/yes/on/1 (any case),
// and numbers must be non-zero.
func Truthy(value any) bool {
	switch val := value.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "on", "1":
			return true
		}
		return false
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case Variable:
		return Truthy(val.Value)
	case *Variable:
		return val != nil && Truthy(val.Value)
	default:
		return false
	}
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
