package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]any
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: "result = 2 + 2\n",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("Expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "use input variables",
			script: "doubled = count * 2\nlabel = names[0] + \"-\" + meta[\"env\"]\n",
			input: map[string]any{
				"count": 5,
				"names": []any{"web"},
				"meta":  map[string]any{"env": "dev"},
			},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["doubled"] != int64(10) {
					t.Errorf("Expected doubled=10, got %v", sr.Output["doubled"])
				}
				if sr.Output["label"] != "web-dev" {
					t.Errorf("Expected label=web-dev, got %v", sr.Output["label"])
				}
			},
		},
		{
			name: "functions are not exported",
			script: `
def make_list(n):
    return [i * 2 for i in range(n)]

output = make_list(3)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if strings.Join(sr.Names, ",") != "output" {
					t.Errorf("Expected only output exported, got %v", sr.Names)
				}
				list, ok := sr.Output["output"].([]any)
				if !ok || len(list) != 3 || list[2] != int64(4) {
					t.Errorf("Expected [0 2 4], got %v", sr.Output["output"])
				}
			},
		},
		{
			name:   "struct converts to map",
			script: "app = struct(name = \"demo\", port = 80)\n",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				app, ok := sr.Output["app"].(map[string]any)
				if !ok || app["name"] != "demo" || app["port"] != int64(80) {
					t.Errorf("Expected app map, got %v", sr.Output["app"])
				}
			},
		},
		{
			name:   "secret marks value",
			script: "token = secret(\"abc\")\n",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				v, ok := sr.Output["token"].(variables.Variable)
				if !ok || !v.Sensitive || v.Value != "abc" {
					t.Errorf("Expected sensitive variable, got %#v", sr.Output["token"])
				}
			},
		},
		{
			name:   "env default",
			script: "home = env(\"LEMNISCAT_TEST_UNSET_VARIABLE\", \"fallback\")\n",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["home"] != "fallback" {
					t.Errorf("Expected fallback, got %v", sr.Output["home"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  "x = \n",
			wantErr: true,
		},
		{
			name:    "fail builtin",
			script:  "fail(\"stop\")\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				if result == nil || result.Error == "" {
					t.Error("Expected error recorded on result")
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			tt.checkFunc(t, result)
		})
	}
}

func TestStarlarkEvaluator_Builtins(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second, zerolog.Nop())

	var got []string
	record := starlark.NewBuiltin("record", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		got = append(got, s)
		return starlark.None, nil
	})

	_, err := evaluator.Evaluate(context.Background(), "test.star", "record(\"a\")\nrecord(\"b\")\n", nil, starlark.StringDict{"record": record})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("Expected a,b, got %v", got)
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50*time.Millisecond, zerolog.Nop())

	script := `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n

x = spin()
`
	_, err := evaluator.Evaluate(context.Background(), "spin.star", script, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestToStarlarkValue_Unsupported(t *testing.T) {
	if _, err := ToStarlarkValue(struct{}{}); err == nil {
		t.Error("Expected error for unsupported type")
	}
}
