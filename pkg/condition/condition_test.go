package condition

import (
	"errors"
	"strings"
	"testing"

	"github.com/lemniscat/lemniscat/pkg/variables"
	"github.com/rs/zerolog"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"False", false},
		{"'a' == 'a'", true},
		{`"a" == 'b'`, false},
		{"'a' != 'b'", true},
		{"1 == 1.0", true},
		{"1 == '1'", false},
		{"not true", false},
		{"!false", true},
		{"true and false", false},
		{"true or false", true},
		{"true && true", true},
		{"false || false", false},
		{"not ('x' == 'y') and 2 != 3", true},
		{"(true or false) and false", false},
		{"true or false and false", true},
		{"'non-empty'", true},
		{"''", false},
		{"0", false},
		{"-1.5", true},
		{"'it\\'s' == \"it's\"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluate_Blank(t *testing.T) {
	got, err := Evaluate("   ")
	if err != nil || !got {
		t.Errorf("Expected blank expression to be true, got %v, %v", got, err)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"bare identifier", "prod == 'prod'"},
		{"call", "__import__('os')"},
		{"single equals", "'a' = 'a'"},
		{"unterminated string", "'abc"},
		{"dangling operator", "true and"},
		{"unbalanced paren", "(true"},
		{"trailing token", "true false"},
		{"attribute access", "'a'.upper()"},
		{"chained comparison", "1 == 1 == 1"},
		{"lone minus", "- == 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expr)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			var condErr *Error
			if !errors.As(err, &condErr) {
				t.Fatalf("Expected *Error, got %T", err)
			}
			if condErr.Kind != KindSyntax {
				t.Errorf("Expected syntax error, got %s", condErr.Kind)
			}
		})
	}
}

func TestEvaluate_MultibyteIdentifiers(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"héllo == 'x'", `unknown identifier "héllo"`},
		{"€ == 1", `unexpected character '€'`},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Evaluate(tt.expr)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error to contain %s, got %s", tt.want, err.Error())
			}
		})
	}
}

func TestEvaluator_EvaluateFor(t *testing.T) {
	pool := variables.NewPool(zerolog.Nop())
	pool.Set("deploy.env", "prod", false)
	pool.Set("dryRun", false, false)

	ev := NewEvaluator(pool)

	cond := "'${{ env }}' == 'prod' and not ${{ dryRun }}"
	got, err := ev.EvaluateFor("deploy", &cond)
	if err != nil {
		t.Fatalf("EvaluateFor failed: %v", err)
	}
	if !got {
		t.Error("Expected condition to be true")
	}

	got, err = ev.EvaluateFor("build", &cond)
	if err != nil {
		t.Fatalf("EvaluateFor failed: %v", err)
	}
	if got {
		t.Error("Expected short name to be unresolved outside deploy")
	}
}

func TestEvaluator_NilCondition(t *testing.T) {
	ev := NewEvaluator(variables.NewPool(zerolog.Nop()))
	got, err := ev.EvaluateFor("build", nil)
	if err != nil || !got {
		t.Errorf("Expected nil condition to be true, got %v, %v", got, err)
	}
}

func TestEvaluator_InjectedValueStaysLiteral(t *testing.T) {
	pool := variables.NewPool(zerolog.Nop())
	ev := NewEvaluator(pool)

	tests := []struct {
		name  string
		value string
		cond  string
		want  bool
	}{
		{"single quote breakout", "x' or 'a", "'${{ name }}' == 'y'", false},
		{"double quote breakout", `x" or "a`, `"${{ name }}" == "y"`, false},
		{"comparison breakout", "x' or 'a' == 'a", "'${{ name }}' == 'y'", false},
		{"backslash", `a\`, `'${{ name }}' == 'a\\'`, true},
		{"quote kept in value", "it's", `"${{ name }}" == "it's"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool.Set("name", tt.value, false)
			cond := tt.cond
			got, err := ev.EvaluateFor("build", &cond)
			if err != nil {
				t.Fatalf("EvaluateFor failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_UnquotedValueMustBeScalar(t *testing.T) {
	pool := variables.NewPool(zerolog.Nop())
	ev := NewEvaluator(pool)

	for _, value := range []string{"__import__('os').system('id')", "'a' == 'a'", "hello", ""} {
		pool.Set("name", value, false)
		cond := "${{ name }}"
		if _, err := ev.EvaluateFor("build", &cond); err == nil {
			t.Errorf("Expected unquoted value %q to be rejected", value)
		}
	}

	pool.Set("count", 2, false)
	cond := "${{ count }} == 2"
	got, err := ev.EvaluateFor("build", &cond)
	if err != nil || !got {
		t.Errorf("Expected numeric value to compare, got %v, %v", got, err)
	}
}

func TestCheck(t *testing.T) {
	if err := Check("'${{ env }}' == 'prod' and ${{ enabled }}"); err != nil {
		t.Errorf("Expected valid condition, got %v", err)
	}
	if err := Check("${{ env }} =="); err == nil {
		t.Error("Expected syntax error")
	}
}
