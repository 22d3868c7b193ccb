package variables

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestPool() *Pool {
	return NewPool(zerolog.Nop())
}

func TestPool_GetMissing(t *testing.T) {
	p := newTestPool()
	if v := p.Get("nope"); v != nil {
		t.Errorf("Expected nil, got %+v", v)
	}
}

func TestPool_SetOverwritesAndKeepsOrder(t *testing.T) {
	p := newTestPool()
	p.Set("b", "1", false)
	p.Set("a", "2", false)
	p.Set("b", "3", true)

	names := p.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("Expected [b a], got %v", names)
	}

	v := p.Get("b")
	if v == nil || v.Value != "3" || !v.Sensitive {
		t.Errorf("Expected b=3 sensitive, got %+v", v)
	}
}

func TestPool_InterpretAll(t *testing.T) {
	p := newTestPool()
	p.Set("a", "1", false)
	p.Set("b", "${{a}}-${{a}}", false)

	if err := p.InterpretAll(); err != nil {
		t.Fatalf("InterpretAll failed: %v", err)
	}

	if got := p.Get("b").Value; got != "1-1" {
		t.Errorf("Expected 1-1, got %v", got)
	}
}

func TestPool_InterpretAllChain(t *testing.T) {
	p := newTestPool()
	// Declared in reverse so a single pass cannot resolve the chain.
	p.Set("c", "${{ b }}!", false)
	p.Set("b", "${{ a }}+", false)
	p.Set("a", "x", false)

	if err := p.InterpretAll(); err != nil {
		t.Fatalf("InterpretAll failed: %v", err)
	}

	if got := p.Get("c").Value; got != "x+!" {
		t.Errorf("Expected x+!, got %v", got)
	}
}

func TestPool_InterpretAllCycle(t *testing.T) {
	p := newTestPool()
	p.Set("a", "${{b}}", false)
	p.Set("b", "x${{a}}", false)

	err := p.InterpretAll()
	if err == nil {
		t.Fatal("Expected circular reference error")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected *CycleError, got %T", err)
	}
	if len(cycleErr.Cycle) < 2 {
		t.Errorf("Expected cycle path, got %v", cycleErr.Cycle)
	}
}

func TestPool_InterpretAllSelfReference(t *testing.T) {
	p := newTestPool()
	p.Set("loop", "${{ loop }}", false)

	if err := p.InterpretAll(); err == nil {
		t.Error("Expected circular reference error for self reference")
	}
}

func TestPool_InterpretAllExclude(t *testing.T) {
	p := newTestPool()
	p.Set("a", "1", false)
	p.Set("raw", "${{ a }}", false)
	p.Set("cooked", "${{ a }}", false)

	if err := p.InterpretAll("raw"); err != nil {
		t.Fatalf("InterpretAll failed: %v", err)
	}

	if got := p.Get("raw").Value; got != "${{ a }}" {
		t.Errorf("Expected raw to be untouched, got %v", got)
	}
	if got := p.Get("cooked").Value; got != "1" {
		t.Errorf("Expected cooked=1, got %v", got)
	}
}

func TestPool_SensitivityPropagation(t *testing.T) {
	p := newTestPool()
	p.Set("secret", "x", true)
	p.Set("derived", "pre-${{secret}}", false)
	p.Set("public", "ok", false)

	if err := p.InterpretAll(); err != nil {
		t.Fatalf("InterpretAll failed: %v", err)
	}

	derived := p.Get("derived")
	if derived.Value != "pre-x" {
		t.Errorf("Expected pre-x, got %v", derived.Value)
	}
	if !derived.Sensitive {
		t.Error("Expected derived to be sensitive")
	}

	snap := p.SnapshotNonSensitive()
	if _, ok := snap["derived"]; ok {
		t.Error("Expected derived to be excluded from snapshot")
	}
	if _, ok := snap["secret"]; ok {
		t.Error("Expected secret to be excluded from snapshot")
	}
	if snap["public"] != "ok" {
		t.Errorf("Expected public=ok, got %v", snap["public"])
	}
}

func TestPool_SensitiveContainer(t *testing.T) {
	p := newTestPool()
	p.Set("creds", map[string]any{
		"user":     "admin",
		"password": NewSecret("hunter2"),
	}, false)

	v := p.Get("creds")
	if !v.Sensitive {
		t.Error("Expected container with nested secret to be sensitive")
	}
	if _, ok := p.SnapshotNonSensitive()["creds"]; ok {
		t.Error("Expected creds to be excluded from snapshot")
	}
}

func TestPool_InterpolateStringMissing(t *testing.T) {
	p := newTestPool()

	got, sensitive := p.InterpolateString("v=${{ nope }}")
	if got != "v=" {
		t.Errorf("Expected v=, got %q", got)
	}
	if sensitive {
		t.Error("Expected non-sensitive result")
	}
}

func TestPool_InterpolateValue(t *testing.T) {
	p := newTestPool()
	p.Set("env", "prod", false)
	p.Set("token", "t0k", true)
	p.Set("regions", []any{"eu", "us"}, false)

	in := map[string]any{
		"name":    "app-${{ env }}",
		"auth":    []any{"Bearer ${{ token }}"},
		"regions": "${{ regions }}",
		"count":   3,
	}

	out, sensitive := p.InterpolateValue(in)
	if !sensitive {
		t.Error("Expected sensitivity to propagate from nested list")
	}

	m := out.(map[string]any)
	if m["name"] != "app-prod" {
		t.Errorf("Expected app-prod, got %v", m["name"])
	}
	if auth := m["auth"].([]any); auth[0] != "Bearer t0k" {
		t.Errorf("Expected Bearer t0k, got %v", auth[0])
	}
	if regions, ok := m["regions"].([]any); !ok || len(regions) != 2 {
		t.Errorf("Expected single reference to keep list type, got %#v", m["regions"])
	}
	if m["count"] != 3 {
		t.Errorf("Expected count=3, got %v", m["count"])
	}
	if in["name"] != "app-${{ env }}" {
		t.Error("Expected input to be left unmodified")
	}
}

func TestPool_ScopedView(t *testing.T) {
	p := newTestPool()
	p.Set("build.image", "golang", false)
	p.Set("deploy.image", "distroless", false)
	p.Set("env", "dev", false)

	view := p.ScopedView("build")

	if view["image"].Value != "golang" {
		t.Errorf("Expected image=golang, got %v", view["image"].Value)
	}
	if view["build.image"].Value != "golang" {
		t.Error("Expected dotted name to be present")
	}
	if view["deploy.image"].Value != "distroless" {
		t.Error("Expected other capability names to be present")
	}
	if view["env"].Value != "dev" {
		t.Error("Expected global names to be present")
	}
}

func TestPool_ScopedViewGlobalWinsCollision(t *testing.T) {
	p := newTestPool()
	p.Set("test.env", "short", false)
	p.Set("env", "global", false)

	view := p.ScopedView("test")
	if view["env"].Value != "global" {
		t.Errorf("Expected original name to win, got %v", view["env"].Value)
	}
}

func TestPool_InterpolateScoped(t *testing.T) {
	p := newTestPool()
	p.Set("deploy.target", "aks", false)

	got, _ := p.InterpolateScoped("deploy", "'${{ target }}' == 'aks'")
	if got != "'aks' == 'aks'" {
		t.Errorf("Expected scoped short name to resolve, got %q", got)
	}
}

func TestPool_InterpolateNonSensitive(t *testing.T) {
	p := newTestPool()
	p.Set("dir", "templates", false)
	p.Set("secret", "s3cr3t", true)

	got := p.InterpolateNonSensitive("${{ dir }}/${{ secret }}.yaml")
	if got != "templates/.yaml" {
		t.Errorf("Expected secret to be hidden, got %q", got)
	}
}

func TestPool_Merge(t *testing.T) {
	p := newTestPool()
	p.Merge(map[string]any{
		"out.b":  "2",
		"out.a":  "1",
		"secret": NewSecret("x"),
	})

	names := p.Names()
	if len(names) != 3 || names[0] != "out.a" || names[1] != "out.b" || names[2] != "secret" {
		t.Errorf("Expected sorted merge order, got %v", names)
	}
	if !p.Get("secret").Sensitive {
		t.Error("Expected merged secret to be sensitive")
	}
	if p.Get("secret").Value != "x" {
		t.Errorf("Expected unwrapped value, got %v", p.Get("secret").Value)
	}
}

func TestPool_InterpolateKnown(t *testing.T) {
	p := newTestPool()
	p.Set("region", "westeurope", false)
	p.Set("replicas", 3, false)
	p.Set("token", "s3cr3t", true)

	got, sensitive := p.InterpolateKnown(map[string]any{
		"location": "${{ region }}-${{ build.tag }}",
		"count":    "${{ replicas }}",
		"later":    "${{ build.tag }}",
		"auth":     "Bearer ${{ token }}",
		"raw":      "${{ token }}",
	})
	if sensitive {
		t.Error("Expected no sensitive value to be expanded")
	}
	m := got.(map[string]any)
	if m["location"] != "westeurope-${{ build.tag }}" {
		t.Errorf("Expected unknown reference kept, got %v", m["location"])
	}
	if m["count"] != 3 {
		t.Errorf("Expected typed single reference, got %v", m["count"])
	}
	if m["later"] != "${{ build.tag }}" {
		t.Errorf("Expected single unknown reference kept, got %v", m["later"])
	}
	if m["auth"] != "Bearer ${{ token }}" || m["raw"] != "${{ token }}" {
		t.Errorf("Expected sensitive references kept, got %v and %v", m["auth"], m["raw"])
	}
}

func TestScope_Interpolate(t *testing.T) {
	p := newTestPool()
	p.Set("build.tag", "v1", false)
	p.Set("token", "abc", true)

	got, sensitive := p.ScopedView("build").Interpolate([]any{"img:${{ tag }}", "${{ missing }}"}, zerolog.Nop())
	list := got.([]any)
	if list[0] != "img:v1" || list[1] != "" {
		t.Errorf("Unexpected interpolation: %v", list)
	}
	if sensitive {
		t.Error("Expected non-sensitive result")
	}

	if _, sensitive := p.ScopedView("build").Interpolate("${{ token }}", zerolog.Nop()); !sensitive {
		t.Error("Expected sensitive result")
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"True", true},
		{"yes", true},
		{"false", false},
		{"", false},
		{1, true},
		{0, false},
		{2.5, true},
		{nil, false},
	}

	for _, tt := range tests {
		if got := Truthy(tt.value); got != tt.want {
			t.Errorf("Truthy(%#v): expected %v, got %v", tt.value, tt.want, got)
		}
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"s", "s"},
		{true, "true"},
		{42, "42"},
		{1.5, "1.5"},
		{nil, ""},
		{[]any{"a", 1}, `["a",1]`},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
	}

	for _, tt := range tests {
		if got := Stringify(tt.value); got != tt.want {
			t.Errorf("Stringify(%#v): expected %q, got %q", tt.value, tt.want, got)
		}
	}
}
