package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/variables"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func names(vars []variables.Variable) string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return strings.Join(out, ",")
}

func TestLoadSources_Formats(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "json keeps key order",
			file:    "vars.json",
			content: `{"zeta": 1, "alpha": "a", "build.enable": true}`,
			want:    "zeta,alpha,build.enable",
		},
		{
			name:    "yaml keeps key order",
			file:    "vars.yaml",
			content: "region: westeurope\napp:\n  name: demo\ncount: 3\n",
			want:    "region,app,count",
		},
		{
			name:    "toml keeps top-level order",
			file:    "vars.toml",
			content: "zone = \"b\"\n\"deploy.solution\" = \"azure\"\n\n[app]\nname = \"demo\"\nport = 8080\n",
			want:    "zone,deploy.solution,app",
		},
		{
			name:    "starlark exports sorted globals",
			file:    "vars.star",
			content: "def _double(x):\n    return x * 2\n\nreplicas = _double(2)\n_hidden = 1\nenv_name = \"dev\"\n",
			want:    "env_name,replicas",
		},
		{
			name:    "empty yaml",
			file:    "empty.yml",
			content: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			vars, err := LoadSources(context.Background(), []string{path})
			if err != nil {
				t.Fatalf("LoadSources failed: %v", err)
			}
			if got := names(vars); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLoadSources_Values(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "a.toml", "port = 8080\n[app]\nname = \"demo\"\n")
	starPath := writeFile(t, dir, "b.star", "token = secret(\"abc\")\nports = [80, 443]\n")

	vars, err := LoadSources(context.Background(), []string{tomlPath, starPath})
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}

	pool := variables.NewPool(zerolog.Nop())
	pool.Append(vars...)

	if v := pool.Get("port"); v == nil || v.Value != 8080 {
		t.Errorf("Expected port=8080 as int, got %v", v)
	}
	if v := pool.Get("app"); v == nil || v.Value.(map[string]any)["name"] != "demo" {
		t.Errorf("Expected app.name=demo, got %v", v)
	}
	if v := pool.Get("token"); v == nil || !v.Sensitive || v.Value != "abc" {
		t.Errorf("Expected sensitive token=abc, got %v", v)
	}
	if v := pool.Get("ports"); v == nil || v.String() != "[80,443]" {
		t.Errorf("Expected ports [80,443], got %v", v)
	}
}

func TestLoadSources_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.json", `{"region": "westeurope", "size": "s"}`)
	second := writeFile(t, dir, "second.yaml", "region: northeurope\n")

	vars, err := LoadSources(context.Background(), []string{first, second})
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}

	pool := variables.NewPool(zerolog.Nop())
	pool.Append(vars...)
	if got := pool.Get("region").String(); got != "northeurope" {
		t.Errorf("Expected northeurope, got %s", got)
	}
	if got := strings.Join(pool.Names(), ","); got != "region,size" {
		t.Errorf("Expected first declaration order region,size, got %s", got)
	}
}

func TestLoadSources_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.json")},
		{name: "unknown extension", path: writeFile(t, dir, "vars.ini", "a=1")},
		{name: "not a mapping", path: writeFile(t, dir, "list.yaml", "- a\n- b\n")},
		{name: "invalid json", path: writeFile(t, dir, "bad.json", `{"a": `)},
		{name: "invalid toml", path: writeFile(t, dir, "bad.toml", "a = ")},
		{name: "starlark error", path: writeFile(t, dir, "bad.star", "fail(\"boom\")\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSources(context.Background(), []string{tt.path}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestSources_Register(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "vars.env", "ignored")

	s := NewSources(time.Second, nil)
	s.Register(".ENV", SourceLoaderFunc(func(_ context.Context, _ string, _ []byte) ([]variables.Variable, error) {
		return []variables.Variable{{Name: "custom", Value: "yes"}}, nil
	}))

	vars, err := s.Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if names(vars) != "custom" {
		t.Errorf("Expected custom loader to run, got %s", names(vars))
	}
}

func TestLoadSources_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "vars.json", `{"a": 1}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := LoadSources(ctx, []string{path}); err == nil {
		t.Error("Expected cancellation error")
	}
}
