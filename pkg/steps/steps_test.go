package steps

import (
	"errors"
	"testing"
)

func TestParse_RunAll(t *testing.T) {
	s, err := Parse([]string{"run:all"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !s.IsEnabled(PhaseRun, Build) {
		t.Error("Expected run:build to be enabled")
	}
	if !s.IsEnabled(PhaseRun, Global) {
		t.Error("Expected run:global to be enabled")
	}
	if s.IsEnabled(PhasePre, Build) {
		t.Error("Expected pre:build to be disabled")
	}
	for _, c := range Capabilities {
		if !s.IsEnabled(PhaseRun, c) {
			t.Errorf("Expected run:%s to be enabled", c)
		}
	}
	if s.HasCleanSteps() {
		t.Error("Expected no clean steps")
	}
}

func TestParse_AllClean(t *testing.T) {
	s, err := Parse([]string{"allclean:test"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for _, p := range []Phase{PhasePreClean, PhaseRunClean, PhasePostClean} {
		if !s.IsEnabled(p, Test) {
			t.Errorf("Expected %s:test to be enabled", p)
		}
	}
	for _, p := range []Phase{PhasePre, PhaseRun, PhasePost} {
		if s.IsEnabled(p, Test) {
			t.Errorf("Expected %s:test to be disabled", p)
		}
	}
	if !s.HasCleanSteps() {
		t.Error("Expected HasCleanSteps to be true")
	}
}

func TestParse_ExactMatch(t *testing.T) {
	s, err := Parse([]string{"run:build"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if s.IsEnabled(PhaseRun, "buildx") {
		t.Error("Expected run:buildx to be disabled")
	}
	if s.IsEnabled(PhaseRun, "uild") {
		t.Error("Expected run:uild to be disabled")
	}
	if s.IsEnabled("ru", Build) {
		t.Error("Expected partial phase to be disabled")
	}
	if !s.IsEnabled(PhaseRun, Global) {
		t.Error("Expected global to be implicitly enabled")
	}
	if s.IsEnabled(PhaseRun, Test) {
		t.Error("Expected run:test to be disabled")
	}
}

func TestParse_SingleCleanPhase(t *testing.T) {
	s, err := Parse([]string{"run-clean:deploy"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !s.HasCleanSteps() {
		t.Error("Expected HasCleanSteps to be true")
	}
	if !s.IsEnabled(PhaseRunClean, Deploy) {
		t.Error("Expected run-clean:deploy to be enabled")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing colon", "run"},
		{"unknown phase", "deploy:build"},
		{"unknown capability", "run:buildx"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]string{tt.token})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			var tokenErr *TokenError
			if !errors.As(err, &tokenErr) {
				t.Errorf("Expected *TokenError, got %T", err)
			}
		})
	}
}

func TestSelector_Enabled(t *testing.T) {
	s, err := Parse([]string{"pre:code", "post:global"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got := s.Enabled()
	want := []string{"code.pre", "global.post", "global.pre"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d enabled steps, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}
