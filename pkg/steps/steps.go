// Package steps parses step-selection tokens of the form "phase:capability"
// into the set of (capability, phase) pairs enabled for a run.
package steps

import (
	"fmt"
	"sort"
	"strings"
)

// Phase is an execution phase of a solution.
type Phase string

const (
	PhasePre       Phase = "pre"
	PhasePreClean  Phase = "pre-clean"
	PhaseRun       Phase = "run"
	PhaseRunClean  Phase = "run-clean"
	PhasePost      Phase = "post"
	PhasePostClean Phase = "post-clean"
)

// Phase selectors that expand to several phases.
const (
	selectAll      = "all"
	selectAllClean = "allclean"
)

// Phases is the fixed order in which a solution's phases execute.
var Phases = []Phase{PhasePre, PhasePreClean, PhaseRun, PhaseRunClean, PhasePost, PhasePostClean}

// IsValid reports whether p is a concrete phase.
func (p Phase) IsValid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// IsClean reports whether p is one of the clean phases.
func (p Phase) IsClean() bool {
	return p == PhasePreClean || p == PhaseRunClean || p == PhasePostClean
}

// Capability names.
const (
	Code    = "code"
	Build   = "build"
	Test    = "test"
	Deploy  = "deploy"
	Release = "release"
	Operate = "operate"
	Monitor = "monitor"
	Plan    = "plan"

	// Global scopes the manifest-level pre and post task lists.
	Global = "global"
)

// Capabilities is the default capability execution order.
var Capabilities = []string{Code, Build, Test, Deploy, Release, Operate, Monitor, Plan}

// IsCapability reports whether name is one of the eight named capabilities.
func IsCapability(name string) bool {
	for _, c := range Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// TokenError reports a malformed step token.
type TokenError struct {
	Token  string
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid step %q: %s", e.Token, e.Reason)
}

// Selector is the parsed set of enabled steps.
type Selector struct {
	tokens        []string
	enabled       map[string]struct{}
	hasCleanSteps bool
}

// Parse expands step tokens into a Selector.
func Parse(tokens []string) (*Selector, error) {
	s := &Selector{
		tokens:  append([]string(nil), tokens...),
		enabled: make(map[string]struct{}),
	}

	for _, token := range tokens {
		phasePart, capPart, ok := strings.Cut(strings.TrimSpace(token), ":")
		if !ok {
			return nil, &TokenError{Token: token, Reason: "expected phase:capability"}
		}
		phasePart = strings.TrimSpace(phasePart)
		capPart = strings.TrimSpace(capPart)

		var capabilities []string
		switch {
		case capPart == selectAll:
			capabilities = append(append(capabilities, Capabilities...), Global)
		case capPart == Global:
			capabilities = []string{Global}
		case IsCapability(capPart):
			capabilities = []string{capPart, Global}
		default:
			return nil, &TokenError{Token: token, Reason: fmt.Sprintf("unknown capability %q", capPart)}
		}

		var phases []Phase
		switch phasePart {
		case selectAll:
			phases = []Phase{PhasePre, PhaseRun, PhasePost}
		case selectAllClean:
			phases = []Phase{PhasePreClean, PhaseRunClean, PhasePostClean}
			s.hasCleanSteps = true
		default:
			p := Phase(phasePart)
			if !p.IsValid() {
				return nil, &TokenError{Token: token, Reason: fmt.Sprintf("unknown phase %q", phasePart)}
			}
			if p.IsClean() {
				s.hasCleanSteps = true
			}
			phases = []Phase{p}
		}

		for _, c := range capabilities {
			for _, p := range phases {
				s.enabled[key(p, c)] = struct{}{}
			}
		}
	}

	return s, nil
}

// IsEnabled reports whether phase is enabled for capability. Matching is
// exact on "capability.phase".
func (s *Selector) IsEnabled(phase Phase, capability string) bool {
	if s == nil {
		return false
	}
	_, ok := s.enabled[key(phase, capability)]
	return ok
}

// HasCleanSteps reports whether any clean phase was selected.
func (s *Selector) HasCleanSteps() bool {
	return s != nil && s.hasCleanSteps
}

// Tokens returns the tokens the selector was parsed from.
func (s *Selector) Tokens() []string {
	return append([]string(nil), s.tokens...)
}

// Enabled returns the enabled "capability.phase" keys in lexical order.
func (s *Selector) Enabled() []string {
	out := make([]string, 0, len(s.enabled))
	for k := range s.enabled {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func key(phase Phase, capability string) string {
	return capability + "." + string(phase)
}
