package engine

import (
	"time"

	"github.com/lemniscat/lemniscat/pkg/steps"
)

// Task is a single unit of work dispatched to an executor.
type Task struct {
	// ID is unique per run.
	ID string `json:"id"`

	// Name identifies the executor that runs the task.
	Name string `json:"name"`

	// DisplayName is the label used in logs, including any template prefix.
	DisplayName string `json:"displayName"`

	// Condition is an optional guard evaluated just before dispatch.
	Condition *string `json:"condition,omitempty"`

	// Parameters are handed to the executor as-is.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Phases lists the phases the task belongs to.
	Phases []steps.Phase `json:"steps"`

	// Status is the lifecycle state of the task.
	Status Status `json:"status"`

	// Skipped is set when the task was considered but not dispatched.
	Skipped SkipReason `json:"skipped,omitempty"`

	// Errors holds executor-reported errors of a failed task.
	Errors []string `json:"errors,omitempty"`

	// Duration is the wall time spent in the executor.
	Duration time.Duration `json:"duration,omitempty"`
}

// HasPhase reports whether the task belongs to phase. Matching is exact.
func (t *Task) HasPhase(phase steps.Phase) bool {
	for _, p := range t.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// Solution is a named, selectable implementation of a capability.
type Solution struct {
	// ID is unique per run.
	ID string `json:"id"`

	// Name is matched against the <capability>.solution variable.
	Name string `json:"name"`

	// Description is informational.
	Description string `json:"description,omitempty"`

	// Tasks is the flattened task list, templates already expanded.
	Tasks []*Task `json:"tasks"`

	// Status is the lifecycle state of the solution.
	Status Status `json:"status"`
}

// TasksForPhase returns the tasks that belong to phase, in order.
func (s *Solution) TasksForPhase(phase steps.Phase) []*Task {
	var out []*Task
	for _, t := range s.Tasks {
		if t.HasPhase(phase) {
			out = append(out, t)
		}
	}
	return out
}

// Capability holds the solutions offered for one pipeline domain.
type Capability struct {
	// Name is one of the eight capability names.
	Name string `json:"name"`

	// Solutions in declaration order.
	Solutions []*Solution `json:"solutions"`

	// DependsOn lists capabilities that must run first.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Status is the aggregate status of the capability.
	Status Status `json:"status"`
}

// Solution returns the solution with the given name.
func (c *Capability) Solution(name string) *Solution {
	for _, s := range c.Solutions {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Requirement is an executor dependency declared by a manifest.
type Requirement struct {
	// Name is the executor alias.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Version is the expected executor version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Manifest is the resolved pipeline model for one run.
type Manifest struct {
	// Path is the file the manifest was loaded from.
	Path string `json:"path,omitempty"`

	// Sources lists every file read to build the manifest, Path first.
	Sources []string `json:"sources,omitempty"`

	// Requirements are forwarded to the executor registry.
	Requirements []Requirement `json:"requirements,omitempty"`

	// Pre is the global pre phase, run before any capability.
	Pre *Solution `json:"pre,omitempty"`

	// Post is the global post phase, run after all capabilities.
	Post *Solution `json:"post,omitempty"`

	// Capabilities maps capability names to their declarations.
	Capabilities map[string]*Capability `json:"capabilities"`

	// Order is the resolved capability execution order.
	Order []string `json:"order"`
}

// Capability returns the named capability or nil.
func (m *Manifest) Capability(name string) *Capability {
	if m.Capabilities == nil {
		return nil
	}
	return m.Capabilities[name]
}

// Tasks returns every task of the manifest, global phases included.
func (m *Manifest) Tasks() []*Task {
	var out []*Task
	if m.Pre != nil {
		out = append(out, m.Pre.Tasks...)
	}
	for _, name := range m.Order {
		if c := m.Capability(name); c != nil {
			for _, s := range c.Solutions {
				out = append(out, s.Tasks...)
			}
		}
	}
	if m.Post != nil {
		out = append(out, m.Post.Tasks...)
	}
	return out
}

// RunReport summarizes a run.
type RunReport struct {
	// ID identifies the run.
	ID string `json:"id"`

	// Status is Finished or Failed once the run returns.
	Status Status `json:"status"`

	// HasCleanSteps is true when clean phases were selected.
	HasCleanSteps bool `json:"hasCleanSteps"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run ended.
	CompletedAt time.Time `json:"completedAt"`

	// Violations are the policy findings reported before execution.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Failure describes the first failure, if any.
	Failure *EngineError `json:"failure,omitempty"`

	// Manifest carries the final statuses of every item.
	Manifest *Manifest `json:"manifest"`
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
