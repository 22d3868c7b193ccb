package engine

import (
	"context"
	"time"

	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// TaskResult is the outcome reported by an executor.
type TaskResult struct {
	// Name is the executor or task name that produced the result.
	Name string `json:"name"`

	// Status is StatusFinished or StatusFailed.
	Status Status `json:"status"`

	// Errors describes why the task failed.
	Errors []string `json:"errors,omitempty"`
}

// Succeeded creates a finished result.
func Succeeded(name string) TaskResult {
	return TaskResult{Name: name, Status: StatusFinished}
}

// Failed creates a failed result from errors.
func Failed(name string, errs ...error) TaskResult {
	result := TaskResult{Name: name, Status: StatusFailed}
	for _, err := range errs {
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	return result
}

// TaskExecutor runs tasks of one kind.
type TaskExecutor interface {
	// Invoke runs a task synchronously. vars is the capability-scoped view of
	// the pool, sensitive values included.
	Invoke(ctx context.Context, parameters map[string]any, vars variables.Scope) TaskResult

	// Variables returns the variables produced by the last successful
	// invocation. Values wrapped in variables.Variable keep their
	// sensitivity.
	Variables() map[string]any
}

// ExecutorRegistry resolves task names to executors.
type ExecutorRegistry interface {
	// Reload discards and rediscovers the available executors.
	Reload(ctx context.Context, requirements []Requirement) error

	// Lookup returns the executor registered under name.
	Lookup(name string) (TaskExecutor, bool)
}

// SnapshotWriter persists the non-sensitive output context of a run.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, runID string, snapshot map[string]any) error
}

// PolicyViolation is a single policy finding.
type PolicyViolation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity is "error" or "warning". Errors block the run.
	Severity string `json:"severity"`
}

// Blocking reports whether the violation prevents the run.
func (v PolicyViolation) Blocking() bool {
	return v.Severity == "error"
}

// PolicyGate checks a resolved manifest before any task runs.
type PolicyGate interface {
	Check(ctx context.Context, manifest *Manifest, pool *variables.Pool, selector *steps.Selector) ([]PolicyViolation, error)
}

// Observer receives lifecycle notifications, typically for metrics.
type Observer interface {
	RunCompleted(status Status, duration time.Duration)
	CapabilityCompleted(capability string, status Status)
	TaskCompleted(capability string, task *Task)
	TaskSkipped(capability string, task *Task)
}

type nopObserver struct{}

func (nopObserver) RunCompleted(Status, time.Duration) {}
func (nopObserver) CapabilityCompleted(string, Status) {}
func (nopObserver) TaskCompleted(string, *Task) {}
func (nopObserver) TaskSkipped(string, *Task) {}
