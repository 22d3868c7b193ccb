package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies engine errors.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed manifest or step selection.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConfiguration indicates unreadable or inconsistent inputs.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassExecution indicates a task or sink failure during a run.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassCancelled indicates the run context was cancelled.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// EngineError represents a classified error with pipeline context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Capability is the capability being processed, if any.
	Capability string `json:"capability,omitempty"`

	// Solution is the solution being processed, if any.
	Solution string `json:"solution,omitempty"`

	// Task is the display name of the task being processed, if any.
	Task string `json:"task,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var scope []string
	if e.Capability != "" {
		scope = append(scope, "capability="+e.Capability)
	}
	if e.Solution != "" {
		scope = append(scope, "solution="+e.Solution)
	}
	if e.Task != "" {
		scope = append(scope, "task="+e.Task)
	}

	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if len(scope) > 0 {
		msg += " (" + strings.Join(scope, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassExecution, Message: message, Err: err}
}

// NewCancelledError creates a new cancellation error.
func NewCancelledError(err error) *EngineError {
	return &EngineError{Class: ErrorClassCancelled, Message: "run cancelled", Code: ErrCodeCancelled, Err: err}
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithCapability adds capability context to an error.
func (e *EngineError) WithCapability(capability string) *EngineError {
	e.Capability = capability
	return e
}

// WithSolution adds solution context to an error.
func (e *EngineError) WithSolution(solution string) *EngineError {
	e.Solution = solution
	return e
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(task string) *EngineError {
	e.Task = task
	return e
}

// HasCode reports whether err is an EngineError carrying code.
func HasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsCancelled returns true if the error is classified as cancelled.
func IsCancelled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassCancelled
	}
	return false
}

// Common error codes.
const (
	ErrCodeManifestInvalid   = "MANIFEST_INVALID"
	ErrCodeDependencyCycle   = "DEPENDENCY_CYCLE"
	ErrCodeUnknownCapability = "UNKNOWN_CAPABILITY"
	ErrCodeTaskFailed        = "TASK_FAILED"
	ErrCodeConditionInvalid  = "CONDITION_INVALID"
	ErrCodeVariableCycle     = "VARIABLE_CYCLE"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeOutputFailed      = "OUTPUT_FAILED"
	ErrCodeCancelled         = "CANCELLED"
)
