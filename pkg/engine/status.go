package engine

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state shared by runs, capabilities, solutions and
// tasks.
type Status string

const (
	// StatusPending indicates the item has not been started.
	StatusPending Status = "Pending"

	// StatusRunning indicates the item is executing.
	StatusRunning Status = "Running"

	// StatusFinished indicates the item completed successfully.
	StatusFinished Status = "Finished"

	// StatusFailed indicates the item failed.
	StatusFailed Status = "Failed"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusFinished, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}

// SkipReason records why a task was not dispatched.
type SkipReason string

const (
	// SkipNone means the task was not skipped.
	SkipNone SkipReason = ""

	// SkipCondition means the task condition evaluated to false.
	SkipCondition SkipReason = "condition"

	// SkipConditionError means the task condition could not be evaluated.
	SkipConditionError SkipReason = "condition_error"

	// SkipUnknownExecutor means no executor is registered for the task name.
	SkipUnknownExecutor SkipReason = "unknown_executor"
)
