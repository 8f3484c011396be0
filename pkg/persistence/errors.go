// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrBotNotFound indicates a bot was not found in the workspace.
	ErrBotNotFound = errors.New("bot not found")

	// ErrTaskNotFound indicates a task was not found in the workspace.
	ErrTaskNotFound = errors.New("task not found")

	// ErrBotTaskNotFound indicates an assignment was not found.
	ErrBotTaskNotFound = errors.New("bot task not found")

	// ErrWorkflowNotFound indicates a workflow was not found in the
	// workspace (absent or cross-tenant).
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound indicates a workflow run was not found.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrRunStepNotFound indicates a run has no record for the step id.
	ErrRunStepNotFound = errors.New("workflow run step not found")
)

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Save")
	WorkspaceID string
	RecordID    string
	Err         error
}

func (e *StoreError) Error() string {
	if e.WorkspaceID != "" {
		return fmt.Sprintf("%s failed for %s in workspace %s: %v", e.Op, e.RecordID, e.WorkspaceID, e.Err)
	}

	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, workspaceID, recordID string, err error) *StoreError {
	return &StoreError{
		Op:          op,
		WorkspaceID: workspaceID,
		RecordID:    recordID,
		Err:         err,
	}
}

// IsNotFound checks whether err indicates any record was not found.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrBotNotFound,
		ErrTaskNotFound,
		ErrBotTaskNotFound,
		ErrWorkflowNotFound,
		ErrRunNotFound,
		ErrRunStepNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
