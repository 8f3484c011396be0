package models

import "time"

// Workflow is a named, versionless step-graph definition. Definition holds
// the raw JSON as stored; it is parsed and validated at run start.
type Workflow struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id" validate:"required"`
	Name        string    `json:"name"         validate:"required,min=3"`
	Description string    `json:"description"`
	Definition  string    `json:"definition"   validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowRunStatus represents the lifecycle state of a run.
type WorkflowRunStatus string

const (
	WorkflowRunStatusRunning   WorkflowRunStatus = "running"
	WorkflowRunStatusCompleted WorkflowRunStatus = "completed"
	WorkflowRunStatusFailed    WorkflowRunStatus = "failed"
)

// Terminal reports whether the run status is final.
func (s WorkflowRunStatus) Terminal() bool {
	return s == WorkflowRunStatusCompleted || s == WorkflowRunStatusFailed
}

// WorkflowRun is one execution of a Workflow. A run is terminal exactly
// when every one of its steps is terminal.
type WorkflowRun struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id" validate:"required"`
	WorkflowID  string            `json:"workflow_id"  validate:"required"`
	Status      WorkflowRunStatus `json:"status"       validate:"required"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// RunStepStatus represents the lifecycle state of one step within a run.
// Status only moves forward: pending -> running -> completed|failed.
type RunStepStatus string

const (
	RunStepStatusPending   RunStepStatus = "pending"
	RunStepStatusRunning   RunStepStatus = "running"
	RunStepStatusCompleted RunStepStatus = "completed"
	RunStepStatusFailed    RunStepStatus = "failed"
)

// Terminal reports whether the step status is final.
func (s RunStepStatus) Terminal() bool {
	return s == RunStepStatusCompleted || s == RunStepStatusFailed
}

var runStepRank = map[RunStepStatus]int{
	RunStepStatusPending:   0,
	RunStepStatusRunning:   1,
	RunStepStatusCompleted: 2,
	RunStepStatusFailed:    2,
}

// CanAdvanceTo reports whether moving from s to next respects the
// forward-only ordering of step statuses.
func (s RunStepStatus) CanAdvanceTo(next RunStepStatus) bool {
	return runStepRank[next] > runStepRank[s]
}

// WorkflowRunStep is one step's execution record within a run. Exactly one
// row exists per declared step id, created atomically at run start.
type WorkflowRunStep struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id" validate:"required"`
	RunID       string        `json:"run_id"       validate:"required"`
	StepID      string        `json:"step_id"      validate:"required"`
	Status      RunStepStatus `json:"status"       validate:"required"`
	Result      *string       `json:"result,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
