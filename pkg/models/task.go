package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// TaskPriority orders tasks for scheduling.
type TaskPriority string

const (
	TaskPriorityUrgent TaskPriority = "urgent"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

var priorityWeights = map[TaskPriority]int{
	TaskPriorityUrgent: 3,
	TaskPriorityHigh:   2,
	TaskPriorityMedium: 1,
	TaskPriorityLow:    0,
}

// Weight returns the scheduling weight of the priority. Unknown values
// weigh zero, same as low.
func (p TaskPriority) Weight() int {
	return priorityWeights[p]
}

// Task is a unit of work. WorkflowRunID and WorkflowStepID are set only on
// tasks materialized by workflow bot_task steps.
type Task struct {
	ID             string       `json:"id"`
	WorkspaceID    string       `json:"workspace_id" validate:"required"`
	ProjectID      string       `json:"project_id,omitempty"`
	Title          string       `json:"title"        validate:"required"`
	Status         TaskStatus   `json:"status"       validate:"required"`
	Priority       TaskPriority `json:"priority"     validate:"required,oneof=urgent high medium low"`
	DueDate        *time.Time   `json:"due_date,omitempty"`
	WorkflowRunID  *string      `json:"workflow_run_id,omitempty"`
	WorkflowStepID *string      `json:"workflow_step_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TaskDependency is a directed edge: TaskID is not ready until
// DependsOnTaskID is done.
type TaskDependency struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"       validate:"required"`
	TaskID          string    `json:"task_id"            validate:"required"`
	DependsOnTaskID string    `json:"depends_on_task_id" validate:"required,nefield=TaskID"`
	CreatedAt       time.Time `json:"created_at"`
}
