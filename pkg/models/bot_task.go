package models

import "time"

// BotTaskStatus represents the lifecycle state of one assignment attempt.
type BotTaskStatus string

const (
	BotTaskStatusPending   BotTaskStatus = "pending"
	BotTaskStatusRunning   BotTaskStatus = "running"
	BotTaskStatusCompleted BotTaskStatus = "completed"
	BotTaskStatusFailed    BotTaskStatus = "failed"
	BotTaskStatusCancelled BotTaskStatus = "cancelled"
)

// Active reports whether the attempt still occupies a bot slot.
func (s BotTaskStatus) Active() bool {
	return s == BotTaskStatusPending || s == BotTaskStatusRunning
}

// Terminal reports whether the attempt is finished. Cancelled is terminal
// and never retried.
func (s BotTaskStatus) Terminal() bool {
	return s == BotTaskStatusCompleted || s == BotTaskStatusFailed || s == BotTaskStatusCancelled
}

// BotTask is one attempt at executing a task on a bot. Retries create new
// rows; RetryCount identifies the attempt number, RetryAfter holds the
// epoch-millisecond instant before which a retried attempt must not start.
type BotTask struct {
	ID             string         `json:"id"`
	WorkspaceID    string         `json:"workspace_id" validate:"required"`
	BotID          string         `json:"bot_id"       validate:"required"`
	TaskID         string         `json:"task_id"      validate:"required"`
	Status         BotTaskStatus  `json:"status"       validate:"required"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutMinutes int            `json:"timeout_minutes,omitempty"`
	RetryAfter     *int64         `json:"retry_after,omitempty"`
	BotGroupID     string         `json:"bot_group_id,omitempty"`
	StructuredSpec map[string]any `json:"structured_spec,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Assignment is the scheduling result for one task.
type Assignment struct {
	TaskID    string `json:"task_id"`
	BotID     string `json:"bot_id"`
	BotTaskID string `json:"bot_task_id"`
}
