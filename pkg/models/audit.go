package models

import "time"

// Audit actions produced by the orchestration core. External rule and
// escalation engines react to these rows; nothing in this system reads
// them back.
const (
	AuditBotStatusChange = "bot.status_change"
	AuditBotTaskRetry    = "bot_task.retry"
)

// AuditEntry is an append-only record of an orchestration side effect.
type AuditEntry struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id" validate:"required"`
	Action      string         `json:"action"       validate:"required"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
