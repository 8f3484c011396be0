package models

import "time"

// BotStatus represents the lifecycle state of a bot worker.
type BotStatus string

const (
	BotStatusOffline    BotStatus = "offline"
	BotStatusIdle       BotStatus = "idle"
	BotStatusWorking    BotStatus = "working"
	BotStatusWaiting    BotStatus = "waiting"
	BotStatusError      BotStatus = "error"
	BotStatusRecovering BotStatus = "recovering"

	// Legacy values still present in stored rows and old clients. They are
	// normalized on the way in and never written back.
	BotStatusLegacyOnline BotStatus = "online"
	BotStatusLegacyBusy   BotStatus = "busy"
)

// Bot is a worker that executes assigned tasks. Status transitions go
// through the state machine, never by direct writes to Status.
type Bot struct {
	ID                 string     `json:"id"`
	WorkspaceID        string     `json:"workspace_id"         validate:"required"`
	Name               string     `json:"name"                 validate:"required,min=3"`
	Status             BotStatus  `json:"status"               validate:"required"`
	StatusReason       *string    `json:"status_reason,omitempty"`
	StatusChangedAt    time.Time  `json:"status_changed_at"`
	MaxConcurrentTasks int        `json:"max_concurrent_tasks" validate:"required,min=1"`
	BotGroupID         string     `json:"bot_group_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// AvailableBot is a bot eligible for new assignments together with its
// current load. ActiveTasks counts pending and running assignments.
type AvailableBot struct {
	Bot                *Bot `json:"bot"`
	ActiveTasks        int  `json:"active_tasks"`
	MaxConcurrentTasks int  `json:"max_concurrent_tasks"`
}

// Headroom returns how many more assignments the bot can take.
func (a *AvailableBot) Headroom() int {
	return a.MaxConcurrentTasks - a.ActiveTasks
}
