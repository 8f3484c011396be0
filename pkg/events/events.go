// Package events defines event types and structures for orchestration
// lifecycle notifications.
package events

import (
	"time"
)

type EventType string

// Topic carries every orchestration event. External consumers (rule
// engine, escalation engine, channel dispatcher) subscribe here.
const Topic = "botherd.events"

const (
	// Bot lifecycle events.
	BotStatusChangedEvent EventType = "bot.status_change"

	// Assignment lifecycle events.
	BotTaskAssignedEvent EventType = "bot_task.assigned"
	BotTaskRetriedEvent  EventType = "bot_task.retry"

	// Workflow run lifecycle events.
	WorkflowRunStartedEvent   EventType = "workflow.run.started"
	WorkflowRunFinishedEvent  EventType = "workflow.run.finished"
	WorkflowStepStartedEvent  EventType = "workflow.step.started"
	WorkflowStepFinishedEvent EventType = "workflow.step.finished"
	WorkflowStepFailedEvent   EventType = "workflow.step.failed"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	WorkspaceID string    `json:"workspace_id"`
}

type BotStatusChanged struct {
	BaseEvent

	BotID  string  `json:"bot_id"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Reason *string `json:"reason,omitempty"`
}

func (e BotStatusChanged) GetType() EventType {
	return BotStatusChangedEvent
}

type BotTaskAssigned struct {
	BaseEvent

	TaskID    string `json:"task_id"`
	BotID     string `json:"bot_id"`
	BotTaskID string `json:"bot_task_id"`
}

func (e BotTaskAssigned) GetType() EventType {
	return BotTaskAssignedEvent
}

type BotTaskRetried struct {
	BaseEvent

	OriginalTaskID string `json:"original_task_id"`
	NewTaskID      string `json:"new_task_id"`
	RetryCount     int    `json:"retry_count"`
	RetryAfter     int64  `json:"retry_after"`
}

func (e BotTaskRetried) GetType() EventType {
	return BotTaskRetriedEvent
}

type WorkflowRunStarted struct {
	BaseEvent

	WorkflowID       string `json:"workflow_id"`
	RunID            string `json:"run_id"`
	StepsInitialized int    `json:"steps_initialized"`
}

func (e WorkflowRunStarted) GetType() EventType {
	return WorkflowRunStartedEvent
}

type WorkflowRunFinished struct {
	BaseEvent

	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (e WorkflowRunFinished) GetType() EventType {
	return WorkflowRunFinishedEvent
}

type WorkflowStepStarted struct {
	BaseEvent

	RunID  string `json:"run_id"`
	StepID string `json:"step_id"`
}

func (e WorkflowStepStarted) GetType() EventType {
	return WorkflowStepStartedEvent
}

type WorkflowStepFinished struct {
	BaseEvent

	RunID  string  `json:"run_id"`
	StepID string  `json:"step_id"`
	Result *string `json:"result,omitempty"`
}

func (e WorkflowStepFinished) GetType() EventType {
	return WorkflowStepFinishedEvent
}

type WorkflowStepFailed struct {
	BaseEvent

	RunID  string  `json:"run_id"`
	StepID string  `json:"step_id"`
	Result *string `json:"result,omitempty"`
}

func (e WorkflowStepFailed) GetType() EventType {
	return WorkflowStepFailedEvent
}
