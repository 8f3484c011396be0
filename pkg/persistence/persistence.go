// Package persistence provides the storage abstraction for bots, tasks,
// assignments, workflows and audit records, scoped by workspace.
package persistence

import (
	"context"

	"github.com/dmateus/botherd/pkg/models"
)

// BotRepository stores bot worker records. List returns bots in creation
// order, the listing order the scheduler assigns against.
type BotRepository interface {
	GetByID(ctx context.Context, workspaceID, botID string) (*models.Bot, error)
	List(ctx context.Context, workspaceID string) ([]*models.Bot, error)
	Save(ctx context.Context, bot *models.Bot) error
}

// TaskRepository stores task records. ListByStatus returns tasks in
// creation order.
type TaskRepository interface {
	GetByID(ctx context.Context, workspaceID, taskID string) (*models.Task, error)
	ListByStatus(ctx context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error)
	Save(ctx context.Context, task *models.Task) error
}

// DependencyRepository stores directed task-dependency edges.
type DependencyRepository interface {
	ListByTask(ctx context.Context, workspaceID, taskID string) ([]*models.TaskDependency, error)
	Save(ctx context.Context, dep *models.TaskDependency) error
}

// BotTaskRepository stores assignment attempts. "Active" everywhere means
// status pending or running.
type BotTaskRepository interface {
	GetByID(ctx context.Context, workspaceID, botTaskID string) (*models.BotTask, error)
	ListActiveByTask(ctx context.Context, workspaceID, taskID string) ([]*models.BotTask, error)
	CountActiveByBot(ctx context.Context, workspaceID, botID string) (int, error)
	// ListRetryable returns failed attempts that still have retry budget and
	// whose task has no active attempt in flight.
	ListRetryable(ctx context.Context, workspaceID string) ([]*models.BotTask, error)
	// ListDue returns pending attempts whose retryAfter is at or before the
	// given epoch-millisecond instant.
	ListDue(ctx context.Context, workspaceID string, beforeMillis int64) ([]*models.BotTask, error)
	Save(ctx context.Context, botTask *models.BotTask) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetByID(ctx context.Context, workspaceID, workflowID string) (*models.Workflow, error)
	List(ctx context.Context, workspaceID string) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
}

// RunRepository stores workflow run records. Run ids are globally unique,
// so lookups do not need a workspace.
type RunRepository interface {
	GetByID(ctx context.Context, runID string) (*models.WorkflowRun, error)
	Save(ctx context.Context, run *models.WorkflowRun) error
}

// RunStepRepository stores per-step execution records within runs.
type RunStepRepository interface {
	ListByRun(ctx context.Context, runID string) ([]*models.WorkflowRunStep, error)
	GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.WorkflowRunStep, error)
	Save(ctx context.Context, step *models.WorkflowRunStep) error
}

// AuditRepository appends audit records. Fire-and-forget: nothing in this
// system reads them back.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

// Store groups the repositories over one storage backend or one open
// transaction.
type Store interface {
	Bots() BotRepository
	Tasks() TaskRepository
	Dependencies() DependencyRepository
	BotTasks() BotTaskRepository
	Workflows() WorkflowRepository
	Runs() RunRepository
	RunSteps() RunStepRepository
	Audit() AuditRepository
}

// Persistence is a Store that can open transactions. Every top-level
// orchestration operation runs inside exactly one InTransaction call so
// read-then-write races (two scheduler passes double-booking a bot slot)
// cannot happen.
type Persistence interface {
	Store

	// InTransaction runs fn against a transactional view of the store with
	// serializable semantics. If fn returns an error, nothing fn wrote is
	// kept.
	InTransaction(ctx context.Context, fn func(ctx context.Context, store Store) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
