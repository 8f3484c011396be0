package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

type botRepo struct{ *store }

const botColumns = `
	id
  , workspace_id
  , name
  , status
  , status_reason
  , status_changed_at
  , max_concurrent_tasks
  , bot_group_id
  , created_at
  , updated_at
  , deleted_at
`

func scanBot(row interface{ Scan(...any) error }) (*models.Bot, error) {
	bot := &models.Bot{}

	var statusReason, botGroupID sql.NullString

	err := row.Scan(
		&bot.ID,
		&bot.WorkspaceID,
		&bot.Name,
		&bot.Status,
		&statusReason,
		&bot.StatusChangedAt,
		&bot.MaxConcurrentTasks,
		&botGroupID,
		&bot.CreatedAt,
		&bot.UpdatedAt,
		&bot.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if statusReason.Valid {
		bot.StatusReason = &statusReason.String
	}

	bot.BotGroupID = botGroupID.String

	return bot, nil
}

func (r *botRepo) GetByID(ctx context.Context, workspaceID, botID string) (*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE workspace_id = $1 AND id = $2 AND deleted_at IS NULL`

	bot, err := scanBot(r.q.QueryRowContext(ctx, query, workspaceID, botID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrBotNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query bot: %w", err)
	}

	return bot, nil
}

func (r *botRepo) List(ctx context.Context, workspaceID string) ([]*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE workspace_id = $1 AND deleted_at IS NULL ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer r.closeRows(ctx, rows)

	bots := make([]*models.Bot, 0)

	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}

		bots = append(bots, bot)
	}

	return bots, rows.Err()
}

func (r *botRepo) Save(ctx context.Context, bot *models.Bot) error {
	query := `
		INSERT INTO bots (` + botColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			status_reason = EXCLUDED.status_reason,
			status_changed_at = EXCLUDED.status_changed_at,
			max_concurrent_tasks = EXCLUDED.max_concurrent_tasks,
			bot_group_id = EXCLUDED.bot_group_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.q.ExecContext(ctx, query,
		bot.ID, bot.WorkspaceID, bot.Name, bot.Status, bot.StatusReason,
		bot.StatusChangedAt, bot.MaxConcurrentTasks, nullable(bot.BotGroupID),
		bot.CreatedAt, bot.UpdatedAt, bot.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}

	return nil
}

type taskRepo struct{ *store }

const taskColumns = `
	id
  , workspace_id
  , project_id
  , title
  , status
  , priority
  , due_date
  , workflow_run_id
  , workflow_step_id
  , created_at
  , updated_at
`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	task := &models.Task{}

	var projectID sql.NullString

	err := row.Scan(
		&task.ID,
		&task.WorkspaceID,
		&projectID,
		&task.Title,
		&task.Status,
		&task.Priority,
		&task.DueDate,
		&task.WorkflowRunID,
		&task.WorkflowStepID,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ProjectID = projectID.String

	return task, nil
}

func (r *taskRepo) GetByID(ctx context.Context, workspaceID, taskID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE workspace_id = $1 AND id = $2`

	task, err := scanTask(r.q.QueryRowContext(ctx, query, workspaceID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTaskNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	return task, nil
}

func (r *taskRepo) ListByStatus(ctx context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE workspace_id = $1 AND status = $2 ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer r.closeRows(ctx, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func (r *taskRepo) Save(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			due_date = EXCLUDED.due_date,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.ExecContext(ctx, query,
		task.ID, task.WorkspaceID, nullable(task.ProjectID), task.Title,
		task.Status, task.Priority, task.DueDate, task.WorkflowRunID,
		task.WorkflowStepID, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

type dependencyRepo struct{ *store }

func (r *dependencyRepo) ListByTask(ctx context.Context, workspaceID, taskID string) ([]*models.TaskDependency, error) {
	query := `
		SELECT id, workspace_id, task_id, depends_on_task_id, created_at
		FROM task_dependencies
		WHERE workspace_id = $1 AND task_id = $2
	`

	rows, err := r.q.QueryContext(ctx, query, workspaceID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task dependencies: %w", err)
	}
	defer r.closeRows(ctx, rows)

	deps := make([]*models.TaskDependency, 0)

	for rows.Next() {
		dep := &models.TaskDependency{}

		err := rows.Scan(&dep.ID, &dep.WorkspaceID, &dep.TaskID, &dep.DependsOnTaskID, &dep.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task dependency: %w", err)
		}

		deps = append(deps, dep)
	}

	return deps, rows.Err()
}

func (r *dependencyRepo) Save(ctx context.Context, dep *models.TaskDependency) error {
	query := `
		INSERT INTO task_dependencies (id, workspace_id, task_id, depends_on_task_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.q.ExecContext(ctx, query, dep.ID, dep.WorkspaceID, dep.TaskID, dep.DependsOnTaskID, dep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save task dependency: %w", err)
	}

	return nil
}

type botTaskRepo struct{ *store }

const botTaskColumns = `
	id
  , workspace_id
  , bot_id
  , task_id
  , status
  , retry_count
  , max_retries
  , timeout_minutes
  , retry_after
  , bot_group_id
  , structured_spec
  , created_at
  , updated_at
`

func scanBotTask(row interface{ Scan(...any) error }) (*models.BotTask, error) {
	botTask := &models.BotTask{}

	var (
		timeoutMinutes sql.NullInt64
		retryAfter     sql.NullInt64
		botGroupID     sql.NullString
		structuredSpec []byte
	)

	err := row.Scan(
		&botTask.ID,
		&botTask.WorkspaceID,
		&botTask.BotID,
		&botTask.TaskID,
		&botTask.Status,
		&botTask.RetryCount,
		&botTask.MaxRetries,
		&timeoutMinutes,
		&retryAfter,
		&botGroupID,
		&structuredSpec,
		&botTask.CreatedAt,
		&botTask.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	botTask.TimeoutMinutes = int(timeoutMinutes.Int64)
	botTask.BotGroupID = botGroupID.String

	if retryAfter.Valid {
		botTask.RetryAfter = &retryAfter.Int64
	}

	if len(structuredSpec) > 0 {
		if err := json.Unmarshal(structuredSpec, &botTask.StructuredSpec); err != nil {
			return nil, fmt.Errorf("failed to parse structured spec: %w", err)
		}
	}

	return botTask, nil
}

func (r *botTaskRepo) GetByID(ctx context.Context, workspaceID, botTaskID string) (*models.BotTask, error) {
	query := `SELECT ` + botTaskColumns + ` FROM bot_tasks WHERE workspace_id = $1 AND id = $2`

	botTask, err := scanBotTask(r.q.QueryRowContext(ctx, query, workspaceID, botTaskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrBotTaskNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query bot task: %w", err)
	}

	return botTask, nil
}

func (r *botTaskRepo) listQuery(ctx context.Context, query string, args ...any) ([]*models.BotTask, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot tasks: %w", err)
	}
	defer r.closeRows(ctx, rows)

	botTasks := make([]*models.BotTask, 0)

	for rows.Next() {
		botTask, err := scanBotTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot task: %w", err)
		}

		botTasks = append(botTasks, botTask)
	}

	return botTasks, rows.Err()
}

func (r *botTaskRepo) ListActiveByTask(ctx context.Context, workspaceID, taskID string) ([]*models.BotTask, error) {
	query := `
		SELECT ` + botTaskColumns + `
		FROM bot_tasks
		WHERE workspace_id = $1 AND task_id = $2 AND status IN ('pending', 'running')
	`

	return r.listQuery(ctx, query, workspaceID, taskID)
}

func (r *botTaskRepo) CountActiveByBot(ctx context.Context, workspaceID, botID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM bot_tasks
		WHERE workspace_id = $1 AND bot_id = $2 AND status IN ('pending', 'running')
	`

	var count int

	err := r.q.QueryRowContext(ctx, query, workspaceID, botID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bot tasks: %w", err)
	}

	return count, nil
}

func (r *botTaskRepo) ListRetryable(ctx context.Context, workspaceID string) ([]*models.BotTask, error) {
	// Latest attempt per task; retryable when it failed with budget left and
	// no active attempt for the task is in flight.
	query := `
		SELECT ` + botTaskColumns + ` FROM (
			SELECT DISTINCT ON (task_id) ` + botTaskColumns + `
			FROM bot_tasks
			WHERE workspace_id = $1
			ORDER BY task_id, retry_count DESC, created_at DESC
		) latest
		WHERE status = 'failed' AND max_retries > 0 AND retry_count < max_retries
		  AND NOT EXISTS (
			SELECT 1 FROM bot_tasks active
			WHERE active.workspace_id = $1
			  AND active.task_id = latest.task_id
			  AND active.status IN ('pending', 'running')
		  )
		ORDER BY created_at
	`

	return r.listQuery(ctx, query, workspaceID)
}

func (r *botTaskRepo) ListDue(ctx context.Context, workspaceID string, beforeMillis int64) ([]*models.BotTask, error) {
	query := `
		SELECT ` + botTaskColumns + `
		FROM bot_tasks
		WHERE workspace_id = $1 AND status = 'pending' AND retry_after IS NOT NULL AND retry_after <= $2
		ORDER BY retry_after
	`

	return r.listQuery(ctx, query, workspaceID, beforeMillis)
}

func (r *botTaskRepo) Save(ctx context.Context, botTask *models.BotTask) error {
	var structuredSpec []byte

	if botTask.StructuredSpec != nil {
		var err error

		structuredSpec, err = json.Marshal(botTask.StructuredSpec)
		if err != nil {
			return fmt.Errorf("failed to encode structured spec: %w", err)
		}
	}

	query := `
		INSERT INTO bot_tasks (` + botTaskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			retry_after = EXCLUDED.retry_after,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.ExecContext(ctx, query,
		botTask.ID, botTask.WorkspaceID, botTask.BotID, botTask.TaskID,
		botTask.Status, botTask.RetryCount, botTask.MaxRetries,
		nullableInt(botTask.TimeoutMinutes), botTask.RetryAfter,
		nullable(botTask.BotGroupID), structuredSpec,
		botTask.CreatedAt, botTask.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bot task: %w", err)
	}

	return nil
}

type workflowRepo struct{ *store }

const workflowColumns = `
	id
  , workspace_id
  , name
  , description
  , definition
  , created_at
  , updated_at
`

func scanWorkflow(row interface{ Scan(...any) error }) (*models.Workflow, error) {
	wf := &models.Workflow{}

	var description sql.NullString

	err := row.Scan(&wf.ID, &wf.WorkspaceID, &wf.Name, &description, &wf.Definition, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}

	wf.Description = description.String

	return wf, nil
}

func (r *workflowRepo) GetByID(ctx context.Context, workspaceID, workflowID string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE workspace_id = $1 AND id = $2`

	wf, err := scanWorkflow(r.q.QueryRowContext(ctx, query, workspaceID, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	return wf, nil
}

func (r *workflowRepo) List(ctx context.Context, workspaceID string) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE workspace_id = $1 ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, wf)
	}

	return workflows, rows.Err()
}

func (r *workflowRepo) Save(ctx context.Context, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.ExecContext(ctx, query,
		workflow.ID, workflow.WorkspaceID, workflow.Name,
		nullable(workflow.Description), workflow.Definition,
		workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

type runRepo struct{ *store }

func (r *runRepo) GetByID(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	query := `
		SELECT id, workspace_id, workflow_id, status, started_at, completed_at
		FROM workflow_runs
		WHERE id = $1
	`

	run := &models.WorkflowRun{}

	err := r.q.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.WorkspaceID, &run.WorkflowID, &run.Status, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query workflow run: %w", err)
	}

	return run, nil
}

func (r *runRepo) Save(ctx context.Context, run *models.WorkflowRun) error {
	query := `
		INSERT INTO workflow_runs (id, workspace_id, workflow_id, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.q.ExecContext(ctx, query,
		run.ID, run.WorkspaceID, run.WorkflowID, run.Status, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow run: %w", err)
	}

	return nil
}

type runStepRepo struct{ *store }

const runStepColumns = `
	id
  , workspace_id
  , run_id
  , step_id
  , status
  , result
  , started_at
  , completed_at
`

func scanRunStep(row interface{ Scan(...any) error }) (*models.WorkflowRunStep, error) {
	step := &models.WorkflowRunStep{}

	err := row.Scan(
		&step.ID, &step.WorkspaceID, &step.RunID, &step.StepID,
		&step.Status, &step.Result, &step.StartedAt, &step.CompletedAt)
	if err != nil {
		return nil, err
	}

	return step, nil
}

func (r *runStepRepo) ListByRun(ctx context.Context, runID string) ([]*models.WorkflowRunStep, error) {
	query := `SELECT ` + runStepColumns + ` FROM workflow_run_steps WHERE run_id = $1 ORDER BY step_id`

	rows, err := r.q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run steps: %w", err)
	}
	defer r.closeRows(ctx, rows)

	steps := make([]*models.WorkflowRunStep, 0)

	for rows.Next() {
		step, err := scanRunStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

func (r *runStepRepo) GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.WorkflowRunStep, error) {
	query := `SELECT ` + runStepColumns + ` FROM workflow_run_steps WHERE run_id = $1 AND step_id = $2`

	step, err := scanRunStep(r.q.QueryRowContext(ctx, query, runID, stepID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunStepNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query run step: %w", err)
	}

	return step, nil
}

func (r *runStepRepo) Save(ctx context.Context, step *models.WorkflowRunStep) error {
	query := `
		INSERT INTO workflow_run_steps (` + runStepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.q.ExecContext(ctx, query,
		step.ID, step.WorkspaceID, step.RunID, step.StepID,
		step.Status, step.Result, step.StartedAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save run step: %w", err)
	}

	return nil
}

type auditRepo struct{ *store }

func (r *auditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	var metadata []byte

	if entry.Metadata != nil {
		var err error

		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (id, workspace_id, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.ExecContext(ctx, query, entry.ID, entry.WorkspaceID, entry.Action, metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (s *store) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullableInt(value int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(value), Valid: value != 0}
}
