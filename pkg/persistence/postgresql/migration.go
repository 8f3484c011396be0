package postgresql

import (
	"database/sql"
	"log/slog"

	"github.com/dmateus/botherd/pkg/persistence/sqlbase"
)

// NewMigrationManager wires the orchestration schema into the shared
// migration runner.
func NewMigrationManager(logger *slog.Logger, db *sql.DB) *sqlbase.MigrationManager {
	return sqlbase.NewMigrationManager(logger, db, migrations())
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE bots (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				status_reason TEXT,
				status_changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				max_concurrent_tasks INTEGER NOT NULL CHECK (max_concurrent_tasks >= 1),
				bot_group_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_bots_workspace ON bots(workspace_id);
			CREATE INDEX idx_bots_status ON bots(workspace_id, status);

			CREATE TABLE tasks (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				project_id VARCHAR(255),
				title TEXT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('todo', 'in_progress', 'done')),
				priority VARCHAR(50) NOT NULL CHECK (priority IN ('urgent', 'high', 'medium', 'low')),
				due_date TIMESTAMP WITH TIME ZONE,
				workflow_run_id UUID,
				workflow_step_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tasks_workspace_status ON tasks(workspace_id, status);
			CREATE INDEX idx_tasks_created_at ON tasks(created_at);

			CREATE TABLE task_dependencies (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				task_id UUID NOT NULL,
				depends_on_task_id UUID NOT NULL CHECK (depends_on_task_id <> task_id),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_task_dependencies_task ON task_dependencies(workspace_id, task_id);

			CREATE TABLE bot_tasks (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				bot_id UUID NOT NULL,
				task_id UUID NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0 CHECK (retry_count <= max_retries OR max_retries = 0),
				timeout_minutes INTEGER,
				retry_after BIGINT,
				bot_group_id VARCHAR(255),
				structured_spec JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_bot_tasks_bot_active ON bot_tasks(workspace_id, bot_id) WHERE status IN ('pending', 'running');
			CREATE INDEX idx_bot_tasks_task ON bot_tasks(workspace_id, task_id);
			CREATE INDEX idx_bot_tasks_due ON bot_tasks(workspace_id, retry_after) WHERE status = 'pending';

			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_workspace ON workflows(workspace_id);

			CREATE TABLE workflow_runs (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				workflow_id UUID NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_runs_workflow ON workflow_runs(workflow_id);

			CREATE TABLE workflow_run_steps (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				run_id UUID NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				result TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, step_id)
			);

			CREATE INDEX idx_workflow_run_steps_run ON workflow_run_steps(run_id);

			CREATE TABLE audit_log (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				action VARCHAR(255) NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_log_workspace ON audit_log(workspace_id, created_at);
		`,
	}
}
