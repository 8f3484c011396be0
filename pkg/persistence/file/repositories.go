package file

import (
	"context"
	"sort"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

// view is the transactional face of the store: repositories bound to a
// staged state copy, no locking (the owning Persistence already holds the
// mutex for the duration of the transaction).
type view struct {
	state *state
}

func (v *view) Bots() persistence.BotRepository { return &botRepo{repoBase{state: v.state}} }

func (v *view) Tasks() persistence.TaskRepository { return &taskRepo{repoBase{state: v.state}} }

func (v *view) Dependencies() persistence.DependencyRepository {
	return &dependencyRepo{repoBase{state: v.state}}
}

func (v *view) BotTasks() persistence.BotTaskRepository {
	return &botTaskRepo{repoBase{state: v.state}}
}

func (v *view) Workflows() persistence.WorkflowRepository {
	return &workflowRepo{repoBase{state: v.state}}
}

func (v *view) Runs() persistence.RunRepository { return &runRepo{repoBase{state: v.state}} }

func (v *view) RunSteps() persistence.RunStepRepository {
	return &runStepRepo{repoBase{state: v.state}}
}

func (v *view) Audit() persistence.AuditRepository { return &auditRepo{repoBase{state: v.state}} }

// repoBase resolves which state a repository call operates on and handles
// lock/flush bookkeeping for direct (non-transactional) access.
type repoBase struct {
	owner *Persistence // nil inside transactions
	state *state       // set inside transactions
}

func (b *repoBase) read(fn func(s *state) error) error {
	if b.owner == nil {
		return fn(b.state)
	}

	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()

	return fn(b.owner.state)
}

func (b *repoBase) write(fn func(s *state) error) error {
	if b.owner == nil {
		return fn(b.state)
	}

	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()

	if err := fn(b.owner.state); err != nil {
		return err
	}

	return b.owner.flush()
}

type botRepo struct{ repoBase }

func (r *botRepo) GetByID(_ context.Context, workspaceID, botID string) (*models.Bot, error) {
	var found *models.Bot

	err := r.read(func(s *state) error {
		for _, bot := range s.Bots {
			if bot.WorkspaceID == workspaceID && bot.ID == botID {
				found = bot

				return nil
			}
		}

		return persistence.ErrBotNotFound
	})

	return found, err
}

func (r *botRepo) List(_ context.Context, workspaceID string) ([]*models.Bot, error) {
	bots := make([]*models.Bot, 0)

	err := r.read(func(s *state) error {
		for _, bot := range s.Bots {
			if bot.WorkspaceID == workspaceID {
				bots = append(bots, bot)
			}
		}

		return nil
	})

	return bots, err
}

func (r *botRepo) Save(_ context.Context, bot *models.Bot) error {
	return r.write(func(s *state) error {
		for i, existing := range s.Bots {
			if existing.ID == bot.ID {
				s.Bots[i] = bot

				return nil
			}
		}

		s.Bots = append(s.Bots, bot)

		return nil
	})
}

type taskRepo struct{ repoBase }

func (r *taskRepo) GetByID(_ context.Context, workspaceID, taskID string) (*models.Task, error) {
	var found *models.Task

	err := r.read(func(s *state) error {
		for _, task := range s.Tasks {
			if task.WorkspaceID == workspaceID && task.ID == taskID {
				found = task

				return nil
			}
		}

		return persistence.ErrTaskNotFound
	})

	return found, err
}

func (r *taskRepo) ListByStatus(_ context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0)

	err := r.read(func(s *state) error {
		for _, task := range s.Tasks {
			if task.WorkspaceID == workspaceID && task.Status == status {
				tasks = append(tasks, task)
			}
		}

		return nil
	})

	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}

		return tasks[i].ID < tasks[j].ID
	})

	return tasks, err
}

func (r *taskRepo) Save(_ context.Context, task *models.Task) error {
	return r.write(func(s *state) error {
		for i, existing := range s.Tasks {
			if existing.ID == task.ID {
				s.Tasks[i] = task

				return nil
			}
		}

		s.Tasks = append(s.Tasks, task)

		return nil
	})
}

type dependencyRepo struct{ repoBase }

func (r *dependencyRepo) ListByTask(_ context.Context, workspaceID, taskID string) ([]*models.TaskDependency, error) {
	deps := make([]*models.TaskDependency, 0)

	err := r.read(func(s *state) error {
		for _, dep := range s.Deps {
			if dep.WorkspaceID == workspaceID && dep.TaskID == taskID {
				deps = append(deps, dep)
			}
		}

		return nil
	})

	return deps, err
}

func (r *dependencyRepo) Save(_ context.Context, dep *models.TaskDependency) error {
	return r.write(func(s *state) error {
		for i, existing := range s.Deps {
			if existing.ID == dep.ID {
				s.Deps[i] = dep

				return nil
			}
		}

		s.Deps = append(s.Deps, dep)

		return nil
	})
}

type botTaskRepo struct{ repoBase }

func (r *botTaskRepo) GetByID(_ context.Context, workspaceID, botTaskID string) (*models.BotTask, error) {
	var found *models.BotTask

	err := r.read(func(s *state) error {
		for _, bt := range s.BotTasks {
			if bt.WorkspaceID == workspaceID && bt.ID == botTaskID {
				found = bt

				return nil
			}
		}

		return persistence.ErrBotTaskNotFound
	})

	return found, err
}

func (r *botTaskRepo) ListActiveByTask(_ context.Context, workspaceID, taskID string) ([]*models.BotTask, error) {
	active := make([]*models.BotTask, 0)

	err := r.read(func(s *state) error {
		for _, bt := range s.BotTasks {
			if bt.WorkspaceID == workspaceID && bt.TaskID == taskID && bt.Status.Active() {
				active = append(active, bt)
			}
		}

		return nil
	})

	return active, err
}

func (r *botTaskRepo) CountActiveByBot(_ context.Context, workspaceID, botID string) (int, error) {
	count := 0

	err := r.read(func(s *state) error {
		for _, bt := range s.BotTasks {
			if bt.WorkspaceID == workspaceID && bt.BotID == botID && bt.Status.Active() {
				count++
			}
		}

		return nil
	})

	return count, err
}

func (r *botTaskRepo) ListRetryable(_ context.Context, workspaceID string) ([]*models.BotTask, error) {
	retryable := make([]*models.BotTask, 0)

	err := r.read(func(s *state) error {
		latest := make(map[string]*models.BotTask)
		active := make(map[string]bool)
		for _, bt := range s.BotTasks {
			if bt.WorkspaceID != workspaceID {
				continue
			}

			if bt.Status.Active() {
				active[bt.TaskID] = true
			}

			if current, ok := latest[bt.TaskID]; !ok || bt.RetryCount > current.RetryCount {
				latest[bt.TaskID] = bt
			}
		}

		for taskID, bt := range latest {
			// A task with any active attempt is already in flight; retrying
			// it would double-book the bot.
			if active[taskID] {
				continue
			}

			if bt.Status == models.BotTaskStatusFailed && bt.MaxRetries > 0 && bt.RetryCount < bt.MaxRetries {
				retryable = append(retryable, bt)
			}
		}

		return nil
	})

	sort.SliceStable(retryable, func(i, j int) bool {
		return retryable[i].CreatedAt.Before(retryable[j].CreatedAt)
	})

	return retryable, err
}

func (r *botTaskRepo) ListDue(_ context.Context, workspaceID string, beforeMillis int64) ([]*models.BotTask, error) {
	due := make([]*models.BotTask, 0)

	err := r.read(func(s *state) error {
		for _, bt := range s.BotTasks {
			if bt.WorkspaceID != workspaceID || bt.Status != models.BotTaskStatusPending {
				continue
			}

			if bt.RetryAfter != nil && *bt.RetryAfter <= beforeMillis {
				due = append(due, bt)
			}
		}

		return nil
	})

	return due, err
}

func (r *botTaskRepo) Save(_ context.Context, botTask *models.BotTask) error {
	return r.write(func(s *state) error {
		for i, existing := range s.BotTasks {
			if existing.ID == botTask.ID {
				s.BotTasks[i] = botTask

				return nil
			}
		}

		s.BotTasks = append(s.BotTasks, botTask)

		return nil
	})
}

type workflowRepo struct{ repoBase }

func (r *workflowRepo) GetByID(_ context.Context, workspaceID, workflowID string) (*models.Workflow, error) {
	var found *models.Workflow

	err := r.read(func(s *state) error {
		for _, wf := range s.Workflows {
			if wf.WorkspaceID == workspaceID && wf.ID == workflowID {
				found = wf

				return nil
			}
		}

		return persistence.ErrWorkflowNotFound
	})

	return found, err
}

func (r *workflowRepo) List(_ context.Context, workspaceID string) ([]*models.Workflow, error) {
	workflows := make([]*models.Workflow, 0)

	err := r.read(func(s *state) error {
		for _, wf := range s.Workflows {
			if wf.WorkspaceID == workspaceID {
				workflows = append(workflows, wf)
			}
		}

		return nil
	})

	return workflows, err
}

func (r *workflowRepo) Save(_ context.Context, workflow *models.Workflow) error {
	return r.write(func(s *state) error {
		for i, existing := range s.Workflows {
			if existing.ID == workflow.ID {
				s.Workflows[i] = workflow

				return nil
			}
		}

		s.Workflows = append(s.Workflows, workflow)

		return nil
	})
}

type runRepo struct{ repoBase }

func (r *runRepo) GetByID(_ context.Context, runID string) (*models.WorkflowRun, error) {
	var found *models.WorkflowRun

	err := r.read(func(s *state) error {
		for _, run := range s.Runs {
			if run.ID == runID {
				found = run

				return nil
			}
		}

		return persistence.ErrRunNotFound
	})

	return found, err
}

func (r *runRepo) Save(_ context.Context, run *models.WorkflowRun) error {
	return r.write(func(s *state) error {
		for i, existing := range s.Runs {
			if existing.ID == run.ID {
				s.Runs[i] = run

				return nil
			}
		}

		s.Runs = append(s.Runs, run)

		return nil
	})
}

type runStepRepo struct{ repoBase }

func (r *runStepRepo) ListByRun(_ context.Context, runID string) ([]*models.WorkflowRunStep, error) {
	steps := make([]*models.WorkflowRunStep, 0)

	err := r.read(func(s *state) error {
		for _, step := range s.RunSteps {
			if step.RunID == runID {
				steps = append(steps, step)
			}
		}

		return nil
	})

	return steps, err
}

func (r *runStepRepo) GetByRunAndStep(_ context.Context, runID, stepID string) (*models.WorkflowRunStep, error) {
	var found *models.WorkflowRunStep

	err := r.read(func(s *state) error {
		for _, step := range s.RunSteps {
			if step.RunID == runID && step.StepID == stepID {
				found = step

				return nil
			}
		}

		return persistence.ErrRunStepNotFound
	})

	return found, err
}

func (r *runStepRepo) Save(_ context.Context, step *models.WorkflowRunStep) error {
	return r.write(func(s *state) error {
		for i, existing := range s.RunSteps {
			if existing.ID == step.ID {
				s.RunSteps[i] = step

				return nil
			}
		}

		s.RunSteps = append(s.RunSteps, step)

		return nil
	})
}

type auditRepo struct{ repoBase }

func (r *auditRepo) Append(_ context.Context, entry *models.AuditEntry) error {
	return r.write(func(s *state) error {
		s.Audit = append(s.Audit, entry)

		return nil
	})
}
