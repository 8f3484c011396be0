// Package web provides the HTTP handlers over the orchestration core. The
// handlers are thin adapters: wire concerns live here, decisions live in
// the core packages.
package web

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmateus/botherd/pkg/botstate"
	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
	"github.com/dmateus/botherd/pkg/retry"
	"github.com/dmateus/botherd/pkg/scheduler"
	"github.com/dmateus/botherd/pkg/workflow"
)

type APIHandlers struct {
	persistence persistence.Persistence
	machine     *botstate.Machine
	scheduler   *scheduler.Scheduler
	engine      *workflow.Engine
	retryPolicy *retry.Policy
	clock       clockwork.Clock
	validator   *validator.Validate
}

func NewAPIHandlers(
	p persistence.Persistence,
	machine *botstate.Machine,
	sched *scheduler.Scheduler,
	engine *workflow.Engine,
	retryPolicy *retry.Policy,
	clock clockwork.Clock,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		machine:     machine,
		scheduler:   sched,
		engine:      engine,
		retryPolicy: retryPolicy,
		clock:       clock,
		validator:   validate,
	}
}

func (h *APIHandlers) CreateBot(c fiber.Ctx) error {
	req, err := bindAndValidate[CreateBotRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	now := h.clock.Now()
	bot := &models.Bot{
		ID:                 uuid.New().String(),
		WorkspaceID:        c.Params("workspaceId"),
		Name:               req.Name,
		Status:             models.BotStatusOffline,
		StatusChangedAt:    now,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
		BotGroupID:         req.BotGroupID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.persistence.Bots().Save(c.Context(), bot); err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(bot)
}

func (h *APIHandlers) GetBot(c fiber.Ctx) error {
	bot, err := h.persistence.Bots().GetByID(c.Context(), c.Params("workspaceId"), c.Params("botId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(bot)
}

func (h *APIHandlers) TransitionBotStatus(c fiber.Ctx) error {
	req, err := bindAndValidate[TransitionRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.machine.Transition(c.Context(),
		c.Params("workspaceId"), c.Params("botId"),
		models.BotStatus(req.From), models.BotStatus(req.To), req.Reason)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"status": botstate.Normalize(models.BotStatus(req.To)),
	})
}

// GetBotTransitions returns the statuses the bot may move to from its
// current status.
func (h *APIHandlers) GetBotTransitions(c fiber.Ctx) error {
	bot, err := h.persistence.Bots().GetByID(c.Context(), c.Params("workspaceId"), c.Params("botId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	status := botstate.Normalize(bot.Status)

	return c.JSON(fiber.Map{
		"status":  status,
		"allowed": statusStrings(botstate.AllowedTransitions(status)),
	})
}

func (h *APIHandlers) CreateTask(c fiber.Ctx) error {
	req, err := bindAndValidate[CreateTaskRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workspaceID := c.Params("workspaceId")
	now := h.clock.Now()
	task := &models.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Status:      models.TaskStatusTodo,
		Priority:    models.TaskPriority(req.Priority),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = h.persistence.InTransaction(c.Context(), func(ctx context.Context, store persistence.Store) error {
		if err := store.Tasks().Save(ctx, task); err != nil {
			return err
		}

		for _, dependsOn := range req.DependsOn {
			if err := saveDependency(ctx, store, task, dependsOn, now); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *APIHandlers) CreateTaskDependency(c fiber.Ctx) error {
	req, err := bindAndValidate[CreateDependencyRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workspaceID := c.Params("workspaceId")
	taskID := c.Params("taskId")
	now := h.clock.Now()

	var dep *models.TaskDependency

	err = h.persistence.InTransaction(c.Context(), func(ctx context.Context, store persistence.Store) error {
		task, err := store.Tasks().GetByID(ctx, workspaceID, taskID)
		if err != nil {
			return err
		}

		dep, err = newDependency(ctx, store, task, req.DependsOnTaskID, now)
		if err != nil {
			return err
		}

		return store.Dependencies().Save(ctx, dep)
	})
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dep)
}

func (h *APIHandlers) GetReadyTasks(c fiber.Ctx) error {
	ready, err := h.scheduler.FindReadyTasks(c.Context(), c.Params("workspaceId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": ready})
}

func (h *APIHandlers) GetAvailableBots(c fiber.Ctx) error {
	available, err := h.scheduler.FindAvailableBots(c.Context(), c.Params("workspaceId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"bots": available})
}

func (h *APIHandlers) ScheduleTasks(c fiber.Ctx) error {
	assignments, err := h.scheduler.ScheduleReadyTasks(c.Context(), c.Params("workspaceId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"assignments": assignments})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := bindAndValidate[CreateWorkflowRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	now := h.clock.Now()
	wf := &models.Workflow{
		ID:          uuid.New().String(),
		WorkspaceID: c.Params("workspaceId"),
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.persistence.Workflows().Save(c.Context(), wf); err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows().List(c.Context(), c.Params("workspaceId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) StartWorkflowRun(c fiber.Ctx) error {
	result, err := h.engine.StartRun(c.Context(), c.Params("workspaceId"), c.Params("workflowId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) AdvanceRun(c fiber.Ctx) error {
	result, err := h.engine.AdvanceRun(c.Context(), c.Params("runId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	req, err := bindAndValidate[ResolveStepRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.CompleteStep(c.Context(), c.Params("runId"), c.Params("stepId"), req.Result)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) FailStep(c fiber.Ctx) error {
	req, err := bindAndValidate[ResolveStepRequest](c, h.validator)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.FailStep(c.Context(), c.Params("runId"), c.Params("stepId"), req.Result)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) RetryBotTask(c fiber.Ctx) error {
	workspaceID := c.Params("workspaceId")

	failed, err := h.persistence.BotTasks().GetByID(c.Context(), workspaceID, c.Params("botTaskId"))
	if err != nil {
		return handleCoreError(c, err)
	}

	result, err := h.retryPolicy.MaybeRetry(c.Context(), workspaceID, failed)
	if err != nil {
		return handleCoreError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func bindAndValidate[T any](c fiber.Ctx, validate *validator.Validate) (*T, error) {
	req := new(T)
	if err := c.Bind().JSON(req); err != nil {
		return nil, err
	}

	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	return req, nil
}

func statusStrings(statuses []models.BotStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}

	return out
}
