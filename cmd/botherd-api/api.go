// Package main provides the botherd API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"

	"github.com/dmateus/botherd/pkg/botstate"
	"github.com/dmateus/botherd/pkg/eventbus"
	"github.com/dmateus/botherd/pkg/persistence"
	"github.com/dmateus/botherd/pkg/retry"
	"github.com/dmateus/botherd/pkg/scheduler"
	"github.com/dmateus/botherd/pkg/web"
	"github.com/dmateus/botherd/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	clock := clockwork.NewRealClock()

	machine := botstate.NewMachine(a.persistence, a.eventBus, clock, a.logger)
	sched := scheduler.NewScheduler(a.persistence, a.eventBus, clock, a.logger)
	engine := workflow.NewEngine(a.persistence, a.eventBus, clock, a.logger)
	retryPolicy := retry.NewPolicy(a.persistence, a.eventBus, clock, retry.NewMemoryQueue(), a.logger)

	handlers := web.NewAPIHandlers(a.persistence, machine, sched, engine, retryPolicy, clock, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Botherd API")
	})

	ws := app.Group("/workspaces/:workspaceId")

	ws.Post("/bots", handlers.CreateBot)
	ws.Get("/bots/available", handlers.GetAvailableBots)
	ws.Get("/bots/:botId", handlers.GetBot)
	ws.Post("/bots/:botId/status", handlers.TransitionBotStatus)
	ws.Get("/bots/:botId/transitions", handlers.GetBotTransitions)

	ws.Post("/tasks", handlers.CreateTask)
	ws.Get("/tasks/ready", handlers.GetReadyTasks)
	ws.Post("/tasks/:taskId/dependencies", handlers.CreateTaskDependency)
	ws.Post("/schedule", handlers.ScheduleTasks)
	ws.Post("/bot-tasks/:botTaskId/retry", handlers.RetryBotTask)

	ws.Get("/workflows", handlers.GetWorkflows)
	ws.Post("/workflows", handlers.CreateWorkflow)
	ws.Post("/workflows/:workflowId/runs", handlers.StartWorkflowRun)

	// Run ids are globally unique, so run endpoints are not workspace scoped.
	app.Post("/runs/:runId/advance", handlers.AdvanceRun)
	app.Post("/runs/:runId/steps/:stepId/complete", handlers.CompleteStep)
	app.Post("/runs/:runId/steps/:stepId/fail", handlers.FailStep)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
