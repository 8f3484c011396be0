// Package scheduler computes which tasks are unblocked and assigns them to
// bots with spare concurrency capacity.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmateus/botherd/pkg/events"
	"github.com/dmateus/botherd/pkg/eventbus"
	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

// defaultMaxRetries is the retry budget stamped on fresh assignments.
const defaultMaxRetries = 3

// Scheduler runs dependency gating and capacity-aware assignment.
type Scheduler struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewScheduler(p persistence.Persistence, eventBus eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence: p,
		eventBus:    eventBus,
		clock:       clock,
		logger:      logger.With("module", "scheduler"),
	}
}

// FindReadyTasks returns todo tasks whose dependencies are all done and
// which have no assignment in flight, ordered by priority weight
// descending, then creation time, then id.
func (s *Scheduler) FindReadyTasks(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	return findReadyTasks(ctx, s.persistence, workspaceID)
}

func findReadyTasks(ctx context.Context, store persistence.Store, workspaceID string) ([]*models.Task, error) {
	candidates, err := store.Tasks().ListByStatus(ctx, workspaceID, models.TaskStatusTodo)
	if err != nil {
		return nil, err
	}

	ready := make([]*models.Task, 0, len(candidates))

	for _, task := range candidates {
		ok, err := isTaskReady(ctx, store, task)
		if err != nil {
			return nil, err
		}

		if ok {
			ready = append(ready, task)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		wi, wj := ready[i].Priority.Weight(), ready[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}

		// Ties break oldest-first, then id, so the order is deterministic.
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}

		return ready[i].ID < ready[j].ID
	})

	return ready, nil
}

func isTaskReady(ctx context.Context, store persistence.Store, task *models.Task) (bool, error) {
	deps, err := store.Dependencies().ListByTask(ctx, task.WorkspaceID, task.ID)
	if err != nil {
		return false, err
	}

	for _, dep := range deps {
		prerequisite, err := store.Tasks().GetByID(ctx, task.WorkspaceID, dep.DependsOnTaskID)
		if err != nil {
			return false, err
		}

		if prerequisite.Status != models.TaskStatusDone {
			return false, nil
		}
	}

	// A prior completed/failed/cancelled attempt does not block; only an
	// attempt still in flight does.
	active, err := store.BotTasks().ListActiveByTask(ctx, task.WorkspaceID, task.ID)
	if err != nil {
		return false, err
	}

	return len(active) == 0, nil
}

// FindAvailableBots returns bots in idle or working status whose active
// assignment count is below their concurrency limit, in listing (creation)
// order.
func (s *Scheduler) FindAvailableBots(ctx context.Context, workspaceID string) ([]*models.AvailableBot, error) {
	return findAvailableBots(ctx, s.persistence, workspaceID)
}

func findAvailableBots(ctx context.Context, store persistence.Store, workspaceID string) ([]*models.AvailableBot, error) {
	bots, err := store.Bots().List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	available := make([]*models.AvailableBot, 0, len(bots))

	for _, bot := range bots {
		if bot.Status != models.BotStatusIdle && bot.Status != models.BotStatusWorking {
			continue
		}

		active, err := store.BotTasks().CountActiveByBot(ctx, workspaceID, bot.ID)
		if err != nil {
			return nil, err
		}

		if active < bot.MaxConcurrentTasks {
			available = append(available, &models.AvailableBot{
				Bot:                bot,
				ActiveTasks:        active,
				MaxConcurrentTasks: bot.MaxConcurrentTasks,
			})
		}
	}

	return available, nil
}

// ScheduleReadyTasks assigns ready tasks to available bots, first-fit in
// bot listing order, tracking capacity in memory across the whole pass.
// Tasks beyond capacity stay todo for the next pass. The whole pass is one
// store transaction, so concurrent passes cannot double-book a bot slot.
func (s *Scheduler) ScheduleReadyTasks(ctx context.Context, workspaceID string) ([]models.Assignment, error) {
	var assignments []models.Assignment

	err := s.persistence.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		ready, err := findReadyTasks(ctx, store, workspaceID)
		if err != nil {
			return err
		}

		bots, err := findAvailableBots(ctx, store, workspaceID)
		if err != nil {
			return err
		}

		assignments = make([]models.Assignment, 0, len(ready))

		for _, task := range ready {
			assigned := false

			for _, candidate := range bots {
				if candidate.Headroom() <= 0 {
					continue
				}

				botTask, err := assignTask(ctx, store, s.clock.Now(), task, candidate.Bot)
				if err != nil {
					return err
				}

				candidate.ActiveTasks++
				assigned = true

				assignments = append(assignments, models.Assignment{
					TaskID:    task.ID,
					BotID:     candidate.Bot.ID,
					BotTaskID: botTask.ID,
				})

				break
			}

			if !assigned {
				// Capacity exhausted for every bot; remaining tasks wait for
				// the next pass.
				break
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishAssignments(ctx, workspaceID, assignments)

	s.logger.InfoContext(ctx, "scheduling pass finished",
		"workspace_id", workspaceID,
		"assignments", len(assignments))

	return assignments, nil
}

func assignTask(ctx context.Context, store persistence.Store, now time.Time, task *models.Task, bot *models.Bot) (*models.BotTask, error) {
	botTask := &models.BotTask{
		ID:          uuid.New().String(),
		WorkspaceID: task.WorkspaceID,
		BotID:       bot.ID,
		TaskID:      task.ID,
		Status:      models.BotTaskStatusPending,
		RetryCount:  0,
		MaxRetries:  defaultMaxRetries,
		BotGroupID:  bot.BotGroupID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.BotTasks().Save(ctx, botTask); err != nil {
		return nil, err
	}

	task.Status = models.TaskStatusInProgress
	task.UpdatedAt = now

	if err := store.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	return botTask, nil
}

func (s *Scheduler) publishAssignments(ctx context.Context, workspaceID string, assignments []models.Assignment) {
	if s.eventBus == nil {
		return
	}

	for _, assignment := range assignments {
		event := events.BotTaskAssigned{
			BaseEvent: events.BaseEvent{
				ID:          uuid.New().String(),
				Type:        events.BotTaskAssignedEvent,
				Timestamp:   s.clock.Now(),
				WorkspaceID: workspaceID,
			},
			TaskID:    assignment.TaskID,
			BotID:     assignment.BotID,
			BotTaskID: assignment.BotTaskID,
		}

		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish assignment", "task_id", assignment.TaskID, "error", err)
		}
	}
}
