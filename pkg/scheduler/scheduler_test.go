package scheduler_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence/file"
	"github.com/dmateus/botherd/pkg/scheduler"
)

const workspaceID = "ws-1"

func setupScheduler(t *testing.T) (*scheduler.Scheduler, *file.Persistence, *clockwork.FakeClock) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	sched := scheduler.NewScheduler(p, nil, clock, slog.Default())

	return sched, p, clock
}

func seedBot(t *testing.T, p *file.Persistence, id string, status models.BotStatus, maxConcurrent int) {
	t.Helper()

	require.NoError(t, p.Bots().Save(context.Background(), &models.Bot{
		ID:                 id,
		WorkspaceID:        workspaceID,
		Name:               "bot " + id,
		Status:             status,
		MaxConcurrentTasks: maxConcurrent,
	}))
}

func seedTask(t *testing.T, p *file.Persistence, id string, priority models.TaskPriority, createdAt time.Time) {
	t.Helper()

	require.NoError(t, p.Tasks().Save(context.Background(), &models.Task{
		ID:          id,
		WorkspaceID: workspaceID,
		Title:       "task " + id,
		Status:      models.TaskStatusTodo,
		Priority:    priority,
		CreatedAt:   createdAt,
	}))
}

func seedDependency(t *testing.T, p *file.Persistence, taskID, dependsOn string) {
	t.Helper()

	require.NoError(t, p.Dependencies().Save(context.Background(), &models.TaskDependency{
		ID:              taskID + "<-" + dependsOn,
		WorkspaceID:     workspaceID,
		TaskID:          taskID,
		DependsOnTaskID: dependsOn,
	}))
}

func setTaskStatus(t *testing.T, p *file.Persistence, taskID string, status models.TaskStatus) {
	t.Helper()

	task, err := p.Tasks().GetByID(context.Background(), workspaceID, taskID)
	require.NoError(t, err)
	task.Status = status
	require.NoError(t, p.Tasks().Save(context.Background(), task))
}

func TestFindReadyTasksDependencyGating(t *testing.T) {
	t.Parallel()

	sched, p, clock := setupScheduler(t)
	seedTask(t, p, "t1", models.TaskPriorityMedium, clock.Now())
	seedTask(t, p, "t2", models.TaskPriorityMedium, clock.Now())
	seedDependency(t, p, "t2", "t1")

	ready, err := sched.FindReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "t1", ready[0].ID)

	// An in-progress prerequisite is still blocking; only done unblocks.
	setTaskStatus(t, p, "t1", models.TaskStatusInProgress)

	ready, err = sched.FindReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, ready)

	setTaskStatus(t, p, "t1", models.TaskStatusDone)

	ready, err = sched.FindReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "t2", ready[0].ID)
}

func TestFindReadyTasksExcludesTasksWithActiveAttempt(t *testing.T) {
	t.Parallel()

	sched, p, clock := setupScheduler(t)
	seedTask(t, p, "t1", models.TaskPriorityMedium, clock.Now())

	botTask := &models.BotTask{
		ID:          "bt-1",
		WorkspaceID: workspaceID,
		BotID:       "b1",
		TaskID:      "t1",
		Status:      models.BotTaskStatusRunning,
	}
	require.NoError(t, p.BotTasks().Save(context.Background(), botTask))

	ready, err := sched.FindReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, ready)

	// A terminal attempt does not block re-scheduling.
	botTask.Status = models.BotTaskStatusFailed
	require.NoError(t, p.BotTasks().Save(context.Background(), botTask))

	ready, err = sched.FindReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "t1", ready[0].ID)
}

func TestFindReadyTasksOrdering(t *testing.T) {
	t.Parallel()

	sched, p, clock := setupScheduler(t)
	base := clock.Now()

	seedTask(t, p, "low", models.TaskPriorityLow, base)
	seedTask(t, p, "medium", models.TaskPriorityMedium, base)
	seedTask(t, p, "urgent-new", models.TaskPriorityUrgent, base.Add(time.Minute))
	seedTask(t, p, "urgent-old", models.TaskPriorityUrgent, base)
	seedTask(t, p, "high", models.TaskPriorityHigh, base)

	ready, err := sched.FindReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)

	ids := make([]string, 0, len(ready))
	for _, task := range ready {
		ids = append(ids, task.ID)
	}

	assert.Equal(t, []string{"urgent-old", "urgent-new", "high", "medium", "low"}, ids)
}

func TestFindAvailableBots(t *testing.T) {
	t.Parallel()

	sched, p, _ := setupScheduler(t)
	seedBot(t, p, "idle", models.BotStatusIdle, 3)
	seedBot(t, p, "offline", models.BotStatusOffline, 3)
	seedBot(t, p, "errored", models.BotStatusError, 3)
	seedBot(t, p, "partial", models.BotStatusWorking, 3)
	seedBot(t, p, "full", models.BotStatusWorking, 2)

	for i, botID := range []string{"partial", "partial", "full", "full"} {
		require.NoError(t, p.BotTasks().Save(context.Background(), &models.BotTask{
			ID:          string(rune('a' + i)),
			WorkspaceID: workspaceID,
			BotID:       botID,
			TaskID:      "t",
			Status:      models.BotTaskStatusRunning,
		}))
	}

	available, err := sched.FindAvailableBots(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, available, 2)

	assert.Equal(t, "idle", available[0].Bot.ID)
	assert.Equal(t, 3, available[0].Headroom())
	assert.Equal(t, "partial", available[1].Bot.ID)
	assert.Equal(t, 1, available[1].Headroom())
}

func TestScheduleReadyTasksBinPacking(t *testing.T) {
	t.Parallel()

	sched, p, clock := setupScheduler(t)
	seedBot(t, p, "b1", models.BotStatusIdle, 2)
	seedBot(t, p, "b2", models.BotStatusIdle, 1)
	seedTask(t, p, "t1", models.TaskPriorityHigh, clock.Now())
	seedTask(t, p, "t2", models.TaskPriorityMedium, clock.Now())
	seedTask(t, p, "t3", models.TaskPriorityLow, clock.Now())

	assignments, err := sched.ScheduleReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, assignments, 3)

	// First-fit: b1 takes two, b2 takes the overflow.
	assert.Equal(t, "t1", assignments[0].TaskID)
	assert.Equal(t, "b1", assignments[0].BotID)
	assert.Equal(t, "t2", assignments[1].TaskID)
	assert.Equal(t, "b1", assignments[1].BotID)
	assert.Equal(t, "t3", assignments[2].TaskID)
	assert.Equal(t, "b2", assignments[2].BotID)

	for _, assignment := range assignments {
		task, err := p.Tasks().GetByID(context.Background(), workspaceID, assignment.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusInProgress, task.Status)

		botTask, err := p.BotTasks().GetByID(context.Background(), workspaceID, assignment.BotTaskID)
		require.NoError(t, err)
		assert.Equal(t, models.BotTaskStatusPending, botTask.Status)
		assert.Equal(t, 0, botTask.RetryCount)
		assert.Equal(t, 3, botTask.MaxRetries)
	}
}

func TestScheduleReadyTasksCapacityExhausted(t *testing.T) {
	t.Parallel()

	sched, p, clock := setupScheduler(t)
	seedBot(t, p, "b1", models.BotStatusIdle, 1)
	seedTask(t, p, "t1", models.TaskPriorityUrgent, clock.Now())
	seedTask(t, p, "t2", models.TaskPriorityLow, clock.Now())

	assignments, err := sched.ScheduleReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "t1", assignments[0].TaskID)

	// The leftover stays todo and is picked up next pass once capacity
	// frees up.
	task, err := p.Tasks().GetByID(context.Background(), workspaceID, "t2")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusTodo, task.Status)
}

func TestScheduleReadyTasksNoBots(t *testing.T) {
	t.Parallel()

	sched, p, clock := setupScheduler(t)
	seedTask(t, p, "t1", models.TaskPriorityMedium, clock.Now())

	assignments, err := sched.ScheduleReadyTasks(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}
