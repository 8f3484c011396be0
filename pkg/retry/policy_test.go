package retry_test

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
	"github.com/dmateus/botherd/pkg/retry"
)

const workspaceID = "ws-1"

func TestBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(30_000), retry.Backoff(0))
	assert.Equal(t, int64(60_000), retry.Backoff(1))
	assert.Equal(t, int64(120_000), retry.Backoff(2))
	assert.Equal(t, int64(240_000), retry.Backoff(3))
}

func setupPolicy(t *testing.T) (*retry.Policy, *file.Persistence, *clockwork.FakeClock, *retry.MemoryQueue) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	queue := retry.NewMemoryQueue()
	policy := retry.NewPolicy(p, nil, clock, queue, slog.Default())

	return policy, p, clock, queue
}

func failedBotTask(retryCount, maxRetries int) *models.BotTask {
	return &models.BotTask{
		ID:             "bt-failed",
		WorkspaceID:    workspaceID,
		BotID:          "bot-1",
		TaskID:         "task-1",
		Status:         models.BotTaskStatusFailed,
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		TimeoutMinutes: 15,
		BotGroupID:     "crawlers",
		StructuredSpec: map[string]any{"url": "https://example.com"},
	}
}

func TestMaybeRetryCreatesNextAttempt(t *testing.T) {
	t.Parallel()

	policy, p, clock, queue := setupPolicy(t)

	result, err := policy.MaybeRetry(context.Background(), workspaceID, failedBotTask(0, 3))
	require.NoError(t, err)
	require.True(t, result.Retried)
	require.NotEmpty(t, result.NewTaskID)

	next, err := p.BotTasks().GetByID(context.Background(), workspaceID, result.NewTaskID)
	require.NoError(t, err)

	assert.Equal(t, models.BotTaskStatusPending, next.Status)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, 3, next.MaxRetries)
	assert.Equal(t, "bot-1", next.BotID)
	assert.Equal(t, "task-1", next.TaskID)
	assert.Equal(t, 15, next.TimeoutMinutes)
	assert.Equal(t, "crawlers", next.BotGroupID)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, next.StructuredSpec)

	require.NotNil(t, next.RetryAfter)
	assert.Equal(t, clock.Now().UnixMilli()+30_000, *next.RetryAfter)

	// The attempt is also queued, due once the backoff elapses.
	due, err := queue.Due(context.Background(), workspaceID, clock.Now().UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = queue.Due(context.Background(), workspaceID, clock.Now().UnixMilli()+30_000)
	require.NoError(t, err)
	assert.Equal(t, []string{result.NewTaskID}, due)
}

func TestMaybeRetryBackoffDoublesPerAttempt(t *testing.T) {
	t.Parallel()

	policy, p, clock, _ := setupPolicy(t)

	result, err := policy.MaybeRetry(context.Background(), workspaceID, failedBotTask(2, 5))
	require.NoError(t, err)
	require.True(t, result.Retried)

	next, err := p.BotTasks().GetByID(context.Background(), workspaceID, result.NewTaskID)
	require.NoError(t, err)
	assert.Equal(t, 3, next.RetryCount)
	require.NotNil(t, next.RetryAfter)
	assert.Equal(t, clock.Now().UnixMilli()+120_000, *next.RetryAfter)
}

func TestMaybeRetryBudgetSpent(t *testing.T) {
	t.Parallel()

	policy, _, _, _ := setupPolicy(t)

	result, err := policy.MaybeRetry(context.Background(), workspaceID, failedBotTask(3, 3))
	require.NoError(t, err)
	assert.False(t, result.Retried)
	assert.Empty(t, result.NewTaskID)
}

func TestMaybeRetryDisabled(t *testing.T) {
	t.Parallel()

	policy, _, _, _ := setupPolicy(t)

	result, err := policy.MaybeRetry(context.Background(), workspaceID, failedBotTask(0, 0))
	require.NoError(t, err)
	assert.False(t, result.Retried)
}

func TestMaybeRetryRefusesNonFailedAttempt(t *testing.T) {
	t.Parallel()

	policy, p, _, _ := setupPolicy(t)

	for _, status := range []models.BotTaskStatus{
		models.BotTaskStatusPending,
		models.BotTaskStatusRunning,
		models.BotTaskStatusCompleted,
		models.BotTaskStatusCancelled,
	} {
		attempt := failedBotTask(0, 3)
		attempt.Status = status

		result, err := policy.MaybeRetry(context.Background(), workspaceID, attempt)
		require.NoError(t, err)
		assert.False(t, result.Retried, "status %s", status)
		assert.Empty(t, result.NewTaskID)
	}

	// No clone was persisted for any of the refused attempts.
	active, err := p.BotTasks().ListActiveByTask(context.Background(), workspaceID, "task-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSweepRetryable(t *testing.T) {
	t.Parallel()

	policy, p, _, _ := setupPolicy(t)

	require.NoError(t, p.BotTasks().Save(context.Background(), failedBotTask(0, 3)))

	// Exhausted attempts are not picked up by the sweep.
	exhausted := failedBotTask(3, 3)
	exhausted.ID = "bt-exhausted"
	exhausted.TaskID = "task-2"
	require.NoError(t, p.BotTasks().Save(context.Background(), exhausted))

	results, err := policy.SweepRetryable(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Retried)

	// The sweep is self-limiting: the fresh pending attempt shadows the
	// failed one, so a second pass retries nothing.
	results, err = policy.SweepRetryable(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSweepSkipsTaskRescheduledBeforeSweep(t *testing.T) {
	t.Parallel()

	policy, p, clock, _ := setupPolicy(t)

	// An attempt fails, then the scheduler assigns the task again before
	// the sweep runs. Both rows carry retryCount 0.
	require.NoError(t, p.BotTasks().Save(context.Background(), failedBotTask(0, 3)))

	rescheduled := failedBotTask(0, 3)
	rescheduled.ID = "bt-rescheduled"
	rescheduled.Status = models.BotTaskStatusPending
	rescheduled.CreatedAt = clock.Now().Add(time.Second)
	require.NoError(t, p.BotTasks().Save(context.Background(), rescheduled))

	results, err := policy.SweepRetryable(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, results)

	// The rescheduled attempt is still the only one in flight.
	active, err := p.BotTasks().ListActiveByTask(context.Background(), workspaceID, "task-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "bt-rescheduled", active[0].ID)
}
