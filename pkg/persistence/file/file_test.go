package file_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
	"github.com/dmateus/botherd/pkg/persistence/file"
)

func newStore(t *testing.T) (*file.Persistence, string) {
	t.Helper()

	dir := t.TempDir()
	p, err := file.NewPersistence(dir)
	require.NoError(t, err)

	return p, dir
}

func TestSaveAndGetBot(t *testing.T) {
	t.Parallel()

	p, _ := newStore(t)
	ctx := context.Background()

	bot := &models.Bot{
		ID:                 "b1",
		WorkspaceID:        "ws-1",
		Name:               "crawler",
		Status:             models.BotStatusIdle,
		MaxConcurrentTasks: 2,
	}
	require.NoError(t, p.Bots().Save(ctx, bot))

	loaded, err := p.Bots().GetByID(ctx, "ws-1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "crawler", loaded.Name)

	// Save with the same id is an upsert.
	bot.Name = "crawler v2"
	require.NoError(t, p.Bots().Save(ctx, bot))

	loaded, err = p.Bots().GetByID(ctx, "ws-1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "crawler v2", loaded.Name)
}

func TestWorkspaceScoping(t *testing.T) {
	t.Parallel()

	p, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, p.Bots().Save(ctx, &models.Bot{
		ID:          "b1",
		WorkspaceID: "ws-1",
		Name:        "crawler",
		Status:      models.BotStatusIdle,
	}))

	// Cross-tenant lookups behave exactly like missing rows.
	_, err := p.Bots().GetByID(ctx, "ws-2", "b1")
	require.ErrorIs(t, err, persistence.ErrBotNotFound)
	assert.True(t, persistence.IsNotFound(err))
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	p, dir := newStore(t)
	ctx := context.Background()

	require.NoError(t, p.Tasks().Save(ctx, &models.Task{
		ID:          "t1",
		WorkspaceID: "ws-1",
		Title:       "index docs",
		Status:      models.TaskStatusTodo,
		Priority:    models.TaskPriorityMedium,
	}))
	require.NoError(t, p.Close(ctx))

	reopened, err := file.NewPersistence(dir)
	require.NoError(t, err)

	task, err := reopened.Tasks().GetByID(ctx, "ws-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "index docs", task.Title)
}

func TestInTransactionCommit(t *testing.T) {
	t.Parallel()

	p, _ := newStore(t)
	ctx := context.Background()

	err := p.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		if err := store.Runs().Save(ctx, &models.WorkflowRun{
			ID:          "r1",
			WorkspaceID: "ws-1",
			WorkflowID:  "wf-1",
			Status:      models.WorkflowRunStatusRunning,
		}); err != nil {
			return err
		}

		return store.RunSteps().Save(ctx, &models.WorkflowRunStep{
			ID:          "rs1",
			WorkspaceID: "ws-1",
			RunID:       "r1",
			StepID:      "s1",
			Status:      models.RunStepStatusPending,
		})
	})
	require.NoError(t, err)

	run, err := p.Runs().GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunStatusRunning, run.Status)
}

func TestInTransactionRollback(t *testing.T) {
	t.Parallel()

	p, _ := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := p.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		if err := store.Runs().Save(ctx, &models.WorkflowRun{
			ID:          "r1",
			WorkspaceID: "ws-1",
			WorkflowID:  "wf-1",
			Status:      models.WorkflowRunStatusRunning,
		}); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing written inside the failed transaction is visible.
	_, err = p.Runs().GetByID(ctx, "r1")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestTransactionSeesOwnWrites(t *testing.T) {
	t.Parallel()

	p, _ := newStore(t)
	ctx := context.Background()

	err := p.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		if err := store.Tasks().Save(ctx, &models.Task{
			ID:          "t1",
			WorkspaceID: "ws-1",
			Title:       "task",
			Status:      models.TaskStatusTodo,
			Priority:    models.TaskPriorityLow,
		}); err != nil {
			return err
		}

		task, err := store.Tasks().GetByID(ctx, "ws-1", "t1")
		if err != nil {
			return err
		}

		assert.Equal(t, "task", task.Title)

		return nil
	})
	require.NoError(t, err)
}

func TestListByStatusOrdering(t *testing.T) {
	t.Parallel()

	p, _ := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, p.Tasks().Save(ctx, &models.Task{
			ID:          id,
			WorkspaceID: "ws-1",
			Title:       id,
			Status:      models.TaskStatusTodo,
			Priority:    models.TaskPriorityLow,
		}))
	}

	tasks, err := p.Tasks().ListByStatus(ctx, "ws-1", models.TaskStatusTodo)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	// Equal creation times fall back to id order.
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "b", tasks[1].ID)
	assert.Equal(t, "c", tasks[2].ID)
}
