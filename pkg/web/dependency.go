package web

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

type selfDependencyError struct {
	taskID string
}

func (e *selfDependencyError) Error() string {
	return fmt.Sprintf("task %s cannot depend on itself", e.taskID)
}

// newDependency builds a prerequisite edge after checking the edge is not
// a self-loop and the prerequisite task exists.
func newDependency(ctx context.Context, store persistence.Store, task *models.Task, dependsOn string, now time.Time) (*models.TaskDependency, error) {
	if dependsOn == task.ID {
		return nil, &selfDependencyError{taskID: task.ID}
	}

	if _, err := store.Tasks().GetByID(ctx, task.WorkspaceID, dependsOn); err != nil {
		return nil, err
	}

	return &models.TaskDependency{
		ID:              uuid.New().String(),
		WorkspaceID:     task.WorkspaceID,
		TaskID:          task.ID,
		DependsOnTaskID: dependsOn,
		CreatedAt:       now,
	}, nil
}

func saveDependency(ctx context.Context, store persistence.Store, task *models.Task, dependsOn string, now time.Time) error {
	dep, err := newDependency(ctx, store, task, dependsOn, now)
	if err != nil {
		return err
	}

	return store.Dependencies().Save(ctx, dep)
}
