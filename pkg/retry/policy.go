// Package retry decides whether failed assignments are resubmitted and
// when they become due again.
package retry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmateus/botherd/pkg/events"
	"github.com/dmateus/botherd/pkg/eventbus"
	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

// backoffBaseMillis is the first-retry delay; each further retry doubles it.
const backoffBaseMillis int64 = 30_000

// Backoff returns the delay in milliseconds before the next attempt, given
// the retry count of the failed attempt: 30s, 60s, 120s, ...
func Backoff(retryCount int) int64 {
	return backoffBaseMillis << retryCount
}

// Result reports one retry decision.
type Result struct {
	Retried   bool   `json:"retried"`
	NewTaskID string `json:"new_task_id,omitempty"`
}

// Policy resubmits failed assignments with exponential backoff. It stores
// retryAfter as plain data for whatever sweeper picks the row back up; no
// timer runs here, so behavior is identical across process restarts.
type Policy struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	clock       clockwork.Clock
	queue       Queue
	logger      *slog.Logger
}

func NewPolicy(p persistence.Persistence, eventBus eventbus.EventPublisher, clock clockwork.Clock, queue Queue, logger *slog.Logger) *Policy {
	return &Policy{
		persistence: p,
		eventBus:    eventBus,
		clock:       clock,
		queue:       queue,
		logger:      logger.With("module", "retry"),
	}
}

// MaybeRetry creates a fresh pending attempt for a failed one, unless the
// retry budget is spent. Only failed attempts are eligible; anything else
// is refused so a live attempt cannot be cloned. The new attempt keeps the
// same bot and task and copies the spec fields forward unchanged.
func (p *Policy) MaybeRetry(ctx context.Context, workspaceID string, failed *models.BotTask) (*Result, error) {
	if failed.Status != models.BotTaskStatusFailed {
		return &Result{Retried: false}, nil
	}

	if failed.MaxRetries <= 0 || failed.RetryCount >= failed.MaxRetries {
		return &Result{Retried: false}, nil
	}

	now := p.clock.Now()
	retryAfter := now.UnixMilli() + Backoff(failed.RetryCount)

	next := &models.BotTask{
		ID:             uuid.New().String(),
		WorkspaceID:    workspaceID,
		BotID:          failed.BotID,
		TaskID:         failed.TaskID,
		Status:         models.BotTaskStatusPending,
		RetryCount:     failed.RetryCount + 1,
		MaxRetries:     failed.MaxRetries,
		TimeoutMinutes: failed.TimeoutMinutes,
		RetryAfter:     &retryAfter,
		BotGroupID:     failed.BotGroupID,
		StructuredSpec: failed.StructuredSpec,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := p.persistence.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		if err := store.BotTasks().Save(ctx, next); err != nil {
			return err
		}

		return store.Audit().Append(ctx, &models.AuditEntry{
			ID:          uuid.New().String(),
			WorkspaceID: workspaceID,
			Action:      models.AuditBotTaskRetry,
			Metadata: map[string]any{
				"originalTaskId": failed.ID,
				"newTaskId":      next.ID,
				"retryCount":     next.RetryCount,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if p.queue != nil {
		if err := p.queue.Push(ctx, workspaceID, next.ID, retryAfter); err != nil {
			// The queue is an advisory cache over the store's due query;
			// losing a push costs one sweep of latency, not the retry.
			p.logger.WarnContext(ctx, "failed to enqueue retry", "bot_task_id", next.ID, "error", err)
		}
	}

	p.publish(ctx, workspaceID, failed.ID, next.ID, next.RetryCount, retryAfter)

	return &Result{Retried: true, NewTaskID: next.ID}, nil
}

func (p *Policy) publish(ctx context.Context, workspaceID, originalID, newID string, retryCount int, retryAfter int64) {
	if p.eventBus == nil {
		return
	}

	event := events.BotTaskRetried{
		BaseEvent: events.BaseEvent{
			ID:          uuid.New().String(),
			Type:        events.BotTaskRetriedEvent,
			Timestamp:   p.clock.Now(),
			WorkspaceID: workspaceID,
		},
		OriginalTaskID: originalID,
		NewTaskID:      newID,
		RetryCount:     retryCount,
		RetryAfter:     retryAfter,
	}

	if err := p.eventBus.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to publish retry event", "error", err)
	}
}

// SweepRetryable finds failed assignments that still have retry budget and
// resubmits each. Intended to be driven on a cadence by an external job.
func (p *Policy) SweepRetryable(ctx context.Context, workspaceID string) ([]Result, error) {
	failed, err := p.persistence.BotTasks().ListRetryable(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(failed))

	for _, botTask := range failed {
		result, err := p.MaybeRetry(ctx, workspaceID, botTask)
		if err != nil {
			return results, err
		}

		results = append(results, *result)
	}

	return results, nil
}
