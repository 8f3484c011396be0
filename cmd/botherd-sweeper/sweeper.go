// Package main provides the botherd sweeper, the periodic pass that
// assigns ready tasks and requeues retryable assignment attempts.
package main

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dmateus/botherd/pkg/retry"
	"github.com/dmateus/botherd/pkg/scheduler"
)

type Sweeper struct {
	logger     *slog.Logger
	scheduler  *scheduler.Scheduler
	policy     *retry.Policy
	workspaces []string
	cron       *cron.Cron
}

func NewSweeper(logger *slog.Logger, sched *scheduler.Scheduler, policy *retry.Policy, workspaces []string) *Sweeper {
	return &Sweeper{
		logger:     logger,
		scheduler:  sched,
		policy:     policy,
		workspaces: workspaces,
	}
}

// Start registers the sweep on the given cron schedule and runs it until
// ctx is cancelled. One sweep handles every configured workspace; a
// workspace failure is logged and does not block the others.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(schedule, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Starting sweeper", "schedule", schedule, "workspaces", len(s.workspaces))
	s.cron.Start()

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	for _, workspaceID := range s.workspaces {
		logger := s.logger.With("workspace_id", workspaceID)

		retried, err := s.policy.SweepRetryable(ctx, workspaceID)
		if err != nil {
			logger.Error("Retry sweep failed", "error", err)
		} else if len(retried) > 0 {
			logger.Info("Requeued failed assignments", "count", len(retried))
		}

		assignments, err := s.scheduler.ScheduleReadyTasks(ctx, workspaceID)
		if err != nil {
			logger.Error("Scheduling pass failed", "error", err)

			continue
		}

		if len(assignments) > 0 {
			logger.Info("Assigned ready tasks", "count", len(assignments))
		}
	}
}
