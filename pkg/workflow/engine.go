package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmateus/botherd/pkg/events"
	"github.com/dmateus/botherd/pkg/eventbus"
	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

// Results recorded on steps that are failed by the engine rather than by a
// worker.
const (
	resultDependencyFailed = "dependency failed"
	resultStoppedByPolicy  = "stopped by failure policy"
)

// StartResult reports a freshly created run.
type StartResult struct {
	RunID            string `json:"run_id"`
	StepsInitialized int    `json:"steps_initialized"`
}

// AdvanceResult reports one advancement pass.
type AdvanceResult struct {
	Advanced  []string `json:"advanced"`
	Completed bool     `json:"completed"`
}

// Engine drives workflow runs: it validates definitions at start and then
// advances steps as their prerequisites complete.
type Engine struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewEngine(p persistence.Persistence, eventBus eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: p,
		eventBus:    eventBus,
		clock:       clock,
		logger:      logger.With("module", "workflow"),
	}
}

// StartRun loads and validates the workflow, then atomically creates one
// running WorkflowRun plus one pending WorkflowRunStep per declared step.
// Structural errors abort the whole operation: no partial run is ever
// persisted.
func (e *Engine) StartRun(ctx context.Context, workspaceID, workflowID string) (*StartResult, error) {
	var result *StartResult

	err := e.persistence.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		wf, err := store.Workflows().GetByID(ctx, workspaceID, workflowID)
		if err != nil {
			return err
		}

		def, err := ParseDefinition(wf.Definition)
		if err != nil {
			return err
		}

		if _, err := TopologicalSort(def.Steps); err != nil {
			return err
		}

		now := e.clock.Now()
		run := &models.WorkflowRun{
			ID:          uuid.New().String(),
			WorkspaceID: workspaceID,
			WorkflowID:  workflowID,
			Status:      models.WorkflowRunStatusRunning,
			StartedAt:   now,
		}

		if err := store.Runs().Save(ctx, run); err != nil {
			return err
		}

		for _, step := range def.Steps {
			runStep := &models.WorkflowRunStep{
				ID:          uuid.New().String(),
				WorkspaceID: workspaceID,
				RunID:       run.ID,
				StepID:      step.ID,
				Status:      models.RunStepStatusPending,
			}

			if err := store.RunSteps().Save(ctx, runStep); err != nil {
				return err
			}
		}

		result = &StartResult{
			RunID:            run.ID,
			StepsInitialized: len(def.Steps),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events.WorkflowRunStarted{
		BaseEvent:        e.baseEvent(events.WorkflowRunStartedEvent, workspaceID),
		WorkflowID:       workflowID,
		RunID:            result.RunID,
		StepsInitialized: result.StepsInitialized,
	})

	return result, nil
}

// FindReadySteps returns declared steps whose run step is pending and
// whose every dependency has a completed run step. Steps with no
// dependencies are ready immediately.
func (e *Engine) FindReadySteps(ctx context.Context, runID string, def *models.WorkflowDefinition) ([]models.Step, error) {
	runSteps, err := e.persistence.RunSteps().ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	return readySteps(def, stepStatusIndex(runSteps)), nil
}

func stepStatusIndex(runSteps []*models.WorkflowRunStep) map[string]*models.WorkflowRunStep {
	index := make(map[string]*models.WorkflowRunStep, len(runSteps))
	for _, rs := range runSteps {
		index[rs.StepID] = rs
	}

	return index
}

func readySteps(def *models.WorkflowDefinition, index map[string]*models.WorkflowRunStep) []models.Step {
	ready := make([]models.Step, 0)

	for _, step := range def.Steps {
		rs, ok := index[step.ID]
		if !ok || rs.Status != models.RunStepStatusPending {
			continue
		}

		blocked := false

		for _, dep := range step.DependsOn {
			depState, ok := index[dep]
			if !ok || depState.Status != models.RunStepStatusCompleted {
				blocked = true

				break
			}
		}

		if !blocked {
			ready = append(ready, step)
		}
	}

	return ready
}

// AdvanceRun flips every ready step to running and finalizes the run once
// all steps are terminal. Idempotent: safe to call repeatedly or
// concurrently for the same run. A missing or already-terminal run is a
// no-op.
func (e *Engine) AdvanceRun(ctx context.Context, runID string) (*AdvanceResult, error) {
	result := &AdvanceResult{Advanced: []string{}}

	var pending []eventbus.Event

	err := e.persistence.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		advanced, completed, queued, err := e.advance(ctx, store, runID)
		if err != nil {
			return err
		}

		result.Advanced = advanced
		result.Completed = completed
		pending = queued

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, event := range pending {
		e.publish(ctx, event)
	}

	return result, nil
}

// advance is the transactional body shared by AdvanceRun, CompleteStep and
// FailStep. It returns events to publish after commit.
func (e *Engine) advance(ctx context.Context, store persistence.Store, runID string) ([]string, bool, []eventbus.Event, error) {
	run, err := store.Runs().GetByID(ctx, runID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		return []string{}, false, nil, nil
	}

	if err != nil {
		return nil, false, nil, err
	}

	if run.Status != models.WorkflowRunStatusRunning {
		return []string{}, false, nil, nil
	}

	wf, err := store.Workflows().GetByID(ctx, run.WorkspaceID, run.WorkflowID)
	if err != nil {
		return nil, false, nil, err
	}

	def, err := ParseDefinition(wf.Definition)
	if err != nil {
		return nil, false, nil, err
	}

	runSteps, err := store.RunSteps().ListByRun(ctx, runID)
	if err != nil {
		return nil, false, nil, err
	}

	index := stepStatusIndex(runSteps)
	now := e.clock.Now()

	var queued []eventbus.Event

	anyFailed := false

	for _, rs := range runSteps {
		if rs.Status == models.RunStepStatusFailed {
			anyFailed = true

			break
		}
	}

	advanced := []string{}

	if anyFailed && def.OnFailure == models.FailurePolicyStop {
		// Failure policy stop: start nothing further; park every pending
		// step in failed so the run can finalize.
		for _, rs := range runSteps {
			if rs.Status != models.RunStepStatusPending {
				continue
			}

			if err := e.failStepRecord(ctx, store, rs, resultStoppedByPolicy, now); err != nil {
				return nil, false, nil, err
			}
		}
	} else {
		if err := e.failDoomedSteps(ctx, store, def, index, now); err != nil {
			return nil, false, nil, err
		}

		for _, step := range readySteps(def, index) {
			rs := index[step.ID]
			rs.Status = models.RunStepStatusRunning
			rs.StartedAt = &now

			if err := store.RunSteps().Save(ctx, rs); err != nil {
				return nil, false, nil, err
			}

			if step.Type == models.StepTypeBotTask {
				if err := e.materializeTask(ctx, store, run, step, now); err != nil {
					return nil, false, nil, err
				}
			}

			advanced = append(advanced, step.ID)

			queued = append(queued, events.WorkflowStepStarted{
				BaseEvent: e.baseEvent(events.WorkflowStepStartedEvent, run.WorkspaceID),
				RunID:     runID,
				StepID:    step.ID,
			})
		}
	}

	completed, err := e.finalizeIfTerminal(ctx, store, run, runID, now, &queued)
	if err != nil {
		return nil, false, nil, err
	}

	return advanced, completed, queued, nil
}

// failDoomedSteps fails pending steps that can never become ready because
// a step somewhere in their dependency chain has failed. Without this,
// runs with a failed step and the default continue policy would never
// reach a terminal state.
func (e *Engine) failDoomedSteps(ctx context.Context, store persistence.Store, def *models.WorkflowDefinition, index map[string]*models.WorkflowRunStep, now time.Time) error {
	for changed := true; changed; {
		changed = false

		for _, step := range def.Steps {
			rs, ok := index[step.ID]
			if !ok || rs.Status != models.RunStepStatusPending {
				continue
			}

			for _, dep := range step.DependsOn {
				depState, ok := index[dep]
				if !ok || depState.Status != models.RunStepStatusFailed {
					continue
				}

				if err := e.failStepRecord(ctx, store, rs, resultDependencyFailed, now); err != nil {
					return err
				}

				changed = true

				break
			}
		}
	}

	return nil
}

func (e *Engine) failStepRecord(ctx context.Context, store persistence.Store, rs *models.WorkflowRunStep, result string, now time.Time) error {
	rs.Status = models.RunStepStatusFailed
	rs.Result = &result
	rs.CompletedAt = &now

	return store.RunSteps().Save(ctx, rs)
}

// materializeTask turns a bot_task step into a schedulable Task. The
// scheduler assigns it through the same capacity-aware pass as
// operator-created tasks.
func (e *Engine) materializeTask(ctx context.Context, store persistence.Store, run *models.WorkflowRun, step models.Step, now time.Time) error {
	priority := step.Priority
	if priority == "" {
		priority = models.TaskPriorityMedium
	}

	runID := run.ID
	stepID := step.ID

	task := &models.Task{
		ID:             uuid.New().String(),
		WorkspaceID:    run.WorkspaceID,
		Title:          step.Name,
		Status:         models.TaskStatusTodo,
		Priority:       priority,
		WorkflowRunID:  &runID,
		WorkflowStepID: &stepID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return store.Tasks().Save(ctx, task)
}

func (e *Engine) finalizeIfTerminal(ctx context.Context, store persistence.Store, run *models.WorkflowRun, runID string, now time.Time, queued *[]eventbus.Event) (bool, error) {
	runSteps, err := store.RunSteps().ListByRun(ctx, runID)
	if err != nil {
		return false, err
	}

	anyFailed := false

	for _, rs := range runSteps {
		if !rs.Status.Terminal() {
			return false, nil
		}

		if rs.Status == models.RunStepStatusFailed {
			anyFailed = true
		}
	}

	run.Status = models.WorkflowRunStatusCompleted
	if anyFailed {
		run.Status = models.WorkflowRunStatusFailed
	}

	run.CompletedAt = &now

	if err := store.Runs().Save(ctx, run); err != nil {
		return false, err
	}

	*queued = append(*queued, events.WorkflowRunFinished{
		BaseEvent: e.baseEvent(events.WorkflowRunFinishedEvent, run.WorkspaceID),
		RunID:     runID,
		Status:    string(run.Status),
	})

	return true, nil
}

// CompleteStep marks a step completed and immediately advances the run, so
// a chain of dependent steps progresses one completion call at a time
// without an external poller driving every micro-step. Returns the advance
// pass's completed flag.
func (e *Engine) CompleteStep(ctx context.Context, runID, stepID string, result *string) (*AdvanceResult, error) {
	return e.resolveStep(ctx, runID, stepID, models.RunStepStatusCompleted, result)
}

// FailStep marks a step failed and advances the run, which fails dependent
// steps and finalizes once everything is terminal.
func (e *Engine) FailStep(ctx context.Context, runID, stepID string, result *string) (*AdvanceResult, error) {
	return e.resolveStep(ctx, runID, stepID, models.RunStepStatusFailed, result)
}

func (e *Engine) resolveStep(ctx context.Context, runID, stepID string, status models.RunStepStatus, result *string) (*AdvanceResult, error) {
	advanceResult := &AdvanceResult{Advanced: []string{}}

	var pending []eventbus.Event

	err := e.persistence.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		rs, err := store.RunSteps().GetByRunAndStep(ctx, runID, stepID)
		if err != nil {
			return err
		}

		if rs.Status == status {
			// Repeated completion of the same step is harmless; fall through
			// to the advance pass.
		} else if !rs.Status.CanAdvanceTo(status) {
			return &StepStateError{RunID: runID, StepID: stepID, From: rs.Status, To: status}
		} else {
			now := e.clock.Now()
			rs.Status = status
			rs.Result = result
			rs.CompletedAt = &now

			if err := store.RunSteps().Save(ctx, rs); err != nil {
				return err
			}

			eventType := events.WorkflowStepFinishedEvent
			if status == models.RunStepStatusFailed {
				eventType = events.WorkflowStepFailedEvent
			}

			pending = append(pending, stepResolvedEvent(e.baseEvent(eventType, rs.WorkspaceID), runID, stepID, status, result))
		}

		advanced, completed, queued, err := e.advance(ctx, store, runID)
		if err != nil {
			return err
		}

		advanceResult.Advanced = advanced
		advanceResult.Completed = completed
		pending = append(pending, queued...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, event := range pending {
		e.publish(ctx, event)
	}

	return advanceResult, nil
}

func stepResolvedEvent(base events.BaseEvent, runID, stepID string, status models.RunStepStatus, result *string) eventbus.Event {
	if status == models.RunStepStatusFailed {
		return events.WorkflowStepFailed{
			BaseEvent: base,
			RunID:     runID,
			StepID:    stepID,
			Result:    result,
		}
	}

	return events.WorkflowStepFinished{
		BaseEvent: base,
		RunID:     runID,
		StepID:    stepID,
		Result:    result,
	}
}

// StepStateError rejects a backward step status change.
type StepStateError struct {
	RunID  string
	StepID string
	From   models.RunStepStatus
	To     models.RunStepStatus
}

func (e *StepStateError) Error() string {
	return "step " + e.StepID + " in run " + e.RunID + " cannot move from " + string(e.From) + " to " + string(e.To)
}

func (e *Engine) baseEvent(eventType events.EventType, workspaceID string) events.BaseEvent {
	return events.BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   e.clock.Now(),
		WorkspaceID: workspaceID,
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish workflow event", "error", err)
	}
}
