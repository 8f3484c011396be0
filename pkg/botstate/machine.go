// Package botstate guards every bot status change so workers cannot enter
// nonsensical states (e.g. offline straight to working).
package botstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmateus/botherd/pkg/events"
	"github.com/dmateus/botherd/pkg/eventbus"
	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

// transitions is the full lifecycle graph. No self-transitions.
var transitions = map[models.BotStatus][]models.BotStatus{
	models.BotStatusOffline:    {models.BotStatusIdle},
	models.BotStatusIdle:       {models.BotStatusWorking, models.BotStatusOffline, models.BotStatusError},
	models.BotStatusWorking:    {models.BotStatusIdle, models.BotStatusWaiting, models.BotStatusError},
	models.BotStatusWaiting:    {models.BotStatusWorking, models.BotStatusIdle, models.BotStatusError},
	models.BotStatusError:      {models.BotStatusRecovering, models.BotStatusOffline},
	models.BotStatusRecovering: {models.BotStatusIdle, models.BotStatusError, models.BotStatusOffline},
}

// Normalize maps historical status values to their current names.
// Unrecognized values pass through unchanged and simply fail validation.
func Normalize(status models.BotStatus) models.BotStatus {
	switch status {
	case models.BotStatusLegacyOnline:
		return models.BotStatusIdle
	case models.BotStatusLegacyBusy:
		return models.BotStatusWorking
	}

	return status
}

// AllowedTransitions returns the legal target statuses from the given
// status. Unknown status yields an empty set.
func AllowedTransitions(status models.BotStatus) []models.BotStatus {
	allowed := transitions[Normalize(status)]

	out := make([]models.BotStatus, len(allowed))
	copy(out, allowed)

	return out
}

// IsValidTransition reports whether from -> to is an edge of the lifecycle
// graph. Both sides are normalized first.
func IsValidTransition(from, to models.BotStatus) bool {
	to = Normalize(to)
	for _, allowed := range transitions[Normalize(from)] {
		if allowed == to {
			return true
		}
	}

	return false
}

// InvalidTransitionError rejects a status change and carries the legal
// alternatives so the caller can react instead of guessing.
type InvalidTransitionError struct {
	From    models.BotStatus
	To      models.BotStatus
	Allowed []models.BotStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid bot status transition %s -> %s (allowed from %s: %v)", e.From, e.To, e.From, e.Allowed)
}

// Machine applies guarded status transitions against the store.
type Machine struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewMachine(p persistence.Persistence, eventBus eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Machine {
	return &Machine{
		persistence: p,
		eventBus:    eventBus,
		clock:       clock,
		logger:      logger.With("module", "botstate"),
	}
}

// Transition moves a bot from one status to another. On rejection nothing
// changes and the returned error carries the allowed alternatives. On
// success the bot row is updated and an audit record bot.status_change is
// appended; that audit append is the only side effect external
// collaborators observe.
func (m *Machine) Transition(ctx context.Context, workspaceID, botID string, from, to models.BotStatus, reason *string) error {
	from = Normalize(from)
	to = Normalize(to)

	if !IsValidTransition(from, to) {
		return &InvalidTransitionError{
			From:    from,
			To:      to,
			Allowed: AllowedTransitions(from),
		}
	}

	err := m.persistence.InTransaction(ctx, func(ctx context.Context, store persistence.Store) error {
		bot, err := store.Bots().GetByID(ctx, workspaceID, botID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		bot.Status = to
		bot.StatusReason = reason
		bot.StatusChangedAt = now
		bot.UpdatedAt = now

		if err := store.Bots().Save(ctx, bot); err != nil {
			return err
		}

		return store.Audit().Append(ctx, &models.AuditEntry{
			ID:          uuid.New().String(),
			WorkspaceID: workspaceID,
			Action:      models.AuditBotStatusChange,
			Metadata: map[string]any{
				"bot_id": botID,
				"from":   string(from),
				"to":     string(to),
				"reason": reason,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	m.publish(ctx, workspaceID, botID, from, to, reason)

	return nil
}

func (m *Machine) publish(ctx context.Context, workspaceID, botID string, from, to models.BotStatus, reason *string) {
	if m.eventBus == nil {
		return
	}

	event := events.BotStatusChanged{
		BaseEvent: events.BaseEvent{
			ID:          uuid.New().String(),
			Type:        events.BotStatusChangedEvent,
			Timestamp:   m.clock.Now(),
			WorkspaceID: workspaceID,
		},
		BotID:  botID,
		From:   string(from),
		To:     string(to),
		Reason: reason,
	}

	if err := m.eventBus.Publish(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish bot status change", "bot_id", botID, "error", err)
	}
}
