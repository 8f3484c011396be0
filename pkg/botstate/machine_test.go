package botstate_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/botherd/pkg/botstate"
	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence/file"
)

func TestIsValidTransition(t *testing.T) {
	t.Parallel()

	statuses := []models.BotStatus{
		models.BotStatusOffline,
		models.BotStatusIdle,
		models.BotStatusWorking,
		models.BotStatusWaiting,
		models.BotStatusError,
		models.BotStatusRecovering,
	}

	edges := map[models.BotStatus][]models.BotStatus{
		models.BotStatusOffline:    {models.BotStatusIdle},
		models.BotStatusIdle:       {models.BotStatusWorking, models.BotStatusOffline, models.BotStatusError},
		models.BotStatusWorking:    {models.BotStatusIdle, models.BotStatusWaiting, models.BotStatusError},
		models.BotStatusWaiting:    {models.BotStatusWorking, models.BotStatusIdle, models.BotStatusError},
		models.BotStatusError:      {models.BotStatusRecovering, models.BotStatusOffline},
		models.BotStatusRecovering: {models.BotStatusIdle, models.BotStatusError, models.BotStatusOffline},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			expected := false

			for _, allowed := range edges[from] {
				if allowed == to {
					expected = true
				}
			}

			assert.Equal(t, expected, botstate.IsValidTransition(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.BotStatusIdle, botstate.Normalize(models.BotStatusLegacyOnline))
	assert.Equal(t, models.BotStatusWorking, botstate.Normalize(models.BotStatusLegacyBusy))
	assert.Equal(t, models.BotStatusIdle, botstate.Normalize(models.BotStatusIdle))
	assert.Equal(t, models.BotStatus("bogus"), botstate.Normalize(models.BotStatus("bogus")))
}

func TestIsValidTransitionNormalizesLegacyValues(t *testing.T) {
	t.Parallel()

	// online -> busy is idle -> working under the hood.
	assert.True(t, botstate.IsValidTransition(models.BotStatusLegacyOnline, models.BotStatusLegacyBusy))
	assert.True(t, botstate.IsValidTransition(models.BotStatusLegacyBusy, models.BotStatusWaiting))
}

func TestAllowedTransitionsUnknownStatus(t *testing.T) {
	t.Parallel()

	assert.Empty(t, botstate.AllowedTransitions(models.BotStatus("bogus")))
}

func setupMachine(t *testing.T) (*botstate.Machine, *file.Persistence, *clockwork.FakeClock) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	machine := botstate.NewMachine(p, nil, clock, slog.Default())

	return machine, p, clock
}

func seedBot(t *testing.T, p *file.Persistence, workspaceID string, status models.BotStatus) *models.Bot {
	t.Helper()

	bot := &models.Bot{
		ID:                 "bot-1",
		WorkspaceID:        workspaceID,
		Name:               "crawler",
		Status:             status,
		MaxConcurrentTasks: 2,
	}
	require.NoError(t, p.Bots().Save(context.Background(), bot))

	return bot
}

func TestMachineTransitionUpdatesBot(t *testing.T) {
	t.Parallel()

	machine, p, clock := setupMachine(t)
	seedBot(t, p, "ws-1", models.BotStatusOffline)

	reason := "boot complete"
	err := machine.Transition(context.Background(), "ws-1", "bot-1",
		models.BotStatusOffline, models.BotStatusIdle, &reason)
	require.NoError(t, err)

	bot, err := p.Bots().GetByID(context.Background(), "ws-1", "bot-1")
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusIdle, bot.Status)
	require.NotNil(t, bot.StatusReason)
	assert.Equal(t, reason, *bot.StatusReason)
	assert.True(t, bot.StatusChangedAt.Equal(clock.Now()))
}

func TestMachineTransitionRejectsIllegalEdge(t *testing.T) {
	t.Parallel()

	machine, p, _ := setupMachine(t)
	seedBot(t, p, "ws-1", models.BotStatusOffline)

	err := machine.Transition(context.Background(), "ws-1", "bot-1",
		models.BotStatusOffline, models.BotStatusWorking, nil)

	var invalid *botstate.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.BotStatusOffline, invalid.From)
	assert.Equal(t, models.BotStatusWorking, invalid.To)
	assert.Equal(t, []models.BotStatus{models.BotStatusIdle}, invalid.Allowed)

	// Nothing changed.
	bot, err := p.Bots().GetByID(context.Background(), "ws-1", "bot-1")
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusOffline, bot.Status)
}

func TestMachineTransitionUnknownBot(t *testing.T) {
	t.Parallel()

	machine, _, _ := setupMachine(t)

	err := machine.Transition(context.Background(), "ws-1", "missing",
		models.BotStatusOffline, models.BotStatusIdle, nil)
	require.Error(t, err)
}

func TestMachineTransitionNormalizesLegacyInput(t *testing.T) {
	t.Parallel()

	machine, p, _ := setupMachine(t)
	seedBot(t, p, "ws-1", models.BotStatusIdle)

	err := machine.Transition(context.Background(), "ws-1", "bot-1",
		models.BotStatusLegacyOnline, models.BotStatusLegacyBusy, nil)
	require.NoError(t, err)

	bot, err := p.Bots().GetByID(context.Background(), "ws-1", "bot-1")
	require.NoError(t, err)
	assert.Equal(t, models.BotStatusWorking, bot.Status)
}
