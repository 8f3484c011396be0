package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/workflow"
)

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	def, err := workflow.ParseDefinition(`{
		"steps": [
			{"id": "fetch", "name": "Fetch data", "type": "bot_task", "priority": "high"},
			{"id": "review", "name": "Review", "type": "approval", "dependsOn": ["fetch"]},
			{"id": "cooldown", "name": "Cool down", "type": "wait", "dependsOn": ["review"]}
		],
		"onFailure": "stop"
	}`)
	require.NoError(t, err)

	require.Len(t, def.Steps, 3)
	assert.Equal(t, models.StepTypeBotTask, def.Steps[0].Type)
	assert.Equal(t, models.TaskPriorityHigh, def.Steps[0].Priority)
	assert.Equal(t, []string{"fetch"}, def.Steps[1].DependsOn)
	assert.Equal(t, models.FailurePolicyStop, def.OnFailure)

	step, ok := def.StepByID("review")
	require.True(t, ok)
	assert.Equal(t, "Review", step.Name)
}

func TestParseDefinitionEmptySteps(t *testing.T) {
	t.Parallel()

	def, err := workflow.ParseDefinition(`{"steps": []}`)
	require.NoError(t, err)
	assert.Empty(t, def.Steps)
	assert.Equal(t, models.FailurePolicyContinue, def.OnFailure)
}

func TestParseDefinitionInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := workflow.ParseDefinition(`{"steps": [`)

	var parseErr *workflow.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseDefinitionStructuralErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "missing steps",
			raw:  `{"onFailure": "stop"}`,
		},
		{
			name: "steps not an array",
			raw:  `{"steps": "nope"}`,
		},
		{
			name: "unknown step type",
			raw:  `{"steps": [{"id": "s1", "name": "S1", "type": "teleport"}]}`,
		},
		{
			name: "missing step name",
			raw:  `{"steps": [{"id": "s1", "type": "wait"}]}`,
		},
		{
			name: "unknown failure policy",
			raw:  `{"steps": [], "onFailure": "explode"}`,
		},
		{
			name: "duplicate step ids",
			raw:  `{"steps": [{"id": "s1", "name": "A", "type": "wait"}, {"id": "s1", "name": "B", "type": "wait"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := workflow.ParseDefinition(tt.raw)

			var defErr *workflow.DefinitionError
			require.ErrorAs(t, err, &defErr)
		})
	}
}
