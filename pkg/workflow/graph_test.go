package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/workflow"
)

func step(id string, dependsOn ...string) models.Step {
	return models.Step{ID: id, Name: id, Type: models.StepTypeWait, DependsOn: dependsOn}
}

func TestTopologicalSortChain(t *testing.T) {
	t.Parallel()

	order, err := workflow.TopologicalSort([]models.Step{
		step("c", "b"),
		step("a"),
		step("b", "a"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalSortDiamond(t *testing.T) {
	t.Parallel()

	order, err := workflow.TopologicalSort([]models.Step{
		step("root"),
		step("left", "root"),
		step("right", "root"),
		step("join", "left", "right"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "left", "right", "join"}, order)
}

func TestTopologicalSortEmpty(t *testing.T) {
	t.Parallel()

	order, err := workflow.TopologicalSort(nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestTopologicalSortCycle(t *testing.T) {
	t.Parallel()

	_, err := workflow.TopologicalSort([]models.Step{
		step("a", "c"),
		step("b", "a"),
		step("c", "b"),
	})

	var cycleErr *workflow.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Steps)
	assert.Contains(t, err.Error(), "cycle")
}

func TestTopologicalSortSelfCycle(t *testing.T) {
	t.Parallel()

	_, err := workflow.TopologicalSort([]models.Step{step("a", "a")})

	var cycleErr *workflow.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestTopologicalSortUnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := workflow.TopologicalSort([]models.Step{step("a", "ghost")})

	var unknownErr *workflow.UnknownStepError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "a", unknownErr.StepID)
	assert.Equal(t, "ghost", unknownErr.DependsOn)
	assert.Contains(t, err.Error(), "unknown step")
}
