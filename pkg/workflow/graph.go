package workflow

import (
	"fmt"
	"sort"

	"github.com/dmateus/botherd/pkg/models"
)

// CycleError indicates one or more steps participate in a dependency
// cycle, directly or transitively.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow definition contains a dependency cycle involving steps %v", e.Steps)
}

// UnknownStepError indicates a dependsOn reference to a step id that is
// not declared in the definition.
type UnknownStepError struct {
	StepID    string
	DependsOn string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("step %q depends on unknown step %q", e.StepID, e.DependsOn)
}

// TopologicalSort returns a linear order of step ids honoring dependsOn.
// It is used to validate definitions at run start; actual execution order
// is driven dynamically by readiness, not by this static order.
func TopologicalSort(steps []models.Step) ([]string, error) {
	declared := make(map[string]bool, len(steps))
	for _, step := range steps {
		declared[step.ID] = true
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, step := range steps {
		indegree[step.ID] += 0

		for _, dep := range step.DependsOn {
			if !declared[dep] {
				return nil, &UnknownStepError{StepID: step.ID, DependsOn: dep}
			}

			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	// Kahn's algorithm, declaration order among peers.
	queue := make([]string, 0, len(steps))
	for _, step := range steps {
		if indegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}

	order := make([]string, 0, len(steps))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(steps) {
		stuck := make([]string, 0)
		for id, degree := range indegree {
			if degree > 0 {
				stuck = append(stuck, id)
			}
		}

		sort.Strings(stuck)

		return nil, &CycleError{Steps: stuck}
	}

	return order, nil
}
