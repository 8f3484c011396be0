package models

// StepType is the closed set of workflow step kinds. Unknown types are
// rejected when a definition is parsed, not when a run reaches the step.
type StepType string

const (
	StepTypeBotTask  StepType = "bot_task"
	StepTypeApproval StepType = "approval"
	StepTypeWait     StepType = "wait"
)

// Valid reports whether the step type is a known variant.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeBotTask, StepTypeApproval, StepTypeWait:
		return true
	}

	return false
}

// FailurePolicy controls how a run reacts to a failed step.
type FailurePolicy string

const (
	// FailurePolicyContinue keeps advancing steps whose dependency chains
	// are unaffected by the failure.
	FailurePolicyContinue FailurePolicy = ""

	// FailurePolicyStop starts no further steps once any step has failed.
	FailurePolicyStop FailurePolicy = "stop"
)

// Step is one declared node of a workflow definition. DependsOn may only
// reference ids declared in the same definition.
type Step struct {
	ID        string         `json:"id"   validate:"required"`
	Name      string         `json:"name" validate:"required"`
	Type      StepType       `json:"type" validate:"required"`
	DependsOn []string       `json:"dependsOn,omitempty"`
	Priority  TaskPriority   `json:"priority,omitempty"`
	Spec      map[string]any `json:"spec,omitempty"`
}

// WorkflowDefinition is the parsed, validated form of Workflow.Definition.
// An empty Steps slice is a valid, degenerate always-complete plan.
type WorkflowDefinition struct {
	Steps     []Step        `json:"steps"`
	OnFailure FailurePolicy `json:"onFailure,omitempty"`
}

// StepByID returns the declared step with the given id.
func (d *WorkflowDefinition) StepByID(id string) (Step, bool) {
	for _, step := range d.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return Step{}, false
}
