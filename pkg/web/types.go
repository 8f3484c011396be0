package web

// CreateBotRequest is the payload for registering a bot worker.
type CreateBotRequest struct {
	Name               string `json:"name"                 validate:"required,min=3"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks" validate:"required,min=1"`
	BotGroupID         string `json:"bot_group_id"`
}

// TransitionRequest is the payload for moving a bot between statuses.
// Legacy status names are accepted and normalized.
type TransitionRequest struct {
	From   string  `json:"from" validate:"required"`
	To     string  `json:"to"   validate:"required"`
	Reason *string `json:"reason"`
}

// CreateTaskRequest is the payload for creating a task. DependsOn lists
// prerequisite task ids; edges are created with the task atomically.
type CreateTaskRequest struct {
	Title     string   `json:"title"    validate:"required"`
	Priority  string   `json:"priority" validate:"required,oneof=urgent high medium low"`
	ProjectID string   `json:"project_id"`
	DependsOn []string `json:"depends_on" validate:"omitempty,dive,required"`
}

// CreateDependencyRequest adds a prerequisite edge to an existing task.
type CreateDependencyRequest struct {
	DependsOnTaskID string `json:"depends_on_task_id" validate:"required"`
}

// CreateWorkflowRequest is the payload for storing a workflow definition.
// The definition JSON is validated when a run starts, not here.
type CreateWorkflowRequest struct {
	Name        string `json:"name"       validate:"required,min=3"`
	Description string `json:"description"`
	Definition  string `json:"definition" validate:"required"`
}

// ResolveStepRequest is the payload for completing or failing a run step.
type ResolveStepRequest struct {
	Result *string `json:"result"`
}
