package domain

// PendingAction is a structured mutation extracted from assistant text
type PendingAction struct {
	Type   ActionType     `json:"type"`
	TaskID ID             `json:"task_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Name returns the most descriptive label available for the action
func (a PendingAction) Name() string {
	if n, ok := a.Data["name"].(string); ok && n != "" {
		return n
	}
	if a.TaskID != "" {
		return "task " + a.TaskID.String()
	}
	return ""
}

// CreatingInfo tracks multi-task creation progress
type CreatingInfo struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	TaskName string `json:"task_name,omitempty"`
}

// ActionBatch is the all-or-nothing set of actions from one message
type ActionBatch struct {
	Actions      []PendingAction `json:"actions"`
	CreatingInfo *CreatingInfo   `json:"creating_info,omitempty"`
}

// HasCreate reports whether the batch creates at least one task
func (b *ActionBatch) HasCreate() bool {
	if b == nil {
		return false
	}
	for _, a := range b.Actions {
		if a.Type == ActionCreateTask {
			return true
		}
	}
	return false
}
