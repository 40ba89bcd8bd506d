package domain

// ExecutionStatus represents the remote state of a run
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecPaused    ExecutionStatus = "paused"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecStopped   ExecutionStatus = "stopped"
)

// IsTerminal returns true for statuses the monitor stops polling at
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecStopped:
		return true
	default:
		return false
	}
}

// ActionType identifies a user-confirmable mutation
type ActionType string

const (
	ActionCreateTask    ActionType = "create_task"
	ActionUpdateTask    ActionType = "update_task"
	ActionDeleteTask    ActionType = "delete_task"
	ActionCreateTrigger ActionType = "create_trigger"
)

// Known reports whether t is one of the supported action types
func (t ActionType) Known() bool {
	switch t {
	case ActionCreateTask, ActionUpdateTask, ActionDeleteTask, ActionCreateTrigger:
		return true
	default:
		return false
	}
}

// WorkflowStage is the advisory progress indicator shown to the user
type WorkflowStage string

const (
	StageNone      WorkflowStage = ""
	StageCreating  WorkflowStage = "creating"
	StageTesting   WorkflowStage = "testing"
	StageEditing   WorkflowStage = "editing"
	StageCompleted WorkflowStage = "completed"
)

// String returns "none" for the empty stage
func (s WorkflowStage) String() string {
	if s == StageNone {
		return "none"
	}
	return string(s)
}

// Priority represents suggestion priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Role is the author of a transcript message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)
