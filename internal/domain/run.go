package domain

import (
	"fmt"
	"strings"
	"time"
)

// RunHandle identifies one remote execution. TaskID is the owning task and
// is empty only for runs watched without a known task.
type RunHandle struct {
	ExecutionID string
	Label       string
	TaskID      string
}

// String returns a short human label for the run
func (h RunHandle) String() string {
	label := h.Label
	if label == "" {
		label = "run"
	}
	return fmt.Sprintf("%s #%s", label, h.ExecutionID)
}

// LogEntry is a normalized diagnostic record from a run
type LogEntry struct {
	Level      string
	Message    string
	Source     string
	StepNumber *int
	ActionType string
	Status     string
}

// Render formats the entry as source/step/level/message
func (e LogEntry) Render() string {
	step := "-"
	if e.StepNumber != nil {
		step = fmt.Sprintf("%d", *e.StepNumber)
	}
	return fmt.Sprintf("%s/%s/%s/%s", e.Source, step, e.Level, strings.TrimSpace(e.Message))
}

// ExecutionSnapshot is a point-in-time view of a run
type ExecutionSnapshot struct {
	ExecutionID    string
	Status         ExecutionStatus
	ErrorMessage   string
	LogEntries     []LogEntry
	Excerpt        []string
	TransportError bool
	PolledAt       time.Time
}

// Terminal reports whether the snapshot ends the watch
func (s ExecutionSnapshot) Terminal() bool {
	return s.Status.IsTerminal()
}

// RunRecord is the ledger row for a watched run
type RunRecord struct {
	ExecutionID  string
	TaskID       string
	Label        string
	Status       ExecutionStatus
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Duration returns how long the run was watched
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
