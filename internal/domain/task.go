package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task is the subset of the remote task record the orchestrator reads
type Task struct {
	ID                ID     `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	TaskPrompt        string `json:"task_prompt,omitempty"`
	Schedule          string `json:"schedule,omitempty"`
	ExecutionLocation string `json:"execution_location,omitempty"`
}

// Summary renders the fields shown after a task is created
func (t *Task) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", t.Name)
	desc := t.Description
	if desc == "" {
		desc = "none"
	}
	fmt.Fprintf(&b, "Description: %s\n", desc)
	loc := "local"
	if t.ExecutionLocation == "" || t.ExecutionLocation == "server" {
		loc = "server"
	}
	fmt.Fprintf(&b, "Runs on: %s\n", loc)
	sched := t.Schedule
	if sched == "" {
		sched = "manual"
	}
	fmt.Fprintf(&b, "Schedule: %s", sched)
	return b.String()
}

// ID is a remote identifier that may arrive as a JSON number or string
type ID string

// UnmarshalJSON accepts numbers, strings and null
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = ID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", s, err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as text
func (id ID) String() string { return string(id) }
