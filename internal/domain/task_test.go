package domain

import (
	"encoding/json"
	"testing"
)

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  ID
	}{
		{`42`, "42"},
		{`"42"`, "42"},
		{`"abc-1"`, "abc-1"},
		{`null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tt.input), &id); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if id != tt.want {
				t.Errorf("ID = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestTask_Decode(t *testing.T) {
	var task Task
	data := `{"id": 7, "name": "Daily report", "task_prompt": "open site", "schedule": "0 9 * * *"}`
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		t.Fatal(err)
	}
	if task.ID != "7" {
		t.Errorf("ID = %q, want 7", task.ID)
	}
	if task.Schedule != "0 9 * * *" {
		t.Errorf("Schedule = %q", task.Schedule)
	}
}

func TestTask_Summary(t *testing.T) {
	task := Task{Name: "Inbox sweep"}
	got := task.Summary()
	want := "Name: Inbox sweep\nDescription: none\nRuns on: server\nSchedule: manual"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestActionBatch_HasCreate(t *testing.T) {
	var nilBatch *ActionBatch
	if nilBatch.HasCreate() {
		t.Error("nil batch should not report create")
	}

	b := &ActionBatch{Actions: []PendingAction{{Type: ActionDeleteTask, TaskID: "3"}}}
	if b.HasCreate() {
		t.Error("delete-only batch should not report create")
	}

	b.Actions = append(b.Actions, PendingAction{Type: ActionCreateTask, Data: map[string]any{"name": "X"}})
	if !b.HasCreate() {
		t.Error("batch with create_task should report create")
	}
}

func TestPendingAction_Name(t *testing.T) {
	a := PendingAction{Type: ActionCreateTask, Data: map[string]any{"name": "X"}}
	if got := a.Name(); got != "X" {
		t.Errorf("Name() = %q, want X", got)
	}
	a = PendingAction{Type: ActionDeleteTask, TaskID: "9"}
	if got := a.Name(); got != "task 9" {
		t.Errorf("Name() = %q, want task 9", got)
	}
}
