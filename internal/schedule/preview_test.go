package schedule

import (
	"strings"
	"testing"
	"time"

	"github.com/nick353/Automate-sub000/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},
		{"@hourly", false},
		{" 0 9 * * * ", false},
		{"invalid", true},
		{"0 0 22 * * *", true}, // seconds field not accepted
	}

	for _, tt := range tests {
		_, err := Parse(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNext(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local) // Monday
	got, err := Next("0 22 * * *", now, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		time.Date(2026, 3, 2, 22, 0, 0, 0, time.Local),
		time.Date(2026, 3, 3, 22, 0, 0, 0, time.Local),
		time.Date(2026, 3, 4, 22, 0, 0, 0, time.Local),
	}
	if len(got) != len(want) {
		t.Fatalf("Next() = %v", got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Next()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := Next("every day", now, 3); err == nil {
		t.Error("invalid expression should error")
	}
}

func TestExpressions(t *testing.T) {
	tests := []struct {
		name   string
		action domain.PendingAction
		want   []string
	}{
		{"none", domain.PendingAction{Type: domain.ActionCreateTask, Data: map[string]any{"name": "A"}}, nil},
		{"task schedule", domain.PendingAction{Type: domain.ActionCreateTask, Data: map[string]any{"schedule": "0 9 * * *"}}, []string{"0 9 * * *"}},
		{"blank schedule", domain.PendingAction{Type: domain.ActionUpdateTask, Data: map[string]any{"schedule": "  "}}, nil},
		{"null schedule", domain.PendingAction{Type: domain.ActionCreateTask, Data: map[string]any{"schedule": nil}}, nil},
		{"trigger", domain.PendingAction{Type: domain.ActionCreateTrigger, Data: map[string]any{
			"trigger": map[string]any{"schedule": "0 8 * * 1", "cron": "@daily"},
		}}, []string{"0 8 * * 1", "@daily"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expressions(tt.action)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Expressions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	batch := &domain.ActionBatch{Actions: []domain.PendingAction{
		{Type: domain.ActionCreateTask, Data: map[string]any{"name": "A"}},
		{Type: domain.ActionCreateTask, Data: map[string]any{"name": "B", "schedule": "0 22 * * *"}},
		{Type: domain.ActionUpdateTask, TaskID: "3", Data: map[string]any{"schedule": "61 * * * *"}},
	}}

	previews := ForBatch(batch, now)
	if len(previews) != 2 {
		t.Fatalf("previews = %+v", previews)
	}
	if _, ok := previews[0]; ok {
		t.Error("an action without a schedule should have no preview")
	}

	b := previews[1][0]
	if b.Err != nil || len(b.Next) != PreviewCount {
		t.Fatalf("preview = %+v", b)
	}
	if !strings.Contains(b.Summary(), `"0 22 * * *" next Mon Mar 2 22:00`) {
		t.Errorf("Summary() = %q", b.Summary())
	}

	bad := previews[2][0]
	if bad.Err == nil || !strings.Contains(bad.Summary(), "is not a valid schedule") {
		t.Errorf("invalid preview = %+v, %q", bad, bad.Summary())
	}

	if len(ForBatch(nil, now)) != 0 {
		t.Error("nil batch should have no previews")
	}
}
