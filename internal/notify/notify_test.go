package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nick353/Automate-sub000/internal/domain"
)

func TestBuildSlackMessage(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	msg := BuildSlackMessage(Notification{
		Type:        NotifyError,
		Title:       "Run failed",
		Message:     "run #42 failed: login required",
		TaskID:      "3",
		ExecutionID: "42",
		Label:       "post-fix retry",
		Status:      domain.ExecFailed,
		Error:       "login required",
		Excerpt:     []string{"a", "b", "c", "d", "e", "f", "g"},
	}, now)

	if msg.Text != "Run failed" || len(msg.Attachments) != 1 {
		t.Fatalf("message = %+v", msg)
	}
	att := msg.Attachments[0]
	if att.Color != "danger" || att.Title != "post-fix retry" || att.Fallback != "run #42 failed: login required" {
		t.Errorf("attachment = %+v", att)
	}
	if att.Timestamp != now.Unix() {
		t.Errorf("Timestamp = %d", att.Timestamp)
	}

	want := []SlackField{
		{Title: "Task", Value: "3", Short: true},
		{Title: "Execution", Value: "42", Short: true},
		{Title: "Status", Value: "failed", Short: true},
		{Title: "Error", Value: "login required"},
	}
	if len(att.Fields) != len(want) {
		t.Fatalf("fields = %+v", att.Fields)
	}
	for i := range want {
		if att.Fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, att.Fields[i], want[i])
		}
	}

	if !strings.Contains(att.Text, "a\nb\nc\nd\ne\n") || strings.Contains(att.Text, "f\n") {
		t.Errorf("excerpt should keep the first %d lines: %q", slackExcerptLines, att.Text)
	}
	if !strings.Contains(att.Text, "2 more log lines") {
		t.Errorf("Text = %q", att.Text)
	}
}

func TestBuildSlackMessage_Completed(t *testing.T) {
	msg := BuildSlackMessage(Notification{Type: NotifySuccess, Title: "Run completed", ExecutionID: "7", Status: domain.ExecCompleted}, time.Now())
	att := msg.Attachments[0]
	if att.Color != "good" || att.Text != "" {
		t.Errorf("attachment = %+v", att)
	}
	if len(att.Fields) != 2 {
		t.Errorf("fields = %+v, want execution and status only", att.Fields)
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Type:        NotifyError,
		Title:       "Run failed",
		Message:     "login required",
		TaskID:      "3",
		ExecutionID: "42",
		Status:      domain.ExecFailed,
	})
	if err != nil {
		t.Errorf("Send failed: %v", err)
	}

	if got.Text != "Run failed" || len(got.Attachments) != 1 {
		t.Fatalf("message = %+v", got)
	}
	if got.Attachments[0].Color != "danger" {
		t.Errorf("Color = %q, want danger", got.Attachments[0].Color)
	}
}

func TestSlackNotifier_Disabled(t *testing.T) {
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("Send() error = %v, want 400", err)
	}
}

func TestTypeFor(t *testing.T) {
	tests := []struct {
		status    domain.ExecutionStatus
		want      NotificationType
		wantColor string
		wantIcon  string
	}{
		{domain.ExecCompleted, NotifySuccess, "good", "dialog-positive"},
		{domain.ExecFailed, NotifyError, "danger", "dialog-error"},
		{domain.ExecStopped, NotifyError, "danger", "dialog-error"},
	}

	for _, tt := range tests {
		got := TypeFor(tt.status)
		if got != tt.want {
			t.Errorf("TypeFor(%s) = %s, want %s", tt.status, got, tt.want)
		}
		if c := SlackColor(got); c != tt.wantColor {
			t.Errorf("SlackColor(%s) = %s, want %s", got, c, tt.wantColor)
		}
		if i := IconForType(got); i != tt.wantIcon {
			t.Errorf("IconForType(%s) = %s, want %s", got, i, tt.wantIcon)
		}
	}
}

func TestNotification_JSON(t *testing.T) {
	data, err := json.Marshal(Notification{Title: "t", Type: NotifySuccess, ExecutionID: "7", Status: domain.ExecCompleted})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"type":"success"`, `"execution_id":"7"`, `"status":"completed"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("json = %s, missing %s", data, want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1)
	multi.Add(mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestMultiNotifier_ReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	var sent int
	multi := NewMultiNotifier(
		Func(func(n Notification) error { return boom }),
		Func(func(n Notification) error { sent++; return nil }),
	)
	if err := multi.Send(Notification{}); err != boom {
		t.Errorf("Send() = %v, want boom", err)
	}
	if sent != 1 {
		t.Error("later notifiers should still be called")
	}
}

func TestEscapeAppleScript(t *testing.T) {
	if got := escapeAppleScript(`say "hi"`); got != `say \"hi\"` {
		t.Errorf("escapeAppleScript() = %q", got)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
