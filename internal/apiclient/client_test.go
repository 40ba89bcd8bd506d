package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nick353/Automate-sub000/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL + "/api/", ProjectID: "5", Token: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestConfig_Validate(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing base url")
	}
}

func TestClient_GetExecution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/executions/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"status": "failed", "error_message": "login required"}`))
	})

	st, err := c.GetExecution(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.ExecFailed {
		t.Errorf("Status = %q, want failed", st.Status)
	}
	if st.ErrorMessage != "login required" {
		t.Errorf("ErrorMessage = %q", st.ErrorMessage)
	}
}

func TestClient_GetExecutionLogs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `["plain", {"level": "error", "message": "boom"}]`, 2},
		{"wrapped", `{"logs": ["a", "b", "c"]}`, 3},
		{"empty", `[]`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			logs, err := c.GetExecutionLogs(context.Background(), "1")
			if err != nil {
				t.Fatal(err)
			}
			if len(logs) != tt.want {
				t.Errorf("len(logs) = %d, want %d", len(logs), tt.want)
			}
		})
	}
}

func TestClient_RunTask_FieldVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"execution_id number", `{"execution_id": 77}`, "77"},
		{"execution_id string", `{"execution_id": "ex-9"}`, "ex-9"},
		{"legacy id", `{"id": 12, "status": "pending"}`, "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/tasks/3/run" {
					t.Errorf("%s %s", r.Method, r.URL.Path)
				}
				w.Write([]byte(tt.body))
			})
			id, err := c.RunTask(context.Background(), "3")
			if err != nil {
				t.Fatal(err)
			}
			if id != tt.want {
				t.Errorf("RunTask() = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestClient_RunTask_MissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "queued"}`))
	})
	if _, err := c.RunTask(context.Background(), "3"); err == nil {
		t.Error("expected error when no id field is present")
	}
}

func TestClient_HTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantBody string
	}{
		{"json detail", 404, `{"detail": "execution not found"}`, "execution not found"},
		{"json error object", 422, `{"error": {"field": "name"}}`, `{"field":"name"}`},
		{"plain text", 502, "bad gateway\n", "bad gateway"},
		{"empty", 500, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.GetExecution(context.Background(), "1")
			if err == nil {
				t.Fatal("expected error")
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode = %d, want %d", StatusCode(err), tt.status)
			}
			httpErr := err.(*HTTPError)
			if httpErr.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", httpErr.Body, tt.wantBody)
			}
			if !strings.Contains(err.Error(), "HTTP") {
				t.Errorf("Error() = %q", err.Error())
			}
		})
	}
}

func TestClient_AnalyzeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/5/analyze-error" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.TaskID != "3" || req.ExecutionID != "42" || req.ErrorReason != "login required" {
			t.Errorf("request = %+v", req)
		}
		if len(req.Logs) != 1 {
			t.Errorf("logs = %v", req.Logs)
		}
		w.Write([]byte(`{"success": true, "analysis": {"root_cause": "session expired",
			"suggestions": [{"title": "Add login step", "priority": "high", "auto_fixable": true, "improved_prompt": "log in first"}],
			"recommended_index": 0}}`))
	})

	resp, err := c.AnalyzeError(context.Background(), AnalyzeRequest{
		TaskID: "3", ExecutionID: "42", ErrorReason: "login required", Logs: []string{"agent/1/error/login"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Analysis == nil {
		t.Fatalf("response = %+v", resp)
	}
	if !resp.Analysis.Suggestions[0].AutoFixable {
		t.Error("suggestion should be auto-fixable")
	}
}

func TestClient_ExecuteActions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/5/chat/execute-actions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Actions []domain.PendingAction `json:"actions"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Actions) != 2 {
			t.Errorf("actions = %d, want 2", len(body.Actions))
		}
		w.Write([]byte(`{"results": [{"success": true}, {"success": false, "error": "duplicate name"}],
			"created_tasks": [{"id": 11, "name": "A"}]}`))
	})

	resp, err := c.ExecuteActions(context.Background(), []domain.PendingAction{
		{Type: domain.ActionCreateTask, Data: map[string]any{"name": "A"}},
		{Type: domain.ActionCreateTask, Data: map[string]any{"name": "A"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.Results[1].Error != "duplicate name" {
		t.Errorf("results = %+v", resp.Results)
	}
	if len(resp.CreatedTasks) != 1 || resp.CreatedTasks[0].ID != "11" {
		t.Errorf("created = %+v", resp.CreatedTasks)
	}
}

func TestClient_PatchTask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]any
		json.NewDecoder(r.Body).Decode(&fields)
		if fields["task_prompt"] != "new prompt" {
			t.Errorf("fields = %v", fields)
		}
		w.Write([]byte(`{"id": 3, "name": "T", "task_prompt": "new prompt"}`))
	})

	task, err := c.PatchTask(context.Background(), "3", map[string]any{"task_prompt": "new prompt"})
	if err != nil {
		t.Fatal(err)
	}
	if task.TaskPrompt != "new prompt" {
		t.Errorf("TaskPrompt = %q", task.TaskPrompt)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
	}{
		{"short", "ログインが必要です", len("ログインが必要です")},
		{"ascii", strings.Repeat("x", 3000), maxErrorBody + 3},
		{"multibyte", strings.Repeat("失敗", 600), 2046 + 3}, // 3-byte runes, 682 fit
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in)
			if !utf8.ValidString(got) {
				t.Errorf("truncate() split a rune: %q", got[len(got)-8:])
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}
