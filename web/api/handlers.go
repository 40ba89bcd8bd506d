package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nick353/Automate-sub000/internal/actions"
	"github.com/nick353/Automate-sub000/internal/apiclient"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/recovery"
	"github.com/nick353/Automate-sub000/internal/runstore"
	"github.com/nick353/Automate-sub000/internal/transcript"
	"github.com/nick353/Automate-sub000/internal/workflow"
)

// StatusResponse is the session overview
type StatusResponse struct {
	SessionID  string          `json:"session_id"`
	Stage      string          `json:"stage"`
	Steps      []StepResponse  `json:"steps"`
	ActiveRuns []string        `json:"active_runs"`
	Messages   int             `json:"messages"`
	Pending    int             `json:"pending_actions"`
	Analysis   *AnalysisStatus `json:"analysis,omitempty"`
}

// StepResponse is one progress indicator entry
type StepResponse struct {
	Stage string `json:"stage"`
	Label string `json:"label"`
	State string `json:"state"`
}

// AnalysisStatus describes the analysis currently offered
type AnalysisStatus struct {
	TaskID      string                `json:"task_id"`
	ExecutionID string                `json:"execution_id"`
	Reason      string                `json:"reason"`
	Analysis    *domain.ErrorAnalysis `json:"analysis,omitempty"`
	Suggestion  string                `json:"suggestion,omitempty"`
	Offers      []domain.Offer        `json:"offers"`
}

// MessageRequest posts a chat message into the session
type MessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// MessageResponse is the appended message and any batch found in it
type MessageResponse struct {
	Message transcript.Message  `json:"message"`
	Pending *domain.ActionBatch `json:"pending,omitempty"`
}

// ConfirmRequest confirms the pending batch
type ConfirmRequest struct {
	CreateAndTest bool `json:"create_and_test"`
}

// ReportResponse is the outcome of an executed batch
type ReportResponse struct {
	Outcome  string        `json:"outcome"`
	Summary  string        `json:"summary"`
	Failures []string      `json:"failures,omitempty"`
	Created  []domain.Task `json:"created_tasks,omitempty"`
}

// RunRequest starts a task run
type RunRequest struct {
	TaskID string `json:"task_id"`
	Label  string `json:"label"`
}

// RunResponse identifies a started run
type RunResponse struct {
	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id"`
	Label       string `json:"label"`
}

// HistoryEntry is a recorded run
type HistoryEntry struct {
	ExecutionID  string  `json:"execution_id"`
	TaskID       string  `json:"task_id"`
	Label        string  `json:"label"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`
	StartedAt    string  `json:"started_at"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	DurationSecs float64 `json:"duration_secs"`
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		guide := s.session.Guide()
		resp := StatusResponse{
			SessionID:  s.session.ID(),
			Stage:      guide.Stage().String(),
			Steps:      toSteps(guide.Steps()),
			ActiveRuns: s.session.ActiveRuns(),
			Messages:   s.session.Transcript().Len(),
		}
		if resp.ActiveRuns == nil {
			resp.ActiveRuns = []string{}
		}
		if pending := s.session.Pending(); pending != nil {
			resp.Pending = len(pending.Actions)
		}
		if active, ok := s.session.ActiveAnalysis(); ok {
			resp.Analysis = toAnalysisStatus(active)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) transcriptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		messages := s.session.Transcript().Messages()
		if messages == nil {
			messages = []transcript.Message{}
		}
		writeJSON(w, messages)
	}
}

func (s *Server) messageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}

		if s.session.Transcript().Closed() {
			writeError(w, http.StatusGone, "session closed")
			return
		}

		var resp MessageResponse
		switch domain.Role(req.Role) {
		case domain.RoleUser, "":
			resp.Message = s.session.AddUserMessage(req.Text)
		case domain.RoleAssistant:
			resp.Message, resp.Pending = s.session.HandleAssistantMessage(req.Text)
		default:
			writeError(w, http.StatusBadRequest, "role must be user or assistant")
			return
		}
		writeJSON(w, resp)
	}
}

func (s *Server) confirmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req ConfirmRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		report, err := s.session.ConfirmActions(r.Context(), req.CreateAndTest)
		if err != nil {
			writeActionError(w, err)
			return
		}
		resp := ReportResponse{
			Outcome: string(report.Outcome()),
			Summary: report.Summary(),
			Created: report.CreatedTasks,
		}
		for _, f := range report.Failures() {
			resp.Failures = append(resp.Failures, f.String())
		}
		writeJSON(w, resp)
	}
}

func (s *Server) cancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !s.session.CancelActions() {
			writeError(w, http.StatusConflict, actions.ErrNoPendingActions.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listRuns(w, r)
		case http.MethodPost:
			var req RunRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			h, err := s.session.RunTask(r.Context(), req.TaskID, req.Label)
			if err != nil {
				writeActionError(w, err)
				return
			}
			writeJSONStatus(w, http.StatusAccepted, toRunResponse(h))
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history not enabled")
		return
	}

	q := r.URL.Query()
	opts := runstore.ListOptions{
		TaskID: q.Get("task_id"),
		Status: domain.ExecutionStatus(q.Get("status")),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]HistoryEntry, 0, len(runs))
	for _, run := range runs {
		e := HistoryEntry{
			ExecutionID:  run.ExecutionID,
			TaskID:       run.TaskID,
			Label:        run.Label,
			Status:       string(run.Status),
			ErrorMessage: run.ErrorMessage,
			StartedAt:    run.StartedAt.Format(time.RFC3339),
			DurationSecs: run.Duration().Seconds(),
		}
		if run.FinishedAt != nil {
			f := run.FinishedAt.Format(time.RFC3339)
			e.FinishedAt = &f
		}
		entries = append(entries, e)
	}
	writeJSON(w, entries)
}

func (s *Server) analysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		active, ok := s.session.ActiveAnalysis()
		if !ok {
			writeError(w, http.StatusNotFound, recovery.ErrNoActiveAnalysis.Error())
			return
		}
		writeJSON(w, toAnalysisStatus(active))
	}
}

func (s *Server) autoFixHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h, err := s.session.ApplyAutoFix(r.Context())
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, toRunResponse(h))
	}
}

func (s *Server) retryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req RunRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		// Without an explicit task the active analysis decides
		if req.TaskID == "" {
			if active, ok := s.session.ActiveAnalysis(); ok {
				req.TaskID = active.TaskID
			}
		}

		h, err := s.session.Retry(r.Context(), req.TaskID)
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, toRunResponse(h))
	}
}

func (s *Server) retrySuggestionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h, err := s.session.RetryWithSuggestion(r.Context())
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, toRunResponse(h))
	}
}

func (s *Server) dismissHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !s.session.DismissAnalysis() {
			writeError(w, http.StatusNotFound, recovery.ErrNoActiveAnalysis.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "dismissed"})
	}
}

func (s *Server) editorHandler(open bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if open {
			s.session.OpenEditor()
		} else {
			s.session.CloseEditor()
		}
		writeJSON(w, map[string]string{"stage": s.session.Guide().Stage().String()})
	}
}

// writeActionError maps session errors onto HTTP status codes
func writeActionError(w http.ResponseWriter, err error) {
	var verr *actions.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, recovery.ErrNoTask):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, actions.ErrNoPendingActions),
		errors.Is(err, recovery.ErrNoActiveAnalysis),
		errors.Is(err, recovery.ErrNotAutoFixable),
		errors.Is(err, recovery.ErrNoSuggestion):
		writeError(w, http.StatusConflict, err.Error())
	case apiclient.StatusCode(err) != 0:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toSteps(steps []workflow.Step) []StepResponse {
	out := make([]StepResponse, len(steps))
	for i, st := range steps {
		out[i] = StepResponse{Stage: string(st.Stage), Label: st.Label, State: string(st.State)}
	}
	return out
}

func toAnalysisStatus(a recovery.Active) *AnalysisStatus {
	return &AnalysisStatus{
		TaskID:      a.TaskID,
		ExecutionID: a.ExecutionID,
		Reason:      a.Reason,
		Analysis:    a.Analysis,
		Suggestion:  a.Suggestion,
		Offers:      a.Offers,
	}
}

func toRunResponse(h domain.RunHandle) RunResponse {
	return RunResponse{ExecutionID: h.ExecutionID, TaskID: h.TaskID, Label: h.Label}
}
