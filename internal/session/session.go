// Package session composes the transcript, monitor, recovery pipeline,
// action executor and workflow guide behind one panel session.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nick353/Automate-sub000/internal/actions"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/monitor"
	"github.com/nick353/Automate-sub000/internal/notify"
	"github.com/nick353/Automate-sub000/internal/recovery"
	"github.com/nick353/Automate-sub000/internal/transcript"
	"github.com/nick353/Automate-sub000/internal/workflow"
)

// Label given to the run started by a combined create-and-test
const LabelTestRun = "test run"

// API is everything a session needs from the task API
type API interface {
	monitor.API
	recovery.API
	actions.API
	RunTask(ctx context.Context, taskID string) (string, error)
}

// Ledger records runs and analyses
type Ledger interface {
	monitor.Ledger
	recovery.Ledger
	StartRun(ctx context.Context, rec domain.RunRecord) error
}

// Config configures a Session. Ledger and Notifier are optional.
type Config struct {
	API      API
	Ledger   Ledger
	Notifier notify.Notifier

	PollInterval  time.Duration
	LogRetryDelay time.Duration
	ExcerptLimit  int
	Keywords      []string
}

// Session is one chat panel supervising task runs
type Session struct {
	id  string
	api API

	ctx    context.Context
	cancel context.CancelFunc

	transcript *transcript.Transcript
	monitor    *monitor.Monitor
	pipeline   *recovery.Pipeline
	guide      *workflow.Guide
	executor   *actions.Executor
	ledger     Ledger

	mu      sync.Mutex
	pending *domain.ActionBatch
	tasks   map[string]bool
	closed  bool

	watchers sync.WaitGroup
}

// New creates a session
func New(cfg Config) (*Session, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("api is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		api:        cfg.API,
		ctx:        ctx,
		cancel:     cancel,
		transcript: transcript.New(),
		guide:      workflow.NewGuide(),
		executor:   actions.NewExecutor(cfg.API),
		ledger:     cfg.Ledger,
		tasks:      make(map[string]bool),
	}

	pcfg := recovery.Config{
		API:        cfg.API,
		Transcript: s.transcript,
		Launch:     s.RunTask,
		Ledger:     cfg.Ledger,
	}
	mcfg := monitor.Config{
		PollInterval:  cfg.PollInterval,
		LogRetryDelay: cfg.LogRetryDelay,
		ExcerptLimit:  cfg.ExcerptLimit,
		Keywords:      cfg.Keywords,
		Notifier:      cfg.Notifier,
		Ledger:        cfg.Ledger,
	}

	pipeline, err := recovery.New(pcfg)
	if err != nil {
		cancel()
		return nil, err
	}
	s.pipeline = pipeline
	mcfg.OnFailure = pipeline.HandleFailure

	mon, err := monitor.New(cfg.API, s.transcript, mcfg)
	if err != nil {
		cancel()
		return nil, err
	}
	s.monitor = mon

	log.Printf("[session %s] started", s.id[:8])
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Transcript returns the session transcript
func (s *Session) Transcript() *transcript.Transcript { return s.transcript }

// Guide returns the workflow guide
func (s *Session) Guide() *workflow.Guide { return s.guide }

// ActiveAnalysis returns the analysis currently offered, if any
func (s *Session) ActiveAnalysis() (recovery.Active, bool) { return s.pipeline.Active() }

// ActiveRuns returns the execution ids being watched
func (s *Session) ActiveRuns() []string { return s.monitor.Active() }

// SetKeywords replaces the failure keyword set
func (s *Session) SetKeywords(keywords []string) { s.monitor.SetKeywords(keywords) }

// Pending returns the batch awaiting confirmation
func (s *Session) Pending() *domain.ActionBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// AddUserMessage appends a user message
func (s *Session) AddUserMessage(text string) transcript.Message {
	msg, _ := s.transcript.Say(domain.RoleUser, text)
	return msg
}

// HandleAssistantMessage appends an assistant reply with its action payload
// removed. A batch found in it becomes the pending batch.
func (s *Session) HandleAssistantMessage(text string) (transcript.Message, *domain.ActionBatch) {
	res := actions.Extract(text)
	msg := transcript.Message{Role: domain.RoleAssistant, Text: res.Cleaned}
	if res.Batch != nil {
		msg.Preview = res.Batch
		s.mu.Lock()
		s.pending = res.Batch
		s.mu.Unlock()
	}
	appended, _ := s.transcript.Append(msg)
	return appended, res.Batch
}

// CancelActions drops the pending batch
func (s *Session) CancelActions() bool {
	s.mu.Lock()
	had := s.pending != nil
	s.pending = nil
	s.mu.Unlock()
	if had {
		s.transcript.Say(domain.RoleAssistant, "Cancelled. No changes were made.")
	}
	return had
}

// ConfirmActions executes the pending batch. With createAndTest, the first
// created task is run as a test once every action succeeded.
func (s *Session) ConfirmActions(ctx context.Context, createAndTest bool) (*actions.Report, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if batch == nil {
		return nil, actions.ErrNoPendingActions
	}

	hasCreate := batch.HasCreate()
	s.guide.ActionsConfirmed(hasCreate)

	report, err := s.executor.Execute(ctx, batch)
	if err != nil {
		s.transcript.Say(domain.RoleSystem, fmt.Sprintf("Could not execute the actions: %v", err))
		if hasCreate {
			s.guide.CreationFinished(false, createAndTest, "")
		}
		return nil, err
	}
	s.transcript.Append(transcript.Message{Role: domain.RoleAssistant, Text: report.Summary(), Preview: report.Failures()})

	s.mu.Lock()
	for _, t := range report.CreatedTasks {
		s.tasks[t.ID.String()] = true
	}
	s.mu.Unlock()

	if !hasCreate {
		return report, nil
	}
	ok := report.Outcome() == actions.OutcomeSuccess
	if !ok || !createAndTest || len(report.CreatedTasks) == 0 {
		s.guide.CreationFinished(ok, createAndTest, "")
		return report, nil
	}

	h, err := s.start(ctx, report.CreatedTasks[0].ID.String(), LabelTestRun)
	if err != nil {
		s.guide.CreationFinished(ok, createAndTest, "")
		return report, nil
	}
	s.guide.CreationFinished(ok, createAndTest, h.ExecutionID)
	s.watch(h)
	return report, nil
}

// RunTask starts the task and watches the run. A task id is required.
func (s *Session) RunTask(ctx context.Context, taskID, label string) (domain.RunHandle, error) {
	h, err := s.start(ctx, taskID, label)
	if err != nil {
		return domain.RunHandle{}, err
	}
	s.watch(h)
	return h, nil
}

// WatchExecution watches a run that was started elsewhere
func (s *Session) WatchExecution(h domain.RunHandle) <-chan domain.ExecutionSnapshot {
	if h.TaskID != "" {
		s.pipeline.Clear(h.TaskID)
	}
	return s.watch(h)
}

func (s *Session) start(ctx context.Context, taskID, label string) (domain.RunHandle, error) {
	if taskID == "" {
		return domain.RunHandle{}, recovery.ErrNoTask
	}
	if label == "" {
		label = "run"
	}
	s.pipeline.Clear(taskID)

	execID, err := s.api.RunTask(ctx, taskID)
	if err != nil {
		s.transcript.Say(domain.RoleSystem, fmt.Sprintf("Could not start task %s: %v", taskID, err))
		return domain.RunHandle{}, fmt.Errorf("run task %s: %w", taskID, err)
	}
	h := domain.RunHandle{ExecutionID: execID, Label: label, TaskID: taskID}

	s.mu.Lock()
	s.tasks[taskID] = true
	s.mu.Unlock()

	if s.ledger != nil {
		err := s.ledger.StartRun(ctx, domain.RunRecord{
			ExecutionID: execID,
			TaskID:      taskID,
			Label:       label,
			Status:      domain.ExecPending,
			StartedAt:   time.Now(),
		})
		if err != nil {
			log.Printf("[session %s] record run %s: %v", s.id[:8], execID, err)
		}
	}

	s.transcript.Append(transcript.Message{
		Role:  domain.RoleAssistant,
		Text:  fmt.Sprintf("Started %s for task %s.", h, taskID),
		Label: label,
	})
	return h, nil
}

// watch forwards the monitor stream and advances the guide when the
// tracked test run ends
func (s *Session) watch(h domain.RunHandle) <-chan domain.ExecutionSnapshot {
	in := s.monitor.Watch(s.ctx, h)
	out := make(chan domain.ExecutionSnapshot, cap(in))

	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		defer close(out)
		for snap := range in {
			if snap.Terminal() {
				s.guide.RunFinished(snap.ExecutionID)
				out <- snap
				continue
			}
			if len(out) < cap(out)-1 {
				out <- snap
			}
		}
	}()
	return out
}

// ApplyAutoFix applies the recommended fix and starts a post-fix retry
func (s *Session) ApplyAutoFix(ctx context.Context) (domain.RunHandle, error) {
	return s.pipeline.ApplyAutoFix(ctx)
}

// Retry reruns the task with its current settings
func (s *Session) Retry(ctx context.Context, taskID string) (domain.RunHandle, error) {
	return s.pipeline.Retry(ctx, taskID)
}

// RetryWithSuggestion applies the free-text suggestion and reruns the task
func (s *Session) RetryWithSuggestion(ctx context.Context) (domain.RunHandle, error) {
	return s.pipeline.RetryWithSuggestion(ctx)
}

// DismissAnalysis drops the active analysis
func (s *Session) DismissAnalysis() bool {
	return s.pipeline.Dismiss()
}

// OpenEditor enters the editing stage
func (s *Session) OpenEditor() {
	s.guide.EnterEditing()
}

// CloseEditor leaves the editing stage
func (s *Session) CloseEditor() {
	s.mu.Lock()
	tasksExist := len(s.tasks) > 0
	s.mu.Unlock()
	s.guide.ExitEditing(tasksExist)
}

// Wait blocks until every watched run has been reported
func (s *Session) Wait() {
	s.monitor.Wait()
	s.watchers.Wait()
}

// Close stops every watch and freezes the transcript
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.monitor.Close()
	s.watchers.Wait()
	s.transcript.Close()
	log.Printf("[session %s] closed", s.id[:8])
}
