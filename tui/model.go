package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nick353/Automate-sub000/internal/actions"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/recovery"
	"github.com/nick353/Automate-sub000/internal/runstore"
	"github.com/nick353/Automate-sub000/internal/transcript"
	"github.com/nick353/Automate-sub000/internal/workflow"
)

// Session is the part of a panel session the TUI drives
type Session interface {
	ID() string
	Transcript() *transcript.Transcript
	Guide() *workflow.Guide
	ActiveRuns() []string
	ActiveAnalysis() (recovery.Active, bool)
	Pending() *domain.ActionBatch
	ConfirmActions(ctx context.Context, createAndTest bool) (*actions.Report, error)
	CancelActions() bool
	ApplyAutoFix(ctx context.Context) (domain.RunHandle, error)
	Retry(ctx context.Context, taskID string) (domain.RunHandle, error)
	RetryWithSuggestion(ctx context.Context) (domain.RunHandle, error)
	DismissAnalysis() bool
}

// History lists recorded runs
type History interface {
	ListRuns(ctx context.Context, opts runstore.ListOptions) ([]*domain.RunRecord, error)
}

const (
	tabChat = iota
	tabRuns
	tabCount
)

// Model is the TUI application model
type Model struct {
	session Session
	history History
	subs    *subscriptions

	// Data
	messages []transcript.Message
	steps    []workflow.Step
	stage    domain.WorkflowStage
	runs     []string
	analysis *recovery.Active
	pending  *domain.ActionBatch
	ledger   []*domain.RunRecord

	// UI state
	width      int
	height     int
	activeTab  int
	scroll     int
	statusMsg  string
	busy       bool
	closed     bool
	historyErr error

	// Refresh
	lastRefresh time.Time
}

// subscriptions are shared by every copy of the model
type subscriptions struct {
	events      <-chan transcript.Event
	stages      chan StageMsg
	cancel      func()
	unsubscribe func()
}

// ModelConfig holds what the TUI model reads from. History may be nil.
type ModelConfig struct {
	Session Session
	History History
}

// NewModel creates a new TUI model subscribed to the session
func NewModel(cfg ModelConfig) Model {
	events, cancel := cfg.Session.Transcript().Subscribe()
	stages := make(chan StageMsg, 16)
	unsubscribe := cfg.Session.Guide().Subscribe(func(from, to domain.WorkflowStage) {
		select {
		case stages <- StageMsg{From: from, To: to}:
		default:
		}
	})

	m := Model{
		session: cfg.Session,
		history: cfg.History,
		subs: &subscriptions{
			events:      events,
			stages:      stages,
			cancel:      cancel,
			unsubscribe: unsubscribe,
		},
	}
	return m.refresh()
}

// Close ends the model's subscriptions
func (m Model) Close() {
	m.subs.unsubscribe()
	m.subs.cancel()
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForEvent(m.subs.events),
		waitForStage(m.subs.stages),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// TranscriptMsg carries one transcript event
type TranscriptMsg transcript.Event

// TranscriptClosedMsg is sent once the transcript stops delivering events
type TranscriptClosedMsg struct{}

// StageMsg reports a workflow stage change
type StageMsg struct {
	From domain.WorkflowStage
	To   domain.WorkflowStage
}

// ActionDoneMsg is the result of a key-triggered session action
type ActionDoneMsg struct {
	Status string
	Err    error
}

// HistoryMsg carries recorded runs
type HistoryMsg struct {
	Runs []*domain.RunRecord
	Err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForEvent(events <-chan transcript.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return TranscriptClosedMsg{}
		}
		return TranscriptMsg(ev)
	}
}

func waitForStage(stages <-chan StageMsg) tea.Cmd {
	return func() tea.Msg {
		return <-stages
	}
}

// refresh copies the session state shown by the view
func (m Model) refresh() Model {
	m.messages = m.session.Transcript().Messages()
	guide := m.session.Guide()
	m.stage = guide.Stage()
	m.steps = guide.Steps()
	m.runs = m.session.ActiveRuns()
	m.pending = m.session.Pending()
	m.analysis = nil
	if a, ok := m.session.ActiveAnalysis(); ok {
		m.analysis = &a
	}
	m.lastRefresh = time.Now()
	return m
}

// Stage returns the stage last shown
func (m Model) Stage() domain.WorkflowStage {
	return m.stage
}

// StatusMessage returns the status line text
func (m Model) StatusMessage() string {
	return m.statusMsg
}
