package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/runstore"
	"github.com/nick353/Automate-sub000/internal/transcript"
)

// historyLimit bounds the runs tab
const historyLimit = 50

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m.refresh(), tickCmd()

	case TranscriptMsg:
		m = m.refresh()
		if m.scroll > 0 && msg.Type == transcript.EventAppend {
			m.scroll++
		}
		return m, waitForEvent(m.subs.events)

	case TranscriptClosedMsg:
		m.closed = true
		m.statusMsg = "Session closed"
		return m, nil

	case StageMsg:
		m = m.refresh()
		return m, waitForStage(m.subs.stages)

	case ActionDoneMsg:
		m.busy = false
		if msg.Err != nil {
			m.statusMsg = "Error: " + msg.Err.Error()
		} else {
			m.statusMsg = msg.Status
		}
		return m.refresh(), nil

	case HistoryMsg:
		m.ledger = msg.Runs
		m.historyErr = msg.Err
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.activeTab = (m.activeTab + 1) % tabCount
		m.scroll = 0
		if m.activeTab == tabRuns {
			return m, m.loadHistory()
		}
		return m, nil
	case "j", "down":
		if m.scroll > 0 {
			m.scroll--
		}
		return m, nil
	case "k", "up":
		if m.scroll < len(m.messages)-1 {
			m.scroll++
		}
		return m, nil
	case "g":
		m.scroll = 0
		return m.refresh(), m.loadHistory()
	}

	if m.busy || m.closed {
		return m, nil
	}

	switch msg.String() {
	case "y":
		if m.pending != nil {
			return m.start(confirmCmd(m.session, false))
		}
	case "t":
		if m.pending != nil {
			return m.start(confirmCmd(m.session, true))
		}
	case "n":
		if m.pending != nil {
			m.session.CancelActions()
			m.statusMsg = "Actions cancelled"
			return m.refresh(), nil
		}
	case "f":
		if m.hasOffer(domain.OfferAutoFix) {
			return m.start(runCmd("Fix applied", func(ctx context.Context) (domain.RunHandle, error) {
				return m.session.ApplyAutoFix(ctx)
			}))
		}
	case "r":
		if m.hasOffer(domain.OfferRetry) {
			taskID := m.analysis.TaskID
			return m.start(runCmd("Retry started", func(ctx context.Context) (domain.RunHandle, error) {
				return m.session.Retry(ctx, taskID)
			}))
		}
	case "s":
		if m.hasOffer(domain.OfferRetryWithSuggestion) {
			return m.start(runCmd("Suggestion applied", func(ctx context.Context) (domain.RunHandle, error) {
				return m.session.RetryWithSuggestion(ctx)
			}))
		}
	case "d":
		if m.analysis != nil {
			m.session.DismissAnalysis()
			m.statusMsg = "Analysis dismissed"
			return m.refresh(), nil
		}
	}
	return m, nil
}

func (m Model) start(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.busy = true
	m.statusMsg = "Working..."
	return m, cmd
}

func (m Model) hasOffer(kind domain.OfferKind) bool {
	if m.analysis == nil {
		return false
	}
	for _, o := range m.analysis.Offers {
		if o.Kind == kind {
			return true
		}
	}
	return false
}

func (m Model) loadHistory() tea.Cmd {
	if m.history == nil {
		return nil
	}
	history := m.history
	return func() tea.Msg {
		runs, err := history.ListRuns(context.Background(), runstore.ListOptions{Limit: historyLimit})
		return HistoryMsg{Runs: runs, Err: err}
	}
}

func confirmCmd(s Session, createAndTest bool) tea.Cmd {
	return func() tea.Msg {
		report, err := s.ConfirmActions(context.Background(), createAndTest)
		if err != nil {
			return ActionDoneMsg{Err: err}
		}
		return ActionDoneMsg{Status: fmt.Sprintf("Actions executed: %s", report.Outcome())}
	}
}

func runCmd(status string, fn func(ctx context.Context) (domain.RunHandle, error)) tea.Cmd {
	return func() tea.Msg {
		h, err := fn(context.Background())
		if err != nil {
			return ActionDoneMsg{Err: err}
		}
		return ActionDoneMsg{Status: fmt.Sprintf("%s: %s", status, h)}
	}
}
