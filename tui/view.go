package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/schedule"
	"github.com/nick353/Automate-sub000/internal/transcript"
	"github.com/nick353/Automate-sub000/internal/workflow"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" taskpilot │ Session %s │ Active runs: %d │ Messages: %d ",
		shortID(m.session.ID()), len(m.runs), len(m.messages))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(renderSteps(m.steps))
	b.WriteString("  ")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabChat:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderTranscript()))
		b.WriteString("\n")
		if m.pending != nil {
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderPending()))
			b.WriteString("\n")
		}
		if m.analysis != nil {
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderAnalysis()))
			b.WriteString("\n")
		}
	case tabRuns:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderHistory()))
		b.WriteString("\n")
	}

	if m.statusMsg != "" {
		style := queuedStyle
		switch {
		case strings.HasPrefix(m.statusMsg, "Error"):
			style = errorStyle
		case m.busy:
			style = warningStyle
		}
		b.WriteString(style.Width(m.width).Render(" " + m.statusMsg + " "))
		b.WriteString("\n")
	}

	b.WriteString(statusBarStyle.Width(m.width).Render(m.keyHints()))
	return b.String()
}

func (m Model) keyHints() string {
	hints := []string{"[tab]switch"}
	if m.activeTab == tabChat {
		hints = append(hints, "[j/k]scroll")
		if m.pending != nil {
			hints = append(hints, "[y]confirm", "[t]confirm+test", "[n]cancel")
		}
		if m.hasOffer(domain.OfferAutoFix) {
			hints = append(hints, "[f]ix")
		}
		if m.hasOffer(domain.OfferRetry) {
			hints = append(hints, "[r]etry")
		}
		if m.hasOffer(domain.OfferRetryWithSuggestion) {
			hints = append(hints, "[s]uggestion")
		}
		if m.analysis != nil {
			hints = append(hints, "[d]ismiss")
		}
	} else {
		hints = append(hints, "[g]reload")
	}
	hints = append(hints, "[q]uit")
	return " " + strings.Join(hints, " ") + " "
}

func (m Model) renderTabs() string {
	tabs := []string{"Chat", "Runs"}
	var parts []string
	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}
	return strings.Join(parts, "│")
}

func renderSteps(steps []workflow.Step) string {
	parts := make([]string, len(steps))
	for i, st := range steps {
		switch st.State {
		case workflow.StepDone:
			parts[i] = runningStyle.Render("✓ " + st.Label)
		case workflow.StepCurrent:
			parts[i] = warningStyle.Render("● " + st.Label)
		default:
			parts[i] = dimmedStyle.Render("○ " + st.Label)
		}
	}
	return " " + strings.Join(parts, dimmedStyle.Render(" ─ "))
}

// transcriptHeight is how many lines the transcript box may use
func (m Model) transcriptHeight() int {
	h := m.height - 8
	if m.pending != nil {
		h -= 4
	}
	if m.analysis != nil {
		h -= 6
	}
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("TRANSCRIPT"))
	b.WriteString("\n")

	if len(m.messages) == 0 {
		b.WriteString(queuedStyle.Render("  No messages yet"))
		return b.String()
	}

	end := len(m.messages) - m.scroll
	if end < 1 {
		end = 1
	}
	var lines []string
	for _, msg := range m.messages[:end] {
		lines = append(lines, renderMessage(msg, m.width-6)...)
	}
	if max := m.transcriptHeight(); len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	b.WriteString(strings.Join(lines, "\n"))
	if m.scroll > 0 {
		b.WriteString("\n")
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  ↓ %d newer", m.scroll)))
	}
	return b.String()
}

func renderMessage(msg transcript.Message, width int) []string {
	var who string
	switch msg.Role {
	case domain.RoleUser:
		who = userStyle.Render("you")
	case domain.RoleAssistant:
		who = assistantStyle.Render("assistant")
	default:
		who = warningStyle.Render("system")
	}
	head := fmt.Sprintf("%s %s", who, dimmedStyle.Render(humanize.Time(msg.CreatedAt)))
	if msg.Label != "" {
		head += dimmedStyle.Render(" · " + msg.Label)
	}

	lines := []string{head}
	for _, line := range strings.Split(msg.Text, "\n") {
		lines = append(lines, "  "+truncate(line, width))
	}
	return lines
}

func (m Model) renderPending() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("PENDING ACTIONS (%d)", len(m.pending.Actions))))
	previews := schedule.ForBatch(m.pending, time.Now())
	for i, a := range m.pending.Actions {
		b.WriteString("\n")
		line := fmt.Sprintf("  %d. %s", i+1, a.Type)
		if name := a.Name(); name != "" {
			line += fmt.Sprintf(" %q", name)
		}
		b.WriteString(line)
		for _, p := range previews[i] {
			b.WriteString("\n")
			style := dimmedStyle
			if p.Err != nil {
				style = errorStyle
			}
			b.WriteString(style.Render("     ⏱ " + truncate(p.Summary(), m.width-10)))
		}
	}
	return b.String()
}

func (m Model) renderAnalysis() string {
	a := m.analysis
	var b strings.Builder
	b.WriteString(titleStyle.Render("RUN FAILED"))
	b.WriteString("\n")
	b.WriteString(errorStyle.Render(fmt.Sprintf("  task %s · execution %s", a.TaskID, a.ExecutionID)))
	if a.Reason != "" {
		b.WriteString("\n  ")
		b.WriteString(truncate(a.Reason, m.width-8))
	}
	if a.Analysis != nil && a.Analysis.RootCause != "" {
		b.WriteString("\n  Root cause: ")
		b.WriteString(truncate(a.Analysis.RootCause, m.width-20))
	}
	for _, o := range a.Offers {
		b.WriteString("\n")
		b.WriteString(runningStyle.Render("  → " + o.Label))
	}
	return b.String()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RECENT RUNS"))
	b.WriteString("\n")

	switch {
	case m.history == nil:
		b.WriteString(queuedStyle.Render("  Run history is not enabled"))
		return b.String()
	case m.historyErr != nil:
		b.WriteString(errorStyle.Render("  Error: " + m.historyErr.Error()))
		return b.String()
	case len(m.ledger) == 0:
		b.WriteString(queuedStyle.Render("  No runs recorded"))
		return b.String()
	}

	for _, r := range m.ledger {
		line := fmt.Sprintf("  %-8s %-8s %-22s %-10s %-14s %s",
			r.ExecutionID, r.TaskID, truncate(r.Label, 22), r.Status,
			humanize.Time(r.StartedAt), formatDuration(r.Duration()))
		switch r.Status {
		case domain.ExecCompleted:
			b.WriteString(runningStyle.Render(line))
		case domain.ExecFailed:
			b.WriteString(errorStyle.Render(line))
		case domain.ExecStopped:
			b.WriteString(warningStyle.Render(line))
		default:
			b.WriteString(queuedStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
