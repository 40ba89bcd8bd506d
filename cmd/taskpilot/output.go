package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/transcript"
)

// Status symbols
const (
	symbolSuccess = "✓"
	symbolError   = "✗"
	symbolWarning = "⚠"
	symbolInfo    = "›"
)

// theme holds the color functions used for terminal output
type theme struct {
	User      func(a ...interface{}) string
	Assistant func(a ...interface{}) string
	System    func(a ...interface{}) string
	Label     func(a ...interface{}) string
	Success   func(a ...interface{}) string
	Error     func(a ...interface{}) string
	Warning   func(a ...interface{}) string
	Dim       func(a ...interface{}) string
	Bold      func(a ...interface{}) string
}

func defaultTheme() *theme {
	return &theme{
		User:      color.New(color.FgCyan, color.Bold).SprintFunc(),
		Assistant: color.New(color.FgMagenta, color.Bold).SprintFunc(),
		System:    color.New(color.FgYellow, color.Bold).SprintFunc(),
		Label:     color.New(color.FgHiBlack).SprintFunc(),
		Success:   color.New(color.FgGreen).SprintFunc(),
		Error:     color.New(color.FgRed).SprintFunc(),
		Warning:   color.New(color.FgYellow).SprintFunc(),
		Dim:       color.New(color.FgHiBlack).SprintFunc(),
		Bold:      color.New(color.Bold).SprintFunc(),
	}
}

// printer writes transcript events to a terminal as they arrive
type printer struct {
	out   io.Writer
	theme *theme
	done  chan struct{}
}

// follow prints every event from events until the channel closes
func follow(out io.Writer, th *theme, events <-chan transcript.Event) *printer {
	p := &printer{out: out, theme: th, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for ev := range events {
			p.printEvent(ev)
		}
	}()
	return p
}

// Wait blocks until the event stream ended
func (p *printer) Wait() {
	<-p.done
}

func (p *printer) printEvent(ev transcript.Event) {
	msg := ev.Message
	if ev.Type == transcript.EventReplace {
		fmt.Fprintln(p.out, p.theme.Dim("(updated)"))
	}
	fmt.Fprintln(p.out, p.formatMessage(msg))
}

func (p *printer) formatMessage(msg transcript.Message) string {
	var who string
	switch msg.Role {
	case domain.RoleUser:
		who = p.theme.User("you")
	case domain.RoleAssistant:
		who = p.theme.Assistant("assistant")
	default:
		who = p.theme.System("system")
	}
	if msg.Label != "" {
		who += " " + p.theme.Label("["+msg.Label+"]")
	}

	var b strings.Builder
	b.WriteString(who)
	for _, line := range strings.Split(msg.Text, "\n") {
		b.WriteString("\n  ")
		b.WriteString(p.colorLine(line))
	}
	return b.String()
}

// colorLine highlights status lines the session writes
func (p *printer) colorLine(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasSuffix(trimmed, " completed."), strings.HasPrefix(trimmed, "All ") && strings.Contains(trimmed, "completed"):
		return p.theme.Success(symbolSuccess + " " + line)
	case strings.HasSuffix(trimmed, " failed."), strings.HasPrefix(trimmed, "Error:"), strings.HasPrefix(trimmed, "Could not"):
		return p.theme.Error(symbolError + " " + line)
	case strings.HasSuffix(trimmed, " was stopped."):
		return p.theme.Warning(symbolWarning + " " + line)
	}
	return line
}
