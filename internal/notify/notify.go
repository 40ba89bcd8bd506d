// Package notify tells the user how a watched run ended
package notify

import "github.com/nick353/Automate-sub000/internal/domain"

// NotificationType is the outcome a notification reports
type NotificationType string

const (
	NotifySuccess NotificationType = "success"
	NotifyError   NotificationType = "error"
)

// TypeFor maps a terminal run status to its notification type. Only a
// completed run is a success.
func TypeFor(status domain.ExecutionStatus) NotificationType {
	if status == domain.ExecCompleted {
		return NotifySuccess
	}
	return NotifyError
}

// Notification reports the outcome of one run
type Notification struct {
	Type        NotificationType       `json:"type"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	TaskID      string                 `json:"task_id,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Label       string                 `json:"label,omitempty"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Excerpt     []string               `json:"excerpt,omitempty"`
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Add appends a notifier
func (m *MultiNotifier) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Func adapts a function to the Notifier interface
type Func func(n Notification) error

func (f Func) Send(n Notification) error { return f(n) }

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
