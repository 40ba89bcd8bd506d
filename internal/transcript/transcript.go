// Package transcript holds the conversation shown in a panel session. It is
// append-only apart from whole-message replacement.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nick353/Automate-sub000/internal/domain"
)

// Message is one transcript entry
type Message struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Text      string      `json:"text"`
	Label     string      `json:"label,omitempty"`
	Preview   any         `json:"preview,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// EventType distinguishes appends from replacements
type EventType string

const (
	EventAppend  EventType = "append"
	EventReplace EventType = "replace"
)

// Event is delivered to subscribers for every mutation, in order
type Event struct {
	Type    EventType `json:"type"`
	Index   int       `json:"index"`
	Message Message   `json:"message"`
}

// subscriberBuffer bounds how far a slow subscriber may fall behind
const subscriberBuffer = 256

// Transcript is safe for concurrent use. Every mutation is serialized so
// subscribers observe the same order as Messages().
type Transcript struct {
	mu          sync.Mutex
	messages    []Message
	subscribers map[chan Event]struct{}
	closed      bool
}

// New creates an empty transcript
func New() *Transcript {
	return &Transcript{subscribers: make(map[chan Event]struct{})}
}

// Append adds a message and returns it with ID and timestamp filled in.
// The second result is false when the transcript is closed.
func (t *Transcript) Append(msg Message) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return msg, false
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	t.messages = append(t.messages, msg)
	t.publish(Event{Type: EventAppend, Index: len(t.messages) - 1, Message: msg})
	return msg, true
}

// Say appends a plain message with the given role
func (t *Transcript) Say(role domain.Role, text string) (Message, bool) {
	return t.Append(Message{Role: role, Text: text})
}

// Replace swaps the message with the given ID for msg, keeping its position
func (t *Transcript) Replace(id string, msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	for i := range t.messages {
		if t.messages[i].ID == id {
			msg.ID = id
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = t.messages[i].CreatedAt
			}
			t.messages[i] = msg
			t.publish(Event{Type: EventReplace, Index: i, Message: msg})
			return true
		}
	}
	return false
}

// Messages returns a copy of the transcript
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Last returns the most recent message
func (t *Transcript) Last() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Subscribe returns a channel receiving every future event and a function
// that ends the subscription. Subscribers that fall more than
// subscriberBuffer events behind are dropped and their channel closed.
func (t *Transcript) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subscribers[ch]; ok {
				delete(t.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Close rejects further mutations and ends all subscriptions
func (t *Transcript) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, ch)
	}
}

// Closed reports whether Close has been called
func (t *Transcript) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// publish must be called with mu held
func (t *Transcript) publish(ev Event) {
	for ch := range t.subscribers {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(t.subscribers, ch)
		}
	}
}
