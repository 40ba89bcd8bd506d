package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// slackExcerptLines caps the log lines quoted in a Slack message
const slackExcerptLines = 5

// SlackNotifier posts run outcomes to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is an incoming-webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the run details under the headline
type SlackAttachment struct {
	Color     string       `json:"color"`
	Fallback  string       `json:"fallback"`
	Title     string       `json:"title,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Text      string       `json:"text,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField is one labelled value of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier for webhookURL. An empty URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SlackColor returns the attachment color for a run outcome
func SlackColor(t NotificationType) string {
	if t == NotifySuccess {
		return "good"
	}
	return "danger"
}

// BuildSlackMessage lays out a run outcome: ids, label and status as short
// fields, then the error and the first lines of the log excerpt
func BuildSlackMessage(n Notification, now time.Time) SlackMessage {
	att := SlackAttachment{
		Color:     SlackColor(n.Type),
		Fallback:  n.Message,
		Footer:    "taskpilot",
		Timestamp: now.Unix(),
	}
	if n.Label != "" {
		att.Title = n.Label
	}

	short := func(title, value string) {
		if value != "" {
			att.Fields = append(att.Fields, SlackField{Title: title, Value: value, Short: true})
		}
	}
	short("Task", n.TaskID)
	short("Execution", n.ExecutionID)
	short("Status", string(n.Status))

	if n.Error != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Error", Value: n.Error})
	}
	if len(n.Excerpt) > 0 {
		lines := n.Excerpt
		if len(lines) > slackExcerptLines {
			lines = lines[:slackExcerptLines]
		}
		att.Text = "```\n" + strings.Join(lines, "\n") + "\n```"
		if more := len(n.Excerpt) - len(lines); more > 0 {
			att.Text += fmt.Sprintf("\n_%d more log lines_", more)
		}
	}

	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(BuildSlackMessage(n, time.Now()))
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
