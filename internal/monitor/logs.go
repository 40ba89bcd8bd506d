package monitor

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nick353/Automate-sub000/internal/domain"
)

// rawLog is the object form of a log record. step_number arrives as either
// a number or a numeric string.
type rawLog struct {
	Level      string          `json:"level"`
	Message    string          `json:"message"`
	Source     string          `json:"source"`
	StepNumber json.RawMessage `json:"step_number"`
	ActionType string          `json:"action_type"`
	Status     string          `json:"status"`
}

// NormalizeLogs coerces raw log records into LogEntry values, keeping order.
// Records that are neither strings nor objects are rendered as their JSON text.
func NormalizeLogs(raw []json.RawMessage) []domain.LogEntry {
	entries := make([]domain.LogEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, normalizeOne(r))
	}
	return entries
}

func normalizeOne(r json.RawMessage) domain.LogEntry {
	var s string
	if err := json.Unmarshal(r, &s); err == nil {
		return domain.LogEntry{Level: "info", Message: s, Source: "log"}
	}

	var obj rawLog
	if err := json.Unmarshal(r, &obj); err != nil {
		return domain.LogEntry{Level: "info", Message: strings.TrimSpace(string(r)), Source: "log"}
	}

	entry := domain.LogEntry{
		Level:      strings.ToLower(strings.TrimSpace(obj.Level)),
		Message:    obj.Message,
		Source:     obj.Source,
		StepNumber: parseStep(obj.StepNumber),
		ActionType: obj.ActionType,
		Status:     strings.ToLower(obj.Status),
	}
	if entry.Level == "" {
		entry.Level = "info"
	}
	if entry.Source == "" {
		entry.Source = "log"
	}
	return entry
}

func parseStep(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		step := int(n)
		return &step
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if step, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return &step
		}
	}
	return nil
}

var errorLevels = map[string]bool{
	"error":    true,
	"critical": true,
	"fatal":    true,
}

// IsError classifies an entry as an error by level, by a failed status, or
// by a case-insensitive keyword match against the message.
func IsError(e domain.LogEntry, keywords []string) bool {
	if errorLevels[e.Level] || e.Status == "failed" {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(msg, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// BuildExcerpt selects every error entry plus the most recent entries, up to
// limit lines, and renders them in source order. When there are more errors
// than limit, the most recent errors win. Identical lines appear once.
func BuildExcerpt(entries []domain.LogEntry, keywords []string, limit int) []string {
	if limit <= 0 || len(entries) == 0 {
		return nil
	}

	selected := make([]bool, len(entries))
	count := 0
	for i := len(entries) - 1; i >= 0 && count < limit; i-- {
		if IsError(entries[i], keywords) {
			selected[i] = true
			count++
		}
	}
	for i := len(entries) - 1; i >= 0 && count < limit; i-- {
		if !selected[i] {
			selected[i] = true
			count++
		}
	}

	lines := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for i, e := range entries {
		if !selected[i] {
			continue
		}
		line := e.Render()
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	return lines
}
