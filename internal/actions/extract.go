// Package actions pulls pending task actions out of assistant text,
// validates them and hands confirmed batches to the execution boundary.
package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/transcript"
	"gopkg.in/yaml.v3"
)

// Placeholder replaces a message that is nearly empty once its action
// payload is removed
const Placeholder = "I've prepared the actions below. Please review and confirm."

// minCleanedRunes is the shortest cleaned text shown as-is
const minCleanedRunes = 10

var (
	fencePattern  = regexp.MustCompile("(?s)```[ \\t]*(json|yaml|yml)[ \\t]*\\r?\\n(.*?)```")
	inlinePattern = regexp.MustCompile(`\{\s*"(?:actions|creating_info)"\s*:`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Result is the outcome of extraction. Batch is nil when no actions were
// found, in which case Cleaned is the input unchanged.
type Result struct {
	Batch   *domain.ActionBatch
	Cleaned string
}

// Extract looks for an action payload in text. It tries a fenced json or
// yaml block first, then an inline object starting with "actions" or
// "creating_info", then the whole message as one object.
func Extract(text string) Result {
	batch := fromFence(text)
	if batch == nil {
		batch = fromInline(text)
	}
	if batch == nil {
		batch = fromWhole(text)
	}
	if batch == nil {
		return Result{Cleaned: text}
	}
	return Result{Batch: batch, Cleaned: clean(text)}
}

// ExtractMessages cleans every assistant message and returns the batch of
// the latest assistant message that carries one
func ExtractMessages(msgs []transcript.Message) ([]transcript.Message, *domain.ActionBatch) {
	out := make([]transcript.Message, len(msgs))
	var latest *domain.ActionBatch
	for i, msg := range msgs {
		out[i] = msg
		if msg.Role != domain.RoleAssistant {
			continue
		}
		res := Extract(msg.Text)
		if res.Batch != nil {
			out[i].Text = res.Cleaned
			latest = res.Batch
		}
	}
	return out, latest
}

func fromFence(text string) *domain.ActionBatch {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if batch := decodeFence(m[1], m[2]); batch != nil {
			return batch
		}
	}
	return nil
}

func decodeFence(lang, body string) *domain.ActionBatch {
	if lang == "json" {
		return decodeBatch([]byte(body))
	}
	obj, ok := yamlObject(body)
	if !ok {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return decodeBatch(data)
}

func yamlObject(body string) (map[string]any, bool) {
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(body), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func fromInline(text string) *domain.ActionBatch {
	for _, loc := range inlinePattern.FindAllStringIndex(text, -1) {
		end := matchBrace(text, loc[0])
		if end < 0 {
			continue
		}
		if batch := decodeBatch([]byte(text[loc[0]:end])); batch != nil {
			return batch
		}
	}
	return nil
}

func fromWhole(text string) *domain.ActionBatch {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || matchBrace(trimmed, 0) != len(trimmed) {
		return nil
	}
	return decodeBatch([]byte(trimmed))
}

// matchBrace returns the index just past the brace closing the one at
// start, ignoring braces inside JSON strings, or -1
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// decodeBatch decodes a JSON payload and keeps its known actions
func decodeBatch(data []byte) *domain.ActionBatch {
	var payload struct {
		Actions      []map[string]any     `json:"actions"`
		CreatingInfo *domain.CreatingInfo `json:"creating_info"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil
	}

	batch := &domain.ActionBatch{CreatingInfo: payload.CreatingInfo}
	for _, raw := range payload.Actions {
		if a, ok := normalizeAction(raw); ok {
			batch.Actions = append(batch.Actions, a)
		}
	}
	if len(batch.Actions) == 0 {
		return nil
	}
	return batch
}

// normalizeAction drops unknown types and folds the legacy top-level
// task_id, trigger and changes keys into data. The fields of changes are
// merged into data; data wins on conflict.
func normalizeAction(raw map[string]any) (domain.PendingAction, bool) {
	typ, _ := raw["type"].(string)
	a := domain.PendingAction{Type: domain.ActionType(typ)}
	if !a.Type.Known() {
		return a, false
	}

	a.Data, _ = raw["data"].(map[string]any)
	if a.Data == nil {
		a.Data = make(map[string]any)
	}
	if changes, ok := raw["changes"].(map[string]any); ok {
		for k, v := range changes {
			if _, exists := a.Data[k]; !exists {
				a.Data[k] = v
			}
		}
	}
	for _, key := range []string{"task_id", "trigger"} {
		if v, ok := raw[key]; ok && v != nil {
			if _, exists := a.Data[key]; !exists {
				a.Data[key] = v
			}
		}
	}
	a.TaskID = domain.ID(idString(a.Data["task_id"]))
	return a, true
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// clean strips every action payload from text
func clean(text string) string {
	out := fencePattern.ReplaceAllStringFunc(text, func(block string) string {
		m := fencePattern.FindStringSubmatch(block)
		if isPayload(m[1], m[2]) {
			return ""
		}
		return block
	})
	out = stripObjects(out)
	out = strings.TrimSpace(blankRuns.ReplaceAllString(out, "\n\n"))
	if utf8.RuneCountInString(out) < minCleanedRunes {
		return Placeholder
	}
	return out
}

// stripObjects removes every balanced JSON object carrying an actions or
// creating_info key. Objects nested in one that is removed go with it.
func stripObjects(text string) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchBrace(text, i)
		if end < 0 {
			continue
		}
		if isPayload("json", text[i:end]) {
			b.WriteString(text[last:i])
			last = end
			i = end - 1
		}
	}
	b.WriteString(text[last:])
	return b.String()
}

func isPayload(lang, body string) bool {
	var obj map[string]any
	if lang == "json" {
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return false
		}
	} else {
		var ok bool
		if obj, ok = yamlObject(body); !ok {
			return false
		}
	}
	_, hasActions := obj["actions"]
	_, hasInfo := obj["creating_info"]
	return hasActions || hasInfo
}
