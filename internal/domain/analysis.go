package domain

import "strings"

// Suggestion is one ranked remediation returned by error analysis
type Suggestion struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Priority         Priority `json:"priority"`
	ImprovedPrompt   string   `json:"improved_prompt,omitempty"`
	EnvironmentSetup string   `json:"environment_setup,omitempty"`
	AutoFixable      bool     `json:"auto_fixable"`
}

// Badge returns the priority marker shown next to a suggestion
func (s Suggestion) Badge() string {
	switch Priority(strings.ToLower(string(s.Priority))) {
	case PriorityHigh:
		return "[HIGH]"
	case PriorityLow:
		return "[LOW]"
	default:
		return "[MEDIUM]"
	}
}

// ErrorAnalysis is the AI root-cause analysis of a failed run
type ErrorAnalysis struct {
	RootCause        string       `json:"root_cause"`
	Suggestions      []Suggestion `json:"suggestions"`
	RecommendedIndex int          `json:"recommended_index"`
	UserInfoNeeded   []string     `json:"user_info_needed,omitempty"`
}

// Recommended returns the recommended suggestion, falling back to the
// first one when the index is out of range
func (a *ErrorAnalysis) Recommended() (Suggestion, bool) {
	if a == nil || len(a.Suggestions) == 0 {
		return Suggestion{}, false
	}
	if a.RecommendedIndex < 0 || a.RecommendedIndex >= len(a.Suggestions) {
		return a.Suggestions[0], true
	}
	return a.Suggestions[a.RecommendedIndex], true
}

// OfferKind names a recovery gesture offered to the user
type OfferKind string

const (
	OfferAutoFix             OfferKind = "auto_fix"
	OfferRetry               OfferKind = "retry"
	OfferRetryWithSuggestion OfferKind = "retry_with_suggestion"
)

// Offer is a confirmable recovery action attached to a transcript message
type Offer struct {
	Kind   OfferKind `json:"kind"`
	Label  string    `json:"label"`
	TaskID string    `json:"task_id"`
}
