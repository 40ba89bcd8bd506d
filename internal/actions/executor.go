package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nick353/Automate-sub000/internal/apiclient"
	"github.com/nick353/Automate-sub000/internal/domain"
)

// ErrNoPendingActions is returned when there is nothing to execute
var ErrNoPendingActions = errors.New("no pending actions")

// API is the action execution boundary
type API interface {
	ExecuteActions(ctx context.Context, actions []domain.PendingAction) (*apiclient.ExecuteActionsResponse, error)
}

// Outcome classifies a finished batch
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// ItemFailure is one action the boundary rejected. Position is 1-based.
type ItemFailure struct {
	Position int
	Action   domain.PendingAction
	Error    string
}

func (f ItemFailure) String() string {
	label := fmt.Sprintf("#%d %s", f.Position, f.Action.Type)
	if name := f.Action.Name(); name != "" {
		label += fmt.Sprintf(" %q", name)
	}
	msg := f.Error
	if msg == "" {
		msg = "failed"
	}
	return label + ": " + msg
}

// Report pairs a batch with the per-action results of executing it
type Report struct {
	Actions      []domain.PendingAction
	Results      []apiclient.ActionResult
	CreatedTasks []domain.Task
	CreatingInfo *domain.CreatingInfo
	Message      string
}

// Failures lists every action reported as unsuccessful. Actions without a
// result entry count as successful.
func (r *Report) Failures() []ItemFailure {
	var out []ItemFailure
	for i, res := range r.Results {
		if res.Success {
			continue
		}
		f := ItemFailure{Position: i + 1, Error: res.Error}
		if i < len(r.Actions) {
			f.Action = r.Actions[i]
		} else {
			f.Action = domain.PendingAction{Type: res.Type, TaskID: res.TaskID}
		}
		out = append(out, f)
	}
	return out
}

// Outcome reports whether every, some or no action succeeded
func (r *Report) Outcome() Outcome {
	failed := len(r.Failures())
	switch {
	case failed == 0:
		return OutcomeSuccess
	case failed >= len(r.Actions):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Summary renders the transcript message for the batch
func (r *Report) Summary() string {
	var b strings.Builder
	failures := r.Failures()
	switch r.Outcome() {
	case OutcomeSuccess:
		fmt.Fprintf(&b, "All %d %s completed.", len(r.Actions), plural(len(r.Actions), "action", "actions"))
		if ci := r.CreatingInfo; ci != nil && ci.Total > 0 {
			fmt.Fprintf(&b, " (%d/%d) created.", ci.Current, ci.Total)
		}
		for _, t := range r.CreatedTasks {
			b.WriteString("\n\n")
			b.WriteString(t.Summary())
		}
		return b.String()
	case OutcomePartial:
		fmt.Fprintf(&b, "%d of %d actions failed:", len(failures), len(r.Actions))
	default:
		fmt.Fprintf(&b, "All %d %s failed:", len(r.Actions), plural(len(r.Actions), "action", "actions"))
	}
	for _, f := range failures {
		b.WriteString("\n  ")
		b.WriteString(f.String())
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Executor submits confirmed batches
type Executor struct {
	api API
}

// NewExecutor creates an executor posting to api
func NewExecutor(api API) *Executor {
	return &Executor{api: api}
}

// Execute validates and submits the batch. A transport error is returned as
// an error; rejected items are reported through the Report.
func (e *Executor) Execute(ctx context.Context, batch *domain.ActionBatch) (*Report, error) {
	if err := Validate(batch); err != nil {
		return nil, err
	}
	resp, err := e.api.ExecuteActions(ctx, batch.Actions)
	if err != nil {
		return nil, fmt.Errorf("execute actions: %w", err)
	}
	return &Report{
		Actions:      batch.Actions,
		Results:      resp.Results,
		CreatedTasks: resp.CreatedTasks,
		CreatingInfo: batch.CreatingInfo,
		Message:      resp.Message,
	}, nil
}
