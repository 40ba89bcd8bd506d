// Package recovery reacts to failed runs: it asks the analysis service for a
// root cause, offers fixes, and relaunches the task on confirmation.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/nick353/Automate-sub000/internal/apiclient"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/monitor"
	"github.com/nick353/Automate-sub000/internal/transcript"
)

// Labels given to runs launched by the pipeline
const (
	LabelPostFix       = "post-fix retry"
	LabelRetry         = "retry"
	LabelWithSuggested = "retry with suggestion"
)

// DegradedPrompt is shown when no analysis could be produced
const DegradedPrompt = "Retry, or ask me to suggest a fix."

var (
	ErrNoActiveAnalysis = errors.New("no active error analysis")
	ErrNotAutoFixable   = errors.New("recommended suggestion is not auto-fixable")
	ErrNoSuggestion     = errors.New("no free-text suggestion to apply")
	ErrNoTask           = errors.New("task id is required")
)

// API is the part of the task API the pipeline uses
type API interface {
	AnalyzeError(ctx context.Context, req apiclient.AnalyzeRequest) (*apiclient.AnalyzeResponse, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	PatchTask(ctx context.Context, taskID string, fields map[string]any) (*domain.Task, error)
}

// Launcher starts a run of the task and begins watching it
type Launcher func(ctx context.Context, taskID, label string) (domain.RunHandle, error)

// Ledger records analyses
type Ledger interface {
	RecordAnalysis(ctx context.Context, executionID, taskID string, a *domain.ErrorAnalysis) error
}

// Active is the analysis currently offered to the user
type Active struct {
	TaskID      string
	ExecutionID string
	Reason      string
	Analysis    *domain.ErrorAnalysis
	Suggestion  string
	Offers      []domain.Offer
}

// Config wires a Pipeline. Ledger is optional.
type Config struct {
	API        API
	Transcript *transcript.Transcript
	Launch     Launcher
	Ledger     Ledger
}

// Validate checks the config is valid
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("api is required")
	}
	if c.Transcript == nil {
		return fmt.Errorf("transcript is required")
	}
	if c.Launch == nil {
		return fmt.Errorf("launcher is required")
	}
	return nil
}

// Pipeline holds at most one active analysis per session
type Pipeline struct {
	cfg Config

	mu       sync.Mutex
	analyzed map[string]bool
	active   *Active
}

// New creates a recovery pipeline
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, analyzed: make(map[string]bool)}, nil
}

// HandleFailure adapts Analyze to the monitor's failure hook
func (p *Pipeline) HandleFailure(ctx context.Context, f monitor.Failure) {
	p.Analyze(ctx, f.Handle.TaskID, f.Handle.ExecutionID, f.Reason, f.Logs)
}

// Analyze requests a root-cause analysis for a failed run. It runs at most
// once per execution id; later calls for the same run return nil without
// contacting the service. Service failures degrade to a retry offer.
func (p *Pipeline) Analyze(ctx context.Context, taskID, executionID, reason string, logLines []string) *domain.ErrorAnalysis {
	p.mu.Lock()
	if p.analyzed[executionID] {
		p.mu.Unlock()
		return nil
	}
	p.analyzed[executionID] = true
	p.mu.Unlock()

	if logLines == nil {
		logLines = []string{}
	}
	resp, err := p.cfg.API.AnalyzeError(ctx, apiclient.AnalyzeRequest{
		TaskID:      taskID,
		ExecutionID: executionID,
		ErrorReason: reason,
		Logs:        logLines,
	})

	active := &Active{TaskID: taskID, ExecutionID: executionID, Reason: reason}
	switch {
	case err != nil:
		log.Printf("[recovery] analyze execution %s: %v", executionID, err)
		p.degrade(active)
		return nil

	case resp.Analysis != nil && len(resp.Analysis.Suggestions) > 0:
		active.Analysis = resp.Analysis
		if rec, _ := resp.Analysis.Recommended(); rec.AutoFixable {
			active.Offers = append(active.Offers, domain.Offer{Kind: domain.OfferAutoFix, Label: "Apply fix and retry", TaskID: taskID})
		}
		active.Offers = append(active.Offers, domain.Offer{Kind: domain.OfferRetry, Label: "Retry with current settings", TaskID: taskID})
		p.activate(active)
		p.cfg.Transcript.Append(transcript.Message{
			Role:    domain.RoleAssistant,
			Text:    renderAnalysis(reason, resp.Analysis),
			Preview: active.Offers,
		})
		p.record(ctx, executionID, taskID, resp.Analysis)
		return resp.Analysis

	case strings.TrimSpace(resp.Suggestion) != "":
		active.Suggestion = strings.TrimSpace(resp.Suggestion)
		active.Offers = []domain.Offer{
			{Kind: domain.OfferRetry, Label: "Retry with current settings", TaskID: taskID},
			{Kind: domain.OfferRetryWithSuggestion, Label: "Retry with suggestion applied", TaskID: taskID},
		}
		p.activate(active)
		p.cfg.Transcript.Append(transcript.Message{
			Role:    domain.RoleAssistant,
			Text:    fmt.Sprintf("The run failed: %s\nSuggestion: %s", reason, active.Suggestion),
			Preview: active.Offers,
		})
		return nil

	default:
		if resp.Error != "" {
			log.Printf("[recovery] analysis service for execution %s: %s", executionID, resp.Error)
		}
		p.degrade(active)
		return nil
	}
}

func (p *Pipeline) degrade(active *Active) {
	active.Offers = []domain.Offer{{Kind: domain.OfferRetry, Label: "Retry", TaskID: active.TaskID}}
	p.activate(active)
	p.cfg.Transcript.Append(transcript.Message{
		Role:    domain.RoleAssistant,
		Text:    fmt.Sprintf("The run failed: %s\n%s", active.Reason, DegradedPrompt),
		Preview: active.Offers,
	})
}

func (p *Pipeline) activate(a *Active) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = a
}

func (p *Pipeline) record(ctx context.Context, executionID, taskID string, a *domain.ErrorAnalysis) {
	if p.cfg.Ledger == nil {
		return
	}
	if err := p.cfg.Ledger.RecordAnalysis(ctx, executionID, taskID, a); err != nil {
		log.Printf("[recovery] record analysis for %s: %v", executionID, err)
	}
}

// Active returns a copy of the active analysis
func (p *Pipeline) Active() (Active, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return Active{}, false
	}
	a := *p.active
	a.Offers = append([]domain.Offer(nil), p.active.Offers...)
	return a, true
}

// Clear drops the active analysis if it belongs to taskID
func (p *Pipeline) Clear(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && p.active.TaskID == taskID {
		p.active = nil
	}
}

// Dismiss drops the active analysis
func (p *Pipeline) Dismiss() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	had := p.active != nil
	p.active = nil
	return had
}

// take removes and returns the active analysis
func (p *Pipeline) take(check func(*Active) error) (*Active, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil, ErrNoActiveAnalysis
	}
	if check != nil {
		if err := check(p.active); err != nil {
			return nil, err
		}
	}
	a := p.active
	p.active = nil
	return a, nil
}

// ApplyAutoFix patches the task from the recommended suggestion and starts
// a post-fix retry. The analysis is consumed whether or not the retry starts.
func (p *Pipeline) ApplyAutoFix(ctx context.Context) (domain.RunHandle, error) {
	a, err := p.take(func(a *Active) error {
		rec, ok := a.Analysis.Recommended()
		if !ok || !rec.AutoFixable {
			return ErrNotAutoFixable
		}
		return nil
	})
	if err != nil {
		return domain.RunHandle{}, err
	}

	rec, _ := a.Analysis.Recommended()
	fields := map[string]any{}
	if rec.ImprovedPrompt != "" {
		fields["task_prompt"] = rec.ImprovedPrompt
	}
	if rec.EnvironmentSetup != "" {
		fields["environment_setup"] = rec.EnvironmentSetup
	}
	if len(fields) == 0 {
		p.cfg.Transcript.Say(domain.RoleAssistant, fmt.Sprintf("%q has no task changes to apply; retrying task %s.", rec.Title, a.TaskID))
		return p.relaunch(ctx, a.TaskID, LabelPostFix)
	}
	if _, err := p.cfg.API.PatchTask(ctx, a.TaskID, fields); err != nil {
		p.cfg.Transcript.Say(domain.RoleSystem, fmt.Sprintf("Could not apply the fix to task %s: %v", a.TaskID, err))
		return domain.RunHandle{}, fmt.Errorf("patch task %s: %w", a.TaskID, err)
	}
	p.cfg.Transcript.Say(domain.RoleAssistant, fmt.Sprintf("Applied fix %q to task %s.", rec.Title, a.TaskID))
	return p.relaunch(ctx, a.TaskID, LabelPostFix)
}

// Retry relaunches the task with its current settings
func (p *Pipeline) Retry(ctx context.Context, taskID string) (domain.RunHandle, error) {
	if taskID == "" {
		return domain.RunHandle{}, ErrNoTask
	}
	p.Clear(taskID)
	return p.relaunch(ctx, taskID, LabelRetry)
}

// RetryWithSuggestion appends the free-text suggestion to the task prompt
// and relaunches the task
func (p *Pipeline) RetryWithSuggestion(ctx context.Context) (domain.RunHandle, error) {
	a, err := p.take(func(a *Active) error {
		if a.Suggestion == "" {
			return ErrNoSuggestion
		}
		return nil
	})
	if err != nil {
		return domain.RunHandle{}, err
	}

	task, err := p.cfg.API.GetTask(ctx, a.TaskID)
	if err != nil {
		p.cfg.Transcript.Say(domain.RoleSystem, fmt.Sprintf("Could not load task %s: %v", a.TaskID, err))
		return domain.RunHandle{}, fmt.Errorf("get task %s: %w", a.TaskID, err)
	}
	prompt := strings.TrimRight(task.TaskPrompt, "\n")
	if prompt != "" {
		prompt += "\n\n"
	}
	prompt += a.Suggestion
	if _, err := p.cfg.API.PatchTask(ctx, a.TaskID, map[string]any{"task_prompt": prompt}); err != nil {
		p.cfg.Transcript.Say(domain.RoleSystem, fmt.Sprintf("Could not apply the suggestion to task %s: %v", a.TaskID, err))
		return domain.RunHandle{}, fmt.Errorf("patch task %s: %w", a.TaskID, err)
	}
	return p.relaunch(ctx, a.TaskID, LabelWithSuggested)
}

func (p *Pipeline) relaunch(ctx context.Context, taskID, label string) (domain.RunHandle, error) {
	h, err := p.cfg.Launch(ctx, taskID, label)
	if err != nil {
		return domain.RunHandle{}, fmt.Errorf("%s of task %s: %w", label, taskID, err)
	}
	return h, nil
}

// renderAnalysis formats an analysis for the transcript
func renderAnalysis(reason string, a *domain.ErrorAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The run failed: %s\n", reason)
	fmt.Fprintf(&b, "Root cause: %s\n", a.RootCause)
	if len(a.UserInfoNeeded) > 0 {
		b.WriteString("Information needed:\n")
		for _, info := range a.UserInfoNeeded {
			fmt.Fprintf(&b, "  - %s\n", info)
		}
	}
	rec := a.RecommendedIndex
	if rec < 0 || rec >= len(a.Suggestions) {
		rec = 0
	}
	b.WriteString("Suggestions:")
	for i, s := range a.Suggestions {
		fmt.Fprintf(&b, "\n  %d. %s %s", i+1, s.Badge(), s.Title)
		if i == rec {
			b.WriteString(" (recommended)")
		}
		if s.Description != "" {
			fmt.Fprintf(&b, "\n     %s", s.Description)
		}
	}
	return b.String()
}
