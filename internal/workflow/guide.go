// Package workflow tracks the advisory create/test/edit/complete progress
// shown to the user. Nothing consults it before acting.
package workflow

import (
	"sync"

	"github.com/nick353/Automate-sub000/internal/domain"
)

// StepState is how a stage appears in the progress indicator
type StepState string

const (
	StepPending StepState = "pending"
	StepCurrent StepState = "current"
	StepDone    StepState = "done"
)

// Step is one entry of the progress indicator
type Step struct {
	Stage domain.WorkflowStage
	Label string
	State StepState
}

var order = []struct {
	stage domain.WorkflowStage
	label string
}{
	{domain.StageCreating, "Create"},
	{domain.StageTesting, "Test"},
	{domain.StageEditing, "Edit"},
	{domain.StageCompleted, "Complete"},
}

// Listener is called after every stage change
type Listener func(from, to domain.WorkflowStage)

// Guide holds the current stage. A nil Guide is valid and stays at none.
type Guide struct {
	mu        sync.Mutex
	stage     domain.WorkflowStage
	testRun   string
	listeners map[int]Listener
	nextID    int
}

// NewGuide creates a guide at stage none
func NewGuide() *Guide {
	return &Guide{listeners: make(map[int]Listener)}
}

// Stage returns the current stage
func (g *Guide) Stage() domain.WorkflowStage {
	if g == nil {
		return domain.StageNone
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stage
}

// TestRun returns the execution id whose terminal status ends testing
func (g *Guide) TestRun() string {
	if g == nil {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.testRun
}

// ActionsConfirmed enters creating when the confirmed batch creates a task
func (g *Guide) ActionsConfirmed(hasCreate bool) {
	if !hasCreate {
		return
	}
	g.transition(func(cur domain.WorkflowStage) (domain.WorkflowStage, bool) {
		return domain.StageCreating, true
	})
}

// CreationFinished leaves creating. A successful create-and-test moves to
// testing and remembers the test run; every other outcome completes,
// failed and partial creations included.
func (g *Guide) CreationFinished(ok, createAndTest bool, testExecutionID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	if g.stage != domain.StageCreating {
		g.mu.Unlock()
		return
	}
	from := g.stage
	if ok && createAndTest && testExecutionID != "" {
		g.stage = domain.StageTesting
		g.testRun = testExecutionID
	} else {
		g.stage = domain.StageCompleted
	}
	to := g.stage
	listeners := g.snapshotListeners()
	g.mu.Unlock()
	notifyAll(listeners, from, to)
}

// RunFinished completes testing when executionID is the tracked test run.
// Success and failure both advance.
func (g *Guide) RunFinished(executionID string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	if g.stage != domain.StageTesting || g.testRun == "" || g.testRun != executionID {
		g.mu.Unlock()
		return false
	}
	g.stage = domain.StageCompleted
	g.testRun = ""
	listeners := g.snapshotListeners()
	g.mu.Unlock()
	notifyAll(listeners, domain.StageTesting, domain.StageCompleted)
	return true
}

// EnterEditing moves to editing from any stage
func (g *Guide) EnterEditing() {
	g.transition(func(cur domain.WorkflowStage) (domain.WorkflowStage, bool) {
		return domain.StageEditing, cur != domain.StageEditing
	})
}

// ExitEditing leaves editing for completed when a task exists, else none
func (g *Guide) ExitEditing(tasksExist bool) {
	g.transition(func(cur domain.WorkflowStage) (domain.WorkflowStage, bool) {
		if cur != domain.StageEditing {
			return cur, false
		}
		if tasksExist {
			return domain.StageCompleted, true
		}
		return domain.StageNone, true
	})
}

// Set jumps straight to stage
func (g *Guide) Set(stage domain.WorkflowStage) {
	g.transition(func(cur domain.WorkflowStage) (domain.WorkflowStage, bool) {
		return stage, cur != stage
	})
}

// Steps renders the progress indicator for the current stage
func (g *Guide) Steps() []Step {
	cur := g.Stage()
	idx := -1
	for i, o := range order {
		if o.stage == cur {
			idx = i
		}
	}
	steps := make([]Step, len(order))
	for i, o := range order {
		state := StepPending
		switch {
		case cur == domain.StageCompleted && i <= idx:
			state = StepDone
		case i < idx:
			state = StepDone
		case i == idx:
			state = StepCurrent
		}
		steps[i] = Step{Stage: o.stage, Label: o.label, State: state}
	}
	return steps
}

// Subscribe registers fn for stage changes and returns a function removing it
func (g *Guide) Subscribe(fn Listener) func() {
	if g == nil {
		return func() {}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

func (g *Guide) transition(next func(cur domain.WorkflowStage) (domain.WorkflowStage, bool)) {
	if g == nil {
		return
	}
	g.mu.Lock()
	from := g.stage
	to, changed := next(from)
	if !changed || to == from {
		g.mu.Unlock()
		return
	}
	g.stage = to
	if to != domain.StageTesting {
		g.testRun = ""
	}
	listeners := g.snapshotListeners()
	g.mu.Unlock()
	notifyAll(listeners, from, to)
}

// snapshotListeners must be called with mu held
func (g *Guide) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(g.listeners))
	for _, fn := range g.listeners {
		out = append(out, fn)
	}
	return out
}

func notifyAll(listeners []Listener, from, to domain.WorkflowStage) {
	for _, fn := range listeners {
		fn(from, to)
	}
}
