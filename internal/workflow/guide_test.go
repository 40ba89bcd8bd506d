package workflow

import (
	"testing"

	"github.com/nick353/Automate-sub000/internal/domain"
)

func TestGuide_CreateAndTest(t *testing.T) {
	g := NewGuide()
	if g.Stage() != domain.StageNone {
		t.Fatalf("initial stage = %s", g.Stage())
	}

	g.ActionsConfirmed(true)
	if g.Stage() != domain.StageCreating {
		t.Fatalf("stage = %s, want creating", g.Stage())
	}

	g.CreationFinished(true, true, "42")
	if g.Stage() != domain.StageTesting || g.TestRun() != "42" {
		t.Fatalf("stage = %s, test run = %q", g.Stage(), g.TestRun())
	}

	if g.RunFinished("41") {
		t.Error("an unrelated run should not end testing")
	}
	if !g.RunFinished("42") {
		t.Error("the test run should end testing")
	}
	if g.Stage() != domain.StageCompleted {
		t.Errorf("stage = %s, want completed", g.Stage())
	}
}

func TestGuide_CreationTransitions(t *testing.T) {
	tests := []struct {
		name          string
		ok            bool
		createAndTest bool
		testRun       string
		want          domain.WorkflowStage
	}{
		{"create only", true, false, "", domain.StageCompleted},
		{"create and test", true, true, "7", domain.StageTesting},
		{"test requested without run", true, true, "", domain.StageCompleted},
		{"creation failed", false, true, "", domain.StageCompleted},
		{"failed creation never tests", false, true, "7", domain.StageCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuide()
			g.ActionsConfirmed(true)
			g.CreationFinished(tt.ok, tt.createAndTest, tt.testRun)
			if g.Stage() != tt.want {
				t.Errorf("stage = %s, want %s", g.Stage(), tt.want)
			}
		})
	}
}

func TestGuide_NonCreateBatchKeepsStage(t *testing.T) {
	g := NewGuide()
	g.ActionsConfirmed(false)
	if g.Stage() != domain.StageNone {
		t.Errorf("stage = %s, want none", g.Stage())
	}
	g.CreationFinished(true, false, "")
	if g.Stage() != domain.StageNone {
		t.Error("CreationFinished outside creating should be ignored")
	}
}

func TestGuide_Editing(t *testing.T) {
	tests := []struct {
		name       string
		start      domain.WorkflowStage
		tasksExist bool
		want       domain.WorkflowStage
	}{
		{"from none without tasks", domain.StageNone, false, domain.StageNone},
		{"from testing with tasks", domain.StageTesting, true, domain.StageCompleted},
		{"from completed", domain.StageCompleted, true, domain.StageCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuide()
			g.Set(tt.start)
			g.EnterEditing()
			if g.Stage() != domain.StageEditing {
				t.Fatalf("stage = %s, want editing", g.Stage())
			}
			g.ExitEditing(tt.tasksExist)
			if g.Stage() != tt.want {
				t.Errorf("stage = %s, want %s", g.Stage(), tt.want)
			}
		})
	}
}

func TestGuide_EditingDropsTestRun(t *testing.T) {
	g := NewGuide()
	g.ActionsConfirmed(true)
	g.CreationFinished(true, true, "42")
	g.EnterEditing()
	if g.RunFinished("42") {
		t.Error("test run should no longer be tracked after editing")
	}
	if g.Stage() != domain.StageEditing {
		t.Errorf("stage = %s", g.Stage())
	}
}

func TestGuide_Subscribe(t *testing.T) {
	g := NewGuide()
	var changes [][2]domain.WorkflowStage
	unsubscribe := g.Subscribe(func(from, to domain.WorkflowStage) {
		changes = append(changes, [2]domain.WorkflowStage{from, to})
	})

	g.ActionsConfirmed(true)
	g.ActionsConfirmed(true)
	g.CreationFinished(true, false, "")
	unsubscribe()
	g.EnterEditing()

	if len(changes) != 2 {
		t.Fatalf("changes = %v, want 2", changes)
	}
	if changes[1] != [2]domain.WorkflowStage{domain.StageCreating, domain.StageCompleted} {
		t.Errorf("changes[1] = %v", changes[1])
	}
}

func TestGuide_Steps(t *testing.T) {
	g := NewGuide()
	for _, s := range g.Steps() {
		if s.State != StepPending {
			t.Errorf("step %s = %s at none", s.Stage, s.State)
		}
	}

	g.Set(domain.StageTesting)
	steps := g.Steps()
	if steps[0].State != StepDone || steps[1].State != StepCurrent || steps[3].State != StepPending {
		t.Errorf("steps = %+v", steps)
	}

	g.Set(domain.StageCompleted)
	for _, s := range g.Steps() {
		if s.State != StepDone {
			t.Errorf("step %s = %s at completed", s.Stage, s.State)
		}
	}
}

func TestGuide_NilSafe(t *testing.T) {
	var g *Guide
	g.ActionsConfirmed(true)
	g.CreationFinished(true, true, "1")
	g.EnterEditing()
	g.ExitEditing(true)
	g.Set(domain.StageCompleted)
	if g.RunFinished("1") {
		t.Error("nil guide RunFinished should return false")
	}
	if g.Stage() != domain.StageNone {
		t.Errorf("nil guide stage = %s", g.Stage())
	}
	g.Subscribe(func(from, to domain.WorkflowStage) {})()
	if len(g.Steps()) != 4 {
		t.Error("nil guide should still render steps")
	}
}
