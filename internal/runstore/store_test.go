package runstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nick353/Automate-sub000/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_StartAndFinishRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.StartRun(ctx, domain.RunRecord{
		ExecutionID: "42",
		TaskID:      "3",
		Label:       "test run",
		Status:      domain.ExecRunning,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskID != "3" || got.Label != "test run" || got.Status != domain.ExecRunning {
		t.Errorf("run = %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("running run should have no finish time")
	}

	if err := store.FinishRun(ctx, "42", domain.ExecFailed, "login required"); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetRun(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ExecFailed || got.ErrorMessage != "login required" {
		t.Errorf("run = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("finished run should have a finish time")
	}
}

func TestStore_FinishUnknownRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.FinishRun(ctx, "7", domain.ExecCompleted, ""); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetRun(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ExecCompleted || got.TaskID != "" {
		t.Errorf("run = %+v", got)
	}
}

func TestStore_GetMissingRun(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRun(context.Background(), "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	runs := []domain.RunRecord{
		{ExecutionID: "1", TaskID: "3", Label: "run", StartedAt: base},
		{ExecutionID: "2", TaskID: "3", Label: "retry", StartedAt: base.Add(time.Minute)},
		{ExecutionID: "3", TaskID: "4", Label: "run", StartedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		if err := store.StartRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	store.FinishRun(ctx, "2", domain.ExecFailed, "boom")

	all, err := store.ListRuns(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ExecutionID != "3" {
		t.Errorf("ListRuns() = %d runs, first %s", len(all), all[0].ExecutionID)
	}

	byTask, _ := store.ListRuns(ctx, ListOptions{TaskID: "3"})
	if len(byTask) != 2 {
		t.Errorf("task 3 runs = %d, want 2", len(byTask))
	}

	failed, _ := store.ListRuns(ctx, ListOptions{Status: domain.ExecFailed})
	if len(failed) != 1 || failed[0].ExecutionID != "2" {
		t.Errorf("failed runs = %+v", failed)
	}

	limited, _ := store.ListRuns(ctx, ListOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited runs = %d, want 1", len(limited))
	}
}

func TestStore_RecordAnalysis(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	analysis := &domain.ErrorAnalysis{
		RootCause: "session expired",
		Suggestions: []domain.Suggestion{
			{Title: "Retry later"},
			{Title: "Log in first", AutoFixable: true},
		},
		RecommendedIndex: 1,
	}
	if err := store.RecordAnalysis(ctx, "42", "3", analysis); err != nil {
		t.Fatal(err)
	}

	got, err := store.Analyses(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("analyses = %d, want 1", len(got))
	}
	if got[0].Recommended != "Log in first" || !got[0].AutoFixable || got[0].Suggestions != 2 {
		t.Errorf("analysis = %+v", got[0])
	}

	if _, err := store.GetRun(ctx, "42"); err != nil {
		t.Errorf("analysis should create the run row: %v", err)
	}
	if err := store.RecordAnalysis(ctx, "42", "3", nil); err != nil {
		t.Errorf("nil analysis should be ignored, got %v", err)
	}
}

func TestStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StartRun(context.Background(), domain.RunRecord{ExecutionID: "1"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.GetRun(context.Background(), "1"); err != nil {
		t.Errorf("run not persisted: %v", err)
	}
}
