// Package runstore keeps a local SQLite ledger of watched runs and the
// analyses produced for them.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nick353/Automate-sub000/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens the ledger at dbPath, creating it if needed
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// watches finish concurrently; one connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a newly launched run
func (s *Store) StartRun(ctx context.Context, rec domain.RunRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = domain.ExecPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, task_id, label, status, error_message, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			task_id = excluded.task_id,
			label = excluded.label,
			status = excluded.status,
			error_message = excluded.error_message,
			finished_at = NULL
	`,
		rec.ExecutionID,
		rec.TaskID,
		rec.Label,
		string(rec.Status),
		rec.ErrorMessage,
		rec.StartedAt,
	)
	return err
}

// FinishRun stores the terminal status of a run. Runs that were never
// started through the ledger are inserted.
func (s *Store) FinishRun(ctx context.Context, executionID string, status domain.ExecutionStatus, errMsg string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE execution_id = ?`,
		string(status), errMsg, now, executionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, status, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`, executionID, string(status), errMsg, now, now)
	return err
}

// GetRun retrieves a run by execution id
func (s *Store) GetRun(ctx context.Context, executionID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, task_id, label, status, error_message, started_at, finished_at
		FROM runs WHERE execution_id = ?
	`, executionID)
	return scanRun(row)
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	TaskID string
	Status domain.ExecutionStatus
	Limit  int
}

// ListRuns returns runs matching opts, newest first
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]*domain.RunRecord, error) {
	query := `SELECT execution_id, task_id, label, status, error_message, started_at, finished_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, opts.TaskID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY started_at DESC, execution_id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AnalysisRecord is the ledger row for an error analysis
type AnalysisRecord struct {
	ExecutionID string
	TaskID      string
	RootCause   string
	Recommended string
	AutoFixable bool
	Suggestions int
	CreatedAt   time.Time
}

// RecordAnalysis stores the summary of an analysis for a run
func (s *Store) RecordAnalysis(ctx context.Context, executionID, taskID string, a *domain.ErrorAnalysis) error {
	if a == nil {
		return nil
	}
	rec, _ := a.Recommended()
	// analyses may arrive for runs watched before the ledger existed
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, task_id, status, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(execution_id) DO NOTHING
	`, executionID, taskID, string(domain.ExecFailed), time.Now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (execution_id, task_id, root_cause, recommended, auto_fixable, suggestions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, executionID, taskID, a.RootCause, rec.Title, rec.AutoFixable, len(a.Suggestions), time.Now())
	return err
}

// Analyses returns the analyses recorded for a run, oldest first
func (s *Store) Analyses(ctx context.Context, executionID string) ([]AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, task_id, root_cause, recommended, auto_fixable, suggestions, created_at
		FROM analyses WHERE execution_id = ? ORDER BY id
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var r AnalysisRecord
		var taskID, rootCause, recommended sql.NullString
		if err := rows.Scan(&r.ExecutionID, &taskID, &rootCause, &recommended, &r.AutoFixable, &r.Suggestions, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.TaskID = taskID.String
		r.RootCause = rootCause.String
		r.Recommended = recommended.String
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var taskID, label, errMsg sql.NullString
	var status string
	var finished sql.NullTime

	if err := row.Scan(&run.ExecutionID, &taskID, &label, &status, &errMsg, &run.StartedAt, &finished); err != nil {
		return nil, err
	}

	run.TaskID = taskID.String
	run.Label = label.String
	run.Status = domain.ExecutionStatus(status)
	run.ErrorMessage = errMsg.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
