package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    execution_id TEXT PRIMARY KEY,
    task_id TEXT,
    label TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL REFERENCES runs(execution_id),
    task_id TEXT,
    root_cause TEXT,
    recommended TEXT,
    auto_fixable BOOLEAN DEFAULT FALSE,
    suggestions INTEGER DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_analyses_execution_id ON analyses(execution_id);
`
