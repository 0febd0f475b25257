package sqlite

const schema = `
-- One row per Resolve invocation
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repo_path TEXT NOT NULL,
    base_branch TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'running',
    agent_count INTEGER NOT NULL DEFAULT 0,
    resolved INTEGER NOT NULL DEFAULT 0,
    summary TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

-- One row per candidate patch attempt
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    depth INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    rating INTEGER CHECK(rating IS NULL OR (rating >= 1 AND rating <= 5)),
    commit_ref TEXT NOT NULL DEFAULT '',
    errors_before INTEGER NOT NULL DEFAULT 0,
    errors_after INTEGER NOT NULL DEFAULT 0,
    output_sample TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
`
