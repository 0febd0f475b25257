package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/buildfix/internal/types"
)

// timeFormat is fixed-width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// RecordRun inserts a new run. StartedAt defaults to now and Status to running.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *types.ResolutionRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = types.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, repo_path, base_branch, status, agent_count, resolved, summary, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.RepoPath, run.BaseBranch, string(run.Status), run.AgentCount, run.Resolved, run.Summary, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final status, counts and summary of a run
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *types.ResolutionRun) error {
	if run.CompletedAt == nil {
		now := time.Now()
		run.CompletedAt = &now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, agent_count = ?, resolved = ?, summary = ?, completed_at = ?
		WHERE id = ?
	`, string(run.Status), run.AgentCount, run.Resolved, run.Summary, formatTime(*run.CompletedAt), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.ResolutionRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_path, base_branch, status, agent_count, resolved, summary, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.ResolutionRun
	for rows.Next() {
		run := &types.ResolutionRun{}
		var status, startedAt string
		var completedAt sql.NullString

		if err := rows.Scan(&run.ID, &run.RepoPath, &run.BaseBranch, &status, &run.AgentCount,
			&run.Resolved, &run.Summary, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = types.RunStatus(status)
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, err
			}
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// RecordAttempt inserts a patch attempt and populates attempt.ID
func (s *SQLiteStorage) RecordAttempt(ctx context.Context, attempt *types.AttemptRecord) error {
	if err := attempt.Validate(); err != nil {
		return fmt.Errorf("invalid attempt: %w", err)
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	var rating sql.NullInt64
	if attempt.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*attempt.Rating), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (
			run_id, agent_id, file_path, depth, success, rating, commit_ref,
			errors_before, errors_after, output_sample, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, attempt.RunID, attempt.AgentID, attempt.FilePath, attempt.Depth, attempt.Success, rating,
		attempt.CommitRef, attempt.ErrorsBefore, attempt.ErrorsAfter, attempt.OutputSample, formatTime(attempt.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get attempt ID: %w", err)
	}
	attempt.ID = id
	return nil
}

// GetAttempts returns a run's attempts in the order they were recorded
func (s *SQLiteStorage) GetAttempts(ctx context.Context, runID string) ([]*types.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, agent_id, file_path, depth, success, rating, commit_ref,
		       errors_before, errors_after, output_sample, created_at
		FROM attempts
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []*types.AttemptRecord
	for rows.Next() {
		a := &types.AttemptRecord{}
		var rating sql.NullInt64
		var createdAt string

		if err := rows.Scan(&a.ID, &a.RunID, &a.AgentID, &a.FilePath, &a.Depth, &a.Success, &rating,
			&a.CommitRef, &a.ErrorsBefore, &a.ErrorsAfter, &a.OutputSample, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		if rating.Valid {
			r := int(rating.Int64)
			a.Rating = &r
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return attempts, nil
}
