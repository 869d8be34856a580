package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/cloudcode/internal/domain"
)

const jobRunColumns = `id, job, state, processed, message, failed_record, detail, started_at, finished_at`

// CreateJobRun records a new run in the running state.
func (s *PostgresStore) CreateJobRun(ctx context.Context, st *domain.JobStatus, params json.RawMessage) error {
	if st.RunID == "" {
		return fmt.Errorf("job run id is required")
	}
	if st.StartedAt.IsZero() {
		st.StartedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job, state, processed, message, params, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, st.RunID, st.Job, string(st.State), st.Processed, st.Message, nullJSON(params), st.StartedAt)
	if err != nil {
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

// UpdateJobProgress raises the processed count of a running run. Lower
// counts and finished runs are left untouched.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, runID string, processed int, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs SET processed = $2, message = $3
		WHERE id = $1 AND state = 'running' AND processed <= $2
	`, runID, processed, message)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// FinishJobRun stores the terminal status of a run. A run is finished once;
// later calls are no-ops.
func (s *PostgresStore) FinishJobRun(ctx context.Context, st *domain.JobStatus) error {
	finished := time.Now()
	if st.FinishedAt != nil {
		finished = *st.FinishedAt
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET state = $2, processed = GREATEST(processed, $3), message = $4, failed_record = $5, detail = $6, finished_at = $7
		WHERE id = $1 AND state = 'running'
	`, st.RunID, string(st.State), st.Processed, st.Message, st.FailedRecord, st.Detail, finished)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	return nil
}

// GetJobRun returns one run by id.
func (s *PostgresStore) GetJobRun(ctx context.Context, runID string) (*domain.JobStatus, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobRunColumns+` FROM job_runs WHERE id = $1`, runID)
	st, err := scanJobRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job run: %w", err)
	}
	return st, nil
}

// ListJobRuns returns the most recent runs, newest first. An empty job
// name lists runs of every job.
func (s *PostgresStore) ListJobRuns(ctx context.Context, job string, limit int) ([]*domain.JobStatus, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobRunColumns+`
		FROM job_runs
		WHERE $1 = '' OR job = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.JobStatus
	for rows.Next() {
		st, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanJobRun(row pgx.Row) (*domain.JobStatus, error) {
	var (
		st    domain.JobStatus
		state string
	)
	if err := row.Scan(&st.RunID, &st.Job, &state, &st.Processed, &st.Message, &st.FailedRecord, &st.Detail, &st.StartedAt, &st.FinishedAt); err != nil {
		return nil, err
	}
	st.State = domain.JobState(state)
	return &st, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
