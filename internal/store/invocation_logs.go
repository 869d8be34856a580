package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var errMissingLogID = errors.New("invocation log id is required")

const (
	invocationLogColumns = `id, function_name, duration_ms, success, error_message, upstream_method,
		upstream_url, upstream_status, input_size, output_size, input, trace_id, created_at`

	insertInvocationLog = `INSERT INTO invocation_logs (` + invocationLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	selectInvocationLogs = `SELECT id, function_name, duration_ms, success,
			COALESCE(error_message, ''), COALESCE(upstream_method, ''), COALESCE(upstream_url, ''),
			COALESCE(upstream_status, 0), input_size, output_size, input, COALESCE(trace_id, ''), created_at
		FROM invocation_logs
		WHERE $1 = '' OR function_name = $1
		ORDER BY created_at DESC
		LIMIT $2`
)

// row stamps CreatedAt if unset and returns the insert arguments.
func (l *InvocationLog) row() ([]any, error) {
	if l.ID == "" {
		return nil, errMissingLogID
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	return []any{
		l.ID, l.FunctionName, l.DurationMs, l.Success, l.ErrorMessage, l.UpstreamMethod,
		l.UpstreamURL, l.UpstreamStatus, l.InputSize, l.OutputSize, nullJSON(l.Input), l.TraceID, l.CreatedAt,
	}, nil
}

func (s *PostgresStore) SaveInvocationLog(ctx context.Context, log *InvocationLog) error {
	args, err := log.row()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertInvocationLog, args...); err != nil {
		return fmt.Errorf("insert invocation log %s: %w", log.ID, err)
	}
	return nil
}

// SaveInvocationLogs inserts logs in one round trip. Duplicate IDs are ignored.
func (s *PostgresStore) SaveInvocationLogs(ctx context.Context, logs []*InvocationLog) error {
	if len(logs) == 0 {
		return nil
	}
	var batch pgx.Batch
	for _, log := range logs {
		args, err := log.row()
		if err != nil {
			return err
		}
		batch.Queue(insertInvocationLog, args...)
	}
	if err := s.pool.SendBatch(ctx, &batch).Close(); err != nil {
		return fmt.Errorf("insert %d invocation logs: %w", len(logs), err)
	}
	return nil
}

// ListInvocationLogs returns recent logs, newest first. An empty function
// name lists every function.
func (s *PostgresStore) ListInvocationLogs(ctx context.Context, functionName string, limit int) ([]*InvocationLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, selectInvocationLogs, functionName, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocation logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*InvocationLog, error) {
		l := new(InvocationLog)
		err := row.Scan(&l.ID, &l.FunctionName, &l.DurationMs, &l.Success, &l.ErrorMessage, &l.UpstreamMethod,
			&l.UpstreamURL, &l.UpstreamStatus, &l.InputSize, &l.OutputSize, &l.Input, &l.TraceID, &l.CreatedAt)
		return l, err
	})
}
