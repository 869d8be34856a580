package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on connect. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		state TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		failed_record TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		params JSONB,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS job_runs_by_job ON job_runs (job, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS invocation_logs (
		id TEXT PRIMARY KEY,
		function_name TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		success BOOLEAN NOT NULL DEFAULT TRUE,
		error_message TEXT,
		upstream_method TEXT,
		upstream_url TEXT,
		upstream_status INTEGER DEFAULT 0,
		input_size INTEGER DEFAULT 0,
		output_size INTEGER DEFAULT 0,
		input JSONB,
		trace_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS invocation_logs_by_time ON invocation_logs (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS invocation_logs_by_function ON invocation_logs (function_name, created_at DESC)`,
}

var errNoPool = errors.New("postgres store is not connected")

// PostgresStore persists job runs and invocation logs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping backs the postgres readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errNoPool
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migrate step %d: %w", i, err)
			}
		}
		return nil
	})
}
