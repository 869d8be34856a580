// Package logsink routes gateway invocation logs to their destinations:
// the request log (console / JSON lines) and PostgreSQL through a batcher.
package logsink

import (
	"context"
	"errors"

	"github.com/oriys/cloudcode/internal/store"
)

// LogSink receives invocation logs. Implementations must be safe for
// concurrent use.
type LogSink interface {
	Save(ctx context.Context, log *store.InvocationLog) error
	SaveBatch(ctx context.Context, logs []*store.InvocationLog) error
	Close() error
}

// InvocationLogWriter is the part of the Postgres store a PostgresSink needs.
type InvocationLogWriter interface {
	SaveInvocationLog(ctx context.Context, log *store.InvocationLog) error
	SaveInvocationLogs(ctx context.Context, logs []*store.InvocationLog) error
}

// PostgresSink writes invocation logs to PostgreSQL.
type PostgresSink struct {
	store InvocationLogWriter
}

// NewPostgresSink creates a LogSink backed by PostgreSQL. Wrap it in a
// Batcher so invocations do not wait on inserts.
func NewPostgresSink(s InvocationLogWriter) *PostgresSink {
	return &PostgresSink{store: s}
}

func (s *PostgresSink) Save(ctx context.Context, log *store.InvocationLog) error {
	return s.store.SaveInvocationLog(ctx, log)
}

func (s *PostgresSink) SaveBatch(ctx context.Context, logs []*store.InvocationLog) error {
	return s.store.SaveInvocationLogs(ctx, logs)
}

// Close is a no-op; the store owns the pool.
func (s *PostgresSink) Close() error { return nil }

// Combine returns a sink writing to every non-nil sink given: a NoopSink
// for none, the sink itself for one, a MultiSink otherwise.
func Combine(sinks ...LogSink) LogSink {
	var live []LogSink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return NewNoopSink()
	case 1:
		return live[0]
	default:
		return &MultiSink{sinks: live}
	}
}

// MultiSink writes every log to all of its sinks. A failing sink does not
// stop the others; errors are joined.
type MultiSink struct {
	sinks []LogSink
}

// NewMultiSink creates a LogSink that writes to all provided sinks.
func NewMultiSink(primary LogSink, secondary ...LogSink) *MultiSink {
	return &MultiSink{sinks: append([]LogSink{primary}, secondary...)}
}

func (m *MultiSink) Save(ctx context.Context, log *store.InvocationLog) error {
	return m.each(func(s LogSink) error { return s.Save(ctx, log) })
}

func (m *MultiSink) SaveBatch(ctx context.Context, logs []*store.InvocationLog) error {
	return m.each(func(s LogSink) error { return s.SaveBatch(ctx, logs) })
}

func (m *MultiSink) Close() error {
	return m.each(LogSink.Close)
}

func (m *MultiSink) each(fn func(LogSink) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopSink discards all logs.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) Save(_ context.Context, _ *store.InvocationLog) error        { return nil }
func (n *NoopSink) SaveBatch(_ context.Context, _ []*store.InvocationLog) error { return nil }
func (n *NoopSink) Close() error                                                { return nil }
