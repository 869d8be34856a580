package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oriys/cloudcode/internal/domain"
)

// StatusSink receives the status messages of job runs.
type StatusSink interface {
	Emit(ctx context.Context, ev domain.JobEvent) error
}

// SinkFunc adapts a function to StatusSink.
type SinkFunc func(ctx context.Context, ev domain.JobEvent) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev domain.JobEvent) error { return f(ctx, ev) }

// MultiSink fans each event out to every sink. All sinks are tried even
// when one fails.
type MultiSink []StatusSink

func (m MultiSink) Emit(ctx context.Context, ev domain.JobEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(_ context.Context, ev domain.JobEvent) error {
	attrs := []any{"run_id", ev.RunID, "job", ev.Job, "processed", ev.Processed}
	switch ev.Kind {
	case domain.EventError:
		s.Logger.Error(ev.Message, attrs...)
	case domain.EventSuccess:
		s.Logger.Info(ev.Message, attrs...)
	default:
		s.Logger.Debug(ev.Message, attrs...)
	}
	return nil
}

// onceTerminal forwards events until the first terminal one and drops
// everything after it.
type onceTerminal struct {
	mu   sync.Mutex
	done bool
	next StatusSink
}

func (o *onceTerminal) Emit(ctx context.Context, ev domain.JobEvent) error {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return nil
	}
	if ev.Terminal() {
		o.done = true
	}
	o.mu.Unlock()
	return o.next.Emit(ctx, ev)
}

func (o *onceTerminal) finished() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// RecordingSink keeps every event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (r *RecordingSink) Emit(_ context.Context, ev domain.JobEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []domain.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobEvent(nil), r.events...)
}
