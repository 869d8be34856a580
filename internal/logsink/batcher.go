package logsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/store"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultFlushTimeout  = 5 * time.Second
)

// Batcher is a LogSink that buffers logs and writes them to the wrapped
// sink in batches from a background goroutine. Logs arriving while the
// buffer is full are dropped with a warning.
type Batcher struct {
	sink          LogSink
	logger        *slog.Logger
	logs          chan *store.InvocationLog
	flushInterval time.Duration
	batchSize     int
	done          chan struct{}

	// mu guards closed; Save holds it shared so close(logs) cannot race a send.
	mu     sync.RWMutex
	closed bool
}

// NewBatcher starts a batcher writing to sink.
func NewBatcher(sink LogSink) *Batcher {
	return newBatcher(sink, defaultBatchSize, defaultFlushInterval)
}

func newBatcher(sink LogSink, batchSize int, flushInterval time.Duration) *Batcher {
	b := &Batcher{
		sink:          sink,
		logger:        logging.Op(),
		logs:          make(chan *store.InvocationLog, defaultBufferSize),
		flushInterval: flushInterval,
		batchSize:     batchSize,
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

// Save enqueues one log without blocking. Logs saved after Shutdown are
// dropped.
func (b *Batcher) Save(_ context.Context, log *store.InvocationLog) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("dropping invocation log after shutdown", "request_id", log.ID, "function", log.FunctionName)
		return nil
	}
	select {
	case b.logs <- log:
	default:
		b.logger.Warn("dropping invocation log due to full buffer", "request_id", log.ID, "function", log.FunctionName)
	}
	return nil
}

// SaveBatch enqueues every log.
func (b *Batcher) SaveBatch(ctx context.Context, logs []*store.InvocationLog) error {
	for _, log := range logs {
		_ = b.Save(ctx, log)
	}
	return nil
}

// Close flushes pending logs and closes the wrapped sink.
func (b *Batcher) Close() error {
	b.Shutdown(defaultFlushTimeout)
	return b.sink.Close()
}

// Shutdown stops accepting logs and waits up to timeout for the final flush.
func (b *Batcher) Shutdown(timeout time.Duration) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.logs)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for invocation log batcher shutdown", "timeout", timeout)
	}
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]*store.InvocationLog, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
		defer cancel()
		if err := b.sink.SaveBatch(ctx, batch); err != nil {
			b.logger.Warn("failed to persist invocation logs", "error", err, "count", len(batch))
		}
		batch = make([]*store.InvocationLog, 0, b.batchSize)
	}

	for {
		select {
		case log, ok := <-b.logs:
			if !ok {
				flush()
				return
			}
			batch = append(batch, log)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
