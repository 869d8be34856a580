package logsink

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/store"
)

func TestBatcherFlushesOnSize(t *testing.T) {
	sink := &mockSink{}
	b := newBatcher(sink, 2, time.Hour)

	for _, id := range []string{"a", "b", "c"} {
		_ = b.Save(context.Background(), &store.InvocationLog{ID: id})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() < 2 {
		t.Fatalf("expected a size-triggered flush, got %d logs", sink.count())
	}

	b.Shutdown(time.Second)
	if sink.count() != 3 {
		t.Fatalf("expected final flush to write 3 logs, got %d", sink.count())
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	sink := &mockSink{}
	b := newBatcher(sink, 100, 10*time.Millisecond)
	defer b.Shutdown(time.Second)

	_ = b.Save(context.Background(), &store.InvocationLog{ID: "tick"})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected interval flush, got %d logs", sink.count())
	}
}

func TestBatcherCloseIsIdempotent(t *testing.T) {
	b := NewBatcher(&mockSink{})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b.Shutdown(time.Second)
}

func TestBatcherDropsLogsAfterClose(t *testing.T) {
	sink := &mockSink{}
	b := newBatcher(sink, 10, time.Hour)
	_ = b.Save(context.Background(), &store.InvocationLog{ID: "before"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := b.Save(context.Background(), &store.InvocationLog{ID: "after"}); err != nil {
		t.Fatalf("Save after Close: %v", err)
	}
	_ = b.SaveBatch(context.Background(), []*store.InvocationLog{{ID: "late-1"}, {ID: "late-2"}})
	if sink.count() != 1 {
		t.Fatalf("expected only the pre-close log to be written, got %d", sink.count())
	}
}

func TestBatcherSaveRacesShutdown(t *testing.T) {
	b := newBatcher(&mockSink{}, 10, time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = b.Save(context.Background(), &store.InvocationLog{ID: "r"})
			}
		}()
	}
	b.Shutdown(time.Second)
	wg.Wait()
}

func TestRequestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewRequestLogSink(logging.NewLogger(&buf))

	_ = sink.Save(context.Background(), &store.InvocationLog{ID: "req-9", FunctionName: "getInstallationByObjectId", Success: false, ErrorMessage: "Request failed: not found"})

	if !strings.Contains(buf.String(), "req-9 getInstallationByObjectId") || !strings.Contains(buf.String(), "Request failed: not found") {
		t.Fatalf("unexpected request log %q", buf.String())
	}
}
