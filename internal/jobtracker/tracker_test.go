package jobtracker

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/cloudcode/internal/domain"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Start("run-1", "userMigration")
	ctx := context.Background()
	_ = tr.Emit(ctx, domain.JobEvent{RunID: "run-1", Kind: domain.EventProgress, Message: "0 users processed.", Processed: 0})
	_ = tr.Emit(ctx, domain.JobEvent{RunID: "run-1", Kind: domain.EventProgress, Message: "100 users processed.", Processed: 100})

	st := tr.Get("run-1")
	if st == nil || st.State != domain.JobRunning || st.Processed != 100 {
		t.Fatalf("unexpected status %+v", st)
	}

	_ = tr.Emit(ctx, domain.JobEvent{RunID: "run-1", Kind: domain.EventSuccess, Message: "Migration completed successfully.", Processed: 250})
	st = tr.Get("run-1")
	if st.State != domain.JobSucceeded || st.Processed != 250 || st.FinishedAt == nil {
		t.Fatalf("unexpected terminal status %+v", st)
	}

	// Terminal state is final.
	_ = tr.Emit(ctx, domain.JobEvent{RunID: "run-1", Kind: domain.EventError, Message: "late"})
	if st := tr.Get("run-1"); st.State != domain.JobSucceeded {
		t.Fatalf("terminal state changed: %+v", st)
	}
}

func TestTrackerProcessedNeverDecreases(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Start("run-1", "userMigration")
	_ = tr.Emit(context.Background(), domain.JobEvent{RunID: "run-1", Kind: domain.EventProgress, Processed: 200})
	_ = tr.Emit(context.Background(), domain.JobEvent{RunID: "run-1", Kind: domain.EventProgress, Processed: 100})

	if got := tr.Get("run-1").Processed; got != 200 {
		t.Fatalf("expected 200, got %d", got)
	}
}

func TestTrackerFinishKeepsDetail(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Start("run-1", "userMigration")
	tr.Finish(domain.JobStatus{RunID: "run-1", Job: "userMigration", State: domain.JobFailed, Processed: 36, Message: "Uh oh, something went wrong.", FailedRecord: "u036"})

	st := tr.Get("run-1")
	if st.FailedRecord != "u036" || st.State != domain.JobFailed {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestTrackerUnknownRun(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	if tr.Get("missing") != nil {
		t.Fatal("expected nil for unknown run")
	}
	if !tr.IsStale("missing", time.Second) {
		t.Fatal("unknown run should be stale")
	}
	if err := tr.Emit(context.Background(), domain.JobEvent{RunID: "missing"}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTrackerCleanupDropsExpired(t *testing.T) {
	tr := New(time.Minute)
	defer tr.Close()

	tr.Start("old", "userMigration")
	tr.Start("new", "userMigration")
	tr.cleanup(time.Now().Add(2 * time.Minute))

	if len(tr.List()) != 0 {
		t.Fatalf("expected all entries expired, got %d", len(tr.List()))
	}
}
