package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/cloudcode/internal/domain"
)

// newTestRedisClient creates a Redis client for testing.
// Tests that require a running Redis instance are skipped automatically.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use a separate DB for tests
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisStatusStreamHistory(t *testing.T) {
	s := NewRedisStatusStreamFromClient(newTestRedisClient(t), time.Minute)
	ctx := context.Background()

	events := []domain.JobEvent{
		{RunID: "run-1", Job: "userMigration", Kind: domain.EventProgress, Message: "0 users processed.", Processed: 0},
		{RunID: "run-1", Job: "userMigration", Kind: domain.EventSuccess, Message: "Migration completed successfully.", Processed: 3},
	}
	for _, ev := range events {
		if err := s.Emit(ctx, ev); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	got, err := s.History(ctx, "run-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 || got[0].Message != "0 users processed." || got[1].Kind != domain.EventSuccess {
		t.Fatalf("unexpected history %+v", got)
	}

	ttl := s.client.TTL(ctx, jobEventsKeyPrefix+"run-1").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestRedisStatusStreamSubscribe(t *testing.T) {
	s := NewRedisStatusStreamFromClient(newTestRedisClient(t), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := s.Subscribe(ctx, "run-2")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	go func() {
		_ = s.Emit(ctx, domain.JobEvent{RunID: "run-2", Kind: domain.EventProgress, Message: "0 users processed."})
		_ = s.Emit(ctx, domain.JobEvent{RunID: "run-2", Kind: domain.EventError, Message: "Uh oh, something went wrong."})
	}()

	var got []domain.JobEvent
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 2 || got[1].Kind != domain.EventError {
		t.Fatalf("unexpected events %+v", got)
	}
}
