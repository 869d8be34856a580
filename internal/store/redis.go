package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/cloudcode/internal/domain"
)

const (
	jobEventsKeyPrefix = "cloudcode:job:events:"
	jobChannelPrefix   = "cloudcode:job:channel:"
)

// RedisStatusStream keeps a per-run list of status events and publishes
// each event on a per-run channel, so any instance can replay or follow a
// run started by another.
type RedisStatusStream struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusStream(addr, password string, db int, ttl time.Duration) (*RedisStatusStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStatusStreamFromClient(client, ttl), nil
}

// NewRedisStatusStreamFromClient wraps an existing client.
func NewRedisStatusStreamFromClient(client *redis.Client, ttl time.Duration) *RedisStatusStream {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatusStream{client: client, ttl: ttl}
}

func (s *RedisStatusStream) Close() error {
	return s.client.Close()
}

// Client returns the underlying connection for components sharing it.
func (s *RedisStatusStream) Client() *redis.Client {
	return s.client
}

// Ping checks Redis connectivity
func (s *RedisStatusStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Emit appends ev to the run's history and publishes it.
func (s *RedisStatusStream) Emit(ctx context.Context, ev domain.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}

	key := jobEventsKeyPrefix + ev.RunID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	pipe.Publish(ctx, jobChannelPrefix+ev.RunID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("emit job event: %w", err)
	}
	return nil
}

// History returns the events of a run in emission order.
func (s *RedisStatusStream) History(ctx context.Context, runID string) ([]domain.JobEvent, error) {
	items, err := s.client.LRange(ctx, jobEventsKeyPrefix+runID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load job events: %w", err)
	}
	out := make([]domain.JobEvent, 0, len(items))
	for _, item := range items {
		var ev domain.JobEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode job event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe follows the live events of a run until ctx is done or the
// terminal event arrives. The returned channel is closed when following stops.
func (s *RedisStatusStream) Subscribe(ctx context.Context, runID string) (<-chan domain.JobEvent, error) {
	sub := s.client.Subscribe(ctx, jobChannelPrefix+runID)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe job events: %w", err)
	}

	out := make(chan domain.JobEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}
