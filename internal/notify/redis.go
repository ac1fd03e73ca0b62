package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "sop:notify:"
	pendingPrefix = "sop:notify:pending:"
	// pendingKeep bounds the per-role backlog kept for polling consumers.
	pendingKeep = 1000
)

// RedisNotifier publishes events on a per-role channel and mirrors them into
// a capped per-role list so polling consumers can catch up.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisNotifier{client: client}, nil
}

// NewRedisNotifierWithClient wraps an existing client, mainly for tests.
func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) NotifyRoleHolders(ctx context.Context, event Event) error {
	if event.RaisedAt.IsZero() {
		event.RaisedAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := n.client.Publish(ctx, channelPrefix+event.Role, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	pendingKey := pendingPrefix + event.Role
	pipe := n.client.TxPipeline()
	pipe.RPush(ctx, pendingKey, payload)
	pipe.LTrim(ctx, pendingKey, -pendingKeep, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// Pending returns the queued events for a role, oldest first.
func (n *RedisNotifier) Pending(ctx context.Context, role string) ([]Event, error) {
	raw, err := n.client.LRange(ctx, pendingPrefix+role, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending notifications: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
