package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tasksync/internal/models"

	"github.com/redis/go-redis/v9"
)

// DeadLetterSink receives queue items that exhausted their retry budget.
type DeadLetterSink interface {
	Push(ctx context.Context, item models.QueueItem, reason string) error
}

type deadLetterEntry struct {
	models.QueueItem
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// RedisDeadLetter publishes permanently failed items to a redis list so
// operators can inspect them without opening the local store.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetter(client *redis.Client, key string) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, key: key}
}

func (d *RedisDeadLetter) Push(ctx context.Context, item models.QueueItem, reason string) error {
	if d == nil || d.client == nil {
		return nil
	}
	data, err := json.Marshal(deadLetterEntry{QueueItem: item, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode deadletter: %w", err)
	}
	if err := d.client.LPush(ctx, d.key, data).Err(); err != nil {
		return fmt.Errorf("deadletter push: %w", err)
	}
	return nil
}
