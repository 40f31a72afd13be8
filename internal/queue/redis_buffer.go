package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/models"
)

const (
	defaultQueueKey      = "fulfillment:queue"
	defaultDeadLetterKey = "fulfillment:deadletter"
)

// RedisBuffer keeps scheduled tasks in a Redis list so they are visible
// outside the process. It is a dispatch buffer, not a broker: the local
// drain loop is the only consumer.
type RedisBuffer struct {
	client        *redis.Client
	queueKey      string
	deadLetterKey string
	log           zerolog.Logger
}

func NewRedisBuffer(client *redis.Client, logger *zerolog.Logger) *RedisBuffer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "queue-buffer").Logger()
	}
	return &RedisBuffer{
		client:        client,
		queueKey:      defaultQueueKey,
		deadLetterKey: defaultDeadLetterKey,
		log:           log,
	}
}

func (b *RedisBuffer) Push(ctx context.Context, task *models.AsyncTask) error {
	if b.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.queueKey, data).Err()
}

// PopBatch drains up to n tasks from the list. Entries that fail to decode
// are logged and skipped.
func (b *RedisBuffer) PopBatch(ctx context.Context, n int) []*models.AsyncTask {
	if b.client == nil || n <= 0 {
		return nil
	}

	var tasks []*models.AsyncTask
	for len(tasks) < n {
		raw, err := b.client.RPop(ctx, b.queueKey).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				b.log.Warn().Err(err).Msg("redis pop failed")
			}
			break
		}
		var task models.AsyncTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			b.log.Error().Err(err).Msg("decode buffered task")
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks
}

func (b *RedisBuffer) Len(ctx context.Context) int {
	if b.client == nil {
		return 0
	}
	n, err := b.client.LLen(ctx, b.queueKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// PushDeadLetter mirrors an exhausted task into the inspection list.
func (b *RedisBuffer) PushDeadLetter(ctx context.Context, task *models.AsyncTask) {
	if b.client == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		b.log.Error().Err(err).Str("task_id", task.ID).Msg("encode dead-letter task")
		return
	}
	if err := b.client.LPush(ctx, b.deadLetterKey, data).Err(); err != nil {
		b.log.Error().Err(err).Str("task_id", task.ID).Msg("dead-letter push failed")
	}
}
