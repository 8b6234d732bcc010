package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "data"

// RedisStream implements Stream over a Redis stream with a consumer
// group. All workers share one group so each record is scored once.
type RedisStream struct {
	client *redis.Client
	key    string
	group  string
	logger *slog.Logger
}

func NewRedisStream(client *redis.Client, key, group string, logger *slog.Logger) *RedisStream {
	return &RedisStream{client: client, key: key, group: group, logger: logger}
}

// EnsureGroup creates the consumer group from the beginning of the
// stream. An already-existing group is fine.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", s.group, s.key, err)
	}
	s.logger.Info("stream consumer group ready", "stream", s.key, "group", s.group)
	return nil
}

func (s *RedisStream) Append(ctx context.Context, payload []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", s.key, err)
	}
	return id, nil
}

func (s *RedisStream) Consume(ctx context.Context, consumer string, count int, block time.Duration) ([]Record, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.key, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from %s: %w", s.key, err)
	}

	var records []Record
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values[payloadField]
			if !ok {
				// Malformed entry: acknowledge so it never redelivers.
				s.logger.Warn("stream entry without payload field, dropping", "id", msg.ID)
				_ = s.Ack(ctx, msg.ID)
				continue
			}
			var payload []byte
			switch v := raw.(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = []byte(fmt.Sprint(v))
			}
			records = append(records, Record{ID: msg.ID, Payload: payload})
		}
	}
	return records, nil
}

func (s *RedisStream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.key, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack on %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStream) PendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, s.key, s.group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("pending on %s: %w", s.key, err)
	}
	return pending.Count, nil
}
