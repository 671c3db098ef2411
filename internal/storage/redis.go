package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"admission/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the audit trail in a Redis list, newest at the head,
// so several admission instances can share one history.
type RedisStorage struct {
	rdb       *redis.Client
	key       string
	maxEvents int
}

// NewRedisStorage connects to the configured Redis server.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStorageWithClient(rdb, config.RedisKey, config.MaxEvents), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(rdb *redis.Client, key string, maxEvents int) *RedisStorage {
	if key == "" {
		key = "admission:events"
	}
	return &RedisStorage{rdb: rdb, key: key, maxEvents: maxEvents}
}

// RecordEvent pushes event onto the list and trims it to the retention cap.
func (rs *RedisStorage) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := rs.rdb.TxPipeline()
	pipe.LPush(ctx, rs.key, payload)
	if rs.maxEvents > 0 {
		pipe.LTrim(ctx, rs.key, 0, int64(rs.maxEvents-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns events matching filter, newest first. Unfiltered
// listings read only the first limit entries; filtered ones scan the list.
func (rs *RedisStorage) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	limit := filter.EffectiveLimit()
	stop := int64(-1)
	if filter.Kind == "" && filter.Subject == "" {
		stop = int64(limit - 1)
	}

	raw, err := rs.rdb.LRange(ctx, rs.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]*models.AuditEvent, 0, min(limit, len(raw)))
	for _, item := range raw {
		var e models.AuditEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if !filter.Matches(&e) {
			continue
		}
		events = append(events, &e)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (rs *RedisStorage) Close() error {
	return rs.rdb.Close()
}
