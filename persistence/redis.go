package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/nodeflow/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 并发更新冲突时的最大重试次数
const maxWatchRetries = 10

// RedisStore stores each record as a JSON string under one key.
// Updates use WATCH/MULTI so concurrent patches never lose writes.
type RedisStore struct {
	client redis.UniversalClient
	cfg    RedisStoreConfig
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store over a shared client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultStoreConfig().Redis.KeyPrefix
	}
	return &RedisStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "redis_execution_store")),
	}
}

func (s *RedisStore) key(id string) string {
	return s.cfg.KeyPrefix + id
}

// Create implements workflow.RecordStore.
func (s *RedisStore) Create(ctx context.Context, r *workflow.ExecutionResult) (string, error) {
	rec, err := prepare(r)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.ExecutionID), data, s.cfg.TTL).Result()
	if err != nil {
		return "", fmt.Errorf("redis create %s: %w", rec.ExecutionID, err)
	}
	if !ok {
		return "", ErrAlreadyExists
	}
	return rec.ExecutionID, nil
}

// Update implements workflow.RecordStore.
func (s *RedisStore) Update(ctx context.Context, id string, patch workflow.RecordPatch) error {
	key := s.key(id)

	txf := func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return ErrTerminal
		}
		patch.Apply(rec)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal execution: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ttl := s.cfg.TTL
			if ttl > 0 {
				ttl = redis.KeepTTL
			}
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("concurrent update, retrying", zap.String("execution_id", id), zap.Int("attempt", i+1))
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: too many concurrent updates", id)
}

// Get implements workflow.RecordStore.
func (s *RedisStore) Get(ctx context.Context, id string) (*workflow.ExecutionResult, error) {
	return s.load(ctx, s.client, s.key(id))
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c stringGetter, key string) (*workflow.ExecutionResult, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec workflow.ExecutionResult
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &rec, nil
}

// Ping implements ExecutionStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
