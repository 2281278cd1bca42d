package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "palskill:library:"

// RedisStore keeps the encoded library document under a single key.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore connects to Redis. library names the key suffix.
func NewRedisStore(ctx context.Context, redisURL, library string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, key: keyPrefix + library, logger: logger}, nil
}

// Load returns the stored library. A missing key is an empty library.
func (s *RedisStore) Load(ctx context.Context) ([]Record, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("library: %s: %w", s.key, err)
	}
	return records, nil
}

// Save overwrites the key with the encoded library.
func (s *RedisStore) Save(ctx context.Context, records []Record) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	s.logger.Debug("skill library saved", zap.String("key", s.key), zap.Int("bytes", len(data)))
	return nil
}

// Close shuts down the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
