package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sanglm2207/my-microservices-app/internal/repository"
)

// RedisStore implements EphemeralStore backed by Redis string keys.
type RedisStore struct {
	client redis.UniversalClient
}

var _ repository.EphemeralStore = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed ephemeral store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Set stores value under key with TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", prefix(key), err)
	}
	return nil
}

// SetNX stores value only when key is absent and reports whether it did.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", prefix(key), err)
	}
	return ok, nil
}

// Get loads the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", prefix(key), err)
	}
	return value, true, nil
}

// GetDel atomically loads and removes key, so concurrent consumers of a
// single-use token see it at most once.
func (s *RedisStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getdel %s: %w", prefix(key), err)
	}
	return value, true, nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", prefix(key), err)
	}
	return n > 0, nil
}

// Del removes keys; missing keys are not an error.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

// prefix keeps token values out of error messages and logs.
func prefix(key string) string {
	if head, _, ok := strings.Cut(key, ":"); ok {
		return head + ":*"
	}
	return "key"
}
