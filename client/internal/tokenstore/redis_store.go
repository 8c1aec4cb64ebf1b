package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token under a single key, shared by every client process that
// points at the same Redis (kiosk and dashboard deployments).
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore returns redis-backed store. A zero ttl keeps the key until cleared.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

func (s *RedisStore) redisKey() string {
	return fmt.Sprintf("client:token:%s", s.key)
}

// Load returns persisted token.
func (s *RedisStore) Load(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.redisKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return token, nil
}

// Save persists token.
func (s *RedisStore) Save(ctx context.Context, token string) error {
	return s.client.Set(ctx, s.redisKey(), token, s.ttl).Err()
}

// Clear removes persisted token.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.redisKey()).Err()
}
