// internal/storage/redis.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the durable Store implementation. Keys are namespaced per
// user so two students never share ledger or draft records.
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStore creates a namespaced store. ttl of zero means no expiry.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisStore) Get(key string) (string, error) {
	val, err := s.client.Get(context.Background(), s.namespaced(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(key, value string) error {
	return s.client.Set(context.Background(), s.namespaced(key), value, s.ttl).Err()
}

func (s *RedisStore) Delete(key string) error {
	return s.client.Del(context.Background(), s.namespaced(key)).Err()
}

func (s *RedisStore) namespaced(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}
