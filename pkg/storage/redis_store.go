package storage

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore wraps a go-redis client and satisfies the Store interface.
type RedisStore struct {
	c      *goredis.Client
	prefix string
}

// NewRedisStore creates a RedisStore from a go-redis Client. Keys are
// namespaced under prefix.
func NewRedisStore(c *goredis.Client, prefix string) *RedisStore {
	return &RedisStore{c: c, prefix: prefix}
}

// DialRedis parses a redis:// URL and returns a store on a new client.
func DialRedis(url, prefix string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(goredis.NewClient(opts), prefix), nil
}

// Read fetches the blob stored under key.
func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.c.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Write stores value under key without expiry.
func (s *RedisStore) Write(ctx context.Context, key string, value []byte) error {
	if err := s.c.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.c.Close()
}
