// Package redis keeps session values in redis, so several hosts can share one session.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/agentmon/internal/apperrors"
)

const defaultPrefix = "agentmon:"

type Config struct {
	// Redis URL, e.g. redis://localhost:6379/0
	URL string

	// Prefix for all keys. If not set than default is used
	Prefix string
}

type Store struct {
	client *redis.Client
	prefix string
}

// New connects to redis and checks connection with PING
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg.Prefix), nil
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, redis.Nil):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", fmt.Errorf("redis error: %w", err)
	}
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.prefix+key)
	}

	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
