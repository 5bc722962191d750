// Package redis stores replayable responses for idempotent requests.
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const keyNamespace = "shop"

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store is a thin namespaced wrapper over a Redis client.
type Store struct {
	cmd   cmdable
	close func() error
}

// New connects to the Redis server at url and verifies it with PING.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Store{cmd: client, close: client.Close}, nil
}

// Key builds a namespaced key from its parts.
func (s *Store) Key(parts ...string) string {
	return keyNamespace + ":" + strings.Join(parts, ":")
}

// Get returns the value at key. ok is false when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	value, err = s.cmd.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return value, true, nil
}

// SetNX stores value at key unless the key already exists.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	set, err := s.cmd.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx %s", key)
	}
	return set, nil
}

// Set stores value at key, replacing any existing value.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.cmd.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Del removes key. Removing a missing key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.cmd.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "del %s", key)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.cmd.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
