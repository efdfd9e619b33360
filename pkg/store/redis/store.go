// Package redis implements store.Backend on a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/llm-immersive/immersive/pkg/store"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "immersive:".
	Prefix string
}

// Store keeps each area's values under "<prefix><area>:<key>".
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Area returns the KV view for one storage area.
func (s *Store) Area(name string) store.KV {
	return &area{s: s, name: name}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

type area struct {
	s    *Store
	name string
}

func (a *area) redisKey(key string) string {
	return a.s.prefix + a.name + ":" + key
}

func (a *area) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := a.s.client.Get(ctx, a.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", a.redisKey(key), err)
	}
	return v, nil
}

func (a *area) Set(ctx context.Context, key string, value []byte) error {
	if err := a.s.client.Set(ctx, a.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", a.redisKey(key), err)
	}
	return nil
}

func (a *area) Delete(ctx context.Context, key string) error {
	if err := a.s.client.Del(ctx, a.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", a.redisKey(key), err)
	}
	return nil
}
