// Package redis is a kv.Store backed by Redis. TTLs map onto native key
// expiry, so expired entries vanish without a sweeper.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	goredis "github.com/redis/go-redis/v9"
)

// Store implements kv.Store on a go-redis client.
type Store struct {
	client    goredis.UniversalClient
	keyPrefix string
	ownClient bool
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New dials addr and returns a Store that owns the client.
func New(addr, password string, db int, opts ...Option) *Store {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	s := NewWithClient(rdb, opts...)
	s.ownClient = true
	return s
}

// NewWithClient wraps an existing client. Close leaves it open.
func NewWithClient(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ kv.Store = (*Store)(nil)

func (s *Store) key(k string) string { return s.keyPrefix + k }

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return b, nil
}

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping implements kv.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close implements kv.Store.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}
