// Package kv defines the key-value substrate the attestation core persists
// to. There are no cross-key transactions; related writes happen one after
// the other.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent and expired keys alike.
var ErrNotFound = errors.New("kv: key not found")

// Store is a minimal TTL-aware key-value store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes value under key. ttl <= 0 means the entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
