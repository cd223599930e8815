// Package tenancy resolves API keys to tenant entries and provisions them.
package tenancy

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/eea/internal/adapters/kv"
)

// Key statuses.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

const (
	keyPrefix    = "eea:apikey:"
	rawKeyPrefix = "eea_live_"
	rawKeyBytes  = 16
)

// Entry is the registry record for one API key. The raw key is never stored.
type Entry struct {
	KeyID           string `json:"key_id"`
	Status          string `json:"status"`
	Plan            string `json:"plan"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	CreatedAt       string `json:"created_at"`
}

// Active reports whether the key may be used.
func (e Entry) Active() bool { return e.Status == StatusActive }

// Registry looks up API key entries by the hash of the raw key.
type Registry struct {
	kv  kv.Store
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a Registry over store.
func New(store kv.Store, opts ...Option) *Registry {
	r := &Registry{kv: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HashKey returns the lookup hash for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves rawKey to an active entry. Store failures other than
// a missing key are returned as is.
func (r *Registry) Authenticate(ctx context.Context, rawKey string) (Entry, error) {
	if rawKey == "" {
		return Entry{}, ErrUnauthenticated
	}
	b, err := r.kv.Get(ctx, keyPrefix+HashKey(rawKey))
	if errors.Is(err, kv.ErrNotFound) {
		return Entry{}, ErrUnauthenticated
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup api key: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil || e.KeyID == "" {
		return Entry{}, ErrUnauthenticated
	}
	if !e.Active() {
		return Entry{}, ErrUnauthenticated
	}
	return e, nil
}

// Provision creates an active entry and returns the raw key. The raw key is
// only ever available from this return value.
func (r *Registry) Provision(ctx context.Context, plan string, rateLimitPerMin int) (string, Entry, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", Entry{}, fmt.Errorf("generate api key: %w", err)
	}
	raw := rawKeyPrefix + hex.EncodeToString(buf)

	e := Entry{
		KeyID:           "key_" + uuid.NewString(),
		Status:          StatusActive,
		Plan:            plan,
		RateLimitPerMin: rateLimitPerMin,
		CreatedAt:       r.now().UTC().Format(time.RFC3339),
	}
	if err := r.put(ctx, HashKey(raw), e); err != nil {
		return "", Entry{}, err
	}
	return raw, e, nil
}

// Register stores e under the hash of an externally supplied raw key.
func (r *Registry) Register(ctx context.Context, rawKey string, e Entry) error {
	if rawKey == "" {
		return ErrUnknownKey
	}
	if e.Status != StatusActive && e.Status != StatusDisabled {
		return ErrInvalidStatus
	}
	if e.CreatedAt == "" {
		e.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	return r.put(ctx, HashKey(rawKey), e)
}

// SetStatus changes the status of the entry stored under keyHash.
func (r *Registry) SetStatus(ctx context.Context, keyHash, status string) (Entry, error) {
	if status != StatusActive && status != StatusDisabled {
		return Entry{}, ErrInvalidStatus
	}
	b, err := r.kv.Get(ctx, keyPrefix+keyHash)
	if errors.Is(err, kv.ErrNotFound) {
		return Entry{}, ErrUnknownKey
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup api key: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode api key entry: %w", err)
	}
	e.Status = status
	if err := r.put(ctx, keyHash, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *Registry) put(ctx context.Context, keyHash string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode api key entry: %w", err)
	}
	if err := r.kv.Put(ctx, keyPrefix+keyHash, b, 0); err != nil {
		return fmt.Errorf("store api key entry: %w", err)
	}
	return nil
}
