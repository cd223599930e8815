// Package ratelimit enforces per-tenant request budgets in fixed one-minute
// windows.
//
// The counter is read, compared and written back as separate store calls.
// Concurrent requests from one tenant can therefore overshoot the limit by
// a few; the limit is a soft ceiling, not a hard cap.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
)

// Window configuration constants.
const (
	Window     = time.Minute
	counterTTL = 2 * Window
	keyPrefix  = "eea:rl:"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Current   int64
	Limit     int64
	Remaining int64
	// ResetAt is the unix second at which the next window opens.
	ResetAt int64
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int64 {
	secs := d.ResetAt - now.Unix()
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter counts requests per tenant per window.
type Limiter struct {
	kv  kv.Store
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source used to pick the window.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a Limiter over store.
func New(store kv.Store, opts ...Option) *Limiter {
	l := &Limiter{kv: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the limiter's clock reading.
func (l *Limiter) Now() time.Time { return l.now() }

func windowKey(tenantID string, minute int64) string {
	return keyPrefix + tenantID + ":" + strconv.FormatInt(minute, 10)
}

// CheckAndIncrement admits or denies one request for tenantID. Denied
// requests do not consume budget.
func (l *Limiter) CheckAndIncrement(ctx context.Context, tenantID string, limit int) (Decision, error) {
	minute := l.now().Unix() / int64(Window/time.Second)
	key := windowKey(tenantID, minute)
	d := Decision{
		Limit:   int64(limit),
		ResetAt: (minute + 1) * int64(Window/time.Second),
	}

	current, err := l.read(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if current >= d.Limit {
		d.Current = current
		d.Remaining = 0
		return d, nil
	}

	current++
	if err := l.kv.Put(ctx, key, []byte(strconv.FormatInt(current, 10)), counterTTL); err != nil {
		return Decision{}, fmt.Errorf("write rate counter: %w", err)
	}
	d.Allowed = true
	d.Current = current
	d.Remaining = max(0, d.Limit-current)
	return d, nil
}

func (l *Limiter) read(ctx context.Context, key string) (int64, error) {
	b, err := l.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate counter: %w", err)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// A garbled counter restarts the window rather than locking the tenant out.
		return 0, nil
	}
	return n, nil
}
