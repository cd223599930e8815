// Package ident mints attestation identifiers: a domain prefix followed by
// a ULID (48-bit millisecond timestamp + 80 random bits, Crockford base-32).
// IDs minted by one Generator sort in creation order as plain strings.
package ident

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefix tags every attestation id.
const Prefix = "eea_"

// Generator mints sortable identifiers. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	lastMS  uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithEntropy overrides the random source. Tests only.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.entropy = ulid.Monotonic(r, 0)
		}
	}
}

// NewGenerator creates a Generator backed by crypto/rand.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New returns a fresh identifier.
func (g *Generator) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(g.now())
	// A wall clock stepping backwards must not break ordering.
	if ms < g.lastMS {
		ms = g.lastMS
	}
	id, err := ulid.New(ms, g.entropy)
	if err != nil {
		return "", err
	}
	g.lastMS = ms
	return Prefix + id.String(), nil
}

// Valid reports whether s looks like an identifier minted by New.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(rest) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

// Time extracts the mint time encoded in a valid identifier.
func Time(s string) (time.Time, bool) {
	if !Valid(s) {
		return time.Time{}, false
	}
	id, err := ulid.ParseStrict(strings.TrimPrefix(s, Prefix))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
