// Package smoke drives a running attestation service end to end: it mints
// a batch of events, resubmits them to prove idempotency, fetches every
// receipt back and optionally checks signatures.
package smoke

import (
	"errors"
	"time"
)

// Default configuration constants.
const (
	DefaultEvents  = 200
	DefaultWorkers = 4
	DefaultRPS     = 50
	DefaultTimeout = 10 * time.Second
	maxAttempts    = 3
)

// ErrMismatch is returned when the service breaks one of its guarantees.
var ErrMismatch = errors.New("smoke: service response mismatch")

// Config holds configuration for a smoke run.
type Config struct {
	BaseURL string        // Base URL of the service
	APIKey  string        // Key sent as x-api-key
	Events  int           // Number of distinct events to mint
	Workers int           // Number of concurrent workers
	RPS     float64       // Request pacing across all workers, <= 0 for unlimited
	Timeout time.Duration // HTTP request timeout
	Seed    uint64        // Generator seed; equal seeds yield equal events

	// Secret and SchemaVersion enable local signature checks when set.
	Secret        string
	SchemaVersion string
}

func (c Config) withDefaults() Config {
	if c.Events <= 0 {
		c.Events = DefaultEvents
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = "1.0.0"
	}
	return c
}

// Stats summarizes a run.
type Stats struct {
	Minted          int
	IdempotentHits  int
	Fetched         int
	SignaturesValid int
	RateLimited     int
	Failed          int
	Mismatches      []string
	Duration        time.Duration
}
