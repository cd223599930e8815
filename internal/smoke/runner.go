package smoke

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/eea/internal/domain/signing"
	"github.com/okian/eea/pkg/logger"
)

// Runner executes smoke runs against one service.
type Runner struct {
	cfg    Config
	client *Client
	signer *signing.Signer
	logger logger.Logger

	mu    sync.Mutex
	stats Stats
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithLogger sets a custom logger for the runner.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client, e.g. with an httptest one.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		if c != nil {
			r.client.http = c
		}
	}
}

// New builds a Runner.
func New(cfg Config, opts ...Option) (*Runner, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("smoke: base URL is required")
	}
	r := &Runner{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.RPS),
		logger: logger.Discard(),
	}
	if cfg.Secret != "" {
		s, err := signing.NewSigner(cfg.Secret, cfg.SchemaVersion)
		if err != nil {
			return nil, err
		}
		r.signer = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run mints, resubmits and fetches back cfg.Events events. A non-nil error
// wrapping ErrMismatch means the service answered but broke a guarantee.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	r.stats = Stats{}

	r.logger.Info(ctx, "starting attestation smoke run",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.Int("events", r.cfg.Events),
		logger.Int("workers", r.cfg.Workers),
		logger.Float64("rps", r.cfg.RPS),
		logger.Bool("verifySignatures", r.signer != nil),
	)

	if err := r.client.Health(ctx); err != nil {
		return r.stats, fmt.Errorf("service health check failed: %w", err)
	}

	events := Generate(r.cfg.Events, r.cfg.Seed)
	receipts := make([]Receipt, len(events))
	ok := make([]bool, len(events))

	r.forEach(ctx, len(events), func(i int) {
		status, rec, err := r.attest(ctx, events[i])
		if err != nil {
			r.fail(ctx, "mint", i, err)
			return
		}
		r.mu.Lock()
		if status == http.StatusCreated {
			r.stats.Minted++
		} else {
			r.stats.IdempotentHits++
		}
		r.mu.Unlock()
		receipts[i], ok[i] = rec, true
	})

	r.forEach(ctx, len(events), func(i int) {
		if !ok[i] {
			return
		}
		status, again, err := r.attest(ctx, events[i].Reversed())
		if err != nil {
			r.fail(ctx, "resubmit", i, err)
			return
		}
		switch {
		case status != http.StatusOK || !again.Idempotent:
			r.mismatch("event %d: resubmission returned %d idempotent=%t", i, status, again.Idempotent)
		case again.AttestationID != receipts[i].AttestationID:
			r.mismatch("event %d: resubmission minted %s, first was %s", i, again.AttestationID, receipts[i].AttestationID)
		case again.AttestationSig != receipts[i].AttestationSig:
			r.mismatch("event %d: resubmission signature changed", i)
		default:
			r.mu.Lock()
			r.stats.IdempotentHits++
			r.mu.Unlock()
		}
	})

	r.forEach(ctx, len(events), func(i int) {
		if !ok[i] {
			return
		}
		r.checkStored(ctx, i, receipts[i])
	})

	r.stats.Duration = time.Since(start)
	r.logger.Info(ctx, "smoke run finished",
		logger.Int("minted", r.stats.Minted),
		logger.Int("idempotentHits", r.stats.IdempotentHits),
		logger.Int("fetched", r.stats.Fetched),
		logger.Int("signaturesValid", r.stats.SignaturesValid),
		logger.Int("rateLimited", r.stats.RateLimited),
		logger.Int("failed", r.stats.Failed),
		logger.Int("mismatches", len(r.stats.Mismatches)),
		logger.Duration("duration", r.stats.Duration),
	)

	if err := ctx.Err(); err != nil {
		return r.stats, err
	}
	if len(r.stats.Mismatches) > 0 {
		return r.stats, fmt.Errorf("%w: %d problems, first: %s", ErrMismatch, len(r.stats.Mismatches), r.stats.Mismatches[0])
	}
	if r.stats.Failed > 0 {
		return r.stats, fmt.Errorf("smoke: %d requests failed", r.stats.Failed)
	}
	return r.stats, nil
}

func (r *Runner) checkStored(ctx context.Context, i int, want Receipt) {
	rec, err := r.client.Fetch(ctx, want.AttestationID)
	if err != nil {
		r.fail(ctx, "fetch", i, err)
		return
	}
	r.mu.Lock()
	r.stats.Fetched++
	r.mu.Unlock()

	if rec.AttestationID != want.AttestationID || rec.EventHash != want.EventHash ||
		rec.AttestationSig != want.AttestationSig || rec.AttestedAt != want.AttestedAt {
		r.mismatch("event %d: stored record %s differs from receipt", i, want.AttestationID)
		return
	}
	if r.signer == nil {
		return
	}
	if !r.signer.VerifyVersion(rec.SchemaVersion, rec.AttestationID, rec.EventHash, rec.AttestedAt, rec.AttestationSig) {
		r.mismatch("event %d: signature on %s does not verify", i, rec.AttestationID)
		return
	}
	r.mu.Lock()
	r.stats.SignaturesValid++
	r.mu.Unlock()
}

// attest submits ev, waiting out rate limit denials.
func (r *Runner) attest(ctx context.Context, ev Event) (int, Receipt, error) {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var (
			status int
			rec    Receipt
		)
		status, rec, err = r.client.Attest(ctx, ev)
		var se *statusError
		if !errors.As(err, &se) || se.Status != http.StatusTooManyRequests {
			return status, rec, err
		}
		r.mu.Lock()
		r.stats.RateLimited++
		r.mu.Unlock()

		wait := se.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return 0, Receipt{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return 0, Receipt{}, err
}

// forEach runs fn for 0..n-1 on cfg.Workers goroutines.
func (r *Runner) forEach(ctx context.Context, n int, fn func(i int)) {
	jobs := make(chan int, r.cfg.Workers*2)
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func (r *Runner) fail(ctx context.Context, phase string, i int, err error) {
	r.mu.Lock()
	r.stats.Failed++
	r.mu.Unlock()
	r.logger.Warn(ctx, "request failed",
		logger.String("phase", phase),
		logger.Int("event", i),
		logger.Error(err),
	)
}

func (r *Runner) mismatch(format string, args ...any) {
	r.mu.Lock()
	r.stats.Mismatches = append(r.stats.Mismatches, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}
