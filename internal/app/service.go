// Package service runs the attestation pipeline behind the HTTP API:
// authenticate, admit, validate, fingerprint, deduplicate, sign, persist.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/eea/internal/adapters/repository"
	"github.com/okian/eea/internal/domain/canonical"
	"github.com/okian/eea/internal/domain/errkind"
	"github.com/okian/eea/internal/domain/event"
	"github.com/okian/eea/internal/domain/ident"
	"github.com/okian/eea/internal/domain/ratelimit"
	"github.com/okian/eea/internal/domain/signing"
	"github.com/okian/eea/internal/domain/tenancy"
	"github.com/okian/eea/internal/domain/validation"
	"github.com/okian/eea/pkg/logger"
	"github.com/okian/eea/pkg/metrics"
)

// DefaultRateLimit is the per-tenant budget used when a key carries none.
const DefaultRateLimit = 60

// attestedAtLayout is RFC 3339 in UTC with millisecond precision.
const attestedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Result is the outcome of a successful Attest call.
type Result struct {
	Record     repository.Record
	Idempotent bool
}

// Service implements the API dependencies for the attestation core.
type Service struct {
	store     *repository.AttestationStore
	registry  *tenancy.Registry
	limiter   *ratelimit.Limiter
	validator *validation.Validator
	signer    *signing.Signer
	ids       *ident.Generator

	defaultRateLimit int
	now              func() time.Time
	logger           logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the attestation store.
func WithStore(store *repository.AttestationStore) Option {
	return func(s *Service) { s.store = store }
}

// WithRegistry sets the API key registry.
func WithRegistry(registry *tenancy.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithLimiter sets the per-tenant rate limiter.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = limiter }
}

// WithValidator sets the event validator.
func WithValidator(validator *validation.Validator) Option {
	return func(s *Service) { s.validator = validator }
}

// WithSigner sets the receipt signer.
func WithSigner(signer *signing.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithIDGenerator sets the attestation ID source.
func WithIDGenerator(ids *ident.Generator) Option {
	return func(s *Service) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithDefaultRateLimit sets the budget for keys without their own limit.
func WithDefaultRateLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.defaultRateLimit = limit
		}
	}
}

// WithClock overrides the time source for attested_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Store, registry, limiter, validator and signer
// are required.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		defaultRateLimit: DefaultRateLimit,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.store == nil:
		return nil, fmt.Errorf("%w: attestation store", ErrMissingDependency)
	case s.registry == nil:
		return nil, fmt.Errorf("%w: key registry", ErrMissingDependency)
	case s.limiter == nil:
		return nil, fmt.Errorf("%w: rate limiter", ErrMissingDependency)
	case s.validator == nil:
		return nil, fmt.Errorf("%w: validator", ErrMissingDependency)
	case s.signer == nil:
		return nil, fmt.Errorf("%w: signer", ErrMissingDependency)
	}
	if s.ids == nil {
		s.ids = ident.NewGenerator(ident.WithClock(s.now))
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	return s, nil
}

// SchemaVersion returns the schema version stamped on new attestations.
func (s *Service) SchemaVersion() string { return s.signer.SchemaVersion() }

// MaxPayloadBytes returns the payload ceiling enforced by validation.
func (s *Service) MaxPayloadBytes() int { return s.validator.MaxPayloadBytes() }

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.now() }

// Authenticate resolves a raw API key to its tenant entry.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (tenancy.Entry, error) {
	const op = "service.authenticate"
	entry, err := s.registry.Authenticate(ctx, rawKey)
	if errors.Is(err, tenancy.ErrUnauthenticated) {
		metrics.RecordAuthFailure()
		return tenancy.Entry{}, errkind.New(op, errkind.Unauthorized, "missing or invalid API key")
	}
	if err != nil {
		return tenancy.Entry{}, errkind.Wrap(op, errkind.Internal, err)
	}
	return entry, nil
}

// Admit charges one request against the tenant's window. The decision is
// returned even when the request is denied so callers can emit headers.
func (s *Service) Admit(ctx context.Context, entry tenancy.Entry) (ratelimit.Decision, error) {
	const op = "service.admit"
	limit := entry.RateLimitPerMin
	if limit <= 0 {
		limit = s.defaultRateLimit
	}
	d, err := s.limiter.CheckAndIncrement(ctx, entry.KeyID, limit)
	if err != nil {
		return ratelimit.Decision{}, errkind.Wrap(op, errkind.Internal, err)
	}
	if !d.Allowed {
		metrics.RecordRateLimited()
		s.logger.Info(ctx, "rate limit exceeded",
			logger.String("key_id", entry.KeyID),
			logger.Int64("limit", d.Limit),
		)
		return d, errkind.New(op, errkind.RateLimited, "rate limit of %d requests per minute exceeded", d.Limit)
	}
	metrics.RecordRateLimitRemaining(d.Remaining)
	return d, nil
}

// Attest runs body through validation and either returns the existing
// attestation for an identical event or mints a new one. Once started it
// runs to completion; cancellation of ctx is ignored, values are kept.
func (s *Service) Attest(ctx context.Context, body []byte) (Result, error) {
	const op = "service.attest"
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ev, err := event.Parse(body)
	if err != nil {
		return Result{}, s.reject(errkind.New(op, errkind.InvalidJSON, "request body is not valid JSON"))
	}
	if err := s.validator.Validate(ev); err != nil {
		return Result{}, s.reject(err)
	}

	canon, _, hash, err := canonical.Fingerprint(ev)
	if err != nil {
		return Result{}, s.reject(errkind.Wrap(op, errkind.Internal, err))
	}

	existing, found, err := s.lookup(ctx, hash)
	if err != nil {
		return Result{}, s.reject(errkind.Wrap(op, errkind.Internal, err))
	}
	if found {
		metrics.RecordIdempotentHit()
		s.logger.Debug(ctx, "idempotent hit",
			logger.String("attestation_id", existing.AttestationID),
			logger.String("event_hash", hash),
		)
		return Result{Record: existing, Idempotent: true}, nil
	}

	id, err := s.ids.New()
	if err != nil {
		return Result{}, s.reject(errkind.Wrap(op, errkind.Internal, err))
	}
	attestedAt := s.now().UTC().Format(attestedAtLayout)
	rec := repository.Record{
		AttestationID:  id,
		SchemaVersion:  s.signer.SchemaVersion(),
		AttestedAt:     attestedAt,
		EventHash:      hash,
		AttestationSig: s.signer.Sign(id, hash, attestedAt),
		CanonicalEvent: canon,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return Result{}, s.reject(errkind.Wrap(op, errkind.Internal, err))
	}

	metrics.RecordMinted()
	metrics.RecordAttestLatency(float64(time.Since(start).Microseconds()) / 1000)
	s.logger.Info(ctx, "attestation minted",
		logger.String("attestation_id", id),
		logger.String("event_hash", hash),
	)
	return Result{Record: rec}, nil
}

// lookup resolves hash to its stored record. An index entry whose record
// is gone counts as a miss.
func (s *Service) lookup(ctx context.Context, hash string) (repository.Record, bool, error) {
	id, err := s.store.GetIDByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Record{}, false, nil
	}
	if err != nil {
		return repository.Record{}, false, err
	}
	rec, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn(ctx, "hash index points at missing record",
			logger.String("attestation_id", id),
			logger.String("event_hash", hash),
		)
		return repository.Record{}, false, nil
	}
	if err != nil {
		return repository.Record{}, false, err
	}
	return rec, true, nil
}

// Fetch returns the attestation stored under id.
func (s *Service) Fetch(ctx context.Context, id string) (repository.Record, error) {
	const op = "service.fetch"
	if !ident.Valid(id) {
		return repository.Record{}, s.reject(errkind.New(op, errkind.NotFound, "attestation not found"))
	}
	rec, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Record{}, s.reject(errkind.New(op, errkind.NotFound, "attestation not found"))
	}
	if err != nil {
		return repository.Record{}, s.reject(errkind.Wrap(op, errkind.Internal, err))
	}
	return rec, nil
}

// Verify reports whether rec's signature matches its fields under this
// service's secret.
func (s *Service) Verify(rec repository.Record) bool {
	return s.signer.VerifyVersion(rec.SchemaVersion, rec.AttestationID, rec.EventHash, rec.AttestedAt, rec.AttestationSig)
}

func (s *Service) reject(err error) error {
	metrics.RecordRejected(string(errkind.CodeOf(err)))
	return err
}
