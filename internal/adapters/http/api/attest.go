package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/eea/internal/adapters/repository"
	"github.com/okian/eea/internal/domain/errkind"
	"github.com/okian/eea/internal/domain/ratelimit"
	"github.com/okian/eea/pkg/logger"
)

// Request and rate limit headers.
const (
	HeaderAPIKey             = "x-api-key"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// AttestHandler serves attestation creation and lookup.
type AttestHandler struct {
	deps         Dependencies
	maxBodyBytes int64
	logger       logger.Logger
}

// NewAttestHandler creates a new attest handler.
func NewAttestHandler(deps Dependencies, maxBodyBytes int64, log logger.Logger) *AttestHandler {
	return &AttestHandler{deps: deps, maxBodyBytes: maxBodyBytes, logger: log}
}

type attestResponse struct {
	OK             bool   `json:"ok"`
	AttestationID  string `json:"attestation_id"`
	EventHash      string `json:"event_hash"`
	AttestationSig string `json:"attestation_sig"`
	SchemaVersion  string `json:"schema_version"`
	AttestedAt     string `json:"attested_at"`
	Idempotent     bool   `json:"idempotent,omitempty"`
}

type recordResponse struct {
	OK     bool              `json:"ok"`
	Record repository.Record `json:"record"`
}

// HandlePostAttest handles POST /attest requests.
func (h *AttestHandler) HandlePostAttest(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_attest"
	// A client hangup must not stop the store writes half way.
	ctx := context.WithoutCancel(r.Context())

	entry, err := h.deps.Authenticate(ctx, r.Header.Get(HeaderAPIKey))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	decision, err := h.deps.Admit(ctx, entry)
	h.setRateHeaders(w, decision, errkind.CodeOf(err) == errkind.RateLimited)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.logger, errkind.New(op, errkind.PayloadTooLarge, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, r, h.logger, errkind.New(op, errkind.InvalidJSON, "request body could not be read"))
		return
	}

	res, err := h.deps.Attest(ctx, body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, attestResponse{
		OK:             true,
		AttestationID:  res.Record.AttestationID,
		EventHash:      res.Record.EventHash,
		AttestationSig: res.Record.AttestationSig,
		SchemaVersion:  res.Record.SchemaVersion,
		AttestedAt:     res.Record.AttestedAt,
		Idempotent:     res.Idempotent,
	})
}

// HandleGetAttest handles GET /attest/{id} requests. Lookups are
// authenticated but not rate limited.
func (h *AttestHandler) HandleGetAttest(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if _, err := h.deps.Authenticate(ctx, r.Header.Get(HeaderAPIKey)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, err := h.deps.Fetch(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{OK: true, Record: rec})
}

func (h *AttestHandler) setRateHeaders(w http.ResponseWriter, d ratelimit.Decision, denied bool) {
	if d.Limit <= 0 {
		return
	}
	hdr := w.Header()
	hdr.Set(HeaderRateLimitLimit, strconv.FormatInt(d.Limit, 10))
	hdr.Set(HeaderRateLimitRemaining, strconv.FormatInt(d.Remaining, 10))
	hdr.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt, 10))
	if denied {
		hdr.Set(HeaderRetryAfter, strconv.FormatInt(d.RetryAfter(h.deps.Now()), 10))
	}
}
