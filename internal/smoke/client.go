package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Receipt is the body of a successful POST /attest.
type Receipt struct {
	OK             bool   `json:"ok"`
	AttestationID  string `json:"attestation_id"`
	EventHash      string `json:"event_hash"`
	AttestationSig string `json:"attestation_sig"`
	SchemaVersion  string `json:"schema_version"`
	AttestedAt     string `json:"attested_at"`
	Idempotent     bool   `json:"idempotent"`
}

// Record is the stored attestation returned by GET /attest/{id}.
type Record struct {
	AttestationID  string          `json:"attestation_id"`
	SchemaVersion  string          `json:"schema_version"`
	AttestedAt     string          `json:"attested_at"`
	EventHash      string          `json:"event_hash"`
	AttestationSig string          `json:"attestation_sig"`
	CanonicalEvent json.RawMessage `json:"canonical_event"`
}

type envelope struct {
	OK     bool    `json:"ok"`
	Record *Record `json:"record"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError is a non-success HTTP answer.
type statusError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to one service instance.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// NewClient builds a client. rps <= 0 disables pacing.
func NewClient(baseURL, apiKey string, timeout time.Duration, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	_, err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return err
}

// Attest submits ev and reports the HTTP status alongside the receipt.
func (c *Client) Attest(ctx context.Context, ev Event) (int, Receipt, error) {
	body, err := encodeEvent(ev)
	if err != nil {
		return 0, Receipt{}, err
	}
	var r Receipt
	status, err := c.do(ctx, http.MethodPost, "/attest", body, &r)
	return status, r, err
}

// Fetch loads the stored record for id.
func (c *Client) Fetch(ctx context.Context, id string) (Record, error) {
	var env envelope
	if _, err := c.do(ctx, http.MethodGet, "/attest/"+id, nil, &env); err != nil {
		return Record{}, err
	}
	if env.Record == nil {
		return Record{}, fmt.Errorf("%w: empty record for %s", ErrMismatch, id)
	}
	return *env.Record, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		se := &statusError{Status: resp.StatusCode}
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Error != nil {
			se.Code, se.Message = env.Error.Code, env.Error.Message
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
		return resp.StatusCode, se
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

// encodeEvent writes ev as a JSON object in member order.
func encodeEvent(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range ev {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
