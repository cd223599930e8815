// Package signing stamps attestation receipts with an HMAC so later
// modification of the id, hash or time is detectable by the secret holder.
// A valid signature says nothing about whether the event itself is true.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SigPrefix tags every signature with its algorithm.
const SigPrefix = "hmacsha256:"

const delimiter = "|"

// ErrEmptySecret is returned when a Signer is built without a key.
var ErrEmptySecret = errors.New("signing secret is required")

// Signer signs and verifies receipt triples for one schema version.
type Signer struct {
	secret        []byte
	schemaVersion string
}

// NewSigner creates a Signer. The secret must be non-empty.
func NewSigner(secret, schemaVersion string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret), schemaVersion: schemaVersion}, nil
}

// SchemaVersion returns the version bound into every signature.
func (s *Signer) SchemaVersion() string { return s.schemaVersion }

// Payload returns the exact string that is MACed.
func Payload(schemaVersion, id, hash, attestedAt string) string {
	return strings.Join([]string{schemaVersion, id, hash, attestedAt}, delimiter)
}

// Sign returns "hmacsha256:<hex>" over the receipt payload.
func (s *Signer) Sign(id, hash, attestedAt string) string {
	return SigPrefix + s.mac(Payload(s.schemaVersion, id, hash, attestedAt))
}

// Verify recomputes the signature and compares in constant time.
func (s *Signer) Verify(id, hash, attestedAt, signature string) bool {
	expected := s.Sign(id, hash, attestedAt)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyVersion checks a signature minted under another schema version,
// e.g. a record written before a version bump.
func (s *Signer) VerifyVersion(schemaVersion, id, hash, attestedAt, signature string) bool {
	expected := SigPrefix + s.mac(Payload(schemaVersion, id, hash, attestedAt))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Signer) mac(payload string) string {
	m := hmac.New(sha256.New, s.secret)
	_, _ = m.Write([]byte(payload))
	return hex.EncodeToString(m.Sum(nil))
}
