// Package repository persists attestation records and the event hash index
// on top of a kv.Store.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	"github.com/okian/eea/internal/domain/event"
	"github.com/okian/eea/pkg/metrics"
)

// Key layout.
const (
	recordKeyPrefix = "eea:att:"
	hashKeyPrefix   = "eea:hash:"
)

// Record is the durable form of an attestation.
type Record struct {
	AttestationID  string      `json:"attestation_id"`
	SchemaVersion  string      `json:"schema_version"`
	AttestedAt     string      `json:"attested_at"`
	EventHash      string      `json:"event_hash"`
	AttestationSig string      `json:"attestation_sig"`
	CanonicalEvent event.Value `json:"canonical_event"`
}

// AttestationStore maps attestation IDs to records and event hashes to IDs.
type AttestationStore struct {
	kv        kv.Store
	retention time.Duration
}

// New builds an AttestationStore over store.
func New(store kv.Store, opts ...Option) *AttestationStore {
	s := &AttestationStore{
		kv:        store,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the TTL used for writes.
func (s *AttestationStore) Retention() time.Duration { return s.retention }

func recordKey(id string) string { return recordKeyPrefix + id }
func hashKey(hash string) string { return hashKeyPrefix + hash }

// Put writes the record and then the hash index entry. The two writes are
// independent: if the second fails the record exists without an index
// entry, and a retry of the same event will mint a new attestation.
func (s *AttestationStore) Put(ctx context.Context, rec Record) error {
	if rec.AttestationID == "" || rec.EventHash == "" {
		return ErrInvalidRecord
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	start := time.Now()
	if err := s.kv.Put(ctx, recordKey(rec.AttestationID), b, s.retention); err != nil {
		metrics.RecordStoreError("put_record")
		return fmt.Errorf("put record %s: %w", rec.AttestationID, err)
	}
	observe("put_record", start)

	start = time.Now()
	if err := s.kv.Put(ctx, hashKey(rec.EventHash), []byte(rec.AttestationID), s.retention); err != nil {
		metrics.RecordStoreError("put_hash")
		return fmt.Errorf("put hash index %s: %w", rec.EventHash, err)
	}
	observe("put_hash", start)
	return nil
}

// GetByID returns the record for id or ErrNotFound.
func (s *AttestationStore) GetByID(ctx context.Context, id string) (Record, error) {
	start := time.Now()
	b, err := s.kv.Get(ctx, recordKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get_record")
		return Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	observe("get_record", start)

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

// GetIDByHash returns the attestation ID previously minted for hash or
// ErrNotFound.
func (s *AttestationStore) GetIDByHash(ctx context.Context, hash string) (string, error) {
	start := time.Now()
	b, err := s.kv.Get(ctx, hashKey(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get_hash")
		return "", fmt.Errorf("get hash index %s: %w", hash, err)
	}
	observe("get_hash", start)
	return string(b), nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}
