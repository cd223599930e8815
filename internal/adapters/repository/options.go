package repository

import "time"

// DefaultRetention is how long records and hash index entries live.
const DefaultRetention = 30 * 24 * time.Hour

// Option applies a configuration option to the AttestationStore.
type Option func(*AttestationStore)

// WithRetention sets the TTL applied to both record and index writes.
func WithRetention(d time.Duration) Option {
	return func(s *AttestationStore) {
		if d > 0 {
			s.retention = d
		}
	}
}
