package repository

import "errors"

// Sentinel kinds for attestation store errors.
var (
	ErrNotFound      = errors.New("attestation not found")
	ErrInvalidRecord = errors.New("invalid attestation record")
)
