package config

import (
	"errors"
)

// Errors returned by Load and Validate. Wrapped values keep the failing
// field or source in the message.
var (
	ErrInvalidConfig = errors.New("config: invalid value")
	ErrLoadConfig    = errors.New("config: load failed")
)
