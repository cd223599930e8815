package tenancy

import "errors"

// Sentinel kinds for key registry errors.
var (
	// ErrUnauthenticated covers missing, unknown, disabled and unreadable
	// keys alike so callers cannot probe registry state.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnknownKey      = errors.New("api key not registered")
	ErrInvalidStatus   = errors.New("invalid api key status")
)
