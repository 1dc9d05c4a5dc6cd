package chat

import "errors"

// Sentinel errors for the messaging core. Operations wrap these with %w so
// callers can branch on errors.Is while still seeing the specific reason.
var (
	// ErrNotFound: the referenced conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized: caller is not a participant, or not an admin where
	// one is required. The operation changed nothing.
	ErrUnauthorized = errors.New("not allowed")
	// ErrValidation: malformed content, duplicate reaction, or an invalid
	// membership transition. The operation changed nothing.
	ErrValidation = errors.New("invalid request")
)
