package constants

import "errors"

// Errors
var (
	// ErrUserAgentMissing is returned when a client is constructed without a
	// user agent. The API requires one on every request.
	ErrUserAgentMissing = errors.New("user agent not set")

	// ErrEndpointMissing is returned when Connect is called before the
	// subscription endpoint has been discovered and injected.
	ErrEndpointMissing = errors.New("subscription endpoint not initialized")

	// ErrNotStarted is returned when Subscribe is called before Connect.
	ErrNotStarted = errors.New("connect must be called before subscribe")

	ErrIDInUse = errors.New("id already in use")
	ErrClosed  = errors.New("connection closed")
)
