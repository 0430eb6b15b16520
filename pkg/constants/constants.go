package constants

import "time"

const (
	// CloseMessageCode is the websocket close code sent on a deliberate disconnect.
	CloseMessageCode = 1000

	// DefaultTimeout bounds a single API request and the realtime handshake.
	DefaultTimeout = 10 * time.Second

	// DefaultPingInterval is how often a keep-alive ping is sent over the
	// realtime connection.
	DefaultPingInterval = 30 * time.Second

	// DefaultKeepAliveTimeout is how long the realtime connection may stay
	// silent before it is considered lost.
	DefaultKeepAliveTimeout = 90 * time.Second

	// MaxReconnectInterval caps the delay between reconnection attempts.
	MaxReconnectInterval = 60 * time.Second
)
