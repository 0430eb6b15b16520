package connection

import "errors"

var (
	// ErrReconnected is returned by Stream.Next when the underlying
	// connection was replaced. The caller must resubscribe.
	ErrReconnected = errors.New("transport reconnected, resubscribe required")

	// ErrTransportFailed is returned by Stream.Next when the connection is
	// gone and no reconnect loop is running to bring it back.
	ErrTransportFailed = errors.New("transport failed")

	// ErrStreamClosed is returned by Stream.Next after the stream has
	// already yielded a terminal error.
	ErrStreamClosed = errors.New("stream closed")

	// ErrCompleted signals that the server completed the subscription.
	ErrCompleted = errors.New("subscription completed by server")
)
