// Package connection maintains the shared realtime connection to the
// Voltstream API: it serializes connect attempts, keeps a background
// reconnect loop running once started, and hands out per-query subscription
// streams.
package connection

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Transport owns the raw duplex connection: handshake, keep-alive, loss
// detection. The Manager is the only component that may call Connect and
// Close on it.
type Transport interface {
	// Connect performs the handshake. On success the Ready signal is set.
	Connect(ctx context.Context) error

	// Close deliberately tears the connection down. Any close, deliberate
	// or not, clears the Ready signal.
	Close(ctx context.Context) error

	// SetEndpoint updates the target URL for the next (re)connect. It has
	// no effect on an already-open connection.
	SetEndpoint(url string)

	// Endpoint returns the current target URL, empty until discovered.
	Endpoint() string

	// IsClosed reports whether the connection is currently down, whether it
	// was closed deliberately or dropped externally.
	IsClosed() bool

	// Ready is the signal asserted while the handshake-complete connection
	// is usable.
	Ready() *Signal

	// Subscribe registers a subscription and returns the channel its
	// events are delivered on. The channel is closed when the connection
	// goes away.
	Subscribe(ctx context.Context, id, query string, variables map[string]any) (<-chan Event, error)

	// Complete ends one subscription without touching the connection.
	Complete(ctx context.Context, id string) error
}

// Event is one message delivered to a subscription. Err, when non-nil,
// terminates the subscription.
type Event struct {
	Data json.RawMessage
	Err  error
}

// QueryError is a terminal per-subscription error reported by the server.
type QueryError struct {
	ID      string
	Payload json.RawMessage
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("subscription %s failed: %s", e.ID, string(e.Payload))
}
