package connection

import (
	"context"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

// Stream is one live subscription. It is a single-consumer object: Next
// must not be called concurrently.
//
// Once Next returns a non-nil error other than the caller's context error,
// the stream is finished. Every terminal error tells the caller what to do
// next: ErrReconnected means the connection was replaced and the caller
// should subscribe again, ErrTransportFailed means the connection is gone
// for good, ErrCompleted means the server ended the subscription, and a
// QueryError reports a subscription rejected by the server.
type Stream struct {
	id      string
	ch      <-chan Event
	manager *Manager

	// err is the sticky terminal error; set once, never cleared.
	err error
}

func newStream(id string, ch <-chan Event, m *Manager) *Stream {
	return &Stream{id: id, ch: ch, manager: m}
}

// ID returns the subscription id.
func (s *Stream) ID() string {
	return s.id
}

// Next blocks until the next payload arrives, the subscription terminates,
// or ctx is done. A context error does not terminate a live stream; the
// call can simply be repeated.
func (s *Stream) Next(ctx context.Context) (json.RawMessage, error) {
	if s.err != nil {
		return nil, ErrStreamClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			return nil, s.failConnectionLost(ctx)
		}
		if ev.Err != nil {
			s.err = ev.Err
			return nil, ev.Err
		}
		return extractData(ev.Data), nil
	}
}

// Close ends the subscription without touching the connection. Closing an
// already-terminated stream is a no-op.
func (s *Stream) Close(ctx context.Context) error {
	if s.err != nil {
		return nil
	}
	s.err = ErrStreamClosed

	return s.manager.transport.Complete(ctx, s.id)
}

// failConnectionLost resolves what a closed event channel means for the
// caller. While the reconnection loop is running it waits for the
// replacement connection and reports ErrReconnected, so the caller can
// resubscribe immediately instead of racing the reconnect. With no loop
// running the connection is not coming back.
func (s *Stream) failConnectionLost(ctx context.Context) error {
	ready := s.manager.transport.Ready()

	// Clear only while the connection is actually down. If the loop has
	// already brought a replacement up, the set signal is the new
	// connection's and clearing it would strand the wait below.
	if s.manager.transport.IsClosed() {
		ready.Clear()
	}

	if !s.manager.loopIsRunning() {
		s.err = ErrTransportFailed
		return s.err
	}

	s.manager.logger.Debug("subscription lost its connection, waiting for reconnect", "id", s.id)

	select {
	case <-ready.Wait():
		s.err = ErrReconnected
		return s.err
	case <-ctx.Done():
		s.err = ErrReconnected
		return ctx.Err()
	}
}

// extractData unwraps the data section of an execution result. Payloads
// that do not carry one are passed through as-is.
func extractData(payload json.RawMessage) json.RawMessage {
	data, dataType, _, err := jsonparser.Get(payload, "data")
	if err != nil || dataType == jsonparser.Null {
		return payload
	}
	return data
}
