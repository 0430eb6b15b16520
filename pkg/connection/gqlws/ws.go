// Package gqlws implements the graphql-transport-ws client protocol on a
// gorilla websocket: handshake, keep-alive, and per-subscription event
// delivery.
package gqlws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/goccy/go-json"

	"github.com/voltstream/voltstream.go/pkg/connection"
	"github.com/voltstream/voltstream.go/pkg/constants"
	"github.com/voltstream/voltstream.go/pkg/logger"
)

// DefaultDialer is the default gorilla dialer used by the Connection.
//
// It uses the default gorilla dialer as of gorilla/websocket v1.5.0 with the following modifications:
// - EnableCompression is set to true
// - Subprotocols is set to ["graphql-transport-ws"]
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{Subprotocol},
}

const (
	// StateUnknown indicates that the connection state is unknown.
	//
	// This is intentionally the zero value, so that it can serve as an
	// indicator that the Connection was initialized in an unexpected way.
	StateUnknown State = iota
	// StatePending is the initial state before the first Connect call.
	StatePending
	// StateConnecting indicates that the handshake is in progress.
	StateConnecting
	// StateConnected indicates that the connection is acknowledged and usable.
	StateConnected
	// StateDisconnecting indicates a deliberate close in progress.
	StateDisconnecting
	// StateDisconnected indicates that the connection is down, whether it
	// was closed deliberately or dropped by the server or the network.
	StateDisconnected
)

// State represents the state of the websocket connection.
//
// We assume the following state transitions:
//
//	StatePending
//	  -> StateConnecting (Initial connection attempt)
//
//	StateConnecting
//	  -> StateConnected (Acknowledged handshake)
//	  -> StateDisconnected (Failed connection attempt)
//
//	StateConnected
//	  -> StateDisconnecting (Deliberate close)
//	  -> StateDisconnected (Dropped by an error or keep-alive expiry)
//
//	StateDisconnecting
//	  -> StateDisconnected (Close completed)
//
//	StateDisconnected
//	  -> StateConnecting (Reconnection attempt)
//
// Any other transitions are considered invalid.
type State int

// Config configures a Connection.
type Config struct {
	// Endpoint is the websocket URL. It is usually left empty and injected
	// later via SetEndpoint once the API has been asked for it.
	Endpoint string

	// AccessToken is sent in the connection_init payload.
	AccessToken string

	// UserAgent is sent as the User-Agent header on the upgrade request.
	UserAgent string

	// PingInterval is how often a ping frame is sent on an idle
	// connection. Defaults to constants.DefaultPingInterval.
	PingInterval time.Duration

	// KeepAliveTimeout is how long the connection may stay silent before
	// it is considered dead. Defaults to constants.DefaultKeepAliveTimeout.
	KeepAliveTimeout time.Duration

	// EventBufferSize is the capacity of each subscription's event
	// channel. Defaults to 100. Events beyond a full buffer are dropped.
	EventBufferSize int

	// OnClose, when set, is invoked once per socket cycle after teardown,
	// whether the close was deliberate or not.
	OnClose func()

	// Dialer defaults to DefaultDialer.
	Dialer *gorilla.Dialer

	Logger logger.Logger
}

// Connection is a single graphql-transport-ws websocket session. It
// implements connection.Transport.
//
// A Connection survives its underlying socket: after a drop, Connect may be
// called again and existing state (endpoint, credentials) is reused. Event
// channels do not survive a drop; subscribers observe the closed channel
// and resubscribe.
type Connection struct {
	Conn *gorilla.Conn

	// connLock guards Conn and serializes frame writes. It is held only
	// for individual reads or writes, never across the whole handshake.
	connLock sync.Mutex

	// stateLock guards state. It is separate from connLock so that
	// goroutines probing a failed connection get their answer immediately
	// instead of waiting behind a slow handshake.
	stateLock sync.RWMutex
	state     State

	endpointMu sync.RWMutex
	endpoint   string

	token     string
	userAgent string

	pingInterval     time.Duration
	keepAliveTimeout time.Duration
	bufSize          int

	subsMu sync.RWMutex
	subs   map[string]chan connection.Event

	// connCloseCh and closeOnce belong to the current socket cycle; both
	// are replaced on every successful Connect.
	connCloseCh chan struct{}
	closeOnce   *sync.Once

	ready   *connection.Signal
	onClose func()

	dialer *gorilla.Dialer
	logger logger.Logger
}

var _ connection.Transport = (*Connection)(nil)

// New creates a Connection. It does not dial; call Connect.
func New(cfg *Config) *Connection {
	ws := &Connection{
		endpoint:         cfg.Endpoint,
		token:            cfg.AccessToken,
		userAgent:        cfg.UserAgent,
		pingInterval:     cfg.PingInterval,
		keepAliveTimeout: cfg.KeepAliveTimeout,
		bufSize:          cfg.EventBufferSize,
		subs:             make(map[string]chan connection.Event),
		ready:            connection.NewSignal(),
		onClose:          cfg.OnClose,
		dialer:           cfg.Dialer,
		logger:           cfg.Logger,
		state:            StatePending,
	}
	if ws.pingInterval <= 0 {
		ws.pingInterval = constants.DefaultPingInterval
	}
	if ws.keepAliveTimeout <= 0 {
		ws.keepAliveTimeout = constants.DefaultKeepAliveTimeout
	}
	if ws.bufSize <= 0 {
		ws.bufSize = 100
	}
	if ws.dialer == nil {
		ws.dialer = DefaultDialer
	}
	if ws.logger == nil {
		ws.logger = logger.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return ws
}

// SetEndpoint updates the websocket URL used by the next Connect.
func (ws *Connection) SetEndpoint(url string) {
	ws.endpointMu.Lock()
	defer ws.endpointMu.Unlock()
	ws.endpoint = url
}

// Endpoint returns the websocket URL, empty until configured.
func (ws *Connection) Endpoint() string {
	ws.endpointMu.RLock()
	defer ws.endpointMu.RUnlock()
	return ws.endpoint
}

// IsClosed checks if the websocket connection is disconnected. This is
// what the reconnection loop polls to decide whether to redial.
func (ws *Connection) IsClosed() bool {
	ws.stateLock.RLock()
	defer ws.stateLock.RUnlock()

	return ws.state == StateDisconnected
}

// Ready implements connection.Transport.
func (ws *Connection) Ready() *connection.Signal {
	return ws.ready
}

func (ws *Connection) transitionToConnecting() error {
	ws.stateLock.Lock()
	defer ws.stateLock.Unlock()

	switch ws.state {
	case StateConnected:
		ws.logger.Debug("connection is already connected, skipping")
		return errors.New("connection is already connected")
	case StateConnecting:
		ws.logger.Debug("connection is already connecting, skipping")
		return errors.New("connection is already connecting")
	case StateDisconnected:
		ws.logger.Debug("connection is disconnected, trying to reconnect")
	case StatePending:
		ws.logger.Debug("connection is pending, trying to connect")
	default:
		ws.logger.Warn("BUG: connection is in an unknown state, trying to connect anyway",
			"state", ws.state,
		)
	}

	ws.state = StateConnecting

	return nil
}

func (ws *Connection) transitionToDisconnecting() error {
	ws.stateLock.Lock()
	defer ws.stateLock.Unlock()

	switch ws.state {
	case StateConnected:
		ws.logger.Debug("connection is connected, trying to disconnect")
	case StateConnecting:
		return errors.New("connection is connecting, cannot disconnect")
	case StateDisconnected:
		return errors.New("connection is already disconnected")
	case StatePending:
		return errors.New("connection is pending, no need to disconnect")
	default:
		ws.logger.Warn("BUG: connection is in an unknown state, nothing to do",
			"state", ws.state,
		)
		return errors.New("connection is in an unknown state, nothing to do")
	}

	ws.state = StateDisconnecting

	return nil
}

// Connect dials the endpoint, performs the connection_init handshake, and
// starts the read and keep-alive goroutines. On success the Ready signal
// is set.
func (ws *Connection) Connect(ctx context.Context) error {
	if err := ws.transitionToConnecting(); err != nil {
		return err
	}

	if err := ws.connect(ctx); err != nil {
		ws.stateLock.Lock()
		ws.state = StateDisconnected
		ws.stateLock.Unlock()
		ws.logger.Error("failed to connect", "error", err)
		return err
	}

	ws.stateLock.Lock()
	ws.state = StateConnected
	ws.stateLock.Unlock()

	ws.ready.Set()
	ws.logger.Debug("connection is acknowledged and ready")

	return nil
}

// connect performs the dial and handshake. Callers must have transitioned
// to StateConnecting first, which prevents concurrent attempts.
func (ws *Connection) connect(ctx context.Context) error {
	header := http.Header{}
	if ws.userAgent != "" {
		header.Set("User-Agent", ws.userAgent)
	}

	conn, res, err := ws.dialer.DialContext(ctx, ws.Endpoint(), header)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := ws.handshake(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	closeCh := make(chan struct{})
	once := &sync.Once{}

	ws.connLock.Lock()
	ws.Conn = conn
	ws.connCloseCh = closeCh
	ws.closeOnce = once
	ws.connLock.Unlock()

	go ws.readLoop(conn, closeCh, once)
	go ws.pingLoop(conn, closeCh)

	return nil
}

// handshake sends connection_init and waits for connection_ack. Ping
// frames arriving before the ack are answered; anything else is a protocol
// violation.
func (ws *Connection) handshake(ctx context.Context, conn *gorilla.Conn) error {
	payload, err := json.Marshal(InitPayload{Token: ws.token})
	if err != nil {
		return fmt.Errorf("marshaling init payload: %w", err)
	}

	init, err := json.Marshal(Message{Type: MessageTypeConnectionInit, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshaling init message: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
	}

	if err := conn.WriteMessage(gorilla.TextMessage, init); err != nil {
		return fmt.Errorf("sending connection_init: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("awaiting connection_ack: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decoding handshake message: %w", err)
		}

		switch msg.Type {
		case MessageTypeConnectionAck:
			if err := conn.SetWriteDeadline(time.Time{}); err != nil {
				return err
			}
			return nil
		case MessageTypePing:
			pong, _ := json.Marshal(Message{Type: MessageTypePong})
			if err := conn.WriteMessage(gorilla.TextMessage, pong); err != nil {
				return fmt.Errorf("answering ping during handshake: %w", err)
			}
		default:
			return fmt.Errorf("expected connection_ack, got %q", msg.Type)
		}
	}
}

// Close deliberately closes the websocket connection.
//
// The context bounds the close message write. If it expires, the socket is
// torn down anyway; the server just doesn't get a clean goodbye.
func (ws *Connection) Close(ctx context.Context) error {
	if err := ws.transitionToDisconnecting(); err != nil {
		return err
	}

	ws.connLock.Lock()
	conn := ws.Conn
	closeCh := ws.connCloseCh
	once := ws.closeOnce
	ws.Conn = nil
	ws.connLock.Unlock()

	if conn == nil {
		ws.stateLock.Lock()
		ws.state = StateDisconnected
		ws.stateLock.Unlock()
		return nil
	}

	// Phase 1: try to send the close message so the server knows this is
	// deliberate. A failed write is logged, not returned; the local
	// teardown happens regardless.
	writeErr := make(chan error, 1)

	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- fmt.Errorf("BUG: Close: failed to set write deadline: %w", err)
				return
			}
		}

		err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))

		select {
		case writeErr <- err:
		case <-ctx.Done():
		}
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			ws.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: tear down the local resources. conn.Close is instantaneous,
	// so the context no longer matters.
	ws.teardownCycle(conn, closeCh, once)

	return nil
}

// teardownCycle retires one socket cycle: it stops the keep-alive loop,
// closes the socket and every subscription channel, clears the Ready
// signal, and marks the connection disconnected. Safe to call from both
// the read loop and Close; the per-cycle once makes the second call a
// no-op.
func (ws *Connection) teardownCycle(conn *gorilla.Conn, closeCh chan struct{}, once *sync.Once) {
	once.Do(func() {
		close(closeCh)

		if err := conn.Close(); err != nil {
			ws.logger.Debug("closing websocket", "error", err)
		}

		ws.subsMu.Lock()
		for id, ch := range ws.subs {
			delete(ws.subs, id)
			close(ch)
		}
		ws.subsMu.Unlock()

		ws.ready.Clear()

		ws.stateLock.Lock()
		ws.state = StateDisconnected
		ws.stateLock.Unlock()

		if ws.onClose != nil {
			ws.onClose()
		}
	})
}

// Subscribe registers a subscription under the given id and sends the
// subscribe frame. The returned channel carries the subscription's events
// and is closed when it terminates or the connection drops.
func (ws *Connection) Subscribe(ctx context.Context, id, query string, variables map[string]any) (<-chan connection.Event, error) {
	ws.subsMu.Lock()
	if _, dup := ws.subs[id]; dup {
		ws.subsMu.Unlock()
		return nil, constants.ErrIDInUse
	}
	ch := make(chan connection.Event, ws.bufSize)
	ws.subs[id] = ch
	ws.subsMu.Unlock()

	payload, err := json.Marshal(SubscribePayload{Query: query, Variables: variables})
	if err != nil {
		ws.removeSub(id)
		return nil, fmt.Errorf("marshaling subscribe payload: %w", err)
	}

	if err := ws.write(Message{ID: id, Type: MessageTypeSubscribe, Payload: payload}); err != nil {
		ws.removeSub(id)
		return nil, err
	}

	return ch, nil
}

// Complete ends one subscription. Its channel is closed without a terminal
// event; the caller initiated the completion and needs no notice.
func (ws *Connection) Complete(ctx context.Context, id string) error {
	ws.subsMu.Lock()
	ch, ok := ws.subs[id]
	if ok {
		delete(ws.subs, id)
		close(ch)
	}
	ws.subsMu.Unlock()

	if !ok {
		return nil
	}

	return ws.write(Message{ID: id, Type: MessageTypeComplete})
}

func (ws *Connection) removeSub(id string) {
	ws.subsMu.Lock()
	delete(ws.subs, id)
	ws.subsMu.Unlock()
}

func (ws *Connection) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	if ws.Conn == nil {
		return constants.ErrClosed
	}
	return ws.Conn.WriteMessage(gorilla.TextMessage, data)
}

// readLoop reads frames until the cycle ends. The read deadline doubles as
// the keep-alive watchdog: it is pushed forward on every frame, so a
// connection that stays silent past KeepAliveTimeout fails the read and is
// torn down.
func (ws *Connection) readLoop(conn *gorilla.Conn, closeCh chan struct{}, once *sync.Once) {
	for {
		select {
		case <-closeCh:
			return
		default:
			if err := conn.SetReadDeadline(time.Now().Add(ws.keepAliveTimeout)); err != nil {
				ws.logger.Error("readLoop: failed to set read deadline", "error", err)
			}

			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-closeCh:
					// Deliberate close, already handled.
				default:
					ws.logger.Warn("readLoop: connection lost", "error", err)
				}
				ws.teardownCycle(conn, closeCh, once)
				return
			}

			ws.handleMessage(data)
		}
	}
}

func (ws *Connection) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		ws.logger.Error("discarding undecodable message", "error", err)
		return
	}

	switch msg.Type {
	case MessageTypePing:
		if err := ws.write(Message{Type: MessageTypePong}); err != nil {
			ws.logger.Warn("failed to answer ping", "error", err)
		}
	case MessageTypePong:
		// Keep-alive answer; the read deadline push was the point.
	case MessageTypeNext:
		ws.deliver(msg.ID, connection.Event{Data: msg.Payload})
	case MessageTypeError:
		ws.deliverTerminal(msg.ID, connection.Event{Err: &connection.QueryError{ID: msg.ID, Payload: msg.Payload}})
	case MessageTypeComplete:
		ws.deliverTerminal(msg.ID, connection.Event{Err: connection.ErrCompleted})
	case MessageTypeConnectionAck:
		// Duplicate ack after the handshake; nothing to do.
	default:
		ws.logger.Warn("discarding message of unexpected type", "type", msg.Type)
	}
}

// deliver sends one event to a subscription without blocking the read
// loop. A subscriber that stops draining loses events past its buffer.
func (ws *Connection) deliver(id string, ev connection.Event) {
	ws.subsMu.RLock()
	ch, ok := ws.subs[id]
	ws.subsMu.RUnlock()

	if !ok {
		ws.logger.Debug("discarding event for unknown subscription", "id", id)
		return
	}

	select {
	case ch <- ev:
	default:
		ws.logger.Warn("subscriber is not draining events, dropping one", "id", id)
	}
}

// deliverTerminal sends a final event and closes the channel.
func (ws *Connection) deliverTerminal(id string, ev connection.Event) {
	ws.subsMu.Lock()
	ch, ok := ws.subs[id]
	if ok {
		delete(ws.subs, id)
	}
	ws.subsMu.Unlock()

	if !ok {
		return
	}

	select {
	case ch <- ev:
	default:
		ws.logger.Warn("subscriber is not draining events, dropping terminal event", "id", id)
	}
	close(ch)
}

// pingLoop sends a protocol ping every pingInterval to keep the
// connection alive and provoke traffic for the keep-alive watchdog.
func (ws *Connection) pingLoop(conn *gorilla.Conn, closeCh chan struct{}) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closeCh:
			return
		case <-ticker.C:
			if err := ws.write(Message{Type: MessageTypePing}); err != nil {
				// The read loop notices the dead socket; this loop just
				// stops poking it.
				ws.logger.Debug("pingLoop: write failed", "error", err)
				return
			}
		}
	}
}
