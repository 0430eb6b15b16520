package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"

	"github.com/voltstream/voltstream.go/pkg/constants"
	"github.com/voltstream/voltstream.go/pkg/logger"
)

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateReconnecting
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateReconnecting, StateDisconnected:
			return nil
		}
	case StateConnected:
		switch newState {
		// Connected to Reconnecting happens when the connection is lost
		// after it was established.
		case StateReconnecting, StateDisconnected:
			return nil
		}
	case StateReconnecting:
		switch newState {
		case StateConnected, StateDisconnected:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// Config configures a Manager.
type Config struct {
	// Transport is the connection the manager supervises. Required.
	Transport Transport

	// Retryer paces reconnect attempts.
	// Defaults to NewExponentialBackoffRetryer.
	Retryer Retryer

	// ConnectTimeout bounds each individual handshake attempt.
	// Defaults to constants.DefaultTimeout.
	ConnectTimeout time.Duration

	// CheckInterval is how often the reconnection loop checks whether the
	// connection is still up. Defaults to 5 seconds.
	CheckInterval time.Duration

	// PreserveBackoffOnConnect disables resetting the retry schedule when
	// Connect is called while a reconnect is already in progress. By
	// default a fresh Connect call resets the backoff.
	PreserveBackoffOnConnect bool

	// Logger receives state transitions and reconnect activity.
	Logger logger.Logger
}

// Manager supervises a Transport: it serializes connect attempts, runs a
// background loop that reestablishes lost connections, and hands out
// subscription streams.
//
// A connect timeout is not an error: the manager transitions to
// reconnecting and lets the loop keep trying, because a flaky first
// handshake is indistinguishable from a connection dropped moments later.
type Manager struct {
	transport Transport
	retryer   Retryer
	logger    logger.Logger

	connectTimeout time.Duration
	checkInterval  time.Duration
	resetOnConnect bool
	resetRequested atomic.Bool

	// connectMu serializes Connect and Disconnect calls.
	connectMu sync.Mutex

	// stateMu protects state and the loop bookkeeping below.
	stateMu     sync.Mutex
	state       State
	loopRunning bool
	loopCloseCh chan struct{}
	loopDoneCh  chan struct{}
}

// NewManager creates a Manager for the given transport.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Transport == nil {
		return nil, errors.New("connection: transport is required")
	}

	m := &Manager{
		transport:      cfg.Transport,
		retryer:        cfg.Retryer,
		logger:         cfg.Logger,
		connectTimeout: cfg.ConnectTimeout,
		checkInterval:  cfg.CheckInterval,
		resetOnConnect: !cfg.PreserveBackoffOnConnect,
		state:          StateDisconnected,
	}
	if m.retryer == nil {
		m.retryer = NewExponentialBackoffRetryer()
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = constants.DefaultTimeout
	}
	if m.checkInterval <= 0 {
		m.checkInterval = 5 * time.Second
	}
	if m.logger == nil {
		m.logger = logger.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return m, nil
}

func (m *Manager) transitionTo(newState State) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if err := m.state.validateTransitionTo(newState); err != nil {
		return err
	}

	m.state = newState
	m.logger.Debug("connection state transitioned", "new_state", newState)

	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// SetEndpoint updates the realtime endpoint used for the next (re)connect.
func (m *Manager) SetEndpoint(url string) {
	m.transport.SetEndpoint(url)
}

// Endpoint returns the configured realtime endpoint.
func (m *Manager) Endpoint() string {
	return m.transport.Endpoint()
}

// Connect establishes the realtime connection and starts the reconnection
// loop. Connect is idempotent: while the loop is running, additional calls
// only reset the retry schedule.
//
// A handshake failure does not fail Connect. The loop keeps retrying in
// the background and subscribers observe readiness through the transport's
// Ready signal. Connect fails only when no endpoint has been configured or
// when ctx is already cancelled.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.transport.Endpoint() == "" {
		return constants.ErrEndpointMissing
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.loopIsRunning() {
		if m.resetOnConnect {
			m.retryer.Reset()
			m.resetRequested.Store(true)
		}
		return nil
	}

	if err := m.transitionTo(StateConnecting); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err := m.transport.Connect(cctx)
	cancel()

	switch {
	case err == nil:
		if stateErr := m.transitionTo(StateConnected); stateErr != nil {
			m.logger.Error("BUG: failed to transition to connected state", "error", stateErr)
		}
	case errors.Is(err, context.DeadlineExceeded):
		m.logger.Debug("initial connect timed out, retrying in background")
		if stateErr := m.transitionTo(StateReconnecting); stateErr != nil {
			m.logger.Error("BUG: failed to transition to reconnecting state", "error", stateErr)
		}
	default:
		m.logger.Warn("initial connect failed, retrying in background", "error", err)
		if stateErr := m.transitionTo(StateReconnecting); stateErr != nil {
			m.logger.Error("BUG: failed to transition to reconnecting state", "error", stateErr)
		}
	}

	m.startLoop()

	return nil
}

// Disconnect stops the reconnection loop and closes the connection. It is
// idempotent, and the manager can be connected again afterwards.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.stopLoop()

	if err := m.transport.Close(ctx); err != nil {
		m.logger.Warn("closing realtime connection failed", "error", err)
	}

	if err := m.transitionTo(StateDisconnected); err != nil {
		return err
	}

	return nil
}

// Subscribe starts a subscription on the live connection and returns the
// stream its events arrive on. Connect must have been called first;
// otherwise no network traffic happens and ErrNotStarted is returned.
//
// Subscribe waits for the connection to be ready, so it can be called
// while a reconnect is in progress.
func (m *Manager) Subscribe(ctx context.Context, query string, variables map[string]any) (*Stream, error) {
	if !m.loopIsRunning() {
		return nil, constants.ErrNotStarted
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating subscription id: %w", err)
	}
	id := uid.String()

	select {
	case <-m.transport.Ready().Wait():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ch, err := m.transport.Subscribe(ctx, id, query, variables)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("subscription started", "id", id)

	return newStream(id, ch, m), nil
}

func (m *Manager) loopIsRunning() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.loopRunning
}

// startLoop starts the reconnection loop. Callers hold connectMu.
func (m *Manager) startLoop() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.loopRunning {
		return
	}

	m.logger.Debug("starting reconnection loop")

	m.loopCloseCh = make(chan struct{})
	m.loopDoneCh = make(chan struct{})
	m.loopRunning = true

	go m.reconnectLoop(m.loopCloseCh, m.loopDoneCh)
}

// stopLoop stops the reconnection loop and waits for it to exit. Callers
// hold connectMu.
func (m *Manager) stopLoop() {
	m.stateMu.Lock()
	if !m.loopRunning {
		m.stateMu.Unlock()
		return
	}
	closeCh, doneCh := m.loopCloseCh, m.loopDoneCh
	m.stateMu.Unlock()

	close(closeCh)
	<-doneCh
}

func (m *Manager) reconnectLoop(closeCh, doneCh chan struct{}) {
	defer func() {
		m.stateMu.Lock()
		m.loopRunning = false
		m.stateMu.Unlock()
		close(doneCh)
	}()

	for {
		select {
		case <-closeCh:
			return
		case <-time.After(m.checkInterval):
		}

		if !m.transport.IsClosed() {
			continue
		}

		m.logger.Info("realtime connection lost, reconnecting")
		if m.State() != StateReconnecting {
			if err := m.transitionTo(StateReconnecting); err != nil {
				m.logger.Error("BUG: failed to transition to reconnecting state", "error", err)
			}
		}

		if !m.reconnect(closeCh) {
			return
		}
	}
}

// reconnect retries the handshake with backoff until it succeeds or the
// retryer gives up. It returns false when the loop should exit.
func (m *Manager) reconnect(closeCh chan struct{}) bool {
	attempt := 0
	var lastErr error

	for m.transport.IsClosed() {
		if m.resetRequested.Swap(false) {
			attempt = 0
		}

		delay, ok := m.retryer.NextDelay(attempt, lastErr)
		if !ok {
			m.logger.Error("giving up on reconnecting", "attempts", attempt)
			if err := m.transitionTo(StateDisconnected); err != nil {
				m.logger.Error("BUG: failed to transition to disconnected state", "error", err)
			}
			return false
		}

		m.logger.Debug("waiting before reconnect attempt", "attempt", attempt, "delay", delay)
		select {
		case <-closeCh:
			return false
		case <-time.After(delay):
		}

		cctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
		err := m.transport.Connect(cctx)
		cancel()
		if err != nil {
			lastErr = err
			attempt++
			m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		m.retryer.Reset()
		if stateErr := m.transitionTo(StateConnected); stateErr != nil {
			m.logger.Error("BUG: failed to transition to connected state", "error", stateErr)
		}
		m.logger.Info("realtime connection reestablished")
	}

	return true
}
