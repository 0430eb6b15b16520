package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltstream/voltstream.go/pkg/constants"
)

func newTestManager(t *testing.T, transport Transport) *Manager {
	t.Helper()

	m, err := NewManager(&Config{
		Transport:      transport,
		Retryer:        NewFixedDelayRetryer(time.Millisecond, 0),
		ConnectTimeout: 100 * time.Millisecond,
		CheckInterval:  time.Millisecond,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Disconnect(ctx)
	})

	return m
}

func TestManagerRequiresTransport(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	_, err = NewManager(&Config{})
	assert.Error(t, err)
}

func TestManagerConnectRequiresEndpoint(t *testing.T) {
	transport := newMockTransport("")
	m := newTestManager(t, transport)

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, constants.ErrEndpointMissing)

	connects, _, _ := transport.calls()
	assert.Zero(t, connects)
}

func TestManagerConnect(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	connects, _, _ := transport.calls()
	assert.Equal(t, 1, connects)
}

func TestManagerConnectIdempotent(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	connects, _, _ := transport.calls()
	assert.Equal(t, 1, connects)
}

func TestManagerConcurrentConnect(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Connect(context.Background()))
		}()
	}
	wg.Wait()

	connects, _, _ := transport.calls()
	assert.Equal(t, 1, connects)
	assert.Equal(t, StateConnected, m.State())
}

func TestManagerConnectSwallowsHandshakeFailure(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	transport.failConnects = 2
	transport.connectErr = assert.AnError
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, m.State())

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, time.Second, time.Millisecond)

	connects, _, _ := transport.calls()
	assert.Equal(t, 3, connects)
}

func TestManagerConnectSwallowsTimeout(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	transport.blockOnConnect = true
	m := newTestManager(t, transport)

	start := time.Now()
	require.NoError(t, m.Connect(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateReconnecting, m.State())

	transport.mu.Lock()
	transport.blockOnConnect = false
	transport.mu.Unlock()

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, time.Second, time.Millisecond)
}

func TestManagerConnectCancelledContext(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	connects, _, _ := transport.calls()
	assert.Zero(t, connects)
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))

	transport.drop()

	require.Eventually(t, func() bool {
		return m.State() == StateConnected && !transport.IsClosed()
	}, time.Second, time.Millisecond)

	connects, _, _ := transport.calls()
	assert.Equal(t, 2, connects)
}

func TestManagerGivesUpWhenRetryerDoes(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m, err := NewManager(&Config{
		Transport:      transport,
		Retryer:        NewFixedDelayRetryer(time.Millisecond, 2),
		ConnectTimeout: 100 * time.Millisecond,
		CheckInterval:  time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, m.Connect(context.Background()))

	transport.mu.Lock()
	transport.alwaysFail = true
	transport.connectErr = assert.AnError
	transport.mu.Unlock()
	transport.drop()

	require.Eventually(t, func() bool {
		return !m.loopIsRunning()
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())

	// A later Connect starts over.
	transport.mu.Lock()
	transport.alwaysFail = false
	transport.mu.Unlock()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	require.NoError(t, m.Disconnect(context.Background()))
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect(context.Background()))
	require.NoError(t, m.Disconnect(context.Background()))

	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.loopIsRunning())
}

func TestManagerSubscribeBeforeConnect(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	_, err := m.Subscribe(context.Background(), "subscription { x }", nil)
	assert.ErrorIs(t, err, constants.ErrNotStarted)

	connects, subscribes, _ := transport.calls()
	assert.Zero(t, connects)
	assert.Zero(t, subscribes)
}

func TestManagerSubscribe(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))

	stream, err := m.Subscribe(context.Background(), "subscription { x }", map[string]any{"homeId": "h1"})
	require.NoError(t, err)
	assert.NotEmpty(t, stream.ID())

	other, err := m.Subscribe(context.Background(), "subscription { y }", nil)
	require.NoError(t, err)
	assert.NotEqual(t, stream.ID(), other.ID())
}

func TestManagerSubscribeWaitsForReady(t *testing.T) {
	transport := newMockTransport("ws://example.invalid/subscriptions")
	transport.failConnects = 1
	transport.connectErr = assert.AnError
	m := newTestManager(t, transport)

	require.NoError(t, m.Connect(context.Background()))

	// The first handshake failed, so Subscribe blocks until the loop
	// brings the connection up.
	stream, err := m.Subscribe(context.Background(), "subscription { x }", nil)
	require.NoError(t, err)
	assert.NotNil(t, stream)

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, time.Second, time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", StateDisconnected.String())
	assert.Equal(t, "Connecting", StateConnecting.String())
	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "Reconnecting", StateReconnecting.String())
	assert.Equal(t, "Unknown", StateUnknown.String())
}
