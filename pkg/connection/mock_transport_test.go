package connection

import (
	"context"
	"sync"
)

// mockTransport is an in-memory Transport for exercising the Manager and
// Stream without a network.
type mockTransport struct {
	mu       sync.Mutex
	endpoint string
	closed   bool
	ready    *Signal

	connectCalls   int
	failConnects   int  // fail this many connects with connectErr
	alwaysFail     bool // fail every connect
	blockOnConnect bool // block until ctx is done, then return ctx.Err()
	connectErr     error

	subs           map[string]chan Event
	subscribeCalls int
	completed      []string
	closeCalls     int
}

var _ Transport = (*mockTransport)(nil)

func newMockTransport(endpoint string) *mockTransport {
	return &mockTransport{
		endpoint: endpoint,
		closed:   true,
		ready:    NewSignal(),
		subs:     make(map[string]chan Event),
	}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connectCalls++
	block := m.blockOnConnect
	fail := m.alwaysFail
	if !fail && m.failConnects > 0 {
		m.failConnects--
		fail = true
	}
	err := m.connectErr
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return err
	}

	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
	m.ready.Set()
	return nil
}

func (m *mockTransport) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closeCalls++
	m.mu.Unlock()
	m.drop()
	return nil
}

// drop simulates the connection going away: every subscription channel is
// closed and the ready signal cleared.
func (m *mockTransport) drop() {
	m.mu.Lock()
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
	m.ready.Clear()
}

func (m *mockTransport) SetEndpoint(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint = url
}

func (m *mockTransport) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

func (m *mockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) Ready() *Signal {
	return m.ready
}

func (m *mockTransport) Subscribe(ctx context.Context, id, query string, variables map[string]any) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls++
	ch := make(chan Event, 100)
	m.subs[id] = ch
	return ch, nil
}

func (m *mockTransport) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

// push delivers one event to the subscription with the given id.
func (m *mockTransport) push(id string, ev Event) {
	m.mu.Lock()
	ch, ok := m.subs[id]
	m.mu.Unlock()
	if ok {
		ch <- ev
	}
}

func (m *mockTransport) calls() (connects, subscribes, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, m.subscribeCalls, m.closeCalls
}
