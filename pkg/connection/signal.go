package connection

import "sync"

// Signal is a resettable level-triggered flag. Waiters block until the
// signal is set; while it is set, Wait returns an already-closed channel.
type Signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set asserts the signal, releasing all current and future waiters.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return
	}
	s.set = true
	close(s.ch)
}

// Clear deasserts the signal. Subsequent waiters block again.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return
	}
	s.set = false
	s.ch = make(chan struct{})
}

// Wait returns a channel that is closed while the signal is set.
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// IsSet reports the current level.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}
