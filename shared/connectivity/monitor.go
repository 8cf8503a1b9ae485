// Package connectivity tracks whether the remote backend is reachable.
//
// Monitor is the single process-wide view of reachability. Platform callbacks
// (or the Pinger) feed it through Set; callers either ask synchronously with
// IsCurrentlyConnected or Subscribe to changes.
package connectivity

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Monitor holds the current reachability state and fans changes out to subscribers.
type Monitor struct {
	mu          sync.RWMutex
	connected   bool
	nextID      int
	subscribers map[int]chan bool
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		connected:   initial,
		subscribers: make(map[int]chan bool),
	}
}

// IsCurrentlyConnected returns the last known state without waiting.
func (m *Monitor) IsCurrentlyConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Set records a new reachability state. Subscribers are notified only when
// the state actually changes.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected == connected {
		return
	}
	m.connected = connected

	log.Info().Bool("connected", connected).Msg("Connectivity changed")

	for _, ch := range m.subscribers {
		publish(ch, connected)
	}
}

// publish delivers v without blocking. A subscriber that has not drained the
// previous value gets it replaced, so it always sees the latest state.
func publish(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel of state changes and a function that ends the
// subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subscribers, id)
			close(ch)
		})
	}

	return ch, cancel
}
