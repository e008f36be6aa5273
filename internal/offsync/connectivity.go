package offsync

import (
	"log"
	"sync"
)

// Source is a platform reachability signal: a current value plus push
// events. The monitor never probes on its own.
type Source interface {
	Online() bool
	Events() <-chan bool
}

// Monitor is the single process-wide online/offline state machine.
// Listeners fire only on actual transitions, so rapid duplicate events
// from a flapping source cannot double-notify. The reconnect hook runs
// exactly once per offline-to-online transition.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
	reconnect func()
}

func NewMonitor(src Source) *Monitor {
	return &Monitor{online: src.Online()}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener invoked on every state transition.
// Indicator visibility is a function of the reported state; feature code
// never sets it directly.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// OnReconnect sets the hook run after listeners on each online transition.
// The service wires this to the queue drain.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	m.reconnect = fn
	m.mu.Unlock()
}

// Run consumes src's events until stopCh closes.
func (m *Monitor) Run(src Source, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case online, ok := <-src.Events():
			if !ok {
				return
			}
			m.set(online)
		}
	}
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	reconnect := m.reconnect
	m.mu.Unlock()

	if online {
		log.Printf("connectivity: online")
	} else {
		log.Printf("connectivity: offline")
	}
	for _, fn := range listeners {
		fn(online)
	}
	if online && reconnect != nil {
		reconnect()
	}
}
