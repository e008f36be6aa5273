package offsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runMonitor wires a monitor to a manual source and runs it until cleanup.
func runMonitor(t *testing.T, src *ManualSource) *Monitor {
	t.Helper()
	m := NewMonitor(src)
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(src, stopCh)
	}()
	t.Cleanup(func() {
		close(stopCh)
		wg.Wait()
	})
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMonitorInitialStateFromSource(t *testing.T) {
	assert.True(t, NewMonitor(NewManualSource(true)).Online())
	assert.False(t, NewMonitor(NewManualSource(false)).Online())
}

func TestMonitorNotifiesOnTransition(t *testing.T) {
	src := NewManualSource(true)
	m := runMonitor(t, src)

	var mu sync.Mutex
	var events []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})

	src.Set(false)
	waitFor(t, func() bool { return !m.Online() })
	src.Set(true)
	waitFor(t, func() bool { return m.Online() })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, events)
}

func TestMonitorIdempotentOfflineToggle(t *testing.T) {
	src := NewManualSource(true)
	m := runMonitor(t, src)

	var mu sync.Mutex
	notifies := 0
	m.Subscribe(func(bool) {
		mu.Lock()
		notifies++
		mu.Unlock()
	})

	src.Set(false)
	src.Set(false) // duplicate push from a flapping source
	waitFor(t, func() bool { return !m.Online() })

	// give the second event time to (not) fire
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, notifies)
}

func TestMonitorDrainsOncePerReconnect(t *testing.T) {
	src := NewManualSource(false)
	m := runMonitor(t, src)

	var mu sync.Mutex
	drains := 0
	m.OnReconnect(func() {
		mu.Lock()
		drains++
		mu.Unlock()
	})

	src.Set(true)
	waitFor(t, func() bool { return m.Online() })
	src.Set(true) // duplicate online push must not re-drain
	time.Sleep(50 * time.Millisecond)

	src.Set(false)
	waitFor(t, func() bool { return !m.Online() })
	src.Set(true)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return drains == 2
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, drains)
}
